package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "canonical", in: "0.1000 CPU", want: "0.1000 CPU"},
		{name: "bare number", in: "1.5", want: "1.5000 CPU"},
		{name: "zero", in: "0.0000 CPU", want: "0.0000 CPU"},
		{name: "other symbol", in: "2 ORE", want: "2.0000 ORE"},
		{name: "whitespace", in: "  3.25 CPU  ", want: "3.2500 CPU"},
		{name: "garbage", in: "abc CPU", wantErr: true},
		{name: "too many fields", in: "1 CPU extra", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestAmount_IsZero(t *testing.T) {
	// Exact decimal comparison: formatting variants of zero must all report
	// zero, and near-zero values must not.
	assert.True(t, MustParseAmount("0.0000 CPU").IsZero())
	assert.True(t, MustParseAmount("0 CPU").IsZero())
	assert.True(t, MustParseAmount("0.00 CPU").IsZero())
	assert.True(t, ZeroAmount("ORE").IsZero())
	assert.True(t, Amount{}.IsZero())

	assert.False(t, MustParseAmount("0.0001 CPU").IsZero())
	assert.False(t, MustParseAmount("-0.0001 CPU").IsZero())
}

func TestAmount_Cmp(t *testing.T) {
	a := MustParseAmount("3.0000 CPU")
	b := MustParseAmount("5.0000 CPU")
	assert.Equal(t, -1, a.Cmp(b))
	assert.Equal(t, 1, b.Cmp(a))
	assert.Equal(t, 0, a.Cmp(MustParseAmount("3 CPU")))
}

func TestAmount_JSONRoundTrip(t *testing.T) {
	a := MustParseAmount("1.2500 CPU")

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, `"1.2500 CPU"`, string(data))

	var back Amount
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 0, a.Cmp(back))
	assert.Equal(t, "CPU", back.Symbol())
}

func TestAmount_UnmarshalEscapedString(t *testing.T) {
	// The symbol arrives with a JSON escape; decoding must unescape before
	// parsing.
	var a Amount
	require.NoError(t, json.Unmarshal([]byte(`"1.2500 CPU"`), &a))
	assert.Equal(t, "CPU", a.Symbol())
	assert.Equal(t, "1.2500 CPU", a.String())

	var b Amount
	require.NoError(t, json.Unmarshal([]byte(`0.25`), &b))
	assert.Equal(t, "0.2500 CPU", b.String())
}
