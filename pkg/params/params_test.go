package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_InsensitiveToInsertionOrder(t *testing.T) {
	a := Flat(map[string]interface{}{"city": "paris", "country": "france", "n": 3})

	b := Flat(func() map[string]interface{} {
		m := map[string]interface{}{}
		m["n"] = 3
		m["country"] = "france"
		m["city"] = "paris"
		return m
	}())

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)
}

func TestHash_SplitGroupsStableUnderKeyOrder(t *testing.T) {
	a := Split(
		map[string]interface{}{"a": 1, "b": 2},
		map[string]interface{}{"x": "y", "z": "w"},
	)
	b := Split(
		map[string]interface{}{"b": 2, "a": 1},
		map[string]interface{}{"z": "w", "x": "y"},
	)

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestHash_PrefixingChangesDigest(t *testing.T) {
	// The same key/value pair hashed flat and hashed as a full split set must
	// differ: prefixing rewrites the keys.
	flat, err := Flat(map[string]interface{}{"a": 1, "b": 2}).Hash()
	require.NoError(t, err)

	split, err := Split(
		map[string]interface{}{"a": 1},
		map[string]interface{}{"b": 2},
	).Hash()
	require.NoError(t, err)

	assert.NotEqual(t, flat, split)
}

func TestHash_SingleGroupSplitEqualsFlat(t *testing.T) {
	// A split set whose body group is empty is indistinguishable on the wire
	// from a flat request, so it must hash the same.
	flat, err := Flat(map[string]interface{}{"a": 1, "b": 2}).Hash()
	require.NoError(t, err)

	urlOnly, err := Split(map[string]interface{}{"a": 1, "b": 2}, nil).Hash()
	require.NoError(t, err)
	bodyOnly, err := Split(nil, map[string]interface{}{"a": 1, "b": 2}).Hash()
	require.NoError(t, err)

	assert.Equal(t, flat, urlOnly)
	assert.Equal(t, flat, bodyOnly)
}

func TestHash_ValueChangeChangesDigest(t *testing.T) {
	h1, err := Flat(map[string]interface{}{"x": 1}).Hash()
	require.NoError(t, err)
	h2, err := Flat(map[string]interface{}{"x": 2}).Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestHash_NonScalarValue(t *testing.T) {
	_, err := Flat(map[string]interface{}{
		"ok":  "fine",
		"bad": []string{"not", "scalar"},
	}).Hash()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParamEncoding)

	_, err = Flat(map[string]interface{}{"bad": map[string]interface{}{"nested": 1}}).Hash()
	assert.ErrorIs(t, err, ErrParamEncoding)

	_, err = Flat(map[string]interface{}{"bad": nil}).Hash()
	assert.ErrorIs(t, err, ErrParamEncoding)
}

func TestFromMap(t *testing.T) {
	t.Run("flat passthrough", func(t *testing.T) {
		p, err := FromMap(map[string]interface{}{"a": 1})
		require.NoError(t, err)
		assert.False(t, p.IsSplit())
		assert.Equal(t, map[string]interface{}{"a": 1}, p.Normalize())
	})

	t.Run("both reserved keys trigger split", func(t *testing.T) {
		p, err := FromMap(map[string]interface{}{
			KeyURLParams:  map[string]interface{}{"q": "search"},
			KeyBodyParams: map[string]interface{}{"limit": 10},
		})
		require.NoError(t, err)
		assert.True(t, p.IsSplit())
		assert.Equal(t, map[string]interface{}{
			"urlParam_q":      "search",
			"bodyParam_limit": 10,
		}, p.Normalize())
	})

	t.Run("one reserved key stays flat", func(t *testing.T) {
		m := map[string]interface{}{
			KeyURLParams: map[string]interface{}{"q": "search"},
		}
		p, err := FromMap(m)
		require.NoError(t, err)
		assert.False(t, p.IsSplit())
	})

	t.Run("reserved key with non-mapping value", func(t *testing.T) {
		_, err := FromMap(map[string]interface{}{
			KeyURLParams:  "not a map",
			KeyBodyParams: map[string]interface{}{},
		})
		assert.ErrorIs(t, err, ErrParamEncoding)
	})
}

func TestHashFlat_EquivalentScalarForms(t *testing.T) {
	// Integer-valued floats and ints share a string form, so the digests
	// match; this is what keeps a JSON-decoded body (float64) in agreement
	// with a literal int on the client.
	h1, err := HashFlat(map[string]interface{}{"n": 3})
	require.NoError(t, err)
	h2, err := HashFlat(map[string]interface{}{"n": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestNormalize_ReturnsCopy(t *testing.T) {
	src := map[string]interface{}{"a": 1}
	p := Flat(src)
	n := p.Normalize()
	n["b"] = 2
	assert.NotContains(t, src, "b")
}
