// Package money implements fixed-point token amounts as used by instrument
// right prices. Amounts pair a decimal value with a token symbol (e.g. "CPU")
// and are compared exactly, never through floating point.
package money

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultSymbol is the token symbol assumed when an amount is parsed or
// formatted without an explicit symbol.
const DefaultSymbol = "CPU"

// displayPlaces is the number of decimal places in the canonical string form
// of an amount ("0.0000 CPU").
const displayPlaces = 4

// Amount is a fixed-point quantity of a single token.
//
// The zero value is "0.0000" of the default symbol and is safe to use.
type Amount struct {
	value  decimal.Decimal
	symbol string
}

// NewAmount creates an Amount from a decimal value and symbol. An empty
// symbol falls back to DefaultSymbol.
func NewAmount(value decimal.Decimal, symbol string) Amount {
	if symbol == "" {
		symbol = DefaultSymbol
	}
	return Amount{value: value, symbol: symbol}
}

// ZeroAmount returns the zero amount for the given symbol.
func ZeroAmount(symbol string) Amount {
	return NewAmount(decimal.Zero, symbol)
}

// ParseAmount parses the canonical "<value> <SYMBOL>" form, e.g.
// "0.1000 CPU". A bare numeric string is accepted and assumed to be in the
// default symbol.
func ParseAmount(s string) (Amount, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	switch len(fields) {
	case 1:
		value, err := decimal.NewFromString(fields[0])
		if err != nil {
			return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
		}
		return NewAmount(value, DefaultSymbol), nil
	case 2:
		value, err := decimal.NewFromString(fields[0])
		if err != nil {
			return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
		}
		return NewAmount(value, fields[1]), nil
	default:
		return Amount{}, fmt.Errorf("invalid amount %q: expected \"<value> <symbol>\"", s)
	}
}

// MustParseAmount is ParseAmount that panics on error. For tests and
// constant-like amounts.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Value returns the underlying decimal value.
func (a Amount) Value() decimal.Decimal {
	return a.value
}

// Symbol returns the token symbol.
func (a Amount) Symbol() string {
	if a.symbol == "" {
		return DefaultSymbol
	}
	return a.symbol
}

// IsZero reports whether the amount is exactly zero, regardless of how many
// decimal places it was written with.
func (a Amount) IsZero() bool {
	return a.value.IsZero()
}

// Cmp compares two amounts of the same symbol: -1 if a < b, 0 if equal,
// 1 if a > b. Symbols are not checked; use SameSymbol first when amounts may
// come from different tokens.
func (a Amount) Cmp(b Amount) int {
	return a.value.Cmp(b.value)
}

// SameSymbol reports whether both amounts are denominated in the same token.
func (a Amount) SameSymbol(b Amount) bool {
	return a.Symbol() == b.Symbol()
}

// String renders the canonical fixed-point form, e.g. "0.0000 CPU".
func (a Amount) String() string {
	return a.value.StringFixed(displayPlaces) + " " + a.Symbol()
}

// MarshalJSON encodes the amount in its canonical string form.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON decodes either the canonical string form or a bare JSON
// number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Not a JSON string; bare numbers parse as-is.
		s = string(data)
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
