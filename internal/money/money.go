// Package money keeps monetary values in exact decimal form. Amounts are
// persisted as strings and never pass through binary floating point.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Zero is the additive identity.
var Zero = decimal.Zero

// Parse parses a decimal string strictly.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal: %q", s)
	}
	return d, nil
}

// FromAny converts a value as loaded from JSON into a decimal. Unparseable or
// absent values become zero; records with junk amounts must not crash readers.
func FromAny(v any) decimal.Decimal {
	switch x := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return x
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return decimal.Zero
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		// JSON numbers decode as float64; round-trip through the shortest
		// string representation to avoid binary artifacts.
		d, err := decimal.NewFromString(fmt.Sprintf("%v", x))
		if err != nil {
			return decimal.Zero
		}
		return d
	case int:
		return decimal.NewFromInt(int64(x))
	case int64:
		return decimal.NewFromInt(x)
	default:
		return decimal.Zero
	}
}

// Format renders d in plain (non-scientific) notation.
func Format(d decimal.Decimal) string {
	return d.String()
}
