// Package importer ingests bank exports (CSV and JSON) and connector
// payloads into the ledger, deduplicating rows by source hash.
package importer

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmountText parses bank-export amount text. It tolerates thousands
// separators, currency symbols, accounting parentheses and trailing minus.
func ParseAmountText(value string) (decimal.Decimal, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, ",", "")
	for _, sym := range []string{"$", "€", "£"} {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.TrimSpace(s)

	if strings.HasSuffix(s, "-") {
		negative = true
		s = strings.TrimSpace(s[:len(s)-1])
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", value)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}
