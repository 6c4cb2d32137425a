package ledger

import (
	"strings"

	"github.com/shopspring/decimal"

	"ledgerflow/internal/money"
	"ledgerflow/internal/storage"
)

// Field accessors tolerant of missing or malformed values; imported records
// may carry partial shapes and must never crash a reader.

func TxID(tx storage.Doc) string {
	s, _ := tx["txId"].(string)
	return s
}

func TxDate(tx storage.Doc) string {
	if d, _ := tx["occurredAt"].(string); d != "" {
		return d
	}
	d, _ := tx["postedAt"].(string)
	return d
}

func TxMonth(tx storage.Doc) string {
	d := TxDate(tx)
	if len(d) >= 7 {
		return d[:7]
	}
	return ""
}

func TxAmount(tx storage.Doc) decimal.Decimal {
	amt, _ := tx["amount"].(map[string]any)
	if amt == nil {
		return money.Zero
	}
	return money.FromAny(amt["value"])
}

func TxCurrency(tx storage.Doc) string {
	amt, _ := tx["amount"].(map[string]any)
	if amt == nil {
		return ""
	}
	s, _ := amt["currency"].(string)
	return s
}

func TxCategoryID(tx storage.Doc) string {
	cat, _ := tx["category"].(map[string]any)
	if cat == nil {
		return ""
	}
	s, _ := cat["id"].(string)
	return s
}

func TxCategoryConfidence(tx storage.Doc) float64 {
	cat, _ := tx["category"].(map[string]any)
	if cat == nil {
		return 0
	}
	f, _ := cat["confidence"].(float64)
	return f
}

// TxMerchant falls back to description; bank CSV imports often carry only a
// description line.
func TxMerchant(tx storage.Doc) string {
	if m, _ := tx["merchant"].(string); strings.TrimSpace(m) != "" {
		return strings.TrimSpace(m)
	}
	d, _ := tx["description"].(string)
	return strings.TrimSpace(d)
}

func TxSourceType(tx storage.Doc) string {
	src, _ := tx["source"].(map[string]any)
	if src == nil {
		return ""
	}
	s, _ := src["sourceType"].(string)
	return s
}

func TxSourceDocID(tx storage.Doc) string {
	src, _ := tx["source"].(map[string]any)
	if src == nil {
		return ""
	}
	s, _ := src["docId"].(string)
	return s
}

func TxSourceHash(tx storage.Doc) string {
	src, _ := tx["source"].(map[string]any)
	if src == nil {
		return ""
	}
	s, _ := src["sourceHash"].(string)
	return s
}

func TxTags(tx storage.Doc) []string {
	raw, _ := tx["tags"].([]any)
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if s, ok := t.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func TxHasTag(tx storage.Doc, tag string) bool {
	for _, t := range TxTags(tx) {
		if t == tag {
			return true
		}
	}
	return false
}

// IsDebit reports whether the signed amount is negative.
func IsDebit(tx storage.Doc) bool {
	return TxAmount(tx).IsNegative()
}

// FilterByDateRange keeps transactions whose date lies in [from, to]. Empty
// bounds are open. Dateless records are dropped.
func FilterByDateRange(txs []storage.Doc, from, to string) []storage.Doc {
	out := make([]storage.Doc, 0, len(txs))
	for _, tx := range txs {
		d := TxDate(tx)
		if d == "" {
			continue
		}
		if from != "" && d < from {
			continue
		}
		if to != "" && d > to {
			continue
		}
		out = append(out, tx)
	}
	return out
}

// FilterByMonth keeps transactions in the given YYYY-MM month.
func FilterByMonth(txs []storage.Doc, month string) []storage.Doc {
	out := make([]storage.Doc, 0, len(txs))
	for _, tx := range txs {
		if TxMonth(tx) == month {
			out = append(out, tx)
		}
	}
	return out
}
