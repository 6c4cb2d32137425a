package alerts

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"ledgerflow/internal/ledger"
	"ledgerflow/internal/money"
	"ledgerflow/internal/storage"
)

// Config readers for open rule maps; absent keys fall back to defaults so
// older rule files keep evaluating.

func ruleStr(rule storage.Doc, key, def string) string {
	if s, ok := rule[key].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return def
}

func ruleInt(rule storage.Doc, key string, def int) int {
	switch v := rule[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func ruleFloat(rule storage.Doc, key string, def float64) float64 {
	switch v := rule[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func ruleDecimal(rule storage.Doc, key, def string) decimal.Decimal {
	if v, ok := rule[key]; ok {
		return money.FromAny(v)
	}
	d, _ := money.Parse(def)
	return d
}

// ruleSpacing reads a [min,max] day-gap pair, defaulting to the monthly
// cadence window.
func ruleSpacing(rule storage.Doc) (int, int) {
	raw, ok := rule["spacingDays"].([]any)
	if !ok || len(raw) != 2 {
		return 25, 35
	}
	toInt := func(v any) (int, bool) {
		switch x := v.(type) {
		case float64:
			return int(x), true
		case int:
			return x, true
		}
		return 0, false
	}
	lo, ok1 := toInt(raw[0])
	hi, ok2 := toInt(raw[1])
	if !ok1 || !ok2 {
		return 25, 35
	}
	return lo, hi
}

// sumCategorySpend totals absolute debit amounts for one category and
// collects the contributing txIds.
func sumCategorySpend(txs []storage.Doc, categoryID string) (decimal.Decimal, []string) {
	total := money.Zero
	var ids []string
	for _, tx := range txs {
		if ledger.TxCategoryID(tx) != categoryID {
			continue
		}
		amt := ledger.TxAmount(tx)
		if !amt.IsNegative() {
			continue
		}
		total = total.Add(amt.Neg())
		if id := ledger.TxID(tx); id != "" {
			ids = append(ids, id)
		}
	}
	return total, ids
}

type merchantKey struct {
	merchant string // lowercased
	currency string
}

type merchantTotals struct {
	totals  map[merchantKey]decimal.Decimal
	display map[merchantKey]string
	txIDs   map[merchantKey][]string
}

// merchantSpend aggregates absolute debit spend per (merchant, currency).
func merchantSpend(txs []storage.Doc) merchantTotals {
	out := merchantTotals{
		totals:  map[merchantKey]decimal.Decimal{},
		display: map[merchantKey]string{},
		txIDs:   map[merchantKey][]string{},
	}
	for _, tx := range txs {
		if !ledger.IsDebit(tx) {
			continue
		}
		merchant := ledger.TxMerchant(tx)
		if merchant == "" {
			continue
		}
		ccy := ledger.TxCurrency(tx)
		if ccy == "" {
			ccy = "UNK"
		}
		key := merchantKey{merchant: strings.ToLower(merchant), currency: ccy}
		cur, ok := out.totals[key]
		if !ok {
			cur = money.Zero
			out.display[key] = merchant
		}
		out.totals[key] = cur.Add(ledger.TxAmount(tx).Neg())
		if id := ledger.TxID(tx); id != "" {
			out.txIDs[key] = append(out.txIDs[key], id)
		}
	}
	return out
}

type dateAmount struct {
	date   string
	amount decimal.Decimal // absolute debit value
}

// recurringGroups buckets debits per (merchant, currency), dated entries
// only, sorted by date.
func recurringGroups(txs []storage.Doc) map[merchantKey][]dateAmount {
	groups := map[merchantKey][]dateAmount{}
	for _, tx := range txs {
		amt := ledger.TxAmount(tx)
		if !amt.IsNegative() {
			continue
		}
		merchant := ledger.TxMerchant(tx)
		d := ledger.TxDate(tx)
		if merchant == "" || d == "" {
			continue
		}
		ccy := ledger.TxCurrency(tx)
		if ccy == "" {
			ccy = "UNK"
		}
		key := merchantKey{merchant: strings.ToLower(merchant), currency: ccy}
		groups[key] = append(groups[key], dateAmount{date: d, amount: amt.Neg()})
	}
	for key := range groups {
		sort.Slice(groups[key], func(i, j int) bool { return groups[key][i].date < groups[key][j].date })
	}
	return groups
}

// spacingOK checks that every consecutive date gap lies within [lo, hi] days.
func spacingOK(dates []string, lo, hi int) bool {
	for i := 1; i < len(dates); i++ {
		a, errA := storage.ParseYMD(dates[i-1])
		b, errB := storage.ParseYMD(dates[i])
		if errA != nil || errB != nil {
			return false
		}
		gap := int(b.Sub(a).Hours() / 24)
		if gap < lo || gap > hi {
			return false
		}
	}
	return true
}

func capIDs(ids []string, n int) []string {
	if ids == nil {
		return []string{}
	}
	if len(ids) > n {
		return ids[:n]
	}
	return ids
}
