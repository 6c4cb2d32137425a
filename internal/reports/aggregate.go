// Package reports renders the daily and monthly reports plus the derived
// ledger caches. All aggregation runs over the corrected ledger view.
package reports

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/money"
	"ledgerflow/internal/storage"
)

// CurrencyTotals is spend/income/net per currency, formatted as decimal
// strings.
type CurrencyTotals struct {
	Spend  string `json:"spend"`
	Income string `json:"income"`
	Net    string `json:"net"`
}

func sumCurrency(txs []storage.Doc) map[string]CurrencyTotals {
	type acc struct{ spend, income, net decimal.Decimal }
	accs := map[string]*acc{}
	for _, tx := range txs {
		ccy := ledger.TxCurrency(tx)
		if ccy == "" {
			ccy = "UNK"
		}
		a := accs[ccy]
		if a == nil {
			a = &acc{}
			accs[ccy] = a
		}
		amt := ledger.TxAmount(tx)
		if amt.IsNegative() {
			a.spend = a.spend.Add(amt.Neg())
		} else {
			a.income = a.income.Add(amt)
		}
		a.net = a.net.Add(amt)
	}
	out := map[string]CurrencyTotals{}
	for ccy, a := range accs {
		out[ccy] = CurrencyTotals{
			Spend:  money.Format(a.spend),
			Income: money.Format(a.income),
			Net:    money.Format(a.net),
		}
	}
	return out
}

func topCategories(txs []storage.Doc, limit int) []storage.Doc {
	type key struct{ ccy, cat string }
	totals := map[key]decimal.Decimal{}
	for _, tx := range txs {
		amt := ledger.TxAmount(tx)
		if !amt.IsNegative() {
			continue
		}
		ccy := ledger.TxCurrency(tx)
		if ccy == "" {
			ccy = "UNK"
		}
		cat := ledger.TxCategoryID(tx)
		if cat == "" {
			cat = "uncategorized"
		}
		totals[key{ccy, cat}] = totals[key{ccy, cat}].Add(amt.Neg())
	}
	keys := make([]key, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		c := totals[keys[i]].Cmp(totals[keys[j]])
		if c != 0 {
			return c > 0
		}
		if keys[i].ccy != keys[j].ccy {
			return keys[i].ccy < keys[j].ccy
		}
		return keys[i].cat < keys[j].cat
	})
	if len(keys) > limit {
		keys = keys[:limit]
	}
	out := []storage.Doc{}
	for _, k := range keys {
		out = append(out, storage.Doc{"currency": k.ccy, "categoryId": k.cat, "value": money.Format(totals[k])})
	}
	return out
}

func topMerchants(txs []storage.Doc, limit int) []storage.Doc {
	type key struct{ ccy, merchant string }
	type agg struct {
		value decimal.Decimal
		count int
	}
	totals := map[key]*agg{}
	for _, tx := range txs {
		amt := ledger.TxAmount(tx)
		if !amt.IsNegative() {
			continue
		}
		ccy := ledger.TxCurrency(tx)
		if ccy == "" {
			ccy = "UNK"
		}
		m := ledger.TxMerchant(tx)
		if m == "" {
			m = "UNKNOWN"
		}
		k := key{ccy, m}
		a := totals[k]
		if a == nil {
			a = &agg{}
			totals[k] = a
		}
		a.value = a.value.Add(amt.Neg())
		a.count++
	}
	keys := make([]key, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		c := totals[keys[i]].value.Cmp(totals[keys[j]].value)
		if c != 0 {
			return c > 0
		}
		if keys[i].ccy != keys[j].ccy {
			return keys[i].ccy < keys[j].ccy
		}
		return keys[i].merchant < keys[j].merchant
	})
	if len(keys) > limit {
		keys = keys[:limit]
	}
	out := []storage.Doc{}
	for _, k := range keys {
		out = append(out, storage.Doc{
			"currency": k.ccy,
			"merchant": k.merchant,
			"value":    money.Format(totals[k].value),
			"count":    totals[k].count,
		})
	}
	return out
}

func loadCategoryLabels(l layout.Layout) map[string]string {
	cfg := storage.Doc{}
	_ = storage.ReadJSON(l.CategoriesPath(), &cfg)
	out := map[string]string{}
	cats, _ := cfg["categories"].([]any)
	for _, c := range cats {
		doc, ok := c.(map[string]any)
		if !ok {
			continue
		}
		cid, _ := doc["id"].(string)
		label, _ := doc["label"].(string)
		if cid != "" && label != "" {
			out[cid] = label
		}
	}
	return out
}

func detectRecurring(txs []storage.Doc, minOccurrences, spacingLo, spacingHi int) []storage.Doc {
	type key struct{ merchant, ccy string }
	type entry struct {
		date   string
		amount decimal.Decimal
	}
	groups := map[key][]entry{}
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
		k := key{merchant: strings.ToLower(merchant), ccy: ccy}
		groups[k] = append(groups[k], entry{date: d, amount: amt.Neg()})
	}

	out := []storage.Doc{}
	for k, items := range groups {
		sort.Slice(items, func(i, j int) bool { return items[i].date < items[j].date })
		if len(items) < minOccurrences {
			continue
		}

		bestStart := -1
		for end := minOccurrences; end <= len(items); end++ {
			ok := true
			for i := end - minOccurrences + 1; i < end; i++ {
				gap, valid := dayGap(items[i-1].date, items[i].date)
				if !valid || gap < spacingLo || gap > spacingHi {
					ok = false
					break
				}
			}
			if ok {
				bestStart = end - minOccurrences
			}
		}
		if bestStart < 0 {
			continue
		}

		recent := items[bestStart : bestStart+minOccurrences]
		recentDates := make([]string, len(recent))
		recentAmounts := make([]string, len(recent))
		for i, it := range recent {
			recentDates[i] = it.date
			recentAmounts[i] = money.Format(it.amount)
		}
		last := recent[len(recent)-1].amount
		row := storage.Doc{
			"merchant":      k.merchant,
			"currency":      k.ccy,
			"occurrences":   len(items),
			"recentDates":   recentDates,
			"recentAmounts": recentAmounts,
			"lastAmount":    money.Format(last),
			"prevAmount":    nil,
			"drift":         nil,
			"driftPct":      nil,
		}
		if len(recent) >= 2 {
			prev := recent[len(recent)-2].amount
			row["prevAmount"] = money.Format(prev)
			if !prev.IsZero() {
				drift := last.Sub(prev)
				row["drift"] = money.Format(drift)
				row["driftPct"] = money.Format(drift.Div(prev).Mul(decimal.NewFromInt(100)))
			}
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		oi := out[i]["occurrences"].(int)
		oj := out[j]["occurrences"].(int)
		if oi != oj {
			return oi > oj
		}
		return out[i]["merchant"].(string) < out[j]["merchant"].(string)
	})
	if len(out) > 50 {
		out = out[:50]
	}
	return out
}

func dayGap(a, b string) (int, bool) {
	ta, errA := storage.ParseYMD(a)
	tb, errB := storage.ParseYMD(b)
	if errA != nil || errB != nil {
		return 0, false
	}
	return int(tb.Sub(ta).Hours() / 24), true
}

func monthBounds(month string) (string, string, error) {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return "", "", err
	}
	start := t
	end := t.AddDate(0, 1, -1)
	return start.Format(storage.YMD), end.Format(storage.YMD), nil
}
