package reports

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledgerflow/internal/ledger"
	"ledgerflow/internal/money"
	"ledgerflow/internal/storage"
)

func trailingMonths(month string, n int) ([]string, error) {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = t.Format("2006-01")
		t = t.AddDate(0, -1, 0)
	}
	return out, nil
}

type spikeKey struct{ ccy, name string }

func spikeRows(current, prev map[spikeKey]decimal.Decimal, prevMonths int, nameField string) []storage.Doc {
	rows := []storage.Doc{}
	divisor := decimal.NewFromInt(int64(prevMonths))
	multiplier := decimal.NewFromFloat(1.5)
	minDelta := decimal.NewFromInt(50)
	for k, cur := range current {
		avg := decimal.Zero
		if prevMonths > 0 {
			avg = prev[k].Div(divisor)
		}
		if avg.Sign() <= 0 {
			continue
		}
		if cur.Cmp(avg.Mul(multiplier)) <= 0 || cur.Sub(avg).Cmp(minDelta) <= 0 {
			continue
		}
		rows = append(rows, storage.Doc{
			"currency": k.ccy,
			nameField:  k.name,
			"current":  money.Format(cur),
			"avgPrev3": money.Format(avg),
			"delta":    cur.Sub(avg),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		di := rows[i]["delta"].(decimal.Decimal)
		dj := rows[j]["delta"].(decimal.Decimal)
		c := di.Cmp(dj)
		if c != 0 {
			return c > 0
		}
		return rows[i][nameField].(string) < rows[j][nameField].(string)
	})
	for _, r := range rows {
		delete(r, "delta")
	}
	if len(rows) > 25 {
		rows = rows[:25]
	}
	return rows
}

func categoryTotals(txs []storage.Doc) map[spikeKey]decimal.Decimal {
	out := map[spikeKey]decimal.Decimal{}
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
		k := spikeKey{ccy, cat}
		out[k] = out[k].Add(amt.Neg())
	}
	return out
}

func merchantTotalsByName(txs []storage.Doc) map[spikeKey]decimal.Decimal {
	out := map[spikeKey]decimal.Decimal{}
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
		k := spikeKey{ccy, m}
		out[k] = out[k].Add(amt.Neg())
	}
	return out
}

// MonthlyReportData assembles the monthly report: totals, breakdowns,
// recurring charges over the trailing six months and spikes against the
// previous three months.
func (s *Service) MonthlyReportData(month string) (storage.Doc, error) {
	start, end, err := monthBounds(month)
	if err != nil {
		return nil, err
	}
	view, err := s.Store.LoadView(false)
	if err != nil {
		return nil, err
	}
	monthTxs := ledger.FilterByMonth(view.Transactions, month)

	months, err := trailingMonths(month, 6)
	if err != nil {
		return nil, err
	}
	trailing := []storage.Doc{}
	for _, mo := range months {
		trailing = append(trailing, ledger.FilterByMonth(view.Transactions, mo)...)
	}
	recurring := detectRecurring(trailing, 3, 25, 35)

	// Manual vs imported ratio.
	type srcAgg struct {
		count         int
		spend, income decimal.Decimal
	}
	bySource := map[string]*srcAgg{}
	for _, tx := range monthTxs {
		st := ledger.TxSourceType(tx)
		if st == "" {
			st = "unknown"
		}
		a := bySource[st]
		if a == nil {
			a = &srcAgg{}
			bySource[st] = a
		}
		a.count++
		amt := ledger.TxAmount(tx)
		if amt.IsNegative() {
			a.spend = a.spend.Add(amt.Neg())
		} else {
			a.income = a.income.Add(amt)
		}
	}
	sourceTypes := make([]string, 0, len(bySource))
	for st := range bySource {
		sourceTypes = append(sourceTypes, st)
	}
	sort.Slice(sourceTypes, func(i, j int) bool {
		if bySource[sourceTypes[i]].count != bySource[sourceTypes[j]].count {
			return bySource[sourceTypes[i]].count > bySource[sourceTypes[j]].count
		}
		return sourceTypes[i] < sourceTypes[j]
	})
	sourceSummary := []storage.Doc{}
	for _, st := range sourceTypes {
		a := bySource[st]
		sourceSummary = append(sourceSummary, storage.Doc{
			"sourceType": st,
			"count":      a.count,
			"spend":      money.Format(a.spend),
			"income":     money.Format(a.income),
		})
	}

	prevMonths := months[max(0, len(months)-4) : len(months)-1]
	prevTxs := []storage.Doc{}
	for _, mo := range prevMonths {
		prevTxs = append(prevTxs, ledger.FilterByMonth(view.Transactions, mo)...)
	}

	return storage.Doc{
		"month":             month,
		"from":              start,
		"to":                end,
		"generatedAt":       storage.NowISO(),
		"summary":           sumCurrency(monthTxs),
		"categoryBreakdown": topCategories(monthTxs, 50),
		"merchantTop":       topMerchants(monthTxs, 50),
		"recurring":         recurring,
		"categorySpikes":    spikeRows(categoryTotals(monthTxs), categoryTotals(prevTxs), len(prevMonths), "categoryId"),
		"merchantSpikes":    spikeRows(merchantTotalsByName(monthTxs), merchantTotalsByName(prevTxs), len(prevMonths), "merchant"),
		"sourceSummary":     sourceSummary,
		"categoryLabels":    loadCategoryLabels(s.Layout),
	}, nil
}

// RenderMonthlyMarkdown formats the monthly report data as markdown.
func RenderMonthlyMarkdown(data storage.Doc) string {
	month, _ := data["month"].(string)
	catLabels, _ := data["categoryLabels"].(map[string]string)
	label := func(cid string) string {
		if l, ok := catLabels[cid]; ok {
			return l
		}
		return cid
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Monthly Report: %s\n\n", month)

	b.WriteString("## Summary\n")
	if summary, ok := data["summary"].(map[string]CurrencyTotals); ok {
		for _, ccy := range sortedCurrencies(summary) {
			v := summary[ccy]
			fmt.Fprintf(&b, "- %s: spend %s, income %s, net %s\n", ccy, v.Spend, v.Income, v.Net)
		}
	}

	b.WriteString("\n## Category Breakdown\n")
	if items, ok := data["categoryBreakdown"].([]storage.Doc); ok {
		if len(items) > 20 {
			items = items[:20]
		}
		for _, item := range items {
			cid, _ := item["categoryId"].(string)
			fmt.Fprintf(&b, "- %s (%v): %v\n", label(cid), item["currency"], item["value"])
		}
	}

	b.WriteString("\n## Top Merchants\n")
	if items, ok := data["merchantTop"].([]storage.Doc); ok {
		if len(items) > 20 {
			items = items[:20]
		}
		for _, item := range items {
			fmt.Fprintf(&b, "- %v (%v): %v (%v tx)\n", item["merchant"], item["currency"], item["value"], item["count"])
		}
	}

	b.WriteString("\n## Recurring Charges (Detected)\n")
	if rec, ok := data["recurring"].([]storage.Doc); ok && len(rec) > 0 {
		if len(rec) > 25 {
			rec = rec[:25]
		}
		for _, r := range rec {
			drift := ""
			if r["drift"] != nil && r["prevAmount"] != nil && r["driftPct"] != nil {
				drift = fmt.Sprintf(" (drift: %v -> %v = %v / %v%%)", r["prevAmount"], r["lastAmount"], r["drift"], r["driftPct"])
			}
			dates := joinStrings(r["recentDates"])
			amounts := joinStrings(r["recentAmounts"])
			fmt.Fprintf(&b, "- %v (%v): recent %s on %s (occurrences: %v)%s\n",
				r["merchant"], r["currency"], amounts, dates, r["occurrences"], drift)
		}
	} else {
		b.WriteString("- (none)\n")
	}

	b.WriteString("\n## Category Spikes (Vs Avg Prev 3 Months)\n")
	if spikes, ok := data["categorySpikes"].([]storage.Doc); ok && len(spikes) > 0 {
		for _, s := range spikes {
			cid, _ := s["categoryId"].(string)
			fmt.Fprintf(&b, "- %s (%v): current %v vs avg %v\n", label(cid), s["currency"], s["current"], s["avgPrev3"])
		}
	} else {
		b.WriteString("- (none)\n")
	}

	b.WriteString("\n## Merchant Spikes (Vs Avg Prev 3 Months)\n")
	if spikes, ok := data["merchantSpikes"].([]storage.Doc); ok && len(spikes) > 0 {
		for _, s := range spikes {
			fmt.Fprintf(&b, "- %v (%v): current %v vs avg %v\n", s["merchant"], s["currency"], s["current"], s["avgPrev3"])
		}
	} else {
		b.WriteString("- (none)\n")
	}

	b.WriteString("\n## Manual vs Imported\n")
	if items, ok := data["sourceSummary"].([]storage.Doc); ok {
		for _, s := range items {
			fmt.Fprintf(&b, "- %v: %v tx (spend %v, income %v)\n", s["sourceType"], s["count"], s["spend"], s["income"])
		}
	}
	b.WriteString("\n")
	return b.String()
}

func joinStrings(v any) string {
	items, ok := v.([]string)
	if !ok {
		return ""
	}
	return strings.Join(items, ", ")
}

// WriteMonthlyReport renders and persists the markdown and JSON monthly
// report.
func (s *Service) WriteMonthlyReport(month string) (ReportPaths, error) {
	if err := storage.EnsureDir(s.Layout.ReportsMonthlyDir()); err != nil {
		return ReportPaths{}, err
	}
	data, err := s.MonthlyReportData(month)
	if err != nil {
		return ReportPaths{}, err
	}
	md := RenderMonthlyMarkdown(data)

	paths := ReportPaths{
		MD:   filepath.Join(s.Layout.ReportsMonthlyDir(), month+".md"),
		JSON: filepath.Join(s.Layout.ReportsMonthlyDir(), month+".json"),
	}
	if err := os.WriteFile(paths.MD, []byte(md), 0o644); err != nil {
		return ReportPaths{}, err
	}
	if err := storage.WriteJSON(paths.JSON, data); err != nil {
		return ReportPaths{}, err
	}
	return paths, nil
}
