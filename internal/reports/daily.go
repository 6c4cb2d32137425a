package reports

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ledgerflow/internal/alerts"
	"ledgerflow/internal/layout"
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/money"
	"ledgerflow/internal/reconcile"
	"ledgerflow/internal/storage"
)

// Service renders reports against one data directory.
type Service struct {
	Layout layout.Layout
	Store  *ledger.Store
}

func NewService(l layout.Layout, store *ledger.Store) *Service {
	return &Service{Layout: l, Store: store}
}

func reviewItems(txs []storage.Doc, catConfThreshold float64) []storage.Doc {
	items := []storage.Doc{}
	for _, tx := range txs {
		catID := ledger.TxCategoryID(tx)
		if catID == "" {
			catID = "uncategorized"
		}
		catConf := ledger.TxCategoryConfidence(tx)
		merchant, _ := tx["merchant"].(string)
		desc, _ := tx["description"].(string)

		var reasons []any
		if catID == "uncategorized" {
			reasons = append(reasons, "uncategorized")
		}
		if catConf < catConfThreshold {
			reasons = append(reasons, fmt.Sprintf("low_category_confidence:%.2f", catConf))
		}
		if strings.TrimSpace(merchant) == "" && strings.TrimSpace(desc) == "" {
			reasons = append(reasons, "missing_merchant_and_description")
		}
		if len(reasons) == 0 {
			continue
		}
		items = append(items, storage.Doc{
			"txId":       ledger.TxID(tx),
			"date":       ledger.TxDate(tx),
			"amount":     tx["amount"],
			"merchant":   ledger.TxMerchant(tx),
			"categoryId": catID,
			"reasons":    reasons,
		})
	}
	return items
}

// possibleDuplicates maps manual txIds to the bank txId they likely
// duplicate, scoped to manual entries on one day.
func possibleDuplicates(all []storage.Doc, day string, maxDaysDiff int) map[string]string {
	tolerance := money.FromAny("0.01")
	var manual, bank []storage.Doc
	for _, tx := range all {
		switch ledger.TxSourceType(tx) {
		case "manual":
			if ledger.TxDate(tx) == day {
				manual = append(manual, tx)
			}
		case "bank_csv":
			bank = append(bank, tx)
		}
	}

	out := map[string]string{}
	for _, mtx := range manual {
		mid := ledger.TxID(mtx)
		if mid == "" {
			continue
		}
		mam := ledger.TxAmount(mtx)
		if !mam.IsNegative() {
			continue
		}
		mamt := mam.Neg()
		mccy := ledger.TxCurrency(mtx)
		mmer := ledger.TxMerchant(mtx)

		var best storage.Doc
		bestScore := -1.0
		for _, btx := range bank {
			bd := ledger.TxDate(btx)
			if bd == "" {
				continue
			}
			gap, ok := dayGap(day, bd)
			if !ok {
				continue
			}
			if gap < 0 {
				gap = -gap
			}
			if gap > maxDaysDiff {
				continue
			}
			if mccy != "" && ledger.TxCurrency(btx) != "" && ledger.TxCurrency(btx) != mccy {
				continue
			}
			bam := ledger.TxAmount(btx)
			if !bam.IsNegative() {
				continue
			}
			if bam.Neg().Sub(mamt).Abs().Cmp(tolerance) > 0 {
				continue
			}
			score := 0.5 + 0.5*reconcile.MerchantScore(mmer, ledger.TxMerchant(btx))
			if score > bestScore {
				bestScore = score
				best = btx
			}
		}
		if best != nil && bestScore >= 0.65 {
			if bid := ledger.TxID(best); bid != "" {
				out[mid] = bid
			}
		}
	}
	return out
}

// DailyReportData assembles everything the daily report shows.
func (s *Service) DailyReportData(date string) (storage.Doc, error) {
	d, err := storage.ParseYMD(date)
	if err != nil {
		return nil, err
	}
	view, err := s.Store.LoadView(false)
	if err != nil {
		return nil, err
	}

	dayTxs := []storage.Doc{}
	for _, tx := range view.Transactions {
		if ledger.TxDate(tx) == date {
			dayTxs = append(dayTxs, tx)
		}
	}

	from7 := d.AddDate(0, 0, -6).Format(storage.YMD)
	rolling := ledger.FilterByDateRange(view.Transactions, from7, date)

	alertEvents, err := alerts.EventsForDate(s.Layout, date)
	if err != nil {
		return nil, err
	}

	return storage.Doc{
		"date":                date,
		"generatedAt":         storage.NowISO(),
		"summary":             sumCurrency(dayTxs),
		"topCategoriesToday":  topCategories(dayTxs, 8),
		"topMerchantsToday":   topMerchants(dayTxs, 8),
		"rolling7d": storage.Doc{
			"from":          from7,
			"to":            date,
			"summary":       sumCurrency(rolling),
			"topCategories": topCategories(rolling, 8),
		},
		"reviewQueue":        reviewItems(dayTxs, 0.60),
		"possibleDuplicates": possibleDuplicates(view.Transactions, date, 1),
		"alerts":             alertEvents,
		"categoryLabels":     loadCategoryLabels(s.Layout),
	}, nil
}

func sortedCurrencies(m map[string]CurrencyTotals) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RenderDailyMarkdown formats the daily report data as markdown.
func RenderDailyMarkdown(data storage.Doc) string {
	date, _ := data["date"].(string)
	catLabels, _ := data["categoryLabels"].(map[string]string)
	label := func(cid string) string {
		if l, ok := catLabels[cid]; ok {
			return l
		}
		return cid
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Daily Report: %s\n\n", date)

	b.WriteString("## Summary\n")
	if summary, ok := data["summary"].(map[string]CurrencyTotals); ok {
		for _, ccy := range sortedCurrencies(summary) {
			v := summary[ccy]
			fmt.Fprintf(&b, "- %s: spend %s, income %s, net %s\n", ccy, v.Spend, v.Income, v.Net)
		}
	}
	b.WriteString("\n## Top Categories (Today)\n")
	writeCategoryList(&b, data["topCategoriesToday"], label)

	b.WriteString("\n## Top Merchants (Today)\n")
	writeMerchantList(&b, data["topMerchantsToday"])

	if roll, ok := data["rolling7d"].(storage.Doc); ok {
		fmt.Fprintf(&b, "\n## Rolling 7 Days (%v to %v)\n", roll["from"], roll["to"])
		if summary, ok := roll["summary"].(map[string]CurrencyTotals); ok {
			for _, ccy := range sortedCurrencies(summary) {
				v := summary[ccy]
				fmt.Fprintf(&b, "- %s: spend %s, income %s, net %s\n", ccy, v.Spend, v.Income, v.Net)
			}
		}
		b.WriteString("\n### Top Categories (Rolling 7 Days)\n")
		writeCategoryList(&b, roll["topCategories"], label)
	}

	b.WriteString("\n## Review Queue\n")
	if items, ok := data["reviewQueue"].([]storage.Doc); ok && len(items) > 0 {
		if len(items) > 50 {
			items = items[:50]
		}
		for _, item := range items {
			amt, _ := item["amount"].(map[string]any)
			val, ccy := "", ""
			if amt != nil {
				val, _ = amt["value"].(string)
				ccy, _ = amt["currency"].(string)
			}
			reasons := joinReasons(item["reasons"])
			fmt.Fprintf(&b, "- %v: %v %s %s (%s)\n", item["txId"], item["merchant"], val, ccy, reasons)
		}
	} else {
		b.WriteString("- (none)\n")
	}

	b.WriteString("\n## Possible Duplicates (Manual vs Bank)\n")
	if dup, ok := data["possibleDuplicates"].(map[string]string); ok && len(dup) > 0 {
		mids := make([]string, 0, len(dup))
		for mid := range dup {
			mids = append(mids, mid)
		}
		sort.Strings(mids)
		if len(mids) > 50 {
			mids = mids[:50]
		}
		for _, mid := range mids {
			fmt.Fprintf(&b, "- manual %s may duplicate bank %s\n", mid, dup[mid])
		}
	} else {
		b.WriteString("- (none)\n")
	}

	b.WriteString("\n## Alerts (Today)\n")
	if evts, ok := data["alerts"].([]storage.Doc); ok && len(evts) > 0 {
		if len(evts) > 50 {
			evts = evts[len(evts)-50:]
		}
		for _, evt := range evts {
			fmt.Fprintf(&b, "- [%v] %v\n", evt["ruleId"], evt["message"])
		}
	} else {
		b.WriteString("- (none)\n")
	}
	b.WriteString("\n")
	return b.String()
}

func writeCategoryList(b *strings.Builder, v any, label func(string) string) {
	items, ok := v.([]storage.Doc)
	if !ok || len(items) == 0 {
		b.WriteString("- (none)\n")
		return
	}
	for _, item := range items {
		cid, _ := item["categoryId"].(string)
		fmt.Fprintf(b, "- %s (%v): %v\n", label(cid), item["currency"], item["value"])
	}
}

func writeMerchantList(b *strings.Builder, v any) {
	items, ok := v.([]storage.Doc)
	if !ok || len(items) == 0 {
		b.WriteString("- (none)\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %v (%v): %v (%v tx)\n", item["merchant"], item["currency"], item["value"], item["count"])
	}
}

func joinReasons(v any) string {
	items, ok := v.([]any)
	if !ok {
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, r := range items {
		parts = append(parts, fmt.Sprintf("%v", r))
	}
	return strings.Join(parts, ", ")
}

// ReportPaths names the written artifacts of one report.
type ReportPaths struct {
	MD   string `json:"md"`
	JSON string `json:"json"`
}

// WriteDailyReport renders and persists the markdown and JSON daily report.
func (s *Service) WriteDailyReport(date string) (ReportPaths, error) {
	if err := storage.EnsureDir(s.Layout.ReportsDailyDir()); err != nil {
		return ReportPaths{}, err
	}
	data, err := s.DailyReportData(date)
	if err != nil {
		return ReportPaths{}, err
	}
	md := RenderDailyMarkdown(data)

	paths := ReportPaths{
		MD:   filepath.Join(s.Layout.ReportsDailyDir(), date+".md"),
		JSON: filepath.Join(s.Layout.ReportsDailyDir(), date+".json"),
	}
	if err := os.WriteFile(paths.MD, []byte(md), 0o644); err != nil {
		return ReportPaths{}, err
	}
	if err := storage.WriteJSON(paths.JSON, data); err != nil {
		return ReportPaths{}, err
	}
	return paths, nil
}
