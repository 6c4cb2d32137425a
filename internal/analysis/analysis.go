package analysis

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/money"
	"ledgerflow/internal/storage"
)

// Service produces monthly spending analyses from the ledger view. The
// narrative is heuristic by default and can be replaced by an LLM provider
// when one is reachable.
type Service struct {
	Layout layout.Layout
	Store  *ledger.Store
}

func NewService(l layout.Layout, store *ledger.Store) *Service {
	return &Service{Layout: l, Store: store}
}

// Options control a single analysis run.
type Options struct {
	Month          string
	Provider       string // auto, heuristic, ollama, openai
	Model          string
	LookbackMonths int
}

type monthRef struct {
	year  int
	month int
}

func (m monthRef) key() string {
	return fmt.Sprintf("%04d-%02d", m.year, m.month)
}

func parseMonth(month string) (monthRef, error) {
	m := strings.TrimSpace(month)
	if len(m) != 7 || m[4] != '-' {
		return monthRef{}, fmt.Errorf("month must be in YYYY-MM format")
	}
	year, err := strconv.Atoi(m[:4])
	if err != nil {
		return monthRef{}, fmt.Errorf("month must be in YYYY-MM format")
	}
	mon, err := strconv.Atoi(m[5:7])
	if err != nil || mon < 1 || mon > 12 {
		return monthRef{}, fmt.Errorf("month must be in YYYY-MM format")
	}
	return monthRef{year: year, month: mon}, nil
}

func shiftMonth(ref monthRef, delta int) monthRef {
	idx := ref.year*12 + (ref.month - 1) + delta
	year := idx / 12
	mon := idx % 12
	if mon < 0 {
		mon += 12
		year--
	}
	return monthRef{year: year, month: mon + 1}
}

func monthSequence(target monthRef, lookback int) []string {
	n := lookback
	if n < 1 {
		n = 1
	}
	start := shiftMonth(target, -(n - 1))
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, shiftMonth(start, i).key())
	}
	return out
}

func decimalAvg(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

func clampDecimal(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

type monthPoint struct {
	Month    string
	Spend    decimal.Decimal
	Income   decimal.Decimal
	Net      decimal.Decimal
	Currency string
}

func (p monthPoint) doc() storage.Doc {
	return storage.Doc{
		"month":    p.Month,
		"spend":    money.Format(p.Spend),
		"income":   money.Format(p.Income),
		"net":      money.Format(p.Net),
		"currency": p.Currency,
	}
}

func seriesByCurrency(txs []storage.Doc, months []string) map[string][]monthPoint {
	out := map[string][]monthPoint{}
	for _, month := range months {
		monthTxs := ledger.FilterByMonth(txs, month)
		byCcy := map[string]*monthPoint{}
		for _, tx := range monthTxs {
			ccy := ledger.TxCurrency(tx)
			if ccy == "" {
				ccy = "UNK"
			}
			p, ok := byCcy[ccy]
			if !ok {
				p = &monthPoint{Month: month, Currency: ccy}
				byCcy[ccy] = p
			}
			amt := ledger.TxAmount(tx)
			if amt.IsNegative() {
				p.Spend = p.Spend.Add(amt.Neg())
			} else {
				p.Income = p.Income.Add(amt)
			}
			p.Net = p.Net.Add(amt)
		}
		if len(byCcy) == 0 {
			out["UNK"] = append(out["UNK"], monthPoint{Month: month, Currency: "UNK"})
			continue
		}
		ccys := make([]string, 0, len(byCcy))
		for ccy := range byCcy {
			ccys = append(ccys, ccy)
		}
		sort.Strings(ccys)
		for _, ccy := range ccys {
			out[ccy] = append(out[ccy], *byCcy[ccy])
		}
	}
	return out
}

func choosePrimaryCurrency(series map[string][]monthPoint, targetMonth string) string {
	best := "UNK"
	bestSpend := decimal.NewFromInt(-1)
	ccys := make([]string, 0, len(series))
	for ccy := range series {
		ccys = append(ccys, ccy)
	}
	sort.Strings(ccys)
	for _, ccy := range ccys {
		for _, p := range series[ccy] {
			if p.Month != targetMonth {
				continue
			}
			if p.Spend.GreaterThan(bestSpend) {
				best = ccy
				bestSpend = p.Spend
			}
			break
		}
	}
	if bestSpend.Sign() >= 0 {
		return best
	}
	if len(ccys) > 0 {
		return ccys[0]
	}
	return "UNK"
}

func topCategoriesForMonth(txs []storage.Doc, month, currency string, limit int) []storage.Doc {
	totals := map[string]decimal.Decimal{}
	for _, tx := range ledger.FilterByMonth(txs, month) {
		if ledger.TxCurrency(tx) != currency {
			continue
		}
		amt := ledger.TxAmount(tx)
		if amt.Sign() >= 0 {
			continue
		}
		cat := ledger.TxCategoryID(tx)
		if cat == "" {
			cat = "uncategorized"
		}
		totals[cat] = totals[cat].Add(amt.Neg())
	}
	keys := make([]string, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if !totals[keys[i]].Equal(totals[keys[j]]) {
			return totals[keys[i]].GreaterThan(totals[keys[j]])
		}
		return keys[i] < keys[j]
	})
	if len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]storage.Doc, 0, len(keys))
	for _, k := range keys {
		out = append(out, storage.Doc{"categoryId": k, "value": money.Format(totals[k]), "currency": currency})
	}
	return out
}

func topMerchantsForMonth(txs []storage.Doc, month, currency string, limit int) []storage.Doc {
	type acc struct {
		value decimal.Decimal
		count int
	}
	totals := map[string]*acc{}
	for _, tx := range ledger.FilterByMonth(txs, month) {
		if ledger.TxCurrency(tx) != currency {
			continue
		}
		amt := ledger.TxAmount(tx)
		if amt.Sign() >= 0 {
			continue
		}
		m := ledger.TxMerchant(tx)
		if m == "" {
			m = "UNKNOWN"
		}
		a, ok := totals[m]
		if !ok {
			a = &acc{}
			totals[m] = a
		}
		a.value = a.value.Add(amt.Neg())
		a.count++
	}
	keys := make([]string, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if !totals[keys[i]].value.Equal(totals[keys[j]].value) {
			return totals[keys[i]].value.GreaterThan(totals[keys[j]].value)
		}
		return keys[i] < keys[j]
	})
	if len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]storage.Doc, 0, len(keys))
	for _, k := range keys {
		out = append(out, storage.Doc{"merchant": k, "value": money.Format(totals[k].value), "count": totals[k].count, "currency": currency})
	}
	return out
}

func categoryTrend(txs []storage.Doc, months []string, currency string, categories []string) []storage.Doc {
	out := make([]storage.Doc, 0, len(categories))
	for _, cat := range categories {
		points := make([]storage.Doc, 0, len(months))
		for _, month := range months {
			total := decimal.Zero
			for _, tx := range ledger.FilterByMonth(txs, month) {
				if ledger.TxCurrency(tx) != currency {
					continue
				}
				c := ledger.TxCategoryID(tx)
				if c == "" {
					c = "uncategorized"
				}
				if c != cat {
					continue
				}
				amt := ledger.TxAmount(tx)
				if amt.Sign() < 0 {
					total = total.Add(amt.Neg())
				}
			}
			points = append(points, storage.Doc{"month": month, "value": money.Format(total)})
		}
		out = append(out, storage.Doc{"categoryId": cat, "currency": currency, "points": points})
	}
	return out
}

// forecastSpend projects spend forward from the trailing series using average
// month-over-month delta as slope. The band widens with observed volatility
// and with each step forward.
func forecastSpend(points []monthPoint, monthsForward int) []storage.Doc {
	if len(points) == 0 {
		return []storage.Doc{}
	}
	vals := make([]decimal.Decimal, 0, len(points))
	for _, p := range points {
		vals = append(vals, p.Spend)
	}
	slope := decimal.Zero
	avgAbsDelta := decimal.Zero
	if len(vals) > 1 {
		deltas := make([]decimal.Decimal, 0, len(vals)-1)
		absDeltas := make([]decimal.Decimal, 0, len(vals)-1)
		for i := 1; i < len(vals); i++ {
			d := vals[i].Sub(vals[i-1])
			deltas = append(deltas, d)
			absDeltas = append(absDeltas, d.Abs())
		}
		slope = decimalAvg(deltas)
		avgAbsDelta = decimalAvg(absDeltas)
	}
	avgSpend := decimalAvg(vals)
	volatility := decimal.Zero
	if avgSpend.Sign() > 0 {
		volatility = clampDecimal(avgAbsDelta.Div(avgSpend), decimal.Zero, decimal.NewFromInt(1))
	}
	baseBandPct := clampDecimal(
		decimal.RequireFromString("0.08").Add(volatility.Mul(decimal.RequireFromString("0.70"))),
		decimal.RequireFromString("0.08"),
		decimal.RequireFromString("0.40"),
	)

	lastVal := vals[len(vals)-1]
	lastRef, err := parseMonth(points[len(points)-1].Month)
	if err != nil {
		return []storage.Doc{}
	}
	if monthsForward < 1 {
		monthsForward = 1
	}
	out := make([]storage.Doc, 0, monthsForward)
	for i := 1; i <= monthsForward; i++ {
		m := shiftMonth(lastRef, i).key()
		pred := lastVal.Add(slope.Mul(decimal.NewFromInt(int64(i))))
		if pred.Sign() < 0 {
			pred = decimal.Zero
		}
		stepScale := decimal.NewFromInt(1).Add(decimal.NewFromInt(int64(i - 1)).Mul(decimal.RequireFromString("0.25")))
		band := pred.Mul(baseBandPct).Mul(stepScale)
		lower := pred.Sub(band)
		if lower.Sign() < 0 {
			lower = decimal.Zero
		}
		upper := pred.Add(band)
		confidence := clampDecimal(
			decimal.NewFromInt(1).Sub(baseBandPct.Mul(stepScale).Mul(decimal.RequireFromString("1.2"))),
			decimal.RequireFromString("0.05"),
			decimal.RequireFromString("0.95"),
		)
		out = append(out, storage.Doc{
			"month":               m,
			"projectedSpend":      money.Format(pred),
			"projectedSpendLower": money.Format(lower),
			"projectedSpendUpper": money.Format(upper),
			"confidence":          money.Format(confidence),
		})
	}
	return out
}

type qualityMetrics struct {
	TotalSpend        decimal.Decimal
	UnclassifiedSpend decimal.Decimal
	UnclassifiedPct   decimal.Decimal
	ManualSpend       decimal.Decimal
	ManualPct         decimal.Decimal
}

func (q qualityMetrics) doc() storage.Doc {
	return storage.Doc{
		"totalSpend":        money.Format(q.TotalSpend),
		"unclassifiedSpend": money.Format(q.UnclassifiedSpend),
		"unclassifiedPct":   money.Format(q.UnclassifiedPct),
		"manualSpend":       money.Format(q.ManualSpend),
		"manualPct":         money.Format(q.ManualPct),
	}
}

func computeQuality(txs []storage.Doc, month, currency string) qualityMetrics {
	var q qualityMetrics
	for _, tx := range ledger.FilterByMonth(txs, month) {
		if ledger.TxCurrency(tx) != currency {
			continue
		}
		amt := ledger.TxAmount(tx)
		if amt.Sign() >= 0 {
			continue
		}
		debit := amt.Neg()
		q.TotalSpend = q.TotalSpend.Add(debit)
		cat := ledger.TxCategoryID(tx)
		if cat == "" || cat == "uncategorized" || ledger.TxCategoryConfidence(tx) < 0.6 {
			q.UnclassifiedSpend = q.UnclassifiedSpend.Add(debit)
		}
		if ledger.TxSourceType(tx) == "manual" || ledger.TxHasTag(tx, "cash") {
			q.ManualSpend = q.ManualSpend.Add(debit)
		}
	}
	hundred := decimal.NewFromInt(100)
	if q.TotalSpend.Sign() > 0 {
		q.UnclassifiedPct = q.UnclassifiedSpend.Div(q.TotalSpend).Mul(hundred)
		q.ManualPct = q.ManualSpend.Div(q.TotalSpend).Mul(hundred)
	}
	return q
}

func heuristicInsights(month string, points []monthPoint, topCats []storage.Doc, q qualityMetrics) (flags []string, insights []string) {
	var target *monthPoint
	prev := make([]decimal.Decimal, 0, len(points))
	for i := range points {
		if points[i].Month == month {
			target = &points[i]
		} else {
			prev = append(prev, points[i].Spend)
		}
	}
	if len(prev) > 3 {
		prev = prev[len(prev)-3:]
	}
	if target != nil {
		avgPrev := decimalAvg(prev)
		spike := avgPrev.Sign() > 0 &&
			target.Spend.GreaterThan(avgPrev.Mul(decimal.RequireFromString("1.20"))) &&
			target.Spend.Sub(avgPrev).GreaterThan(decimal.NewFromInt(50))
		if spike {
			flags = append(flags, "spend_spike")
			insights = append(insights, fmt.Sprintf("Spend is above the recent baseline: %s vs avg %s.", money.Format(target.Spend), money.Format(avgPrev)))
		} else if avgPrev.Sign() > 0 {
			insights = append(insights, fmt.Sprintf("Spend is stable versus baseline: %s vs avg %s.", money.Format(target.Spend), money.Format(avgPrev)))
		}
	}

	if len(topCats) > 0 {
		top := topCats[0]
		insights = append(insights, fmt.Sprintf("Top category this month is %v at %v %v.", top["categoryId"], top["value"], top["currency"]))
	}

	if q.UnclassifiedPct.GreaterThan(decimal.NewFromInt(12)) {
		flags = append(flags, "unclassified_high")
		insights = append(insights, fmt.Sprintf("Unclassified spend is high at %s%% of debits.", money.Format(q.UnclassifiedPct)))
	}
	if q.ManualPct.GreaterThan(decimal.NewFromInt(30)) {
		flags = append(flags, "manual_high")
		insights = append(insights, fmt.Sprintf("Manual/cash-linked spend is elevated at %s%% of debits.", money.Format(q.ManualPct)))
	}

	if len(insights) == 0 {
		insights = append(insights, "No major risk patterns were detected in the selected month.")
	}
	return flags, insights
}

func heuristicNarrative(month, currency string, points []monthPoint, insights []string) string {
	spend, income, net := "0", "0", "0"
	for _, p := range points {
		if p.Month == month {
			spend, income, net = money.Format(p.Spend), money.Format(p.Income), money.Format(p.Net)
			break
		}
	}
	base := fmt.Sprintf("For %s, spend is %s %s, income is %s %s, net is %s %s.", month, spend, currency, income, currency, net, currency)
	tail := insights
	if len(tail) > 3 {
		tail = tail[:3]
	}
	return strings.TrimSpace(base + " " + strings.Join(tail, " "))
}

func buildRecommendations(riskFlags []string, topCats []storage.Doc, month string) []storage.Doc {
	has := func(flag string) bool {
		for _, f := range riskFlags {
			if f == flag {
				return true
			}
		}
		return false
	}
	var recs []storage.Doc
	if has("spend_spike") && len(topCats) > 0 {
		top := topCats[0]
		recs = append(recs, storage.Doc{
			"id":       "spike_review_top_category",
			"priority": "high",
			"title":    fmt.Sprintf("Review top category (%v) spend", top["categoryId"]),
			"action":   fmt.Sprintf("Set a temporary cap for %v and review large debits above normal in %s.", top["categoryId"], month),
			"impact":   "Can reduce next-month spend drift quickly.",
		})
	}
	if has("unclassified_high") {
		recs = append(recs, storage.Doc{
			"id":       "resolve_unclassified",
			"priority": "high",
			"title":    "Resolve unclassified transactions",
			"action":   "Use review queue to set categories for uncategorized transactions.",
			"impact":   "Improves report quality and alert precision.",
		})
	}
	if has("manual_high") {
		recs = append(recs, storage.Doc{
			"id":       "link_cash_receipts",
			"priority": "medium",
			"title":    "Attach receipts to manual/cash spend",
			"action":   "Link receipt docs and add merchant/category details for manual entries.",
			"impact":   "Reduces blind spots in month-end reconciliation.",
		})
	}
	if len(recs) == 0 {
		recs = append(recs, storage.Doc{
			"id":       "maintain_baseline",
			"priority": "low",
			"title":    "Maintain current spend controls",
			"action":   "Keep recurring charges and top categories under weekly review.",
			"impact":   "Helps preserve stable spend behavior.",
		})
	}
	return recs
}

func analysisConfidence(points []monthPoint, q qualityMetrics, providerUsed, llmError string) storage.Doc {
	score := decimal.RequireFromString("0.72")
	var reasons []string

	if len(points) < 3 {
		score = score.Sub(decimal.RequireFromString("0.12"))
		reasons = append(reasons, "short_history_window")
	} else {
		score = score.Add(decimal.RequireFromString("0.04"))
		reasons = append(reasons, "sufficient_history")
	}

	if q.UnclassifiedPct.GreaterThan(decimal.NewFromInt(20)) {
		score = score.Sub(decimal.RequireFromString("0.15"))
		reasons = append(reasons, "high_unclassified_spend")
	} else if q.UnclassifiedPct.LessThan(decimal.NewFromInt(8)) {
		score = score.Add(decimal.RequireFromString("0.05"))
		reasons = append(reasons, "low_unclassified_spend")
	}

	if q.ManualPct.GreaterThan(decimal.NewFromInt(35)) {
		score = score.Sub(decimal.RequireFromString("0.10"))
		reasons = append(reasons, "high_manual_ratio")
	}

	if providerUsed == "ollama" || providerUsed == "openai" {
		score = score.Add(decimal.RequireFromString("0.04"))
		reasons = append(reasons, "llm_narrative_enrichment")
	}
	if llmError != "" {
		score = score.Sub(decimal.RequireFromString("0.06"))
		reasons = append(reasons, "llm_fallback_applied")
	}

	score = clampDecimal(score, decimal.RequireFromString("0.15"), decimal.RequireFromString("0.98"))
	level := "low"
	switch {
	case score.GreaterThanOrEqual(decimal.RequireFromString("0.80")):
		level = "high"
	case score.GreaterThanOrEqual(decimal.RequireFromString("0.60")):
		level = "medium"
	}
	return storage.Doc{"score": money.Format(score), "level": level, "reasons": reasons}
}

func buildExplainability(month string, riskFlags []string, topCats []storage.Doc, q qualityMetrics, summary storage.Doc) storage.Doc {
	var evidence []storage.Doc
	for _, f := range riskFlags {
		if f != "spend_spike" {
			continue
		}
		spend := "0"
		if v, ok := summary["spend"].(string); ok && v != "" {
			spend = v
		}
		evidence = append(evidence, storage.Doc{
			"rule":        "spend_spike",
			"source":      "datasets.monthlySpendTrend",
			"explanation": fmt.Sprintf("Current month spend is materially above recent baseline for %s.", month),
			"metrics":     storage.Doc{"spend": spend, "month": month},
		})
		break
	}
	if len(topCats) > 0 {
		top := topCats[0]
		evidence = append(evidence, storage.Doc{
			"rule":        "top_category",
			"source":      "topCategories",
			"explanation": "Largest category contribution in selected month.",
			"metrics":     storage.Doc{"categoryId": top["categoryId"], "value": fmt.Sprintf("%v", top["value"])},
		})
	}
	evidence = append(evidence, storage.Doc{
		"rule":        "data_quality",
		"source":      "quality",
		"explanation": "Coverage and confidence quality checks for categorized spend.",
		"metrics": storage.Doc{
			"unclassifiedPct": money.Format(q.UnclassifiedPct),
			"manualPct":       money.Format(q.ManualPct),
		},
	})
	return storage.Doc{"evidence": evidence}
}

// AnalyzeSpending builds the full analysis document for a month. It never
// fails because a narrative provider is unreachable; the heuristic narrative
// is the fallback and llmError records what happened.
func (s *Service) AnalyzeSpending(opts Options) (storage.Doc, error) {
	ref, err := parseMonth(opts.Month)
	if err != nil {
		return nil, err
	}
	target := ref.key()
	lookback := opts.LookbackMonths
	if lookback < 1 {
		lookback = 6
	}
	months := monthSequence(ref, lookback)

	view, err := s.Store.LoadView(false)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	txs := view.Transactions

	series := seriesByCurrency(txs, months)
	primary := choosePrimaryCurrency(series, target)
	points := series[primary]

	topCats := topCategoriesForMonth(txs, target, primary, 8)
	topMerch := topMerchantsForMonth(txs, target, primary, 8)
	catIDs := make([]string, 0, 5)
	for _, row := range topCats {
		if len(catIDs) == 5 {
			break
		}
		if id, ok := row["categoryId"].(string); ok {
			catIDs = append(catIDs, id)
		}
	}
	quality := computeQuality(txs, target, primary)
	riskFlags, insights := heuristicInsights(target, points, topCats, quality)
	narrative := heuristicNarrative(target, primary, points, insights)
	forecast := forecastSpend(points, 3)
	catTrend := categoryTrend(txs, months, primary, catIDs)

	summary := storage.Doc{"month": target, "spend": "0", "income": "0", "net": "0"}
	for _, p := range points {
		if p.Month == target {
			summary = p.doc()
			break
		}
	}
	recommendations := buildRecommendations(riskFlags, topCats, target)

	requested := strings.ToLower(strings.TrimSpace(opts.Provider))
	if requested == "" {
		requested = "auto"
	}
	switch requested {
	case "auto", "heuristic", "ollama", "openai":
	default:
		return nil, fmt.Errorf("provider must be one of: auto, heuristic, ollama, openai")
	}

	cap5 := func(rows []storage.Doc, n int) []storage.Doc {
		if len(rows) > n {
			return rows[:n]
		}
		return rows
	}
	promptCtx := storage.Doc{
		"month":           target,
		"currency":        primary,
		"summary":         summary,
		"topCategories":   cap5(topCats, 5),
		"topMerchants":    cap5(topMerch, 5),
		"riskFlags":       riskFlags,
		"quality":         quality.doc(),
		"insights":        insights,
		"recommendations": cap5(recommendations, 3),
	}

	used := "heuristic"
	llmError := ""
	if requested != "heuristic" {
		text, provider, errMsg := generateNarrative(requested, opts.Model, promptCtx)
		if text != "" {
			narrative = text
			used = provider
		} else {
			llmError = errMsg
		}
	}

	explainability := buildExplainability(target, riskFlags, topCats, quality, summary)
	confidence := analysisConfidence(points, quality, used, llmError)

	if riskFlags == nil {
		riskFlags = []string{}
	}
	trendDocs := make([]storage.Doc, 0, len(points))
	for _, p := range points {
		trendDocs = append(trendDocs, p.doc())
	}

	out := storage.Doc{
		"month":             target,
		"generatedAt":       storage.NowISO(),
		"providerRequested": requested,
		"providerUsed":      used,
		"model":             nullable(opts.Model),
		"currency":          primary,
		"summary":           summary,
		"quality":           quality.doc(),
		"topCategories":     topCats,
		"topMerchants":      topMerch,
		"riskFlags":         riskFlags,
		"insights":          insights,
		"recommendations":   recommendations,
		"confidence":        confidence,
		"explainability":    explainability,
		"narrative":         narrative,
		"datasets": storage.Doc{
			"monthlySpendTrend": trendDocs,
			"categoryTrend":     catTrend,
			"spendForecast":     forecast,
		},
		"llmError": nullable(llmError),
	}
	return out, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
