// Package alerts evaluates stateful spending rules over the ledger view and
// emits append-only alert events. A rule fires at most once per
// (rule, periodKey).
package alerts

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/money"
	"ledgerflow/internal/storage"
)

const maxTxIDsPerEvent = 500

// Publisher receives committed alert events, e.g. for live streaming.
type Publisher interface {
	PublishAlert(evt storage.Doc)
}

// Engine evaluates the configured rules against the ledger.
type Engine struct {
	Layout    layout.Layout
	Store     *ledger.Store
	Publisher Publisher
}

func NewEngine(l layout.Layout, store *ledger.Store) *Engine {
	return &Engine{Layout: l, Store: store}
}

// RunResult summarizes one evaluation pass.
type RunResult struct {
	At         string        `json:"at"`
	Events     []storage.Doc `json:"events"`
	EventCount int           `json:"eventCount"`
	Commit     bool          `json:"commit"`
}

// Run evaluates all rules for scopeDate. With commit=false the fired events
// are returned but neither the events file nor the state document changes.
func (e *Engine) Run(scopeDate string, commit bool) (RunResult, error) {
	at, err := storage.ParseYMD(scopeDate)
	if err != nil {
		return RunResult{}, err
	}

	cfg, err := loadRules(e.Layout)
	if err != nil {
		return RunResult{}, err
	}
	state, err := loadState(e.Layout)
	if err != nil {
		return RunResult{}, err
	}
	view, err := e.Store.LoadView(false)
	if err != nil {
		return RunResult{}, err
	}

	res := RunResult{At: scopeDate, Events: []storage.Doc{}, Commit: commit}

	for _, rule := range cfg.Rules {
		ruleID := ruleStr(rule, "id", "")
		ruleType := ruleStr(rule, "type", "")
		if ruleID == "" || ruleType == "" {
			continue
		}

		fired, err := e.evalRule(rule, ruleID, ruleType, at, scopeDate, view, state)
		if err != nil {
			return res, err
		}
		if fired == nil {
			continue
		}
		res.Events = append(res.Events, fired.event)

		if commit {
			if err := storage.AppendJSONL(e.Layout.AlertEventsPath(), fired.event); err != nil {
				return res, err
			}
			rs := state.Rules[ruleID]
			rs.LastTriggeredPeriodKey = fired.periodKey
			rs.LastValue = fired.lastValue
			state.Rules[ruleID] = rs
			if e.Publisher != nil {
				e.Publisher.PublishAlert(fired.event)
			}
		}
	}

	state.LastRun = storage.NowISO()
	if commit {
		if err := saveState(e.Layout, state); err != nil {
			return res, err
		}
	}
	res.EventCount = len(res.Events)
	return res, nil
}

type firedRule struct {
	event     storage.Doc
	periodKey string
	lastValue string
}

func (e *Engine) evalRule(rule storage.Doc, ruleID, ruleType string, at time.Time, scopeDate string, view ledger.View, state State) (*firedRule, error) {
	switch ruleType {
	case "category_budget":
		return e.evalCategoryBudget(rule, ruleID, at, scopeDate, view, state)
	case "recurring_new":
		return e.evalRecurringNew(rule, ruleID, at, scopeDate, view, state)
	case "recurring_changed":
		return e.evalRecurringChanged(rule, ruleID, at, scopeDate, view, state)
	case "merchant_spike":
		return e.evalMerchantSpike(rule, ruleID, at, scopeDate, view, state)
	case "cash_heavy_day":
		return e.evalCashHeavyDay(rule, ruleID, at, scopeDate, view, state)
	case "unclassified_spend":
		return e.evalUnclassifiedSpend(rule, ruleID, at, scopeDate, view, state)
	}
	// Unknown rule types are tolerated for forward compatibility.
	return nil, nil
}

func alreadyFired(state State, ruleID, periodKey string) bool {
	return state.Rules[ruleID].LastTriggeredPeriodKey == periodKey
}

func newEvent(ruleID, ruleType, period, periodKey, scopeDate, message string, data storage.Doc) storage.Doc {
	return storage.Doc{
		"eventId":   storage.NewID(storage.PrefixAlert),
		"ruleId":    ruleID,
		"type":      ruleType,
		"period":    period,
		"periodKey": periodKey,
		"scopeDate": scopeDate,
		"at":        storage.NowISO(),
		"data":      data,
		"message":   message,
	}
}

func (e *Engine) evalCategoryBudget(rule storage.Doc, ruleID string, at time.Time, scopeDate string, view ledger.View, state State) (*firedRule, error) {
	categoryID := ruleStr(rule, "categoryId", "")
	period := ruleStr(rule, "period", "")
	if categoryID == "" || period == "" {
		return nil, nil
	}
	key, err := PeriodKey(period, at)
	if err != nil {
		return nil, nil
	}
	if alreadyFired(state, ruleID, key) {
		return nil, nil
	}
	start, end, err := PeriodBounds(period, at)
	if err != nil {
		return nil, nil
	}
	limit := ruleDecimal(rule, "limit", "0")
	scoped := ledger.FilterByDateRange(view.Transactions, start.Format(storage.YMD), end.Format(storage.YMD))
	spend, txIDs := sumCategorySpend(scoped, categoryID)
	if spend.Cmp(limit) <= 0 {
		return nil, nil
	}
	msg := fmt.Sprintf("%s spend %s exceeded limit %s for %s %s",
		categoryID, money.Format(spend), money.Format(limit), period, key)
	data := storage.Doc{
		"categoryId": categoryID,
		"limit":      money.Format(limit),
		"value":      money.Format(spend),
		"txIds":      capIDs(txIDs, maxTxIDsPerEvent),
	}
	return &firedRule{
		event:     newEvent(ruleID, "category_budget", period, key, scopeDate, msg, data),
		periodKey: key,
		lastValue: money.Format(spend),
	}, nil
}

func (e *Engine) evalRecurringNew(rule storage.Doc, ruleID string, at time.Time, scopeDate string, view ledger.View, state State) (*firedRule, error) {
	minOcc := ruleInt(rule, "minOccurrences", 3)
	spacingLo, spacingHi := ruleSpacing(rule)
	key, _ := PeriodKey("month", at)
	if alreadyFired(state, ruleID, key) {
		return nil, nil
	}

	start := at.AddDate(0, 0, -180)
	scoped := ledger.FilterByDateRange(view.Transactions, start.Format(storage.YMD), at.Format(storage.YMD))

	// Group debits by (merchant, abs amount, currency); a candidate must show
	// minOccurrences distinct dates with the required spacing and no earlier
	// occurrence inside the window.
	type groupKey struct {
		merchant string
		amount   string
		currency string
	}
	groups := map[groupKey]map[string]bool{}
	for _, tx := range scoped {
		amt := ledger.TxAmount(tx)
		if !amt.IsNegative() {
			continue
		}
		merchant := ledger.TxMerchant(tx)
		d := ledger.TxDate(tx)
		if merchant == "" || d == "" {
			continue
		}
		k := groupKey{
			merchant: strings.ToLower(merchant),
			amount:   money.Format(amt.Neg()),
			currency: ledger.TxCurrency(tx),
		}
		if groups[k] == nil {
			groups[k] = map[string]bool{}
		}
		groups[k][d] = true
	}

	var found []storage.Doc
	for k, dateSet := range groups {
		dates := make([]string, 0, len(dateSet))
		for d := range dateSet {
			dates = append(dates, d)
		}
		sort.Strings(dates)
		if len(dates) < minOcc {
			continue
		}
		tail := dates[len(dates)-minOcc:]
		if !spacingOK(tail, spacingLo, spacingHi) {
			continue
		}
		if len(dates) > minOcc {
			// Earlier occurrences in the window mean the pattern is not new.
			continue
		}
		found = append(found, storage.Doc{
			"merchant": k.merchant,
			"amount":   k.amount,
			"currency": k.currency,
			"dates":    tail,
		})
	}
	if len(found) == 0 {
		return nil, nil
	}
	sort.Slice(found, func(i, j int) bool {
		return found[i]["merchant"].(string) < found[j]["merchant"].(string)
	})
	if len(found) > 50 {
		found = found[:50]
	}
	msg := fmt.Sprintf("New recurring charges detected: %d", len(found))
	return &firedRule{
		event:     newEvent(ruleID, "recurring_new", "month", key, scopeDate, msg, storage.Doc{"items": found}),
		periodKey: key,
	}, nil
}

func (e *Engine) evalRecurringChanged(rule storage.Doc, ruleID string, at time.Time, scopeDate string, view ledger.View, state State) (*firedRule, error) {
	minOcc := ruleInt(rule, "minOccurrences", 3)
	spacingLo, spacingHi := ruleSpacing(rule)
	minDelta := ruleDecimal(rule, "minDelta", "5")
	minDeltaPct := ruleDecimal(rule, "minDeltaPct", "5")

	key, _ := PeriodKey("month", at)
	if alreadyFired(state, ruleID, key) {
		return nil, nil
	}

	start := at.AddDate(0, 0, -240)
	scoped := ledger.FilterByDateRange(view.Transactions, start.Format(storage.YMD), at.Format(storage.YMD))
	groups := recurringGroups(scoped)

	var changed []storage.Doc
	for k, items := range groups {
		if len(items) < minOcc {
			continue
		}
		dates := make([]string, len(items))
		for i, it := range items {
			dates[i] = it.date
		}

		// Latest spacing-valid tail of length minOcc wins.
		bestStart := -1
		for end := minOcc; end <= len(dates); end++ {
			if spacingOK(dates[end-minOcc:end], spacingLo, spacingHi) {
				bestStart = end - minOcc
			}
		}
		if bestStart < 0 {
			continue
		}

		tail := items[bestStart : bestStart+minOcc]
		if len(tail) < 2 {
			continue
		}
		prevAmt := tail[len(tail)-2].amount
		lastAmt := tail[len(tail)-1].amount
		delta := lastAmt.Sub(prevAmt)
		deltaPct := decimal.Zero
		if !prevAmt.IsZero() {
			deltaPct = delta.Div(prevAmt).Mul(decimal.NewFromInt(100))
		}
		if delta.Abs().Cmp(minDelta) < 0 && deltaPct.Abs().Cmp(minDeltaPct) < 0 {
			continue
		}

		recentDates := make([]string, len(tail))
		for i, it := range tail {
			recentDates[i] = it.date
		}
		changed = append(changed, storage.Doc{
			"merchant":    k.merchant,
			"currency":    k.currency,
			"prevAmount":  money.Format(prevAmt),
			"lastAmount":  money.Format(lastAmt),
			"delta":       money.Format(delta),
			"deltaPct":    money.Format(deltaPct),
			"recentDates": recentDates,
		})
	}
	if len(changed) == 0 {
		return nil, nil
	}
	sort.Slice(changed, func(i, j int) bool {
		return changed[i]["merchant"].(string) < changed[j]["merchant"].(string)
	})
	if len(changed) > 100 {
		changed = changed[:100]
	}
	msg := fmt.Sprintf("Recurring charges changed: %d", len(changed))
	return &firedRule{
		event:     newEvent(ruleID, "recurring_changed", "month", key, scopeDate, msg, storage.Doc{"items": changed}),
		periodKey: key,
	}, nil
}

func (e *Engine) evalMerchantSpike(rule storage.Doc, ruleID string, at time.Time, scopeDate string, view ledger.View, state State) (*firedRule, error) {
	period := ruleStr(rule, "period", "month")
	lookback := ruleInt(rule, "lookbackPeriods", 3)
	multiplier := ruleDecimal(rule, "multiplier", "1.5")
	minDelta := ruleDecimal(rule, "minDelta", "50")
	merchantFilter := strings.ToLower(ruleStr(rule, "merchant", ""))

	key, err := PeriodKey(period, at)
	if err != nil {
		return nil, nil
	}
	if alreadyFired(state, ruleID, key) {
		return nil, nil
	}
	seq, err := periodSequence(period, at, lookback)
	if err != nil {
		return nil, nil
	}

	current := merchantSpend(ledger.FilterByDateRange(view.Transactions,
		seq[0].start.Format(storage.YMD), seq[0].end.Format(storage.YMD)))

	prev := make([]map[merchantKey]decimal.Decimal, 0, len(seq)-1)
	for _, w := range seq[1:] {
		ms := merchantSpend(ledger.FilterByDateRange(view.Transactions,
			w.start.Format(storage.YMD), w.end.Format(storage.YMD)))
		prev = append(prev, ms.totals)
	}
	prevCount := decimal.NewFromInt(int64(max(len(prev), 1)))

	var items []storage.Doc
	for k, cur := range current.totals {
		if merchantFilter != "" && k.merchant != merchantFilter {
			continue
		}
		prevSum := money.Zero
		for _, pm := range prev {
			if v, ok := pm[k]; ok {
				prevSum = prevSum.Add(v)
			}
		}
		prevAvg := prevSum.Div(prevCount)
		if prevAvg.Sign() <= 0 {
			continue
		}
		if cur.Cmp(prevAvg.Mul(multiplier)) <= 0 {
			continue
		}
		if cur.Sub(prevAvg).Cmp(minDelta) <= 0 {
			continue
		}
		items = append(items, storage.Doc{
			"merchant": current.display[k],
			"currency": k.currency,
			"current":  money.Format(cur),
			"avgPrev":  money.Format(prevAvg),
			"delta":    money.Format(cur.Sub(prevAvg)),
			"txIds":    capIDs(current.txIDs[k], maxTxIDsPerEvent),
		})
	}
	if len(items) == 0 {
		return nil, nil
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i]["merchant"].(string) < items[j]["merchant"].(string)
	})
	if len(items) > 100 {
		items = items[:100]
	}
	msg := fmt.Sprintf("Merchant spend spike detected: %d", len(items))
	return &firedRule{
		event:     newEvent(ruleID, "merchant_spike", period, key, scopeDate, msg, storage.Doc{"items": items}),
		periodKey: key,
	}, nil
}

func (e *Engine) evalCashHeavyDay(rule storage.Doc, ruleID string, at time.Time, scopeDate string, view ledger.View, state State) (*firedRule, error) {
	key, _ := PeriodKey("day", at)
	if alreadyFired(state, ruleID, key) {
		return nil, nil
	}
	limit := ruleDecimal(rule, "limit", "150")
	day := at.Format(storage.YMD)
	spend := money.Zero
	var txIDs []string
	for _, tx := range ledger.FilterByDateRange(view.Transactions, day, day) {
		if !ledger.IsDebit(tx) {
			continue
		}
		if ledger.TxSourceType(tx) != "manual" && !ledger.TxHasTag(tx, "cash") {
			continue
		}
		spend = spend.Add(ledger.TxAmount(tx).Neg())
		if id := ledger.TxID(tx); id != "" {
			txIDs = append(txIDs, id)
		}
	}
	if spend.Cmp(limit) <= 0 {
		return nil, nil
	}
	msg := fmt.Sprintf("Cash-heavy day spend %s exceeded limit %s", money.Format(spend), money.Format(limit))
	data := storage.Doc{
		"limit": money.Format(limit),
		"value": money.Format(spend),
		"txIds": capIDs(txIDs, maxTxIDsPerEvent),
	}
	return &firedRule{
		event:     newEvent(ruleID, "cash_heavy_day", "day", key, scopeDate, msg, data),
		periodKey: key,
	}, nil
}

func (e *Engine) evalUnclassifiedSpend(rule storage.Doc, ruleID string, at time.Time, scopeDate string, view ledger.View, state State) (*firedRule, error) {
	period := ruleStr(rule, "period", "day")
	key, err := PeriodKey(period, at)
	if err != nil {
		return nil, nil
	}
	if alreadyFired(state, ruleID, key) {
		return nil, nil
	}
	confBelow := ruleFloat(rule, "categoryConfidenceBelow", 0.6)
	limit := ruleDecimal(rule, "limit", "50")
	start, end, err := PeriodBounds(period, at)
	if err != nil {
		return nil, nil
	}

	spend := money.Zero
	var txIDs []string
	for _, tx := range ledger.FilterByDateRange(view.Transactions, start.Format(storage.YMD), end.Format(storage.YMD)) {
		if !ledger.IsDebit(tx) {
			continue
		}
		catID := ledger.TxCategoryID(tx)
		if catID != "" && catID != "uncategorized" && ledger.TxCategoryConfidence(tx) >= confBelow {
			continue
		}
		spend = spend.Add(ledger.TxAmount(tx).Neg())
		if id := ledger.TxID(tx); id != "" {
			txIDs = append(txIDs, id)
		}
	}
	if spend.Cmp(limit) <= 0 {
		return nil, nil
	}
	msg := fmt.Sprintf("Unclassified spend %s exceeded limit %s for %s %s",
		money.Format(spend), money.Format(limit), period, key)
	data := storage.Doc{
		"limit":                   money.Format(limit),
		"value":                   money.Format(spend),
		"txIds":                   capIDs(txIDs, maxTxIDsPerEvent),
		"categoryConfidenceBelow": confBelow,
	}
	return &firedRule{
		event:     newEvent(ruleID, "unclassified_spend", period, key, scopeDate, msg, data),
		periodKey: key,
	}, nil
}

// EventsForDate lists committed events whose timestamp starts with ymd.
func EventsForDate(l layout.Layout, ymd string) ([]storage.Doc, error) {
	events, err := storage.ReadJSONL(l.AlertEventsPath())
	if err != nil {
		return nil, err
	}
	out := []storage.Doc{}
	for _, evt := range events {
		at, _ := evt["at"].(string)
		if len(at) >= len(ymd) && at[:len(ymd)] == ymd {
			out = append(out, evt)
		}
	}
	return out, nil
}
