package alerts

import (
	"testing"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/storage"
)

type capturePublisher struct {
	events []storage.Doc
}

func (p *capturePublisher) PublishAlert(evt storage.Doc) {
	p.events = append(p.events, evt)
}

func newTestEngine(t *testing.T, rules []storage.Doc) (*Engine, layout.Layout) {
	t.Helper()
	l := layout.For(t.TempDir())
	if err := layout.InitDataLayout(l, false); err != nil {
		t.Fatalf("init layout: %v", err)
	}
	if err := storage.WriteJSON(l.AlertRulesPath(), RulesConfig{Currency: "USD", Rules: rules}); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return NewEngine(l, ledger.NewStore(l, nil)), l
}

func alertTx(id, date, merchant, amount, categoryID string, confidence float64) storage.Doc {
	return storage.Doc{
		"txId":       id,
		"occurredAt": date,
		"merchant":   merchant,
		"amount":     map[string]any{"value": amount, "currency": "USD"},
		"category":   map[string]any{"id": categoryID, "confidence": confidence},
	}
}

func appendTxs(t *testing.T, e *Engine, txs ...storage.Doc) {
	t.Helper()
	for _, tx := range txs {
		if err := e.Store.AppendTransaction(tx); err != nil {
			t.Fatalf("append tx: %v", err)
		}
	}
}

func TestRunCategoryBudgetDryRun(t *testing.T) {
	e, l := newTestEngine(t, []storage.Doc{
		{"id": "r1", "type": "category_budget", "categoryId": "dining", "period": "month", "limit": "100"},
	})
	appendTxs(t, e,
		alertTx("tx_a", "2025-03-02", "Cafe", "-60", "dining", 0.9),
		alertTx("tx_b", "2025-03-10", "Bistro", "-50", "dining", 0.9),
		alertTx("tx_c", "2025-03-11", "Market", "-500", "groceries", 0.9),
		alertTx("tx_d", "2025-03-12", "Refund", "40", "dining", 0.9),
	)

	res, err := e.Run("2025-03-15", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.EventCount != 1 || len(res.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(res.Events))
	}
	evt := res.Events[0]
	if evt["type"] != "category_budget" || evt["ruleId"] != "r1" {
		t.Fatalf("unexpected event identity: %v", evt)
	}
	if evt["periodKey"] != "2025-03" {
		t.Fatalf("periodKey = %v, want 2025-03", evt["periodKey"])
	}
	data := evt["data"].(storage.Doc)
	if data["value"] != "110" || data["limit"] != "100" {
		t.Fatalf("data = %v", data)
	}
	if ids := data["txIds"].([]string); len(ids) != 2 {
		t.Fatalf("txIds = %v, want 2 entries", ids)
	}

	// Dry runs leave both the event log and the rule state untouched.
	events, err := storage.ReadJSONL(l.AlertEventsPath())
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("dry run wrote %d events", len(events))
	}
	st, err := loadState(l)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if st.Rules["r1"].LastTriggeredPeriodKey != "" {
		t.Fatalf("dry run updated state: %+v", st.Rules["r1"])
	}
}

func TestRunCommitFiresOncePerPeriod(t *testing.T) {
	e, l := newTestEngine(t, []storage.Doc{
		{"id": "r1", "type": "category_budget", "categoryId": "dining", "period": "month", "limit": "100"},
	})
	pub := &capturePublisher{}
	e.Publisher = pub
	appendTxs(t, e,
		alertTx("tx_a", "2025-03-02", "Cafe", "-80", "dining", 0.9),
		alertTx("tx_b", "2025-03-10", "Bistro", "-70", "dining", 0.9),
	)

	first, err := e.Run("2025-03-15", true)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if first.EventCount != 1 {
		t.Fatalf("first run events = %d, want 1", first.EventCount)
	}
	if len(pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.events))
	}

	second, err := e.Run("2025-03-20", true)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.EventCount != 0 {
		t.Fatalf("second run fired again: %v", second.Events)
	}

	events, err := storage.ReadJSONL(l.AlertEventsPath())
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("event log has %d entries, want 1", len(events))
	}
	st, err := loadState(l)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if st.Rules["r1"].LastTriggeredPeriodKey != "2025-03" {
		t.Fatalf("state periodKey = %q, want 2025-03", st.Rules["r1"].LastTriggeredPeriodKey)
	}
}

func TestRunUnderLimitAndUnknownType(t *testing.T) {
	e, _ := newTestEngine(t, []storage.Doc{
		{"id": "r1", "type": "category_budget", "categoryId": "dining", "period": "month", "limit": "1000"},
		{"id": "r2", "type": "martian_invasion"},
	})
	appendTxs(t, e, alertTx("tx_a", "2025-03-02", "Cafe", "-60", "dining", 0.9))

	res, err := e.Run("2025-03-15", true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.EventCount != 0 {
		t.Fatalf("events = %v, want none", res.Events)
	}
}

func TestRunRejectsBadScopeDate(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	if _, err := e.Run("not-a-date", false); err == nil {
		t.Fatal("expected error for invalid scope date")
	}
}

func TestRunUnclassifiedSpend(t *testing.T) {
	e, _ := newTestEngine(t, []storage.Doc{
		{"id": "u1", "type": "unclassified_spend", "period": "day", "limit": "50"},
	})
	appendTxs(t, e,
		alertTx("tx_a", "2025-03-05", "ATM", "-40", "uncategorized", 0),
		alertTx("tx_b", "2025-03-05", "Kiosk", "-30", "misc", 0.3),
		alertTx("tx_c", "2025-03-05", "Cafe", "-90", "dining", 0.95),
	)

	res, err := e.Run("2025-03-05", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.EventCount != 1 {
		t.Fatalf("events = %d, want 1", res.EventCount)
	}
	evt := res.Events[0]
	if evt["periodKey"] != "2025-03-05" {
		t.Fatalf("periodKey = %v", evt["periodKey"])
	}
	data := evt["data"].(storage.Doc)
	if data["value"] != "70" {
		t.Fatalf("value = %v, want 70", data["value"])
	}
}

func TestRunCashHeavyDay(t *testing.T) {
	e, _ := newTestEngine(t, []storage.Doc{
		{"id": "c1", "type": "cash_heavy_day", "limit": "100"},
	})
	manual := alertTx("tx_a", "2025-03-05", "Bakery", "-80", "dining", 1)
	manual["source"] = map[string]any{"sourceType": "manual"}
	tagged := alertTx("tx_b", "2025-03-05", "Stall", "-60", "misc", 0.5)
	tagged["source"] = map[string]any{"sourceType": "bank_csv"}
	tagged["tags"] = []any{"cash"}
	card := alertTx("tx_c", "2025-03-05", "Store", "-500", "shopping", 0.9)
	card["source"] = map[string]any{"sourceType": "bank_csv"}
	appendTxs(t, e, manual, tagged, card)

	res, err := e.Run("2025-03-05", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.EventCount != 1 {
		t.Fatalf("events = %d, want 1", res.EventCount)
	}
	data := res.Events[0]["data"].(storage.Doc)
	if data["value"] != "140" {
		t.Fatalf("value = %v, want 140", data["value"])
	}
	if ids := data["txIds"].([]string); len(ids) != 2 {
		t.Fatalf("txIds = %v, want 2 entries", ids)
	}
}
