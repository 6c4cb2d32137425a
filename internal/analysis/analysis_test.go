package analysis

import (
	"fmt"
	"testing"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/storage"
)

func newTestService(t *testing.T) (*Service, *ledger.Store) {
	t.Helper()
	l := layout.For(t.TempDir())
	if err := layout.InitDataLayout(l, false); err != nil {
		t.Fatalf("init layout: %v", err)
	}
	store := ledger.NewStore(l, nil)
	return NewService(l, store), store
}

func spendTx(t *testing.T, store *ledger.Store, id, date, merchant, amount, categoryID string) {
	t.Helper()
	tx := storage.Doc{
		"txId":       id,
		"occurredAt": date,
		"merchant":   merchant,
		"amount":     map[string]any{"value": amount, "currency": "USD"},
		"category":   map[string]any{"id": categoryID, "confidence": 0.9},
		"source":     map[string]any{"sourceType": "bank_csv"},
	}
	if err := store.AppendTransaction(tx); err != nil {
		t.Fatalf("append tx: %v", err)
	}
}

func TestAnalyzeSpendingHeuristic(t *testing.T) {
	s, store := newTestService(t)
	// Three months of spend so trend and forecast have something to work on.
	for i, month := range []string{"2025-01", "2025-02", "2025-03"} {
		spendTx(t, store, fmt.Sprintf("tx_d%d", i), month+"-05", "Cafe", "-100", "dining")
		spendTx(t, store, fmt.Sprintf("tx_g%d", i), month+"-10", "Grocer", "-200", "groceries")
	}
	spendTx(t, store, "tx_inc", "2025-03-01", "Salary", "2000", "income")

	out, err := s.AnalyzeSpending(Options{Month: "2025-03", Provider: "heuristic", LookbackMonths: 6})
	if err != nil {
		t.Fatalf("AnalyzeSpending: %v", err)
	}
	if out["month"] != "2025-03" || out["providerUsed"] != "heuristic" {
		t.Fatalf("identity = %v / %v", out["month"], out["providerUsed"])
	}
	if out["currency"] != "USD" {
		t.Fatalf("currency = %v", out["currency"])
	}
	summary := out["summary"].(storage.Doc)
	if summary["spend"] != "300" || summary["income"] != "2000" {
		t.Fatalf("summary = %v", summary)
	}
	cats := out["topCategories"].([]storage.Doc)
	if len(cats) == 0 || cats[0]["categoryId"] != "groceries" {
		t.Fatalf("topCategories = %v", cats)
	}
	if narrative, _ := out["narrative"].(string); narrative == "" {
		t.Fatal("empty narrative")
	}
	if out["llmError"] != nil {
		t.Fatalf("llmError = %v", out["llmError"])
	}
	datasets := out["datasets"].(storage.Doc)
	trend := datasets["monthlySpendTrend"].([]storage.Doc)
	// Only months that carry USD activity contribute USD trend points.
	if len(trend) != 3 {
		t.Fatalf("trend months = %d, want 3", len(trend))
	}
	forecast := datasets["spendForecast"].([]storage.Doc)
	if len(forecast) != 3 {
		t.Fatalf("forecast months = %d, want 3", len(forecast))
	}
	if forecast[0]["month"] != "2025-04" {
		t.Fatalf("first forecast month = %v", forecast[0]["month"])
	}
}

func TestAnalyzeSpendingValidatesInput(t *testing.T) {
	s, _ := newTestService(t)
	if _, err := s.AnalyzeSpending(Options{Month: "2025-3"}); err == nil {
		t.Fatal("expected error for malformed month")
	}
	if _, err := s.AnalyzeSpending(Options{Month: "2025-13"}); err == nil {
		t.Fatal("expected error for month 13")
	}
	if _, err := s.AnalyzeSpending(Options{Month: "2025-03", Provider: "psychic"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestAnalyzeSpendingEmptyLedger(t *testing.T) {
	s, _ := newTestService(t)
	out, err := s.AnalyzeSpending(Options{Month: "2025-03", Provider: "heuristic"})
	if err != nil {
		t.Fatalf("AnalyzeSpending: %v", err)
	}
	summary := out["summary"].(storage.Doc)
	if summary["spend"] != "0" {
		t.Fatalf("summary = %v", summary)
	}
}

func TestParseMonthAndShift(t *testing.T) {
	ref, err := parseMonth("2025-01")
	if err != nil {
		t.Fatalf("parseMonth: %v", err)
	}
	if got := shiftMonth(ref, -1).key(); got != "2024-12" {
		t.Fatalf("shift back = %q, want 2024-12", got)
	}
	if got := shiftMonth(ref, 12).key(); got != "2026-01" {
		t.Fatalf("shift forward = %q, want 2026-01", got)
	}
}
