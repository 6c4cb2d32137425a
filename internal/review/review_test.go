package review

import (
	"testing"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/sources"
	"ledgerflow/internal/storage"
)

func newTestService(t *testing.T) (*Service, *ledger.Store) {
	t.Helper()
	l := layout.For(t.TempDir())
	if err := layout.InitDataLayout(l, false); err != nil {
		t.Fatalf("init layout: %v", err)
	}
	store := ledger.NewStore(l, nil)
	return NewService(l, store, sources.NewRegistry(l, nil)), store
}

func reviewTx(t *testing.T, store *ledger.Store, id, date, merchant, categoryID string, confidence float64) {
	t.Helper()
	tx := storage.Doc{
		"txId":       id,
		"occurredAt": date,
		"merchant":   merchant,
		"amount":     map[string]any{"value": "-10", "currency": "USD"},
		"category":   map[string]any{"id": categoryID, "confidence": confidence},
		"source":     map[string]any{"sourceType": "manual"},
	}
	if err := store.AppendTransaction(tx); err != nil {
		t.Fatalf("append tx: %v", err)
	}
}

func TestBuildQueueFlagsLowConfidence(t *testing.T) {
	s, store := newTestService(t)
	reviewTx(t, store, "tx_ok", "2025-03-05", "Cafe", "dining", 0.95)
	reviewTx(t, store, "tx_uncat", "2025-03-05", "ATM", "uncategorized", 0)
	reviewTx(t, store, "tx_low", "2025-03-05", "Kiosk", "misc", 0.3)

	q, err := s.BuildQueue(Options{})
	if err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}
	if q.Counts.Transactions != 2 || q.Counts.Total != 2 {
		t.Fatalf("counts = %+v", q.Counts)
	}
	byID := map[string]storage.Doc{}
	for _, item := range q.Items {
		id, _ := item["txId"].(string)
		byID[id] = item
	}
	if _, ok := byID["tx_ok"]; ok {
		t.Fatal("confident transaction was queued")
	}
	uncat := byID["tx_uncat"]
	reasons, _ := uncat["reasons"].([]any)
	if len(reasons) == 0 || reasons[0] != "uncategorized" {
		t.Fatalf("reasons = %v", reasons)
	}
	if _, ok := byID["tx_low"]; !ok {
		t.Fatal("low-confidence transaction missing from queue")
	}
}

func TestBuildQueueDateScopeAndLimit(t *testing.T) {
	s, store := newTestService(t)
	reviewTx(t, store, "tx_a", "2025-03-05", "ATM", "uncategorized", 0)
	reviewTx(t, store, "tx_b", "2025-03-06", "ATM", "uncategorized", 0)

	q, err := s.BuildQueue(Options{Date: "2025-03-05"})
	if err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}
	if q.Counts.Transactions != 1 {
		t.Fatalf("counts = %+v", q.Counts)
	}
	if q.Items[0]["txId"] != "tx_a" {
		t.Fatalf("item = %v", q.Items[0])
	}

	q, err = s.BuildQueue(Options{Limit: 1})
	if err != nil {
		t.Fatalf("BuildQueue with limit: %v", err)
	}
	if len(q.Items) != 1 || q.Counts.Total != 2 {
		t.Fatalf("limited queue: items=%d counts=%+v", len(q.Items), q.Counts)
	}

	if _, err := s.BuildQueue(Options{Date: "bad"}); err == nil {
		t.Fatal("expected error for invalid date")
	}
}

func TestBuildQueueFlagsDuplicateCandidates(t *testing.T) {
	s, store := newTestService(t)
	tx := storage.Doc{
		"txId":       "tx_dup",
		"occurredAt": "2025-03-05",
		"merchant":   "Cafe",
		"amount":     map[string]any{"value": "-10", "currency": "USD"},
		"category":   map[string]any{"id": "dining", "confidence": 0.99},
		"tags":       []any{"duplicate_candidate"},
	}
	if err := store.AppendTransaction(tx); err != nil {
		t.Fatalf("append tx: %v", err)
	}

	q, err := s.BuildQueue(Options{})
	if err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}
	if q.Counts.Transactions != 1 {
		t.Fatalf("counts = %+v", q.Counts)
	}
	reasons, _ := q.Items[0]["reasons"].([]any)
	if len(reasons) != 1 || reasons[0] != "duplicate_candidate" {
		t.Fatalf("reasons = %v", reasons)
	}
}

func TestResolveAppendsCorrection(t *testing.T) {
	s, store := newTestService(t)
	reviewTx(t, store, "tx_low", "2025-03-05", "Kiosk", "uncategorized", 0)

	evt, err := s.Resolve("tx_low", storage.Doc{"category": storage.Doc{"id": "snacks"}}, "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if evt["reason"] != "review_resolve" || evt["txId"] != "tx_low" {
		t.Fatalf("event = %v", evt)
	}

	view, err := store.LoadView(false)
	if err != nil {
		t.Fatalf("load view: %v", err)
	}
	if got := ledger.TxCategoryID(view.Transactions[0]); got != "snacks" {
		t.Fatalf("category after resolve = %q, want snacks", got)
	}
}

func TestResolveValidatesInput(t *testing.T) {
	s, _ := newTestService(t)
	if _, err := s.Resolve("", storage.Doc{"merchant": "X"}, ""); err == nil {
		t.Fatal("expected error for missing txId")
	}
	if _, err := s.Resolve("tx_a", storage.Doc{}, ""); err == nil {
		t.Fatal("expected error for empty patch")
	}
	if _, err := s.Resolve("tx_a", storage.Doc{"occurredAt": "March 5"}, ""); err == nil {
		t.Fatal("expected error for bad occurredAt")
	}
}
