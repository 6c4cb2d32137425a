package index

import (
	"path/filepath"
	"testing"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "index", "ledgerflow.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func indexTx(t *testing.T, s *Store, id, date, merchant, amount, categoryID string) {
	t.Helper()
	tx := storage.Doc{
		"txId":       id,
		"occurredAt": date,
		"merchant":   merchant,
		"amount":     map[string]any{"value": amount, "currency": "USD"},
		"category":   map[string]any{"id": categoryID, "confidence": 0.9},
		"source": map[string]any{
			"docId":      "doc_x",
			"sourceType": "bank_csv",
			"sourceHash": "sha256:" + id,
		},
	}
	if err := s.IndexTransaction(tx); err != nil {
		t.Fatalf("IndexTransaction: %v", err)
	}
}

func TestOpenEnsuresSchemaAndStats(t *testing.T) {
	s := openTestStore(t)
	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Driver != "sqlite3" || st.SchemaVersion != SchemaVersion {
		t.Fatalf("stats = %+v", st)
	}
	if st.Transactions != 0 || st.Sources != 0 {
		t.Fatalf("fresh store not empty: %+v", st)
	}
}

func TestIndexTransactionAndRecent(t *testing.T) {
	s := openTestStore(t)
	indexTx(t, s, "tx_a", "2025-03-05", "Cafe", "-10", "dining")
	indexTx(t, s, "tx_b", "2025-03-07", "Grocer", "-20", "groceries")

	recent, err := s.RecentTransactions(10, false)
	if err != nil {
		t.Fatalf("RecentTransactions: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("recent = %d, want 2", len(recent))
	}
	if ledger.TxID(recent[0]) != "tx_b" {
		t.Fatalf("newest first, got %s", ledger.TxID(recent[0]))
	}

	// Re-indexing the same id upserts instead of duplicating.
	indexTx(t, s, "tx_a", "2025-03-05", "Cafe Updated", "-10", "dining")
	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Transactions != 2 {
		t.Fatalf("transactions = %d, want 2", st.Transactions)
	}
}

func TestHasSourceHash(t *testing.T) {
	s := openTestStore(t)
	indexTx(t, s, "tx_a", "2025-03-05", "Cafe", "-10", "dining")

	got, err := s.HasSourceHash("doc_x", "sha256:tx_a")
	if err != nil || !got {
		t.Fatalf("HasSourceHash = %v, %v", got, err)
	}
	got, err = s.HasSourceHash("doc_x", "sha256:other")
	if err != nil || got {
		t.Fatalf("HasSourceHash for unknown hash = %v, %v", got, err)
	}
}

func TestIndexCorrectionPatchAndTombstone(t *testing.T) {
	s := openTestStore(t)
	indexTx(t, s, "tx_a", "2025-03-05", "Cafe", "-10", "dining")
	indexTx(t, s, "tx_b", "2025-03-06", "Grocer", "-20", "groceries")

	patch := ledger.CorrectionEvent("tx_a", storage.Doc{"category": storage.Doc{"id": "snacks"}}, "test")
	if err := s.IndexCorrection(patch); err != nil {
		t.Fatalf("IndexCorrection patch: %v", err)
	}
	byMonth, err := s.TransactionsByMonth("2025-03")
	if err != nil {
		t.Fatalf("TransactionsByMonth: %v", err)
	}
	var patched storage.Doc
	for _, tx := range byMonth {
		if ledger.TxID(tx) == "tx_a" {
			patched = tx
		}
	}
	if got := ledger.TxCategoryID(patched); got != "snacks" {
		t.Fatalf("category after patch = %q, want snacks", got)
	}

	tomb := ledger.TombstoneEvent("tx_b", "test")
	if err := s.IndexCorrection(tomb); err != nil {
		t.Fatalf("IndexCorrection tombstone: %v", err)
	}
	live, err := s.RecentTransactions(10, false)
	if err != nil {
		t.Fatalf("RecentTransactions: %v", err)
	}
	if len(live) != 1 || ledger.TxID(live[0]) != "tx_a" {
		t.Fatalf("live transactions = %v", live)
	}
	all, err := s.RecentTransactions(10, true)
	if err != nil {
		t.Fatalf("RecentTransactions includeDeleted: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all transactions = %d, want 2", len(all))
	}

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TransactionsLive != 1 || st.Corrections != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRebuildReplaysLogs(t *testing.T) {
	s := openTestStore(t)
	l := layout.For(t.TempDir())
	if err := layout.InitDataLayout(l, false); err != nil {
		t.Fatalf("init layout: %v", err)
	}

	txs := []storage.Doc{
		{"txId": "tx_a", "occurredAt": "2025-03-05", "amount": map[string]any{"value": "-10", "currency": "USD"}},
		{"txId": "tx_b", "occurredAt": "2025-03-06", "amount": map[string]any{"value": "-20", "currency": "USD"}},
	}
	for _, tx := range txs {
		if err := storage.AppendJSONL(l.TransactionsPath(), tx); err != nil {
			t.Fatalf("append tx: %v", err)
		}
	}
	if err := storage.AppendJSONL(l.CorrectionsPath(), ledger.TombstoneEvent("tx_b", "test")); err != nil {
		t.Fatalf("append correction: %v", err)
	}
	srcIndex := storage.Doc{"version": 1, "docs": []any{
		map[string]any{"docId": "doc_a", "sourceType": "receipt", "sha256": "sha256:abc"},
	}}
	if err := storage.WriteJSON(l.SourcesIndex(), srcIndex); err != nil {
		t.Fatalf("write sources index: %v", err)
	}

	// Stale rows from before the rebuild must not survive.
	indexTx(t, s, "tx_stale", "2024-01-01", "Old", "-5", "misc")

	res, err := s.Rebuild(l)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if res.TransactionsIndexed != 2 || res.CorrectionsIndexed != 1 || res.SourcesIndexed != 1 {
		t.Fatalf("result = %+v", res)
	}
	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Transactions != 2 || st.TransactionsLive != 1 || st.Sources != 1 {
		t.Fatalf("stats = %+v", st)
	}
}
