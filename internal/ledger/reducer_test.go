package ledger

import (
	"testing"

	"ledgerflow/internal/storage"
)

func testTx(id, occurredAt, merchant, value string) storage.Doc {
	return storage.Doc{
		"txId":       id,
		"occurredAt": occurredAt,
		"merchant":   merchant,
		"amount":     map[string]any{"value": value, "currency": "USD"},
		"category":   map[string]any{"id": "uncategorized", "confidence": 0.0},
	}
}

func TestApplyCorrectionsPatchAndTombstone(t *testing.T) {
	txs := []storage.Doc{
		testTx("tx_1", "2025-03-01", "Cafe", "-4.50"),
		testTx("tx_2", "2025-03-02", "Store", "-20.00"),
	}
	corrections := []storage.Doc{
		{"txId": "tx_1", "type": "patch", "patch": map[string]any{
			"category": map[string]any{"id": "dining"},
		}},
		{"txId": "tx_2", "type": "tombstone"},
		{"txId": "tx_missing", "type": "patch", "patch": map[string]any{"merchant": "X"}},
	}

	view := ApplyCorrections(txs, corrections, false)

	if len(view.Transactions) != 1 {
		t.Fatalf("got %d transactions, want 1", len(view.Transactions))
	}
	if got := TxCategoryID(view.Transactions[0]); got != "dining" {
		t.Fatalf("category=%q, want dining", got)
	}
	// The nested merge must not wipe sibling keys.
	if got := TxCategoryConfidence(view.Transactions[0]); got != 0.0 {
		t.Fatalf("confidence=%v, want 0", got)
	}
	if !view.DeletedTxIDs["tx_2"] {
		t.Fatal("tx_2 not marked deleted")
	}
	if view.AppliedCorrections != 2 {
		t.Fatalf("applied=%d, want 2", view.AppliedCorrections)
	}
}

func TestApplyCorrectionsIncludeDeleted(t *testing.T) {
	txs := []storage.Doc{testTx("tx_1", "2025-03-01", "Cafe", "-4.50")}
	corrections := []storage.Doc{{"txId": "tx_1", "type": "delete"}}

	view := ApplyCorrections(txs, corrections, true)
	if len(view.Transactions) != 1 {
		t.Fatalf("includeDeleted should keep the row, got %d", len(view.Transactions))
	}
	if !view.DeletedTxIDs["tx_1"] {
		t.Fatal("tombstone not recorded")
	}
}

func TestApplyCorrectionsLastWriteWins(t *testing.T) {
	txs := []storage.Doc{testTx("tx_1", "2025-03-01", "Cafe", "-4.50")}
	corrections := []storage.Doc{
		{"txId": "tx_1", "type": "patch", "patch": map[string]any{"merchant": "First"}},
		{"txId": "tx_1", "type": "patch", "patch": map[string]any{"merchant": "Second"}},
	}

	view := ApplyCorrections(txs, corrections, false)
	if got := TxMerchant(view.Transactions[0]); got != "Second" {
		t.Fatalf("merchant=%q, want Second", got)
	}
}

func TestApplyCorrectionsDoesNotMutateInput(t *testing.T) {
	txs := []storage.Doc{testTx("tx_1", "2025-03-01", "Cafe", "-4.50")}
	corrections := []storage.Doc{
		{"txId": "tx_1", "type": "patch", "patch": map[string]any{"merchant": "Patched"}},
	}

	ApplyCorrections(txs, corrections, false)
	if got := TxMerchant(txs[0]); got != "Cafe" {
		t.Fatalf("input mutated: merchant=%q", got)
	}
}

func TestDeepMergeReplacesArraysWholesale(t *testing.T) {
	dst := storage.Doc{"tags": []any{"a", "b"}, "nested": map[string]any{"x": 1, "y": 2}}
	DeepMerge(dst, storage.Doc{"tags": []any{"c"}, "nested": map[string]any{"y": 9}})

	tags := dst["tags"].([]any)
	if len(tags) != 1 || tags[0] != "c" {
		t.Fatalf("tags=%v, want [c]", tags)
	}
	nested := dst["nested"].(map[string]any)
	if nested["x"] != 1 || nested["y"] != 9 {
		t.Fatalf("nested=%v", nested)
	}
}
