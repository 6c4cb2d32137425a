package ledger

import (
	"errors"
	"testing"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/storage"
)

type recordingProjector struct {
	txs  int
	evts int
	fail bool
}

func (p *recordingProjector) IndexTransaction(tx storage.Doc) error {
	p.txs++
	if p.fail {
		return errors.New("index down")
	}
	return nil
}

func (p *recordingProjector) IndexCorrection(evt storage.Doc) error {
	p.evts++
	if p.fail {
		return errors.New("index down")
	}
	return nil
}

func TestStoreAppendAndLoadView(t *testing.T) {
	proj := &recordingProjector{}
	store := NewStore(layout.For(t.TempDir()), proj)

	if err := store.AppendTransaction(testTx("tx_1", "2025-03-01", "Cafe", "-4.50")); err != nil {
		t.Fatalf("append tx: %v", err)
	}
	if err := store.AppendCorrection(CorrectionEvent("tx_1", map[string]any{"merchant": "Bakery"}, "user_override")); err != nil {
		t.Fatalf("append correction: %v", err)
	}

	view, err := store.LoadView(false)
	if err != nil {
		t.Fatalf("load view: %v", err)
	}
	if len(view.Transactions) != 1 {
		t.Fatalf("got %d transactions", len(view.Transactions))
	}
	if got := TxMerchant(view.Transactions[0]); got != "Bakery" {
		t.Fatalf("merchant=%q, want Bakery", got)
	}
	if proj.txs != 1 || proj.evts != 1 {
		t.Fatalf("projector saw txs=%d evts=%d", proj.txs, proj.evts)
	}
}

func TestStoreProjectorFailureDoesNotBlockAppend(t *testing.T) {
	store := NewStore(layout.For(t.TempDir()), &recordingProjector{fail: true})

	if err := store.AppendTransaction(testTx("tx_1", "2025-03-01", "Cafe", "-4.50")); err != nil {
		t.Fatalf("append must survive a failing projector: %v", err)
	}
	txs, err := store.LoadTransactions()
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 1 {
		t.Fatalf("log has %d rows, want 1", len(txs))
	}
}
