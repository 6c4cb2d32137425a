package ops

import (
	"path/filepath"
	"testing"

	"ledgerflow/internal/automation"
	"ledgerflow/internal/index"
	"ledgerflow/internal/layout"
	"ledgerflow/internal/storage"
)

func TestCollect(t *testing.T) {
	l := layout.For(t.TempDir())
	if err := layout.InitDataLayout(l, true); err != nil {
		t.Fatalf("init layout: %v", err)
	}
	if err := storage.AppendJSONL(l.TransactionsPath(), storage.Doc{"txId": "tx_a"}); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
	if err := storage.AppendJSONL(l.AlertEventsPath(), storage.Doc{"eventId": "alrt_a"}); err != nil {
		t.Fatalf("seed alerts: %v", err)
	}

	idx, err := index.Open(filepath.Join(l.IndexDir(), "ledgerflow.db"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer idx.Close()
	queue := automation.NewQueue(l)
	if _, err := queue.Enqueue("build", nil, ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	m := Collect(l, idx, queue)
	if m.DataDir != l.DataDir || m.GeneratedAt == "" {
		t.Fatalf("metrics identity = %+v", m)
	}
	if m.IndexError != "" {
		t.Fatalf("index error = %q", m.IndexError)
	}
	if m.Queue["queued"] != 1 {
		t.Fatalf("queue stats = %v", m.Queue)
	}
	if m.Counts.TransactionsJSONL != 1 || m.Counts.AlertsEvents != 1 {
		t.Fatalf("counts = %+v", m.Counts)
	}
}

func TestCollectNilDependencies(t *testing.T) {
	l := layout.For(t.TempDir())
	m := Collect(l, nil, nil)
	if m.Counts.TransactionsJSONL != 0 || len(m.Queue) != 0 {
		t.Fatalf("metrics = %+v", m)
	}
}
