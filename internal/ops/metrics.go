// Package ops collects operational metrics across the data directory.
package ops

import (
	"ledgerflow/internal/automation"
	"ledgerflow/internal/index"
	"ledgerflow/internal/layout"
	"ledgerflow/internal/storage"
)

// Metrics is the snapshot served by the ops endpoint.
type Metrics struct {
	GeneratedAt string         `json:"generatedAt"`
	DataDir     string         `json:"dataDir"`
	Index       index.Stats    `json:"index"`
	IndexError  string         `json:"indexError,omitempty"`
	Queue       map[string]int `json:"queue"`
	Counts      Counts         `json:"counts"`
}

// Counts are raw record counts from the append-only files and the sources
// index.
type Counts struct {
	Sources           int `json:"sources"`
	AlertsEvents      int `json:"alertsEvents"`
	AlertsOutbox      int `json:"alertsOutbox"`
	AuditEvents       int `json:"auditEvents"`
	TransactionsJSONL int `json:"transactionsJsonl"`
	CorrectionsJSONL  int `json:"correctionsJsonl"`
}

func sourcesCount(l layout.Layout) int {
	var idx struct {
		Docs []storage.Doc `json:"docs"`
	}
	if err := storage.ReadJSON(l.SourcesIndex(), &idx); err != nil {
		return 0
	}
	return len(idx.Docs)
}

// Collect gathers index stats, queue stats, and file counts. A broken index
// degrades to an error string rather than failing the whole snapshot.
func Collect(l layout.Layout, idx *index.Store, queue *automation.Queue) Metrics {
	m := Metrics{
		GeneratedAt: storage.NowISO(),
		DataDir:     l.DataDir,
		Queue:       map[string]int{},
	}
	if idx != nil {
		stats, err := idx.Stats()
		m.Index = stats
		if err != nil {
			m.IndexError = err.Error()
		}
	}
	if queue != nil {
		if stats, err := queue.Stats(); err == nil {
			m.Queue = stats
		}
	}
	m.Counts = Counts{
		Sources:           sourcesCount(l),
		AlertsEvents:      storage.CountJSONLLines(l.AlertEventsPath()),
		AlertsOutbox:      storage.CountJSONLLines(l.AlertOutboxPath()),
		AuditEvents:       storage.CountJSONLLines(l.AuditLogPath()),
		TransactionsJSONL: storage.CountJSONLLines(l.TransactionsPath()),
		CorrectionsJSONL:  storage.CountJSONLLines(l.CorrectionsPath()),
	}
	return m
}
