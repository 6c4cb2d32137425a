// Package layout pins the on-disk contract of a LedgerFlow data directory.
package layout

import "path/filepath"

// Layout resolves every well-known path under a data directory.
type Layout struct {
	DataDir string
}

func For(dataDir string) Layout {
	return Layout{DataDir: dataDir}
}

func (l Layout) InboxDir() string        { return filepath.Join(l.DataDir, "inbox") }
func (l Layout) SourcesDir() string      { return filepath.Join(l.DataDir, "sources") }
func (l Layout) SourcesIndex() string    { return filepath.Join(l.SourcesDir(), "index.json") }
func (l Layout) SourceDocDir(id string) string { return filepath.Join(l.SourcesDir(), id) }

func (l Layout) LedgerDir() string       { return filepath.Join(l.DataDir, "ledger") }
func (l Layout) TransactionsPath() string { return filepath.Join(l.LedgerDir(), "transactions.jsonl") }
func (l Layout) CorrectionsPath() string  { return filepath.Join(l.LedgerDir(), "corrections.jsonl") }
func (l Layout) LedgerDailyDir() string   { return filepath.Join(l.LedgerDir(), "daily") }
func (l Layout) LedgerMonthlyDir() string { return filepath.Join(l.LedgerDir(), "monthly") }
func (l Layout) LedgerSummaryPath() string { return filepath.Join(l.LedgerDir(), "summary.json") }

func (l Layout) ReportsDailyDir() string   { return filepath.Join(l.DataDir, "reports", "daily") }
func (l Layout) ReportsMonthlyDir() string { return filepath.Join(l.DataDir, "reports", "monthly") }
func (l Layout) ChartsDir() string         { return filepath.Join(l.DataDir, "charts") }
func (l Layout) ExportsDir() string        { return filepath.Join(l.DataDir, "exports") }

func (l Layout) AlertsDir() string          { return filepath.Join(l.DataDir, "alerts") }
func (l Layout) AlertEventsPath() string    { return filepath.Join(l.AlertsDir(), "events.jsonl") }
func (l Layout) AlertOutboxPath() string    { return filepath.Join(l.AlertsDir(), "outbox.jsonl") }
func (l Layout) AlertStatePath() string     { return filepath.Join(l.AlertsDir(), "state.json") }
func (l Layout) AlertRulesPath() string     { return filepath.Join(l.AlertsDir(), "alert_rules.json") }
func (l Layout) DeliveryRulesPath() string  { return filepath.Join(l.AlertsDir(), "alert_delivery_rules.json") }
func (l Layout) DeliveryStatePath() string  { return filepath.Join(l.AlertsDir(), "alert_delivery_state.json") }

func (l Layout) RulesDir() string       { return filepath.Join(l.DataDir, "rules") }
func (l Layout) CategoriesPath() string { return filepath.Join(l.RulesDir(), "categories.json") }

func (l Layout) AutomationDir() string        { return filepath.Join(l.DataDir, "automation") }
func (l Layout) AutomationJobsPath() string   { return filepath.Join(l.AutomationDir(), "jobs.json") }
func (l Layout) AutomationQueuePath() string  { return filepath.Join(l.AutomationDir(), "queue.json") }
func (l Layout) AutomationStatePath() string  { return filepath.Join(l.AutomationDir(), "state.json") }
func (l Layout) DeadLettersPath() string      { return filepath.Join(l.AutomationDir(), "dead_letters.jsonl") }

func (l Layout) IndexDir() string    { return filepath.Join(l.DataDir, "index") }
func (l Layout) IndexDBPath() string { return filepath.Join(l.IndexDir(), "ledgerflow.db") }

func (l Layout) MetaDir() string         { return filepath.Join(l.DataDir, "meta") }
func (l Layout) SchemaStatePath() string { return filepath.Join(l.MetaDir(), "schema.json") }

func (l Layout) AuditDir() string     { return filepath.Join(l.DataDir, "audit") }
func (l Layout) AuditLogPath() string { return filepath.Join(l.AuditDir(), "events.jsonl") }
