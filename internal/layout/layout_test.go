package layout

import (
	"os"
	"testing"

	"ledgerflow/internal/storage"
)

func TestInitDataLayoutCreatesSkeleton(t *testing.T) {
	l := For(t.TempDir())
	if err := InitDataLayout(l, false); err != nil {
		t.Fatalf("init: %v", err)
	}

	dirs := []string{
		l.InboxDir(), l.SourcesDir(), l.LedgerDailyDir(), l.LedgerMonthlyDir(),
		l.ReportsDailyDir(), l.ReportsMonthlyDir(), l.ChartsDir(), l.ExportsDir(),
		l.AlertsDir(), l.RulesDir(), l.AutomationDir(), l.IndexDir(),
		l.MetaDir(), l.AuditDir(),
	}
	for _, d := range dirs {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("stat %s: %v", d, err)
		}
		if !info.IsDir() {
			t.Fatalf("%s is not a directory", d)
		}
	}

	// Defaults are only written on request.
	if _, err := os.Stat(l.AlertRulesPath()); !os.IsNotExist(err) {
		t.Fatalf("alert rules written without writeDefaults, err = %v", err)
	}
}

func TestInitDataLayoutWritesDefaults(t *testing.T) {
	l := For(t.TempDir())
	if err := InitDataLayout(l, true); err != nil {
		t.Fatalf("init: %v", err)
	}

	rules := storage.Doc{}
	if err := storage.ReadJSON(l.AlertRulesPath(), &rules); err != nil {
		t.Fatalf("read rules: %v", err)
	}
	if rules["currency"] != "USD" {
		t.Fatalf("currency = %v", rules["currency"])
	}
	list, _ := rules["rules"].([]any)
	if len(list) != 7 {
		t.Fatalf("default rules = %d, want 7", len(list))
	}

	chans := storage.Doc{}
	if err := storage.ReadJSON(l.DeliveryRulesPath(), &chans); err != nil {
		t.Fatalf("read delivery rules: %v", err)
	}
	items, _ := chans["channels"].([]any)
	if len(items) != 1 {
		t.Fatalf("channels = %v", chans["channels"])
	}
	ch, _ := items[0].(map[string]any)
	if ch["id"] != "local_outbox" || ch["type"] != "outbox" {
		t.Fatalf("channel = %v", ch)
	}

	cats := storage.Doc{}
	if err := storage.ReadJSON(l.CategoriesPath(), &cats); err != nil {
		t.Fatalf("read categories: %v", err)
	}
	if items, _ := cats["categories"].([]any); len(items) == 0 {
		t.Fatalf("categories = %v", cats)
	}
}

func TestInitDataLayoutPreservesExistingFiles(t *testing.T) {
	l := For(t.TempDir())
	if err := InitDataLayout(l, false); err != nil {
		t.Fatalf("init: %v", err)
	}
	custom := map[string]any{"currency": "EUR", "rules": []any{}}
	if err := storage.WriteJSON(l.AlertRulesPath(), custom); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := InitDataLayout(l, true); err != nil {
		t.Fatalf("re-init: %v", err)
	}
	got := storage.Doc{}
	if err := storage.ReadJSON(l.AlertRulesPath(), &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got["currency"] != "EUR" {
		t.Fatalf("existing rules clobbered: %v", got)
	}
}

func TestLayoutPathsNestUnderDataDir(t *testing.T) {
	l := For("/data/lf")
	cases := map[string]string{
		"transactions": l.TransactionsPath(),
		"corrections":  l.CorrectionsPath(),
		"alert events": l.AlertEventsPath(),
		"schema state": l.SchemaStatePath(),
		"audit log":    l.AuditLogPath(),
		"index db":     l.IndexDBPath(),
	}
	for name, p := range cases {
		if len(p) <= len("/data/lf") || p[:len("/data/lf")] != "/data/lf" {
			t.Fatalf("%s path %q not under data dir", name, p)
		}
	}
}
