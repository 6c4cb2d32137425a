package layout

import (
	"os"

	"ledgerflow/internal/storage"
)

// InitDataLayout creates the directory skeleton and, when writeDefaults is
// set, seeds the default rule and automation documents without clobbering
// files that already exist.
func InitDataLayout(l Layout, writeDefaults bool) error {
	dirs := []string{
		l.InboxDir(),
		l.SourcesDir(),
		l.LedgerDailyDir(),
		l.LedgerMonthlyDir(),
		l.ReportsDailyDir(),
		l.ReportsMonthlyDir(),
		l.ChartsDir(),
		l.ExportsDir(),
		l.AlertsDir(),
		l.RulesDir(),
		l.AutomationDir(),
		l.IndexDir(),
		l.MetaDir(),
		l.AuditDir(),
	}
	for _, d := range dirs {
		if err := storage.EnsureDir(d); err != nil {
			return err
		}
	}
	if !writeDefaults {
		return nil
	}
	defaults := []struct {
		path string
		doc  any
	}{
		{l.CategoriesPath(), defaultCategories()},
		{l.AlertRulesPath(), defaultAlertRules()},
		{l.DeliveryRulesPath(), map[string]any{
			"version": 1,
			"channels": []any{
				map[string]any{"id": "local_outbox", "type": "outbox", "enabled": true},
			},
		}},
		{l.DeliveryStatePath(), map[string]any{"version": 1, "channels": map[string]any{}}},
		{l.AutomationJobsPath(), map[string]any{"version": 1, "jobs": []any{}}},
		{l.AutomationQueuePath(), map[string]any{"version": 1, "tasks": []any{}}},
		{l.AutomationStatePath(), map[string]any{"version": 1, "lastSlots": map[string]any{}}},
	}
	for _, d := range defaults {
		if _, err := os.Stat(d.path); err == nil {
			continue
		}
		if err := storage.WriteJSON(d.path, d.doc); err != nil {
			return err
		}
	}
	return nil
}

func defaultCategories() map[string]any {
	ids := [][2]string{
		{"groceries", "Groceries"},
		{"restaurants", "Restaurants"},
		{"rent", "Rent"},
		{"utilities", "Utilities"},
		{"transport", "Transport"},
		{"shopping", "Shopping"},
		{"health", "Health"},
		{"income", "Income"},
		{"uncategorized", "Uncategorized"},
	}
	cats := make([]any, 0, len(ids))
	for _, c := range ids {
		cats = append(cats, map[string]any{"id": c[0], "label": c[1]})
	}
	return map[string]any{"categories": cats}
}

func defaultAlertRules() map[string]any {
	return map[string]any{
		"currency": "USD",
		"rules": []any{
			map[string]any{"id": "groceries_monthly", "type": "category_budget", "categoryId": "groceries", "period": "month", "limit": 600},
			map[string]any{"id": "restaurants_weekly", "type": "category_budget", "categoryId": "restaurants", "period": "week", "limit": 120},
			map[string]any{"id": "new_recurring", "type": "recurring_new", "minOccurrences": 3, "spacingDays": []any{25, 35}},
			map[string]any{"id": "merchant_spike_monthly", "type": "merchant_spike", "period": "month", "lookbackPeriods": 3, "multiplier": 1.5, "minDelta": 50},
			map[string]any{"id": "recurring_changed", "type": "recurring_changed", "minOccurrences": 3, "spacingDays": []any{25, 35}, "minDelta": 5, "minDeltaPct": 5},
			map[string]any{"id": "cash_heavy_day", "type": "cash_heavy_day", "limit": 150},
			map[string]any{"id": "unclassified_spend_day", "type": "unclassified_spend", "period": "day", "categoryConfidenceBelow": 0.6, "limit": 50},
		},
	}
}
