package reports

import (
	"path/filepath"
	"sort"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/storage"
)

// CacheSummary describes one cache build.
type CacheSummary struct {
	GeneratedAt        string   `json:"generatedAt"`
	FromDate           string   `json:"fromDate,omitempty"`
	ToDate             string   `json:"toDate,omitempty"`
	Days               []string `json:"days"`
	Months             []string `json:"months"`
	AppliedCorrections int      `json:"appliedCorrections"`
	DeletedTxCount     int      `json:"deletedTxCount"`
}

// BuildCaches materializes per-day and per-month transaction files under
// the ledger directory and writes summary.json.
func BuildCaches(l layout.Layout, store *ledger.Store, fromDate, toDate string, includeDeleted bool) (CacheSummary, error) {
	view, err := store.LoadView(includeDeleted)
	if err != nil {
		return CacheSummary{}, err
	}
	txs := ledger.FilterByDateRange(view.Transactions, fromDate, toDate)

	daily := map[string][]storage.Doc{}
	monthly := map[string][]storage.Doc{}
	for _, tx := range txs {
		if d := ledger.TxDate(tx); d != "" {
			daily[d] = append(daily[d], tx)
		}
		if m := ledger.TxMonth(tx); m != "" {
			monthly[m] = append(monthly[m], tx)
		}
	}

	if err := storage.EnsureDir(l.LedgerDailyDir()); err != nil {
		return CacheSummary{}, err
	}
	if err := storage.EnsureDir(l.LedgerMonthlyDir()); err != nil {
		return CacheSummary{}, err
	}

	generatedAt := storage.NowISO()
	for d, items := range daily {
		doc := storage.Doc{"date": d, "generatedAt": generatedAt, "transactions": items}
		if err := storage.WriteJSON(filepath.Join(l.LedgerDailyDir(), d+".json"), doc); err != nil {
			return CacheSummary{}, err
		}
	}
	for m, items := range monthly {
		doc := storage.Doc{"month": m, "generatedAt": generatedAt, "transactions": items}
		if err := storage.WriteJSON(filepath.Join(l.LedgerMonthlyDir(), m+".json"), doc); err != nil {
			return CacheSummary{}, err
		}
	}

	summary := CacheSummary{
		GeneratedAt:        generatedAt,
		FromDate:           fromDate,
		ToDate:             toDate,
		Days:               sortedMapKeys(daily),
		Months:             sortedMapKeys(monthly),
		AppliedCorrections: view.AppliedCorrections,
		DeletedTxCount:     len(view.DeletedTxIDs),
	}
	if err := storage.WriteJSON(l.LedgerSummaryPath(), summary); err != nil {
		return CacheSummary{}, err
	}
	return summary, nil
}

func sortedMapKeys(m map[string][]storage.Doc) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
