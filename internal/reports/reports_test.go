package reports

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/storage"
)

func newTestService(t *testing.T) (*Service, *ledger.Store, layout.Layout) {
	t.Helper()
	l := layout.For(t.TempDir())
	if err := layout.InitDataLayout(l, false); err != nil {
		t.Fatalf("init layout: %v", err)
	}
	store := ledger.NewStore(l, nil)
	return NewService(l, store), store, l
}

func reportTx(t *testing.T, store *ledger.Store, id, date, merchant, amount, categoryID string) {
	t.Helper()
	tx := storage.Doc{
		"txId":       id,
		"occurredAt": date,
		"merchant":   merchant,
		"amount":     map[string]any{"value": amount, "currency": "USD"},
		"category":   map[string]any{"id": categoryID, "confidence": 0.9},
		"source":     map[string]any{"sourceType": "bank_csv"},
	}
	if err := store.AppendTransaction(tx); err != nil {
		t.Fatalf("append tx: %v", err)
	}
}

func TestBuildCachesWritesDailyAndMonthlyFiles(t *testing.T) {
	_, store, l := newTestService(t)
	reportTx(t, store, "tx_a", "2025-03-05", "Cafe", "-10", "dining")
	reportTx(t, store, "tx_b", "2025-03-05", "Grocer", "-20", "groceries")
	reportTx(t, store, "tx_c", "2025-04-01", "Salary", "2000", "income")
	if err := store.AppendCorrection(ledger.TombstoneEvent("tx_c", "test")); err != nil {
		t.Fatalf("append tombstone: %v", err)
	}

	sum, err := BuildCaches(l, store, "", "", false)
	if err != nil {
		t.Fatalf("BuildCaches: %v", err)
	}
	if len(sum.Days) != 1 || sum.Days[0] != "2025-03-05" {
		t.Fatalf("days = %v", sum.Days)
	}
	if len(sum.Months) != 1 || sum.Months[0] != "2025-03" {
		t.Fatalf("months = %v", sum.Months)
	}
	if sum.DeletedTxCount != 1 || sum.AppliedCorrections != 1 {
		t.Fatalf("summary = %+v", sum)
	}

	day := storage.Doc{}
	if err := storage.ReadJSON(filepath.Join(l.LedgerDailyDir(), "2025-03-05.json"), &day); err != nil {
		t.Fatalf("read daily cache: %v", err)
	}
	if txs, _ := day["transactions"].([]any); len(txs) != 2 {
		t.Fatalf("daily cache has %d txs, want 2", len(day["transactions"].([]any)))
	}
	if _, err := os.Stat(l.LedgerSummaryPath()); err != nil {
		t.Fatalf("summary.json missing: %v", err)
	}
}

func TestDailyReportData(t *testing.T) {
	s, store, _ := newTestService(t)
	reportTx(t, store, "tx_a", "2025-03-05", "Cafe", "-10", "dining")
	reportTx(t, store, "tx_b", "2025-03-05", "Salary", "500", "income")
	reportTx(t, store, "tx_c", "2025-03-01", "Grocer", "-30", "groceries")
	reportTx(t, store, "tx_d", "2025-02-01", "Old", "-99", "misc")

	data, err := s.DailyReportData("2025-03-05")
	if err != nil {
		t.Fatalf("DailyReportData: %v", err)
	}
	sum := data["summary"].(map[string]CurrencyTotals)
	if got := sum["USD"]; got.Spend != "10" || got.Income != "500" || got.Net != "490" {
		t.Fatalf("summary = %+v", got)
	}
	rolling := data["rolling7d"].(storage.Doc)
	rsum := rolling["summary"].(map[string]CurrencyTotals)
	// The 7-day window covers 2025-02-27..2025-03-05 and excludes tx_d.
	if got := rsum["USD"]; got.Spend != "40" {
		t.Fatalf("rolling spend = %v, want 40", got.Spend)
	}
	cats := data["topCategoriesToday"].([]storage.Doc)
	if len(cats) != 1 || cats[0]["categoryId"] != "dining" {
		t.Fatalf("topCategoriesToday = %v", cats)
	}

	if _, err := s.DailyReportData("bad-date"); err == nil {
		t.Fatal("expected error for invalid date")
	}
}

func TestWriteDailyReportProducesMarkdownAndJSON(t *testing.T) {
	s, store, _ := newTestService(t)
	reportTx(t, store, "tx_a", "2025-03-05", "Cafe", "-10", "dining")

	paths, err := s.WriteDailyReport("2025-03-05")
	if err != nil {
		t.Fatalf("WriteDailyReport: %v", err)
	}
	md, err := os.ReadFile(paths.MD)
	if err != nil {
		t.Fatalf("read markdown: %v", err)
	}
	if !strings.Contains(string(md), "2025-03-05") {
		t.Fatalf("markdown missing date:\n%s", md)
	}
	if _, err := os.Stat(paths.JSON); err != nil {
		t.Fatalf("json report missing: %v", err)
	}
}

func TestMonthlyReportData(t *testing.T) {
	s, store, _ := newTestService(t)
	reportTx(t, store, "tx_a", "2025-03-05", "Cafe", "-10", "dining")
	reportTx(t, store, "tx_b", "2025-03-20", "Cafe", "-15", "dining")
	reportTx(t, store, "tx_c", "2025-03-21", "Salary", "2000", "income")

	data, err := s.MonthlyReportData("2025-03")
	if err != nil {
		t.Fatalf("MonthlyReportData: %v", err)
	}
	if data["month"] != "2025-03" || data["from"] != "2025-03-01" || data["to"] != "2025-03-31" {
		t.Fatalf("bounds = %v %v %v", data["month"], data["from"], data["to"])
	}
	sum := data["summary"].(map[string]CurrencyTotals)
	if got := sum["USD"]; got.Spend != "25" || got.Income != "2000" {
		t.Fatalf("summary = %+v", got)
	}
	merchants := data["merchantTop"].([]storage.Doc)
	if len(merchants) != 1 || merchants[0]["merchant"] != "Cafe" || merchants[0]["count"] != 2 {
		t.Fatalf("merchantTop = %v", merchants)
	}

	if _, err := s.MonthlyReportData("2025-3"); err == nil {
		t.Fatal("expected error for malformed month")
	}
}

func TestBuildSeriesFillsEmptyDays(t *testing.T) {
	s, store, _ := newTestService(t)
	reportTx(t, store, "tx_a", "2025-03-05", "Cafe", "-10", "dining")
	reportTx(t, store, "tx_b", "2025-03-07", "Salary", "100", "income")

	data, err := s.BuildSeries("2025-03-05", "2025-03-07")
	if err != nil {
		t.Fatalf("BuildSeries: %v", err)
	}
	points := data["points"].([]storage.Doc)
	if len(points) != 3 {
		t.Fatalf("points = %d, want 3", len(points))
	}
	if points[0]["spend"] != "10" || points[0]["currency"] != "USD" {
		t.Fatalf("first point = %v", points[0])
	}
	if points[1]["spend"] != "0" || points[1]["currency"] != nil {
		t.Fatalf("gap point = %v", points[1])
	}
	if points[2]["income"] != "100" || points[2]["net"] != "100" {
		t.Fatalf("last point = %v", points[2])
	}
}

func TestBuildMerchantTopLimit(t *testing.T) {
	s, store, _ := newTestService(t)
	reportTx(t, store, "tx_a", "2025-03-05", "Cafe", "-10", "dining")
	reportTx(t, store, "tx_b", "2025-03-06", "Grocer", "-50", "groceries")
	reportTx(t, store, "tx_c", "2025-03-07", "Bar", "-5", "dining")

	data, err := s.BuildMerchantTop("2025-03", 2)
	if err != nil {
		t.Fatalf("BuildMerchantTop: %v", err)
	}
	top := data["top"].([]storage.Doc)
	if len(top) != 2 || top[0]["merchant"] != "Grocer" || top[1]["merchant"] != "Cafe" {
		t.Fatalf("top = %v", top)
	}
}

func TestExportTransactionsCSV(t *testing.T) {
	s, store, l := newTestService(t)
	reportTx(t, store, "tx_a", "2025-03-05", "Cafe", "-10", "dining")
	reportTx(t, store, "tx_b", "2025-03-06", "Salary", "2000", "income")

	out := filepath.Join(l.ExportsDir(), "txs.csv")
	path, err := s.ExportTransactionsCSV(out, "", "", false)
	if err != nil {
		t.Fatalf("ExportTransactionsCSV: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[0][0] != "occurredAt" || rows[0][9] != "txId" {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[1][2] != "-10" || rows[1][5] != "Cafe" || rows[1][9] != "tx_a" {
		t.Fatalf("row = %v", rows[1])
	}
}
