package reports

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"ledgerflow/internal/ledger"
	"ledgerflow/internal/money"
	"ledgerflow/internal/storage"
)

// ExportTransactionsCSV writes the corrected ledger view to a CSV file.
func (s *Service) ExportTransactionsCSV(outPath, fromDate, toDate string, includeDeleted bool) (string, error) {
	view, err := s.Store.LoadView(includeDeleted)
	if err != nil {
		return "", err
	}
	txs := ledger.FilterByDateRange(view.Transactions, fromDate, toDate)

	if err := storage.EnsureDir(filepath.Dir(outPath)); err != nil {
		return "", err
	}
	f, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"occurredAt", "postedAt", "amount", "currency", "direction",
		"merchant", "description", "categoryId", "sourceType", "txId",
		"receiptDocId", "billDocId",
	}
	if err := w.Write(header); err != nil {
		return "", err
	}
	for _, tx := range txs {
		links, _ := tx["links"].(map[string]any)
		row := []string{
			str(tx["occurredAt"]),
			str(tx["postedAt"]),
			money.Format(ledger.TxAmount(tx)),
			ledger.TxCurrency(tx),
			str(tx["direction"]),
			ledger.TxMerchant(tx),
			str(tx["description"]),
			ledger.TxCategoryID(tx),
			ledger.TxSourceType(tx),
			ledger.TxID(tx),
			str(links["receiptDocId"]),
			str(links["billDocId"]),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return outPath, f.Sync()
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
