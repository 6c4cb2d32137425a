package importer

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"time"

	"ledgerflow/internal/money"
	"ledgerflow/internal/storage"
)

// Mapping names the CSV columns carrying each transaction field. DateCol is
// required; either AmountCol or DebitCol/CreditCol must be present.
type Mapping struct {
	DateCol        string
	DescriptionCol string
	AmountCol      string
	DebitCol       string
	CreditCol      string
	CurrencyCol    string
}

var (
	commonDateCols     = []string{"date", "transaction date", "posted date", "posting date"}
	commonDescCols     = []string{"description", "details", "memo", "narration", "merchant", "payee"}
	commonAmountCols   = []string{"amount", "transaction amount", "amt"}
	commonDebitCols    = []string{"debit", "withdrawal", "money out"}
	commonCreditCols   = []string{"credit", "deposit", "money in"}
	commonCurrencyCols = []string{"currency", "ccy"}
)

func normHeader(h string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), "_", " ")), " ")
}

// InferMapping guesses a column mapping from the header row.
func InferMapping(headers []string) (Mapping, error) {
	norm := map[string]string{}
	for _, h := range headers {
		norm[normHeader(h)] = h
	}
	pick := func(candidates []string) string {
		for _, c := range candidates {
			if orig, ok := norm[c]; ok {
				return orig
			}
		}
		return ""
	}

	m := Mapping{
		DateCol:        pick(commonDateCols),
		DescriptionCol: pick(commonDescCols),
		AmountCol:      pick(commonAmountCols),
		DebitCol:       pick(commonDebitCols),
		CreditCol:      pick(commonCreditCols),
		CurrencyCol:    pick(commonCurrencyCols),
	}
	if m.DateCol == "" {
		return m, fmt.Errorf("could not infer date column, specify it explicitly")
	}
	if m.AmountCol == "" && m.DebitCol == "" && m.CreditCol == "" {
		return m, fmt.Errorf("could not infer amount columns, specify amount or debit/credit columns")
	}
	return m, nil
}

// ReadCSVRows reads a CSV file into header-keyed row maps. A UTF-8 BOM on
// the first header cell is stripped.
func ReadCSVRows(path string) ([]string, []map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}
	headers := records[0]
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\uFEFF")
	}
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := map[string]string{}
		for i, h := range headers {
			if i < len(rec) {
				row[h] = rec[i]
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}
	return headers, rows, nil
}

func parseDateText(value, dateFormat string, dayFirst bool) (string, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return "", fmt.Errorf("empty date")
	}
	if dateFormat != "" {
		t, err := time.Parse(dateFormat, s)
		if err != nil {
			return "", fmt.Errorf("date %q does not match format %q", value, dateFormat)
		}
		return t.Format(storage.YMD), nil
	}
	layouts := []string{"2006-01-02", "2006/01/02", "01/02/2006", "02/01/2006"}
	if dayFirst {
		layouts = []string{"2006-01-02", "2006/01/02", "02/01/2006", "01/02/2006"}
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(storage.YMD), nil
		}
	}
	return "", fmt.Errorf("unrecognized date %q, provide an explicit format", value)
}

// CSVRowToTx converts one CSV row into a transaction record. The source
// hash covers docId, rowIndex and the raw row, so re-imports of the same
// file content are idempotent.
func CSVRowToTx(docID string, rowIndex int, row map[string]string, m Mapping, defaultCurrency, dateFormat string, dayFirst bool) (storage.Doc, error) {
	occurredAt, err := parseDateText(row[m.DateCol], dateFormat, dayFirst)
	if err != nil {
		return nil, err
	}

	currency := defaultCurrency
	if m.CurrencyCol != "" {
		if c := strings.TrimSpace(row[m.CurrencyCol]); c != "" {
			currency = c
		}
	}

	description := ""
	if m.DescriptionCol != "" {
		description = strings.TrimSpace(row[m.DescriptionCol])
	}

	var amount = money.Zero
	if m.AmountCol != "" {
		amount, err = ParseAmountText(row[m.AmountCol])
		if err != nil {
			return nil, err
		}
	} else {
		debitRaw := "0"
		creditRaw := "0"
		if m.DebitCol != "" && strings.TrimSpace(row[m.DebitCol]) != "" {
			debitRaw = row[m.DebitCol]
		}
		if m.CreditCol != "" && strings.TrimSpace(row[m.CreditCol]) != "" {
			creditRaw = row[m.CreditCol]
		}
		debit, err := ParseAmountText(debitRaw)
		if err != nil {
			return nil, err
		}
		credit, err := ParseAmountText(creditRaw)
		if err != nil {
			return nil, err
		}
		// Exports list debit and credit as positive magnitudes.
		amount = credit.Sub(debit)
	}

	direction := "credit"
	if amount.IsNegative() {
		direction = "debit"
	}

	hashObj := storage.Doc{"docId": docID, "rowIndex": rowIndex, "row": row}
	sourceHash, err := storage.ContentHash(hashObj)
	if err != nil {
		return nil, err
	}

	return storage.Doc{
		"txId": storage.NewID(storage.PrefixTx),
		"source": storage.Doc{
			"docId":      docID,
			"sourceType": "bank_csv",
			"sourceHash": sourceHash,
			"lineRef":    fmt.Sprintf("csv:row:%d", rowIndex),
		},
		"postedAt":   occurredAt,
		"occurredAt": occurredAt,
		"amount":     storage.Doc{"value": money.Format(amount), "currency": currency},
		"direction":  direction,
		"merchant":   "",
		"description": description,
		"category":   storage.Doc{"id": "uncategorized", "confidence": 0.0, "reason": "not_categorized_yet"},
		"tags":       []any{},
		"confidence": storage.Doc{
			"extraction":     1.0,
			"normalization":  1.0,
			"categorization": 0.0,
		},
		"links":     storage.Doc{"receiptDocId": nil, "billDocId": nil},
		"createdAt": storage.NowISO(),
	}, nil
}
