package importer

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"ledgerflow/internal/storage"
)

func pickText(row storage.Doc, keys []string) string {
	for _, key := range keys {
		v, ok := row[key]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprintf("%v", v))
		if s != "" {
			return s
		}
	}
	return ""
}

func parseAmountValue(v any) (decimal.Decimal, error) {
	if obj, ok := v.(map[string]any); ok {
		v = obj["value"]
	}
	switch t := v.(type) {
	case string:
		return ParseAmountText(t)
	case float64:
		return decimal.NewFromFloat(t), nil
	case json.Number:
		return decimal.NewFromString(t.String())
	}
	return decimal.Zero, fmt.Errorf("invalid amount value %v", v)
}

func readBankJSONRecords(path string) ([]storage.Doc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var asList []any
	if err := json.Unmarshal(raw, &asList); err != nil {
		var asObj map[string]any
		if err2 := json.Unmarshal(raw, &asObj); err2 != nil {
			return nil, fmt.Errorf("failed to parse bank json: %w", err)
		}
		l, ok := asObj["transactions"].([]any)
		if !ok {
			return nil, fmt.Errorf("bank json must be a list or an object with a transactions list")
		}
		asList = l
	}
	out := make([]storage.Doc, 0, len(asList))
	for _, x := range asList {
		if doc, ok := x.(map[string]any); ok {
			out = append(out, doc)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("bank json has no transaction objects")
	}
	return out, nil
}

func bankJSONRowToTx(docID, sourceType string, rowIndex int, row storage.Doc, defaultCurrency string) (storage.Doc, error) {
	occurredAt := pickText(row, []string{"occurredAt", "postedAt", "date", "bookingDate", "valueDate"})
	if occurredAt == "" {
		return nil, fmt.Errorf("missing date field")
	}
	if _, err := storage.ParseYMD(occurredAt); err != nil {
		return nil, err
	}

	var amount decimal.Decimal
	var currency string
	var err error
	if obj, ok := row["amount"].(map[string]any); ok {
		amount, err = parseAmountValue(obj["value"])
		if err != nil {
			return nil, err
		}
		if c, ok := obj["currency"].(string); ok && c != "" {
			currency = c
		}
	} else {
		v := row["amountValue"]
		if v == nil {
			v = row["amount"]
		}
		amount, err = parseAmountValue(v)
		if err != nil {
			return nil, err
		}
		currency = pickText(row, []string{"currency", "ccy"})
	}
	if currency == "" {
		currency = defaultCurrency
	}

	merchant := pickText(row, []string{"merchant", "payee", "counterparty", "name"})
	description := pickText(row, []string{"description", "memo", "details", "narration"})
	if description == "" {
		description = merchant
	}
	categoryID := pickText(row, []string{"category", "categoryId"})
	if categoryID == "" {
		categoryID = "uncategorized"
	}
	direction := "credit"
	if amount.IsNegative() {
		direction = "debit"
	}
	catConf := 0.4
	if categoryID == "uncategorized" {
		catConf = 0.0
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
			"sourceType": sourceType,
			"sourceHash": sourceHash,
			"lineRef":    fmt.Sprintf("json:row:%d", rowIndex),
		},
		"postedAt":    occurredAt,
		"occurredAt":  occurredAt,
		"amount":      storage.Doc{"value": amount.String(), "currency": currency},
		"direction":   direction,
		"merchant":    merchant,
		"description": description,
		"category":    storage.Doc{"id": categoryID, "confidence": catConf, "reason": "bank_json_import"},
		"tags":        []any{"integration"},
		"confidence": storage.Doc{
			"extraction":     1.0,
			"normalization":  0.95,
			"categorization": catConf,
		},
		"links":     storage.Doc{"receiptDocId": nil, "billDocId": nil},
		"createdAt": storage.NowISO(),
	}, nil
}
