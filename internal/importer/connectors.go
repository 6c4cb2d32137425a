package importer

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"ledgerflow/internal/storage"
)

// ConnectorInfo describes one supported integration.
type ConnectorInfo struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ListConnectors returns the supported connectors sorted by id.
func ListConnectors() []ConnectorInfo {
	return []ConnectorInfo{
		{ID: "plaid", Title: "Plaid Transactions JSON", Description: "Imports Plaid transaction payloads (transactions list)."},
		{ID: "wise", Title: "Wise Activity JSON", Description: "Imports Wise-like activity exports with amount/date/merchant fields."},
	}
}

func connectorRows(payload any) ([]storage.Doc, error) {
	var raw []any
	switch p := payload.(type) {
	case []any:
		raw = p
	case map[string]any:
		if l, ok := p["transactions"].([]any); ok {
			raw = l
		} else if l, ok := p["activity"].([]any); ok {
			raw = l
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("connector payload must contain a transaction list")
	}
	out := make([]storage.Doc, 0, len(raw))
	for _, x := range raw {
		if doc, ok := x.(map[string]any); ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func normPlaid(rows []storage.Doc, defaultCurrency string) []storage.Doc {
	out := []storage.Doc{}
	for _, row := range rows {
		date := pickText(row, []string{"date", "authorized_date"})
		if date == "" {
			continue
		}
		amount, err := parseAmountValue(orZero(row["amount"]))
		if err != nil {
			continue
		}
		// Plaid reports spending as positive, flip to the signed convention.
		signed := amount.Neg()
		currency := pickText(row, []string{"iso_currency_code", "unofficial_currency_code"})
		if currency == "" {
			currency = defaultCurrency
		}
		merchant := pickText(row, []string{"merchant_name", "name"})
		desc := pickText(row, []string{"name"})
		if desc == "" {
			desc = merchant
		}

		cat := "uncategorized"
		if pfc, ok := row["personal_finance_category"].(map[string]any); ok {
			primary := strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", orZero(pfc["primary"]))))
			switch primary {
			case "food_and_drink", "groceries":
				cat = "groceries"
			case "travel", "transportation":
				cat = "transport"
			case "income":
				cat = "income"
			}
		}
		out = append(out, storage.Doc{
			"date":        date,
			"amount":      signed.String(),
			"currency":    currency,
			"merchant":    merchant,
			"description": desc,
			"category":    cat,
		})
	}
	return out
}

func normWise(rows []storage.Doc, defaultCurrency string) []storage.Doc {
	out := []storage.Doc{}
	for _, row := range rows {
		date := pickText(row, []string{"date", "createdOn", "bookingDate"})
		if date == "" {
			continue
		}
		var amountStr, currency string
		if obj, ok := row["amount"].(map[string]any); ok {
			amount, err := parseAmountValue(obj["value"])
			if err != nil {
				continue
			}
			amountStr = amount.String()
			currency, _ = obj["currency"].(string)
		} else {
			v := row["amount"]
			if v == nil {
				v = row["amountValue"]
			}
			amount, err := parseAmountValue(orZero(v))
			if err != nil {
				continue
			}
			amountStr = amount.String()
			currency = pickText(row, []string{"currency"})
		}
		if currency == "" {
			currency = defaultCurrency
		}
		merchant := pickText(row, []string{"merchant", "counterparty", "name"})
		desc := pickText(row, []string{"description", "details"})
		if desc == "" {
			desc = merchant
		}
		out = append(out, storage.Doc{
			"date":        date,
			"amount":      amountStr,
			"currency":    currency,
			"merchant":    merchant,
			"description": desc,
			"category":    "uncategorized",
		})
	}
	return out
}

func orZero(v any) any {
	if v == nil {
		return "0"
	}
	return v
}

// NormalizeConnectorPayload maps a connector-specific payload to the bank
// JSON row shape.
func NormalizeConnectorPayload(connector string, payload any, defaultCurrency string) ([]storage.Doc, error) {
	name := strings.ToLower(strings.TrimSpace(connector))
	rows, err := connectorRows(payload)
	if err != nil {
		return nil, err
	}
	switch name {
	case "plaid":
		return normPlaid(rows, defaultCurrency), nil
	case "wise":
		return normWise(rows, defaultCurrency), nil
	}
	return nil, fmt.Errorf("unsupported connector %q", connector)
}

// ImportConnector normalizes a connector export file and ingests the rows
// like a bank JSON import.
func (im *Importer) ImportConnector(connector, path string, opts Options) (Result, error) {
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.Sample <= 0 {
		opts.Sample = 3
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Result{}, err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Result{}, fmt.Errorf("failed to parse connector payload: %w", err)
	}
	normalized, err := NormalizeConnectorPayload(connector, payload, opts.Currency)
	if err != nil {
		return Result{}, err
	}

	sourceType := "connector_" + strings.ToLower(strings.TrimSpace(connector))
	doc, err := im.Sources.Register(path, opts.CopyIntoSources, sourceType, nil)
	if err != nil {
		return Result{}, err
	}
	docID, _ := doc["docId"].(string)

	if opts.MaxRows > 0 && opts.MaxRows < len(normalized) {
		normalized = normalized[:opts.MaxRows]
	}

	res := Result{Mode: mode(opts.Commit), DocID: docID, Sample: []storage.Doc{}}
	for i, row := range normalized {
		tx, err := bankJSONRowToTx(docID, sourceType, i+1, row, opts.Currency)
		if err != nil {
			res.Errors++
			continue
		}
		if !opts.Commit {
			if len(res.Sample) < opts.Sample {
				res.Sample = append(res.Sample, tx)
			}
			continue
		}
		dup, err := im.seen(docID, tx)
		if err != nil {
			return res, err
		}
		if dup {
			res.Skipped++
			continue
		}
		if err := im.Ledger.AppendTransaction(tx); err != nil {
			return res, err
		}
		res.Imported++
	}
	return res, nil
}
