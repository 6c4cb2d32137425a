package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"ledgerflow/internal/money"
	"ledgerflow/internal/storage"
)

// ManualEntry is a user-supplied ledger line before normalization.
type ManualEntry struct {
	OccurredAt   string
	AmountValue  decimal.Decimal
	Currency     string
	Merchant     string
	Description  string
	CategoryHint string
	Tags         []string
	ReceiptDocID string
	BillDocID    string
}

// ManualEntryToTx builds an immutable transaction record from a manual entry.
// The source hash covers the logical input so a re-submitted entry can be
// reconciled later.
func ManualEntryToTx(entry ManualEntry) (storage.Doc, error) {
	if _, err := storage.ParseYMD(entry.OccurredAt); err != nil {
		return nil, err
	}
	if strings.TrimSpace(entry.Currency) == "" {
		return nil, fmt.Errorf("currency is required")
	}

	direction := "credit"
	if entry.AmountValue.IsNegative() {
		direction = "debit"
	}

	tags := entry.Tags
	if tags == nil {
		tags = []string{}
	}
	hashInput := storage.Doc{
		"occurredAt":   entry.OccurredAt,
		"amount":       map[string]any{"value": money.Format(entry.AmountValue), "currency": entry.Currency},
		"merchant":     entry.Merchant,
		"description":  entry.Description,
		"categoryHint": entry.CategoryHint,
		"tags":         tags,
		"links":        map[string]any{"receiptDocId": nullable(entry.ReceiptDocID), "billDocId": nullable(entry.BillDocID)},
	}
	sourceHash, err := storage.ContentHash(hashInput)
	if err != nil {
		return nil, err
	}

	categoryID := entry.CategoryHint
	catConf := 1.0
	catReason := "category_hint"
	if categoryID == "" {
		categoryID = "uncategorized"
		catConf = 0.0
		catReason = "missing"
	}

	tagsAny := make([]any, len(tags))
	for i, t := range tags {
		tagsAny[i] = t
	}

	return storage.Doc{
		"txId": storage.NewID(storage.PrefixTx),
		"source": map[string]any{
			"docId":      storage.NewID(storage.PrefixDoc),
			"sourceType": "manual",
			"sourceHash": sourceHash,
			"lineRef":    "manual:entry:1",
		},
		"postedAt":    entry.OccurredAt,
		"occurredAt":  entry.OccurredAt,
		"amount":      map[string]any{"value": money.Format(entry.AmountValue), "currency": entry.Currency},
		"direction":   direction,
		"merchant":    entry.Merchant,
		"description": entry.Description,
		"category":    map[string]any{"id": categoryID, "confidence": catConf, "reason": catReason},
		"tags":        tagsAny,
		"confidence": map[string]any{
			"extraction":     1.0,
			"normalization":  1.0,
			"categorization": catConf,
		},
		"links":     map[string]any{"receiptDocId": nullable(entry.ReceiptDocID), "billDocId": nullable(entry.BillDocID)},
		"createdAt": storage.NowISO(),
	}, nil
}

// CorrectionEvent builds a patch event targeting txID.
func CorrectionEvent(txID string, patch storage.Doc, reason string) storage.Doc {
	return storage.Doc{
		"eventId": storage.NewID(storage.PrefixEvent),
		"txId":    txID,
		"type":    "patch",
		"patch":   patch,
		"reason":  reason,
		"at":      storage.NowISO(),
	}
}

// TombstoneEvent builds a delete marker targeting txID.
func TombstoneEvent(txID string, reason string) storage.Doc {
	return storage.Doc{
		"eventId": storage.NewID(storage.PrefixEvent),
		"txId":    txID,
		"type":    "tombstone",
		"reason":  reason,
		"at":      storage.NowISO(),
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
