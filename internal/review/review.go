// Package review builds the human review queue: transactions and parsed
// source documents that need attention, plus the patch-based resolution
// path.
package review

import (
	"fmt"
	"os"
	"path/filepath"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/sources"
	"ledgerflow/internal/storage"
)

// Options tune which items land in the queue.
type Options struct {
	Date              string
	Limit             int
	CatConfThreshold  float64
	ParseConfThreshold float64
}

// Queue is one generated review listing.
type Queue struct {
	GeneratedAt string        `json:"generatedAt"`
	Date        string        `json:"date,omitempty"`
	Counts      Counts        `json:"counts"`
	Items       []storage.Doc `json:"items"`
}

type Counts struct {
	Transactions int `json:"transactions"`
	SourceParses int `json:"sourceParses"`
	Total        int `json:"total"`
}

// Service assembles review queues and applies resolutions.
type Service struct {
	Layout  layout.Layout
	Store   *ledger.Store
	Sources *sources.Registry
}

func NewService(l layout.Layout, store *ledger.Store, reg *sources.Registry) *Service {
	return &Service{Layout: l, Store: store, Sources: reg}
}

func txReviewItem(tx storage.Doc, catConfThreshold float64) storage.Doc {
	var reasons []any
	catID := ledger.TxCategoryID(tx)
	if catID == "" {
		catID = "uncategorized"
	}
	catConf := ledger.TxCategoryConfidence(tx)
	merchant, _ := tx["merchant"].(string)
	desc, _ := tx["description"].(string)
	tags := ledger.TxTags(tx)

	if catID == "uncategorized" {
		reasons = append(reasons, "uncategorized")
	}
	if catConf < catConfThreshold {
		reasons = append(reasons, fmt.Sprintf("low_category_confidence:%.2f", catConf))
	}
	if merchant == "" && desc == "" {
		reasons = append(reasons, "missing_merchant_and_description")
	}
	for _, t := range tags {
		if t == "duplicate_candidate" {
			reasons = append(reasons, "duplicate_candidate")
			break
		}
	}
	if len(reasons) == 0 {
		return nil
	}
	return storage.Doc{
		"kind":               "transaction",
		"txId":               ledger.TxID(tx),
		"date":               ledger.TxDate(tx),
		"merchant":           ledger.TxMerchant(tx),
		"categoryId":         catID,
		"categoryConfidence": catConf,
		"sourceType":         ledger.TxSourceType(tx),
		"amount":             tx["amount"],
		"reasons":            reasons,
	}
}

func (s *Service) sourceParseItems(date string, parseConfThreshold float64) ([]storage.Doc, error) {
	docs, err := s.Sources.List()
	if err != nil {
		return nil, err
	}
	items := []storage.Doc{}
	for i := len(docs) - 1; i >= 0; i-- {
		doc := docs[i]
		docID, _ := doc["docId"].(string)
		if docID == "" {
			continue
		}
		parsePath := filepath.Join(s.Layout.SourceDocDir(docID), "parse.json")
		if _, err := os.Stat(parsePath); err != nil {
			continue
		}
		parsed := storage.Doc{}
		if err := storage.ReadJSON(parsePath, &parsed); err != nil || len(parsed) == 0 {
			continue
		}
		parsedDate, _ := parsed["date"].(string)
		if date != "" && parsedDate != "" && parsedDate != date {
			continue
		}

		ptype, _ := parsed["type"].(string)
		conf, _ := parsed["confidence"].(float64)
		var reasons []any
		if conf < parseConfThreshold {
			reasons = append(reasons, fmt.Sprintf("low_parse_confidence:%.2f", conf))
		}
		switch ptype {
		case "receipt":
			if parsed["merchant"] == nil {
				reasons = append(reasons, "missing_merchant")
			}
			if parsed["total"] == nil {
				reasons = append(reasons, "missing_total")
			}
		case "bill":
			if parsed["vendor"] == nil {
				reasons = append(reasons, "missing_vendor")
			}
			if parsed["amount"] == nil {
				reasons = append(reasons, "missing_amount")
			}
		}
		if len(reasons) == 0 {
			continue
		}

		var template any
		if parser, ok := parsed["parser"].(map[string]any); ok {
			template = parser["template"]
		}
		items = append(items, storage.Doc{
			"kind":       "source_parse",
			"docId":      docID,
			"sourceType": doc["sourceType"],
			"date":       nullableStr(parsedDate),
			"confidence": conf,
			"template":   template,
			"reasons":    reasons,
		})
	}
	return items, nil
}

func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// BuildQueue lists everything worth a human look, optionally scoped to one
// date.
func (s *Service) BuildQueue(opts Options) (Queue, error) {
	if opts.Limit <= 0 {
		opts.Limit = 200
	}
	if opts.CatConfThreshold <= 0 {
		opts.CatConfThreshold = 0.60
	}
	if opts.ParseConfThreshold <= 0 {
		opts.ParseConfThreshold = 0.75
	}
	if opts.Date != "" {
		if _, err := storage.ParseYMD(opts.Date); err != nil {
			return Queue{}, err
		}
	}

	view, err := s.Store.LoadView(false)
	if err != nil {
		return Queue{}, err
	}

	txItems := []storage.Doc{}
	for _, tx := range view.Transactions {
		if opts.Date != "" && ledger.TxDate(tx) != opts.Date {
			continue
		}
		if item := txReviewItem(tx, opts.CatConfThreshold); item != nil {
			txItems = append(txItems, item)
		}
	}

	sourceItems, err := s.sourceParseItems(opts.Date, opts.ParseConfThreshold)
	if err != nil {
		return Queue{}, err
	}

	items := append(txItems, sourceItems...)
	if len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return Queue{
		GeneratedAt: storage.NowISO(),
		Date:        opts.Date,
		Counts: Counts{
			Transactions: len(txItems),
			SourceParses: len(sourceItems),
			Total:        len(txItems) + len(sourceItems),
		},
		Items: items,
	}, nil
}

// Resolve records a correction patch against a reviewed transaction.
func (s *Service) Resolve(txID string, patch storage.Doc, reason string) (storage.Doc, error) {
	if txID == "" {
		return nil, fmt.Errorf("txId is required")
	}
	if len(patch) == 0 {
		return nil, fmt.Errorf("patch is required")
	}
	if v, ok := patch["occurredAt"].(string); ok {
		if _, err := storage.ParseYMD(v); err != nil {
			return nil, err
		}
	}
	if reason == "" {
		reason = "review_resolve"
	}
	evt := ledger.CorrectionEvent(txID, patch, reason)
	if err := s.Store.AppendCorrection(evt); err != nil {
		return nil, err
	}
	return evt, nil
}
