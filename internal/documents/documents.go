package documents

import (
	"os"
	"path/filepath"

	"ledgerflow/internal/layout"
	"ledgerflow/internal/sources"
	"ledgerflow/internal/storage"
)

// Service ties source registration to extraction and parsing.
type Service struct {
	Layout  layout.Layout
	Sources *sources.Registry
}

func NewService(l layout.Layout, reg *sources.Registry) *Service {
	return &Service{Layout: l, Sources: reg}
}

// ParsedDoc is the result of one receipt or bill ingestion.
type ParsedDoc struct {
	Doc   storage.Doc `json:"doc"`
	Parse storage.Doc `json:"parse"`
}

func (s *Service) importAndParse(path, sourceType string, copyIntoSources bool, parse func(text, ccy string) storage.Doc, defaultCurrency string) (ParsedDoc, error) {
	doc, err := s.Sources.Register(path, copyIntoSources, sourceType, nil)
	if err != nil {
		return ParsedDoc{}, err
	}
	docID, _ := doc["docId"].(string)
	docDir := s.Layout.SourceDocDir(docID)

	text, meta, err := ExtractText(path)
	if err != nil {
		return ParsedDoc{}, err
	}
	if err := storage.EnsureDir(docDir); err != nil {
		return ParsedDoc{}, err
	}
	if err := os.WriteFile(filepath.Join(docDir, "raw.txt"), []byte(text), 0o644); err != nil {
		return ParsedDoc{}, err
	}

	parsed := parse(text, defaultCurrency)
	parsed["docId"] = docID
	parsed["extraction"] = meta
	parsed["parsedAt"] = storage.NowISO()

	if err := storage.WriteJSON(filepath.Join(docDir, "parse.json"), parsed); err != nil {
		return ParsedDoc{}, err
	}
	return ParsedDoc{Doc: doc, Parse: parsed}, nil
}

// ImportReceipt registers a receipt file, extracts its text and writes the
// parse.json artifact next to it.
func (s *Service) ImportReceipt(path string, copyIntoSources bool, defaultCurrency string) (ParsedDoc, error) {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return s.importAndParse(path, "receipt", copyIntoSources, ParseReceiptText, defaultCurrency)
}

// ImportBill does the same for bills.
func (s *Service) ImportBill(path string, copyIntoSources bool, defaultCurrency string) (ParsedDoc, error) {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return s.importAndParse(path, "bill", copyIntoSources, ParseBillText, defaultCurrency)
}

// LoadParsedByType returns registered docs of sourceType that carry a
// parse.json, pairing each with its parse result.
func LoadParsedByType(l layout.Layout, reg *sources.Registry, sourceType string) ([]ParsedDoc, error) {
	docs, err := reg.List()
	if err != nil {
		return nil, err
	}
	out := []ParsedDoc{}
	for _, d := range docs {
		if st, _ := d["sourceType"].(string); st != sourceType {
			continue
		}
		docID, _ := d["docId"].(string)
		if docID == "" {
			continue
		}
		parsePath := filepath.Join(l.SourceDocDir(docID), "parse.json")
		if _, err := os.Stat(parsePath); err != nil {
			continue
		}
		parsed := storage.Doc{}
		if err := storage.ReadJSON(parsePath, &parsed); err != nil || len(parsed) == 0 {
			continue
		}
		out = append(out, ParsedDoc{Doc: d, Parse: parsed})
	}
	return out, nil
}
