package importer

import (
	"fmt"

	"ledgerflow/internal/ledger"
	"ledgerflow/internal/sources"
	"ledgerflow/internal/storage"
)

// Deduper answers whether a (doc, row hash) pair has already been ingested.
type Deduper interface {
	HasSourceHash(docID, sourceHash string) (bool, error)
}

// Importer wires source registration, row conversion, dedup and the ledger
// append path together.
type Importer struct {
	Sources *sources.Registry
	Ledger  *ledger.Store
	Dedup   Deduper
}

func New(reg *sources.Registry, store *ledger.Store, dedup Deduper) *Importer {
	return &Importer{Sources: reg, Ledger: store, Dedup: dedup}
}

// Options control one import run.
type Options struct {
	Commit          bool
	CopyIntoSources bool
	Currency        string
	DateFormat      string
	DayFirst        bool
	Sample          int
	MaxRows         int // 0 means all rows
	Mapping         *Mapping
}

// Result summarizes an import run. Sample is populated on dry runs only.
type Result struct {
	Mode     string        `json:"mode"`
	DocID    string        `json:"docId"`
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   int           `json:"errors"`
	Sample   []storage.Doc `json:"sample"`
}

func mode(commit bool) string {
	if commit {
		return "commit"
	}
	return "dry-run"
}

func (im *Importer) seen(docID string, tx storage.Doc) (bool, error) {
	src, _ := tx["source"].(storage.Doc)
	h, _ := src["sourceHash"].(string)
	return im.Dedup.HasSourceHash(docID, h)
}

// ImportCSV registers the file as a source and converts its rows into
// transactions. Rows whose source hash is already indexed are skipped.
func (im *Importer) ImportCSV(path string, opts Options) (Result, error) {
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.Sample <= 0 {
		opts.Sample = 3
	}

	doc, err := im.Sources.Register(path, opts.CopyIntoSources, "bank_csv", nil)
	if err != nil {
		return Result{}, err
	}
	docID, _ := doc["docId"].(string)

	headers, rows, err := ReadCSVRows(path)
	if err != nil {
		return Result{}, err
	}

	var mapping Mapping
	if opts.Mapping != nil && opts.Mapping.DateCol != "" {
		mapping = *opts.Mapping
		if mapping.AmountCol == "" && mapping.DebitCol == "" && mapping.CreditCol == "" {
			return Result{}, fmt.Errorf("mapping needs an amount column or debit/credit columns")
		}
	} else {
		mapping, err = InferMapping(headers)
		if err != nil {
			return Result{}, err
		}
	}

	res := Result{Mode: mode(opts.Commit), DocID: docID, Sample: []storage.Doc{}}
	maxn := len(rows)
	if opts.MaxRows > 0 && opts.MaxRows < maxn {
		maxn = opts.MaxRows
	}
	for i, row := range rows[:maxn] {
		tx, err := CSVRowToTx(docID, i+1, row, mapping, opts.Currency, opts.DateFormat, opts.DayFirst)
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

// ImportBankJSON ingests a JSON export that is either a transaction array
// or an object with a "transactions" array.
func (im *Importer) ImportBankJSON(path string, opts Options) (Result, error) {
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.Sample <= 0 {
		opts.Sample = 3
	}

	doc, err := im.Sources.Register(path, opts.CopyIntoSources, "bank_json", nil)
	if err != nil {
		return Result{}, err
	}
	docID, _ := doc["docId"].(string)

	rows, err := readBankJSONRecords(path)
	if err != nil {
		return Result{}, err
	}
	if opts.MaxRows > 0 && opts.MaxRows < len(rows) {
		rows = rows[:opts.MaxRows]
	}

	res := Result{Mode: mode(opts.Commit), DocID: docID, Sample: []storage.Doc{}}
	for i, row := range rows {
		tx, err := bankJSONRowToTx(docID, "bank_json", i+1, row, opts.Currency)
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
