package reconcile

import (
	"github.com/shopspring/decimal"

	"ledgerflow/internal/documents"
	"ledgerflow/internal/layout"
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/money"
	"ledgerflow/internal/sources"
	"ledgerflow/internal/storage"
)

// LinkOptions bound the candidate search when matching parsed documents to
// bank transactions.
type LinkOptions struct {
	MaxDaysDiff     int
	AmountTolerance string
	Commit          bool
}

// LinkResult summarizes a linking pass.
type LinkResult struct {
	Attempted int  `json:"attempted"`
	Created   int  `json:"created"`
	Skipped   int  `json:"skipped"`
	Commit    bool `json:"commit"`
}

// Linker matches parsed receipts and bills against bank transactions.
type Linker struct {
	Layout  layout.Layout
	Store   *ledger.Store
	Sources *sources.Registry
}

func NewLinker(l layout.Layout, store *ledger.Store, reg *sources.Registry) *Linker {
	return &Linker{Layout: l, Store: store, Sources: reg}
}

func linkedDocIDs(txs []storage.Doc, field string) map[string]bool {
	out := map[string]bool{}
	for _, tx := range txs {
		links, ok := tx["links"].(map[string]any)
		if !ok {
			continue
		}
		if id, ok := links[field].(string); ok && id != "" {
			out[id] = true
		}
	}
	return out
}

func candidateBankTxs(txs []storage.Doc, skipLinkField string) []storage.Doc {
	out := []storage.Doc{}
	for _, tx := range txs {
		if ledger.TxSourceType(tx) != "bank_csv" {
			continue
		}
		if links, ok := tx["links"].(map[string]any); ok {
			if v, ok := links[skipLinkField].(string); ok && v != "" {
				continue
			}
		}
		out = append(out, tx)
	}
	return out
}

func bestAmountDateMatch(bank []storage.Doc, anchorDate string, total decimal.Decimal, ccy, merchant string, maxDays int, tolerance decimal.Decimal) storage.Doc {
	var best storage.Doc
	bestScore := -1.0
	for _, tx := range bank {
		td := ledger.TxDate(tx)
		if td == "" {
			continue
		}
		diff, ok := daysBetween(anchorDate, td)
		if !ok || diff > maxDays {
			continue
		}
		if ccy != "" && ledger.TxCurrency(tx) != "" && ledger.TxCurrency(tx) != ccy {
			continue
		}
		amt := ledger.TxAmount(tx)
		if !amt.IsNegative() {
			continue
		}
		if amt.Neg().Sub(total).Abs().Cmp(tolerance) > 0 {
			continue
		}
		score := 0.5 + 0.5*MerchantScore(merchant, ledger.TxMerchant(tx))
		if score > bestScore {
			bestScore = score
			best = tx
		}
	}
	return best
}

// LinkReceipts attaches parsed receipts to matching bank debits via
// receiptDocId patches. A receipt already linked anywhere is skipped.
func (lk *Linker) LinkReceipts(opts LinkOptions) (LinkResult, error) {
	if opts.MaxDaysDiff <= 0 {
		opts.MaxDaysDiff = 3
	}
	if opts.AmountTolerance == "" {
		opts.AmountTolerance = "0.01"
	}
	tol := money.FromAny(opts.AmountTolerance)

	view, err := lk.Store.LoadView(false)
	if err != nil {
		return LinkResult{}, err
	}
	linked := linkedDocIDs(view.Transactions, "receiptDocId")
	bank := candidateBankTxs(view.Transactions, "receiptDocId")

	receipts, err := documents.LoadParsedByType(lk.Layout, lk.Sources, "receipt")
	if err != nil {
		return LinkResult{}, err
	}

	res := LinkResult{Commit: opts.Commit}
	for _, item := range receipts {
		docID, _ := item.Doc["docId"].(string)
		if docID == "" || linked[docID] {
			res.Skipped++
			continue
		}
		res.Attempted++

		rDate, _ := item.Parse["date"].(string)
		totalObj, ok := item.Parse["total"].(map[string]any)
		if rDate == "" || !ok {
			continue
		}
		if _, err := storage.ParseYMD(rDate); err != nil {
			continue
		}
		total := money.FromAny(totalObj["value"])
		ccy, _ := totalObj["currency"].(string)
		merchant, _ := item.Parse["merchant"].(string)

		best := bestAmountDateMatch(bank, rDate, total, ccy, merchant, opts.MaxDaysDiff, tol)
		if best == nil {
			continue
		}
		txID := ledger.TxID(best)
		if txID == "" {
			continue
		}

		patch := storage.Doc{"links": storage.Doc{"receiptDocId": docID}}
		if ledger.TxMerchant(best) == "" && merchant != "" {
			patch["merchant"] = merchant
		}
		tags := ledger.TxTags(best)
		if !containsTag(tags, "receipt-linked") {
			patch["tags"] = appendTag(tags, "receipt-linked")
		}

		evt := ledger.CorrectionEvent(txID, patch, "auto_link_receipt")
		if opts.Commit {
			if err := lk.Store.AppendCorrection(evt); err != nil {
				return res, err
			}
			res.Created++
			linked[docID] = true
		}
	}
	return res, nil
}

// LinkBills attaches parsed bills to matching bank debits via billDocId
// patches, anchored on the due date when present.
func (lk *Linker) LinkBills(opts LinkOptions) (LinkResult, error) {
	if opts.MaxDaysDiff <= 0 {
		opts.MaxDaysDiff = 7
	}
	if opts.AmountTolerance == "" {
		opts.AmountTolerance = "0.01"
	}
	tol := money.FromAny(opts.AmountTolerance)

	view, err := lk.Store.LoadView(false)
	if err != nil {
		return LinkResult{}, err
	}
	linked := linkedDocIDs(view.Transactions, "billDocId")
	bank := candidateBankTxs(view.Transactions, "billDocId")

	bills, err := documents.LoadParsedByType(lk.Layout, lk.Sources, "bill")
	if err != nil {
		return LinkResult{}, err
	}

	res := LinkResult{Commit: opts.Commit}
	for _, item := range bills {
		docID, _ := item.Doc["docId"].(string)
		if docID == "" || linked[docID] {
			res.Skipped++
			continue
		}
		res.Attempted++

		amtObj, ok := item.Parse["amount"].(map[string]any)
		if !ok {
			continue
		}
		amount := money.FromAny(amtObj["value"])
		ccy, _ := amtObj["currency"].(string)
		vendor, _ := item.Parse["vendor"].(string)

		anchor, _ := item.Parse["dueDate"].(string)
		if anchor == "" {
			anchor, _ = item.Parse["date"].(string)
		}
		if anchor == "" {
			continue
		}
		if _, err := storage.ParseYMD(anchor); err != nil {
			continue
		}

		best := bestAmountDateMatch(bank, anchor, amount, ccy, vendor, opts.MaxDaysDiff, tol)
		if best == nil {
			continue
		}
		txID := ledger.TxID(best)
		if txID == "" {
			continue
		}

		evt := ledger.CorrectionEvent(txID, storage.Doc{"links": storage.Doc{"billDocId": docID}}, "auto_link_bill")
		if opts.Commit {
			if err := lk.Store.AppendCorrection(evt); err != nil {
				return res, err
			}
			res.Created++
			linked[docID] = true
		}
	}
	return res, nil
}
