package reconcile

import (
	"ledgerflow/internal/ledger"
	"ledgerflow/internal/money"
	"ledgerflow/internal/storage"
)

// DedupOptions bound the candidate search for manual-vs-bank duplicates.
type DedupOptions struct {
	FromDate        string
	ToDate          string
	MaxDaysDiff     int
	AmountTolerance string
	Commit          bool
}

// DedupResult summarizes a duplicate-marking pass.
type DedupResult struct {
	Matches int  `json:"matches"`
	Created int  `json:"created"`
	Skipped int  `json:"skipped"`
	Commit  bool `json:"commit"`
}

func daysBetween(a, b string) (int, bool) {
	ta, errA := storage.ParseYMD(a)
	tb, errB := storage.ParseYMD(b)
	if errA != nil || errB != nil {
		return 0, false
	}
	d := int(tb.Sub(ta).Hours() / 24)
	if d < 0 {
		d = -d
	}
	return d, true
}

// MarkManualDuplicates tags manual debits that closely match a bank debit
// (date within MaxDaysDiff, same currency, amount within tolerance,
// merchant score lifting the total over 0.65) with a duplicate_candidate
// correction pointing at the bank transaction.
func MarkManualDuplicates(store *ledger.Store, opts DedupOptions) (DedupResult, error) {
	if opts.MaxDaysDiff <= 0 {
		opts.MaxDaysDiff = 1
	}
	if opts.AmountTolerance == "" {
		opts.AmountTolerance = "0.01"
	}
	tol := money.FromAny(opts.AmountTolerance)

	view, err := store.LoadView(false)
	if err != nil {
		return DedupResult{}, err
	}
	txs := ledger.FilterByDateRange(view.Transactions, opts.FromDate, opts.ToDate)

	var manual, bank []storage.Doc
	for _, tx := range txs {
		switch ledger.TxSourceType(tx) {
		case "manual":
			manual = append(manual, tx)
		case "bank_csv":
			bank = append(bank, tx)
		}
	}

	res := DedupResult{Commit: opts.Commit}
	for _, mtx := range manual {
		mid := ledger.TxID(mtx)
		mdate := ledger.TxDate(mtx)
		if mid == "" || mdate == "" {
			continue
		}
		mam := ledger.TxAmount(mtx)
		if !mam.IsNegative() {
			continue
		}
		mamt := mam.Neg()
		mccy := ledger.TxCurrency(mtx)
		mmer := ledger.TxMerchant(mtx)

		var best storage.Doc
		bestScore := -1.0
		for _, btx := range bank {
			bdate := ledger.TxDate(btx)
			if bdate == "" {
				continue
			}
			diff, ok := daysBetween(mdate, bdate)
			if !ok || diff > opts.MaxDaysDiff {
				continue
			}
			if mccy != "" && ledger.TxCurrency(btx) != "" && ledger.TxCurrency(btx) != mccy {
				continue
			}
			bam := ledger.TxAmount(btx)
			if !bam.IsNegative() {
				continue
			}
			if bam.Neg().Sub(mamt).Abs().Cmp(tol) > 0 {
				continue
			}
			score := 0.5 + 0.5*MerchantScore(mmer, ledger.TxMerchant(btx))
			if score > bestScore {
				bestScore = score
				best = btx
			}
		}
		if best == nil || bestScore < 0.65 {
			continue
		}
		res.Matches++

		tags := ledger.TxTags(mtx)
		if containsTag(tags, "duplicate_candidate") {
			res.Skipped++
			continue
		}

		patch := storage.Doc{
			"tags":  appendTag(tags, "duplicate_candidate"),
			"links": storage.Doc{"duplicateOfTxId": ledger.TxID(best)},
		}
		evt := ledger.CorrectionEvent(mid, patch, "auto_dedup_manual_vs_bank")
		if opts.Commit {
			if err := store.AppendCorrection(evt); err != nil {
				return res, err
			}
			res.Created++
		}
	}
	return res, nil
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func appendTag(tags []string, tag string) []any {
	out := make([]any, 0, len(tags)+1)
	for _, t := range tags {
		out = append(out, t)
	}
	return append(out, tag)
}
