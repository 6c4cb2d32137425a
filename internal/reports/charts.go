package reports

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/shopspring/decimal"

	"ledgerflow/internal/ledger"
	"ledgerflow/internal/money"
	"ledgerflow/internal/storage"
)

// BuildSeries computes per-day spend/income/net points for charting. Days
// without activity emit a single zero point; days with several currencies
// emit one point per currency.
func (s *Service) BuildSeries(fromDate, toDate string) (storage.Doc, error) {
	from, err := storage.ParseYMD(fromDate)
	if err != nil {
		return nil, err
	}
	to, err := storage.ParseYMD(toDate)
	if err != nil {
		return nil, err
	}
	view, err := s.Store.LoadView(false)
	if err != nil {
		return nil, err
	}
	txs := ledger.FilterByDateRange(view.Transactions, fromDate, toDate)

	type acc struct{ spend, income, net decimal.Decimal }
	perDay := map[string]map[string]*acc{}
	for _, tx := range txs {
		d := ledger.TxDate(tx)
		if d == "" {
			continue
		}
		ccy := ledger.TxCurrency(tx)
		if ccy == "" {
			ccy = "UNK"
		}
		if perDay[d] == nil {
			perDay[d] = map[string]*acc{}
		}
		a := perDay[d][ccy]
		if a == nil {
			a = &acc{}
			perDay[d][ccy] = a
		}
		amt := ledger.TxAmount(tx)
		if amt.IsNegative() {
			a.spend = a.spend.Add(amt.Neg())
		} else {
			a.income = a.income.Add(amt)
		}
		a.net = a.net.Add(amt)
	}

	points := []storage.Doc{}
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		day := d.Format(storage.YMD)
		curMap := perDay[day]
		if len(curMap) == 0 {
			points = append(points, storage.Doc{"t": day, "spend": "0", "income": "0", "net": "0", "currency": nil})
			continue
		}
		ccys := make([]string, 0, len(curMap))
		for ccy := range curMap {
			ccys = append(ccys, ccy)
		}
		sort.Strings(ccys)
		for _, ccy := range ccys {
			a := curMap[ccy]
			points = append(points, storage.Doc{
				"t":        day,
				"spend":    money.Format(a.spend),
				"income":   money.Format(a.income),
				"net":      money.Format(a.net),
				"currency": ccy,
			})
		}
	}

	return storage.Doc{
		"granularity": "day",
		"from":        fromDate,
		"to":          toDate,
		"generatedAt": storage.NowISO(),
		"points":      points,
	}, nil
}

// WriteSeries persists a series file under the charts directory.
func (s *Service) WriteSeries(fromDate, toDate string) (string, error) {
	if err := storage.EnsureDir(s.Layout.ChartsDir()); err != nil {
		return "", err
	}
	data, err := s.BuildSeries(fromDate, toDate)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.Layout.ChartsDir(), fmt.Sprintf("series.%s_%s.json", fromDate, toDate))
	return path, storage.WriteJSON(path, data)
}

// BuildCategoryBreakdown aggregates one month's spend per (currency,
// category).
func (s *Service) BuildCategoryBreakdown(month string) (storage.Doc, error) {
	view, err := s.Store.LoadView(false)
	if err != nil {
		return nil, err
	}
	txs := ledger.FilterByMonth(view.Transactions, month)
	return storage.Doc{
		"month":       month,
		"generatedAt": storage.NowISO(),
		"totals":      topCategories(txs, len(txs)+1),
	}, nil
}

// WriteCategoryBreakdown persists the month's category totals.
func (s *Service) WriteCategoryBreakdown(month string) (string, error) {
	if err := storage.EnsureDir(s.Layout.ChartsDir()); err != nil {
		return "", err
	}
	data, err := s.BuildCategoryBreakdown(month)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.Layout.ChartsDir(), fmt.Sprintf("category_breakdown.%s.json", month))
	return path, storage.WriteJSON(path, data)
}

// BuildMerchantTop aggregates one month's spend per merchant.
func (s *Service) BuildMerchantTop(month string, limit int) (storage.Doc, error) {
	if limit <= 0 {
		limit = 25
	}
	view, err := s.Store.LoadView(false)
	if err != nil {
		return nil, err
	}
	txs := ledger.FilterByMonth(view.Transactions, month)
	return storage.Doc{
		"month":       month,
		"generatedAt": storage.NowISO(),
		"top":         topMerchants(txs, limit),
	}, nil
}

// WriteMerchantTop persists the month's merchant totals.
func (s *Service) WriteMerchantTop(month string, limit int) (string, error) {
	if err := storage.EnsureDir(s.Layout.ChartsDir()); err != nil {
		return "", err
	}
	data, err := s.BuildMerchantTop(month, limit)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.Layout.ChartsDir(), fmt.Sprintf("merchant_top.%s.json", month))
	return path, storage.WriteJSON(path, data)
}
