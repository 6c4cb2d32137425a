package documents

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledgerflow/internal/importer"
	"ledgerflow/internal/money"
	"ledgerflow/internal/storage"
)

var (
	reDateISO   = regexp.MustCompile(`\b(20\d{2})[-/](\d{1,2})[-/](\d{1,2})\b`)
	reDateSlash = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(20\d{2})\b`)
	reDateDot   = regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.(20\d{2})\b`)

	reMoney     = regexp.MustCompile(`(USD|EUR|GBP|INR|AUD|CAD|CHF|JPY|\$|€|£)?\s*(\(?-?\d[\d,]*\.\d{2}\)?-?)`)
	reTotalLine = regexp.MustCompile(`(?i)\b(total|grand total|amount due|balance due)\b`)
	reAmountDue = regexp.MustCompile(`(?i)\b(amount due|total due|total)\b`)
	reVAT       = regexp.MustCompile(`(?i)\b(vat|tax)\b.*?(\d{1,2}(?:\.\d+)?)%.*?(\d[\d,]*\.\d{2})`)
	reDueLine   = regexp.MustCompile(`(?im)\b(due date|pay by)\b[: ]+(.+)$`)
	reInvoiceNo = regexp.MustCompile(`(?i)\b(invoice|bill)\s*(no|number)\b[: ]+([A-Za-z0-9-]+)`)
	reAddrOnly  = regexp.MustCompile(`^[0-9 ,.-]+$`)
)

func validDate(y, m, d int) (string, bool) {
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return "", false
	}
	return t.Format(storage.YMD), true
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

func firstDate(text string) string {
	if m := reDateISO.FindStringSubmatch(text); m != nil {
		if d, ok := validDate(atoi(m[1]), atoi(m[2]), atoi(m[3])); ok {
			return d
		}
	}
	if m := reDateDot.FindStringSubmatch(text); m != nil {
		if d, ok := validDate(atoi(m[3]), atoi(m[2]), atoi(m[1])); ok {
			return d
		}
	}
	// Slash dates default to MM/DD/YYYY.
	if m := reDateSlash.FindStringSubmatch(text); m != nil {
		if d, ok := validDate(atoi(m[3]), atoi(m[1]), atoi(m[2])); ok {
			return d
		}
	}
	return ""
}

type moneyCandidate struct {
	ccy string
	amt decimal.Decimal
}

func findMoneyCandidates(line string) []moneyCandidate {
	var out []moneyCandidate
	for _, m := range reMoney.FindAllStringSubmatch(line, -1) {
		amt, err := importer.ParseAmountText(m[2])
		if err != nil {
			continue
		}
		out = append(out, moneyCandidate{ccy: m[1], amt: amt})
	}
	return out
}

func largestCandidate(cands []moneyCandidate) moneyCandidate {
	best := cands[0]
	for _, c := range cands[1:] {
		if c.amt.Abs().Cmp(best.amt.Abs()) > 0 {
			best = c
		}
	}
	return best
}

func normalizeCurrency(ccy, def string) string {
	if ccy == "" {
		return def
	}
	switch strings.ToUpper(strings.TrimSpace(ccy)) {
	case "$":
		return "USD"
	case "€":
		return "EUR"
	case "£":
		return "GBP"
	}
	return strings.ToUpper(strings.TrimSpace(ccy))
}

func guessMerchant(lines []string) string {
	limit := len(lines)
	if limit > 12 {
		limit = 12
	}
	for _, ln := range lines[:limit] {
		s := strings.TrimSpace(ln)
		if s == "" {
			continue
		}
		switch strings.ToLower(s) {
		case "receipt", "tax invoice", "invoice", "thank you", "thanks":
			continue
		}
		if reAddrOnly.MatchString(s) {
			continue
		}
		if len(s) > 80 {
			s = s[:80]
		}
		return s
	}
	return ""
}

func containsAny(lines []string, needles ...string) bool {
	for _, ln := range lines {
		low := strings.ToLower(ln)
		for _, n := range needles {
			if strings.Contains(low, n) {
				return true
			}
		}
	}
	return false
}

func receiptTemplate(lines []string) string {
	hasTotal := containsAny(lines, "total")
	hasVAT := containsAny(lines, "vat", "tax")
	hasCard := containsAny(lines, "card", "visa", "mastercard")
	switch {
	case hasTotal && hasVAT && hasCard:
		return "retail_pos_with_vat_and_card"
	case hasTotal && hasVAT:
		return "retail_pos_with_vat"
	case hasTotal:
		return "simple_total_line"
	}
	return "generic_receipt"
}

func billTemplate(lines []string, text string) string {
	hasDue := containsAny(lines, "due date", "pay by")
	hasInvoice := reInvoiceNo.MatchString(text)
	hasMeter := containsAny(lines, "kwh", "usage", "meter")
	switch {
	case hasDue && hasInvoice && hasMeter:
		return "utility_invoice"
	case hasDue && hasInvoice:
		return "standard_invoice"
	case hasDue:
		return "due_notice"
	}
	return "generic_bill"
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// ParseReceiptText extracts merchant, date, total and VAT lines from raw
// receipt text with a per-field confidence breakdown.
func ParseReceiptText(text, defaultCurrency string) storage.Doc {
	lines := strings.Split(text, "\n")
	template := receiptTemplate(lines)
	merchant := guessMerchant(lines)
	date := firstDate(text)

	var total *moneyCandidate
	var scan []string
	for _, ln := range lines {
		if reTotalLine.MatchString(ln) {
			scan = append(scan, ln)
		}
	}
	scan = append(scan, lines...)
	for _, ln := range scan {
		cands := findMoneyCandidates(ln)
		if len(cands) == 0 {
			continue
		}
		// Receipt totals read positive in the document.
		best := largestCandidate(cands)
		best.amt = best.amt.Abs()
		best.ccy = normalizeCurrency(best.ccy, defaultCurrency)
		total = &best
		break
	}

	vat := []any{}
	for _, ln := range lines {
		m := reVAT.FindStringSubmatch(ln)
		if m == nil {
			continue
		}
		amt, err := importer.ParseAmountText(m[3])
		if err != nil {
			continue
		}
		vat = append(vat, storage.Doc{"rate": m[2] + "%", "amount": money.Format(amt.Abs())})
	}

	breakdown := storage.Doc{
		"merchant": 0.0,
		"date":     0.0,
		"total":    0.0,
		"vat":      0.0,
	}
	confidence := 0.0
	if merchant != "" {
		breakdown["merchant"] = 0.30
		confidence += 0.30
	}
	if date != "" {
		breakdown["date"] = 0.25
		confidence += 0.25
	}
	if total != nil {
		breakdown["total"] = 0.35
		confidence += 0.35
	}
	if len(vat) > 0 {
		breakdown["vat"] = 0.10
		confidence += 0.10
	}

	missing := []any{}
	if merchant == "" {
		missing = append(missing, "merchant")
	}
	if date == "" {
		missing = append(missing, "date")
	}
	if total == nil {
		missing = append(missing, "total")
	}

	out := storage.Doc{
		"type":     "receipt",
		"merchant": nullable(merchant),
		"date":     nullable(date),
		"total":    nil,
		"vat":      vat,
		"parser": storage.Doc{
			"name": "receipt_parser", "version": "2.0", "template": template,
		},
		"confidenceBreakdown": breakdown,
		"confidence":          round2(confidence),
		"missingFields":       missing,
		"needsReview":         confidence < 0.75 || len(missing) > 0,
	}
	if total != nil {
		out["total"] = storage.Doc{"value": money.Format(total.amt), "currency": total.ccy}
	}
	return out
}

// ParseBillText extracts vendor, amount due, dates and the invoice number
// from raw bill text.
func ParseBillText(text, defaultCurrency string) storage.Doc {
	lines := strings.Split(text, "\n")
	template := billTemplate(lines, text)
	vendor := guessMerchant(lines)
	date := firstDate(text)

	dueDate := ""
	if m := reDueLine.FindStringSubmatch(text); m != nil {
		dueDate = firstDate(m[2])
	}
	invoiceNo := ""
	if m := reInvoiceNo.FindStringSubmatch(text); m != nil {
		invoiceNo = m[3]
	}

	var amountDue *moneyCandidate
	var scan []string
	for _, ln := range lines {
		if reAmountDue.MatchString(ln) {
			scan = append(scan, ln)
		}
	}
	scan = append(scan, lines...)
	for _, ln := range scan {
		cands := findMoneyCandidates(ln)
		if len(cands) == 0 {
			continue
		}
		best := largestCandidate(cands)
		best.amt = best.amt.Abs()
		best.ccy = normalizeCurrency(best.ccy, defaultCurrency)
		amountDue = &best
		break
	}

	breakdown := storage.Doc{
		"vendor":        0.0,
		"amount":        0.0,
		"dates":         0.0,
		"invoiceNumber": 0.0,
	}
	confidence := 0.0
	if vendor != "" {
		breakdown["vendor"] = 0.25
		confidence += 0.25
	}
	if amountDue != nil {
		breakdown["amount"] = 0.40
		confidence += 0.40
	}
	if dueDate != "" || date != "" {
		breakdown["dates"] = 0.20
		confidence += 0.20
	}
	if invoiceNo != "" {
		breakdown["invoiceNumber"] = 0.15
		confidence += 0.15
	}

	missing := []any{}
	if vendor == "" {
		missing = append(missing, "vendor")
	}
	if amountDue == nil {
		missing = append(missing, "amount")
	}
	if dueDate == "" && date == "" {
		missing = append(missing, "date_or_dueDate")
	}

	references := storage.Doc{}
	if invoiceNo != "" {
		references["invoiceNumber"] = invoiceNo
	}

	out := storage.Doc{
		"type":       "bill",
		"vendor":     nullable(vendor),
		"date":       nullable(date),
		"dueDate":    nullable(dueDate),
		"amount":     nil,
		"references": references,
		"parser": storage.Doc{
			"name": "bill_parser", "version": "2.0", "template": template,
		},
		"confidenceBreakdown": breakdown,
		"confidence":          round2(confidence),
		"missingFields":       missing,
		"needsReview":         confidence < 0.75 || len(missing) > 0,
	}
	if amountDue != nil {
		out["amount"] = storage.Doc{"value": money.Format(amountDue.amt), "currency": amountDue.ccy}
	}
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
