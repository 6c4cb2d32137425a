// Package reconcile cross-references ledger transactions against each other
// and against parsed source documents: duplicate detection and
// receipt/bill linking. All outcomes are recorded as correction events,
// never as in-place edits.
package reconcile

import (
	"regexp"
	"strings"
)

var reNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func normText(s string) string {
	return strings.TrimSpace(reNonAlnum.ReplaceAllString(strings.ToLower(s), " "))
}

// MerchantScore rates the similarity of two merchant strings in [0, 1]:
// exact match 1.0, substring 0.8, otherwise token Jaccard overlap.
func MerchantScore(a, b string) float64 {
	aa := normText(a)
	bb := normText(b)
	if aa == "" || bb == "" {
		return 0.0
	}
	if aa == bb {
		return 1.0
	}
	if strings.Contains(bb, aa) || strings.Contains(aa, bb) {
		return 0.8
	}
	ta := map[string]bool{}
	for _, t := range strings.Fields(aa) {
		ta[t] = true
	}
	tb := map[string]bool{}
	for _, t := range strings.Fields(bb) {
		tb[t] = true
	}
	inter := 0
	for t := range ta {
		if tb[t] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0.0
	}
	return float64(inter) / float64(union)
}
