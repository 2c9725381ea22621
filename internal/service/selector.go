package service

import (
	"cmp"
	"slices"
	"strings"
)

// Rank orders candidates best first: high confidence before medium, then
// earlier transaction date, then transaction id, then repayment id. The input
// is not modified.
func Rank(cands []Candidate) []Candidate {
	out := slices.Clone(cands)
	slices.SortStableFunc(out, func(a, b Candidate) int {
		if c := cmp.Compare(confidenceRank(a.Confidence), confidenceRank(b.Confidence)); c != 0 {
			return c
		}
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		if c := strings.Compare(a.BankTransaction, b.BankTransaction); c != 0 {
			return c
		}
		return strings.Compare(a.LoanRepayment, b.LoanRepayment)
	})
	return out
}

// Dedupe walks cands in order and keeps a candidate only when neither its
// bank transaction nor its repayment was claimed by an earlier one.
func Dedupe(cands []Candidate) []Candidate {
	usedTx := make(map[string]struct{}, len(cands))
	usedRep := make(map[string]struct{}, len(cands))
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if _, ok := usedTx[c.BankTransaction]; ok {
			continue
		}
		if _, ok := usedRep[c.LoanRepayment]; ok {
			continue
		}
		usedTx[c.BankTransaction] = struct{}{}
		usedRep[c.LoanRepayment] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Select ranks then dedupes, giving a one-to-one set of pairs.
func Select(cands []Candidate) []Candidate {
	return Dedupe(Rank(cands))
}

func confidenceRank(c Confidence) int {
	switch c {
	case ConfidenceHigh:
		return 0
	case ConfidenceMedium:
		return 1
	default:
		return 2
	}
}
