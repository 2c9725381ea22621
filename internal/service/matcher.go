package service

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jask/loanrecon/internal/database/repository"
	"github.com/jask/loanrecon/internal/logging"
)

// Confidence grades a candidate pair.
type Confidence string

const (
	// ConfidenceHigh means reference, amount and date all agree.
	ConfidenceHigh Confidence = "high"
	// ConfidenceMedium means amount and date agree without a reference match.
	ConfidenceMedium Confidence = "medium"
)

// Criteria records which checks a candidate passed.
type Criteria struct {
	Reference bool `json:"reference"`
	Amount    bool `json:"amount"`
	Date      bool `json:"date"`
}

// Candidate pairs one unreconciled bank deposit with one uncleared repayment.
type Candidate struct {
	BankTransaction     string          `json:"bank_transaction"`
	BankAccount         string          `json:"bank_account"`
	LoanRepayment       string          `json:"loan_repayment"`
	Date                time.Time       `json:"date"`
	Amount              decimal.Decimal `json:"amount"`
	BankReference       string          `json:"bank_reference"`
	RepaymentReference  string          `json:"repayment_reference"`
	Loan                string          `json:"loan"`
	Applicant           string          `json:"applicant"`
	Confidence          Confidence      `json:"confidence"`
	Criteria            Criteria        `json:"criteria"`
	ReferenceSimilarity float64         `json:"reference_similarity"`
}

// Query selects the bank deposits to match. Zero From/To leave that end of
// the range open.
type Query struct {
	BankAccount string
	From        time.Time
	To          time.Time
}

// Matcher finds candidate pairs between bank deposits and loan repayments.
// It never writes to the store.
type Matcher struct {
	Accounts     *repository.BankAccountRepo
	Transactions *repository.BankTransactionRepo
	Repayments   *repository.LoanRepaymentRepo
	// DocumentTypes is the enabled set of linked document types. nil enables
	// everything; a set without "loan_repayment" turns the matcher off.
	DocumentTypes []string
	Logger        *zap.Logger
}

// FindCandidates validates q and returns a lazy sequence of candidates.
// Each range over the sequence reads the store again, so it reflects the
// state at iteration time. A read failure is yielded once as an error
// wrapping ErrPersistence and ends the sequence.
func (m *Matcher) FindCandidates(ctx context.Context, q Query) (iter.Seq2[Candidate, error], error) {
	account, err := m.validate(ctx, q)
	if err != nil {
		return nil, err
	}
	return func(yield func(Candidate, error) bool) {
		if !m.enabled() {
			logging.OrNop(m.Logger).Debug("loan repayment matching disabled by document type filter",
				zap.Strings("document_types", m.DocumentTypes))
			return
		}
		txs, err := m.Transactions.ListUnreconciled(ctx, repository.UnreconciledFilter{
			BankAccountID: account.ID,
			From:          q.From,
			To:            q.To,
		})
		if err != nil {
			yield(Candidate{}, fmt.Errorf("list bank transactions: %w: %w", ErrPersistence, err))
			return
		}
		if len(txs) == 0 {
			return
		}
		reps, err := m.Repayments.ListMatchable(ctx, repository.RepaymentFilter{
			PaymentAccount: account.GLAccount,
			From:           q.From,
			To:             q.To,
		})
		if err != nil {
			yield(Candidate{}, fmt.Errorf("list loan repayments: %w: %w", ErrPersistence, err))
			return
		}
		byDay := groupByDay(reps)
		for _, t := range txs {
			for _, c := range matchTransaction(t, byDay[repository.FormatDate(t.Date)]) {
				if !yield(c, nil) {
					return
				}
			}
		}
	}, nil
}

// Collect drains a candidate sequence, stopping at the first error.
func Collect(seq iter.Seq2[Candidate, error]) ([]Candidate, error) {
	var out []Candidate
	for c, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// CandidatesFor returns the candidates of a single bank transaction using
// the same rules as FindCandidates. A transaction that is no longer open
// has none.
func (m *Matcher) CandidatesFor(ctx context.Context, t repository.BankTransaction) ([]Candidate, error) {
	if !m.enabled() || !t.Unreconciled() || !t.Deposit.IsPositive() {
		return nil, nil
	}
	account, err := m.Accounts.Get(ctx, t.BankAccountID)
	if err != nil {
		return nil, fmt.Errorf("load bank account: %w: %w", ErrPersistence, err)
	}
	var paymentAccount string
	if account != nil {
		paymentAccount = account.GLAccount
	}
	reps, err := m.Repayments.ListMatchable(ctx, repository.RepaymentFilter{
		PaymentAccount: paymentAccount,
		From:           t.Date,
		To:             t.Date,
	})
	if err != nil {
		return nil, fmt.Errorf("list loan repayments: %w: %w", ErrPersistence, err)
	}
	return matchTransaction(t, reps), nil
}

func (m *Matcher) validate(ctx context.Context, q Query) (*repository.BankAccount, error) {
	if strings.TrimSpace(q.BankAccount) == "" {
		return nil, fmt.Errorf("bank account is required: %w", ErrValidation)
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		return nil, fmt.Errorf("from date %s is after to date %s: %w",
			repository.FormatDate(q.From), repository.FormatDate(q.To), ErrValidation)
	}
	account, err := m.Accounts.Get(ctx, strings.TrimSpace(q.BankAccount))
	if err != nil {
		return nil, fmt.Errorf("load bank account: %w: %w", ErrPersistence, err)
	}
	if account == nil {
		return nil, fmt.Errorf("unknown bank account %q: %w", q.BankAccount, ErrValidation)
	}
	return account, nil
}

func (m *Matcher) enabled() bool {
	if m.DocumentTypes == nil {
		return true
	}
	return slices.Contains(m.DocumentTypes, repository.DocTypeLoanRepayment)
}

func groupByDay(reps []repository.LoanRepayment) map[string][]repository.LoanRepayment {
	out := make(map[string][]repository.LoanRepayment)
	for _, r := range reps {
		if !r.AmountPaid.IsPositive() {
			continue
		}
		key := repository.FormatDate(r.PostingDate)
		out[key] = append(out[key], r)
	}
	return out
}

// matchTransaction applies the pairing rule to one deposit. Repayments on the
// same day with the same amount are candidates; when more than one qualifies
// only those whose reference equals the deposit's reference are kept, and an
// ambiguous tie without a reference yields nothing.
func matchTransaction(t repository.BankTransaction, sameDay []repository.LoanRepayment) []Candidate {
	var hits []repository.LoanRepayment
	for _, r := range sameDay {
		if r.AmountPaid.IsPositive() && r.AmountPaid.Equal(t.Deposit) && repository.SameDay(r.PostingDate, t.Date) {
			hits = append(hits, r)
		}
	}
	ref := t.Reference()
	if len(hits) > 1 {
		if ref == "" {
			return nil
		}
		hits = slices.DeleteFunc(hits, func(r repository.LoanRepayment) bool {
			return r.Reference() != ref
		})
	}
	out := make([]Candidate, 0, len(hits))
	for _, r := range hits {
		refMatch := ref != "" && r.Reference() == ref
		conf := ConfidenceMedium
		if refMatch {
			conf = ConfidenceHigh
		}
		out = append(out, Candidate{
			BankTransaction:     t.ID,
			BankAccount:         t.BankAccountID,
			LoanRepayment:       r.ID,
			Date:                t.Date,
			Amount:              t.Deposit,
			BankReference:       ref,
			RepaymentReference:  r.Reference(),
			Loan:                r.LoanID,
			Applicant:           r.Applicant,
			Confidence:          conf,
			Criteria:            Criteria{Reference: refMatch, Amount: true, Date: true},
			ReferenceSimilarity: ReferenceSimilarity(ref, r.Reference()),
		})
	}
	return out
}

// ReferenceSimilarity scores two references between 0 and 1 by
// case-insensitive edit distance. It is informational only.
func ReferenceSimilarity(a, b string) float64 {
	a, b = strings.ToUpper(strings.TrimSpace(a)), strings.ToUpper(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	maxlen := max(len(a), len(b))
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxlen)
}
