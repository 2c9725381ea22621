package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jask/loanrecon/internal/database"
	"github.com/jask/loanrecon/internal/database/repository"
	"github.com/jask/loanrecon/internal/logging"
)

// MonthSummary aggregates missing postings for one YYYY-MM.
type MonthSummary struct {
	Month  string          `json:"month"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// MissingRepayment is the report view of a repayment lacking GL entries.
type MissingRepayment struct {
	ID          string          `json:"name"`
	Loan        string          `json:"against_loan"`
	Applicant   string          `json:"applicant"`
	PostingDate string          `json:"posting_date"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
}

// MissingReport lists repayments without GL postings.
type MissingReport struct {
	TotalCount  int                `json:"total_count"`
	TotalAmount decimal.Decimal    `json:"total_amount"`
	ByMonth     []MonthSummary     `json:"by_month"`
	Sample      []MissingRepayment `json:"sample"`
	// Repayments holds every missing repayment ordered by id.
	Repayments []MissingRepayment `json:"-"`
}

// RegenerateOptions controls a backfill run.
type RegenerateOptions struct {
	// Limit caps the number of repayments processed; <= 0 processes all.
	Limit    int
	DryRun   bool
	Progress func(Progress)
}

// RegenerateError names a repayment whose posting failed.
type RegenerateError struct {
	Repayment string `json:"name"`
	Error     string `json:"error"`
}

// RegenerateResult aggregates a backfill run.
type RegenerateResult struct {
	Processed    int               `json:"processed"`
	Success      int               `json:"success"`
	Skipped      int               `json:"skipped"`
	Errors       int               `json:"errors"`
	TotalAmount  decimal.Decimal   `json:"total_amount"`
	ErrorDetails []RegenerateError `json:"error_details,omitempty"`
}

// GLBackfill finds repayments whose ledger posting is missing and posts them.
type GLBackfill struct {
	DB         *sql.DB
	Repayments *repository.LoanRepaymentRepo
	Loans      *repository.LoanRepo
	Entries    *repository.GLEntryRepo
	// Precision is the number of decimal places postings are rounded to.
	Precision  int32
	SampleSize int
	Logger     *zap.Logger

	mu sync.Mutex
}

// FindMissing reports every repayment without a GL posting.
func (g *GLBackfill) FindMissing(ctx context.Context) (MissingReport, error) {
	reps, err := g.Repayments.ListMissingGL(ctx, 0)
	if err != nil {
		return MissingReport{}, fmt.Errorf("list repayments missing gl: %w: %w", ErrPersistence, err)
	}

	sampleSize := g.SampleSize
	if sampleSize <= 0 {
		sampleSize = 20
	}
	report := MissingReport{TotalAmount: decimal.Zero}
	months := map[string]*MonthSummary{}
	for _, lr := range reps {
		item := MissingRepayment{
			ID:          lr.ID,
			Loan:        lr.LoanID,
			Applicant:   lr.Applicant,
			PostingDate: repository.FormatDate(lr.PostingDate),
			AmountPaid:  lr.AmountPaid,
		}
		report.Repayments = append(report.Repayments, item)
		if len(report.Sample) < sampleSize {
			report.Sample = append(report.Sample, item)
		}
		report.TotalCount++
		report.TotalAmount = report.TotalAmount.Add(lr.AmountPaid)

		key := lr.PostingDate.Format("2006-01")
		m, ok := months[key]
		if !ok {
			m = &MonthSummary{Month: key, Amount: decimal.Zero}
			months[key] = m
		}
		m.Count++
		m.Amount = m.Amount.Add(lr.AmountPaid)
	}
	for _, m := range months {
		report.ByMonth = append(report.ByMonth, *m)
	}
	slices.SortFunc(report.ByMonth, func(a, b MonthSummary) int { return strings.Compare(a.Month, b.Month) })
	return report, nil
}

// StatusPosted is the progress status of a repayment whose entries were
// written, or would be in a dry run.
const StatusPosted ItemStatus = "success"

var errNothingToPost = errors.New("nothing to post")

// Regenerate posts missing GL entries in repayment id order. A repayment posted
// since the scan is skipped; a posting failure is recorded and the run goes
// on. Only one run executes at a time.
func (g *GLBackfill) Regenerate(ctx context.Context, opts RegenerateOptions) (RegenerateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	res := RegenerateResult{TotalAmount: decimal.Zero}
	if err := g.DB.PingContext(ctx); err != nil {
		return res, fmt.Errorf("store unreachable: %w: %w", ErrPersistence, err)
	}
	reps, err := g.Repayments.ListMissingGL(ctx, opts.Limit)
	if err != nil {
		return res, fmt.Errorf("list repayments missing gl: %w: %w", ErrPersistence, err)
	}

	for i, lr := range reps {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		status := g.regenerateOne(ctx, lr, opts.DryRun, &res)
		if opts.Progress != nil {
			opts.Progress(Progress{Done: i + 1, Total: len(reps), Last: status})
		}
	}
	g.logger().Info("gl backfill finished",
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("processed", res.Processed),
		zap.Int("success", res.Success),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", res.Errors),
		zap.String("total_amount", res.TotalAmount.String()))
	return res, nil
}

func (g *GLBackfill) regenerateOne(ctx context.Context, lr repository.LoanRepayment, dryRun bool, res *RegenerateResult) ItemStatus {
	res.Processed++
	var err error
	if dryRun {
		err = g.check(ctx, lr.ID)
	} else {
		err = g.post(ctx, lr.ID)
	}
	switch {
	case err == nil:
		res.Success++
		res.TotalAmount = res.TotalAmount.Add(lr.AmountPaid)
		return StatusPosted
	case errors.Is(err, ErrStateConflict), errors.Is(err, errNothingToPost):
		res.Skipped++
		g.logger().Info("gl posting skipped", zap.String("loan_repayment", lr.ID), zap.Error(err))
		return StatusSkipped
	default:
		res.Errors++
		res.ErrorDetails = append(res.ErrorDetails, RegenerateError{Repayment: lr.ID, Error: err.Error()})
		g.logger().Error("gl posting failed", zap.String("loan_repayment", lr.ID), zap.Error(err))
		return StatusFailed
	}
}

// check runs the posting preconditions without writing.
func (g *GLBackfill) check(ctx context.Context, id string) error {
	lr, err := g.Repayments.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load loan repayment: %w: %w", ErrPersistence, err)
	}
	if lr == nil {
		return fmt.Errorf("loan repayment %s: %w", id, ErrNotFound)
	}
	if lr.GLPosted {
		return fmt.Errorf("loan repayment %s already posted: %w", id, ErrStateConflict)
	}
	n, err := g.Entries.CountForVoucher(ctx, repository.DocTypeLoanRepayment, id)
	if err != nil {
		return fmt.Errorf("count gl entries: %w: %w", ErrPersistence, err)
	}
	if n > 0 {
		return fmt.Errorf("gl entries already exist (%d entries): %w", n, ErrStateConflict)
	}
	_, err = g.legs(ctx, g.Loans, *lr)
	return err
}

// post writes both legs and flips the posted flag in one transaction. A
// repayment that already has entries only gets its flag set.
func (g *GLBackfill) post(ctx context.Context, id string) error {
	var existing int
	err := database.WithTx(ctx, g.DB, func(tx *sql.Tx) error {
		reps := g.Repayments.WithTx(tx)
		entries := g.Entries.WithTx(tx)

		lr, err := reps.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("load loan repayment: %w: %w", ErrPersistence, err)
		}
		if lr == nil {
			return fmt.Errorf("loan repayment %s: %w", id, ErrNotFound)
		}
		ok, err := reps.MarkGLPosted(ctx, id)
		if err != nil {
			return fmt.Errorf("set gl posted: %w: %w", ErrPersistence, err)
		}
		if !ok {
			return fmt.Errorf("loan repayment %s already posted: %w", id, ErrStateConflict)
		}
		existing, err = entries.CountForVoucher(ctx, repository.DocTypeLoanRepayment, id)
		if err != nil {
			return fmt.Errorf("count gl entries: %w: %w", ErrPersistence, err)
		}
		if existing > 0 {
			return nil
		}
		legs, err := g.legs(ctx, g.Loans.WithTx(tx), *lr)
		if err != nil {
			return err
		}
		for _, e := range legs {
			if err := entries.Insert(ctx, e); err != nil {
				return fmt.Errorf("insert gl entry: %w: %w", ErrPersistence, err)
			}
		}
		return nil
	})
	if err == nil && existing > 0 {
		return fmt.Errorf("gl entries already exist (%d entries): %w", existing, ErrStateConflict)
	}
	if err != nil && !errors.Is(err, ErrStateConflict) && !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrPersistence) && !errors.Is(err, ErrValidation) && !errors.Is(err, errNothingToPost) {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return err
}

// legs builds the debit (payment account) and credit (loan account) entries.
// Accounts fall back to the loan's when the repayment has none.
func (g *GLBackfill) legs(ctx context.Context, loans *repository.LoanRepo, lr repository.LoanRepayment) ([]repository.GLEntry, error) {
	paymentAccount := deref(lr.PaymentAccount)
	loanAccount := deref(lr.LoanAccount)
	if paymentAccount == "" || loanAccount == "" {
		loan, err := loans.Get(ctx, lr.LoanID)
		if err != nil {
			return nil, fmt.Errorf("load loan: %w: %w", ErrPersistence, err)
		}
		if loan != nil {
			if paymentAccount == "" {
				paymentAccount = loan.PaymentAccount
			}
			if loanAccount == "" {
				loanAccount = loan.LoanAccount
			}
		}
	}
	if paymentAccount == "" || loanAccount == "" {
		return nil, fmt.Errorf("missing payment_account (%q) or loan_account (%q): %w", paymentAccount, loanAccount, ErrValidation)
	}

	amount := g.postingAmount(lr)
	if !amount.IsPositive() {
		return nil, errNothingToPost
	}

	remarks := "Loan Repayment against Loan: " + lr.LoanID
	loanID := lr.LoanID
	applicantType := lr.ApplicantType
	applicant := lr.Applicant
	debit := repository.GLEntry{
		ID:             uuid.NewString(),
		VoucherType:    repository.DocTypeLoanRepayment,
		VoucherNo:      lr.ID,
		Account:        paymentAccount,
		Against:        loanAccount,
		Debit:          amount,
		Credit:         decimal.Zero,
		AgainstVoucher: &loanID,
		Remarks:        remarks,
		CostCenter:     lr.CostCenter,
		PostingDate:    lr.PostingDate,
	}
	credit := repository.GLEntry{
		ID:             uuid.NewString(),
		VoucherType:    repository.DocTypeLoanRepayment,
		VoucherNo:      lr.ID,
		Account:        loanAccount,
		Against:        paymentAccount,
		PartyType:      &applicantType,
		Party:          &applicant,
		Debit:          decimal.Zero,
		Credit:         amount,
		AgainstVoucher: &loanID,
		Remarks:        remarks,
		CostCenter:     lr.CostCenter,
		PostingDate:    lr.PostingDate,
	}
	return []repository.GLEntry{debit, credit}, nil
}

// postingAmount is the principal paid when present and positive, otherwise
// the amount paid, rounded to the configured precision.
func (g *GLBackfill) postingAmount(lr repository.LoanRepayment) decimal.Decimal {
	if lr.PrincipalAmountPaid.Valid {
		if p := lr.PrincipalAmountPaid.Decimal.Round(g.Precision); p.IsPositive() {
			return p
		}
	}
	return lr.AmountPaid.Round(g.Precision)
}

func (g *GLBackfill) logger() *zap.Logger { return logging.OrNop(g.Logger) }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
