package service

import (
	"context"
	"database/sql"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/jask/loanrecon/internal/config"
	"github.com/jask/loanrecon/internal/database/repository"
	"github.com/jask/loanrecon/internal/logging"
)

// PreviewRow is one proposed pair shown to a reviewer before committing.
type PreviewRow struct {
	BankTransaction          string     `json:"bank_transaction"`
	BankTransactionDate      string     `json:"bank_transaction_date"`
	BankTransactionAmount    string     `json:"bank_transaction_amount"`
	BankTransactionReference string     `json:"bank_transaction_reference"`
	LoanRepayment            string     `json:"loan_repayment"`
	LoanRepaymentAmount      string     `json:"loan_repayment_amount"`
	LoanRepaymentDate        string     `json:"loan_repayment_date"`
	Loan                     string     `json:"loan"`
	Applicant                string     `json:"applicant"`
	Confidence               Confidence `json:"confidence"`
}

// Engine is the call surface used by the CLI and the HTTP API.
type Engine struct {
	Matcher    *Matcher
	Reconciler *Reconciler
	GL         *GLBackfill
	// PreviewLimit applies when Preview is called with limit <= 0.
	PreviewLimit int
	// BatchLimit caps the pairs one AutoReconcile call commits; <= 0 is unbounded.
	BatchLimit int
	Logger     *zap.Logger
}

// AutoReconcile matches, selects and commits every pair for a bank account.
func (e *Engine) AutoReconcile(ctx context.Context, bankAccount string, from, to time.Time, opts ...Option) (Result, error) {
	picked, err := e.selected(ctx, bankAccount, from, to)
	if err != nil {
		return Result{}, err
	}
	if e.BatchLimit > 0 && len(picked) > e.BatchLimit {
		logging.OrNop(e.Logger).Info("auto reconcile capped",
			zap.String("bank_account", bankAccount),
			zap.Int("candidates", len(picked)),
			zap.Int("batch_limit", e.BatchLimit))
		picked = picked[:e.BatchLimit]
	}
	return e.Reconciler.Commit(ctx, picked, opts...)
}

// Preview lists the pairs AutoReconcile would commit, best first, without
// writing anything.
func (e *Engine) Preview(ctx context.Context, bankAccount string, from, to time.Time, limit int) ([]PreviewRow, error) {
	if limit <= 0 {
		limit = e.PreviewLimit
	}
	if limit <= 0 {
		limit = 100
	}
	picked, err := e.selected(ctx, bankAccount, from, to)
	if err != nil {
		return nil, err
	}
	if len(picked) > limit {
		picked = picked[:limit]
	}
	rows := make([]PreviewRow, 0, len(picked))
	for _, c := range picked {
		date := repository.FormatDate(c.Date)
		rows = append(rows, PreviewRow{
			BankTransaction:          c.BankTransaction,
			BankTransactionDate:      date,
			BankTransactionAmount:    c.Amount.String(),
			BankTransactionReference: c.BankReference,
			LoanRepayment:            c.LoanRepayment,
			LoanRepaymentAmount:      c.Amount.String(),
			LoanRepaymentDate:        date,
			Loan:                     c.Loan,
			Applicant:                c.Applicant,
			Confidence:               c.Confidence,
		})
	}
	return rows, nil
}

// ReconcileSelected commits the caller-approved bank transactions.
func (e *Engine) ReconcileSelected(ctx context.Context, transactionIDs []string, opts ...Option) ([]ItemResult, error) {
	return e.Reconciler.CommitSelected(ctx, transactionIDs, opts...)
}

// PreviewMissingGL reports repayments lacking ledger postings.
func (e *Engine) PreviewMissingGL(ctx context.Context) (MissingReport, error) {
	return e.GL.FindMissing(ctx)
}

// RegenerateGL posts missing ledger entries, at most limit of them when limit > 0.
func (e *Engine) RegenerateGL(ctx context.Context, limit int, progress func(Progress)) (RegenerateResult, error) {
	return e.GL.Regenerate(ctx, RegenerateOptions{Limit: limit, Progress: progress})
}

// MatchFilters returns the enabled linked document types.
func (e *Engine) MatchFilters() []string {
	if e.Matcher.DocumentTypes == nil {
		return slices.Clone(config.DefaultDocumentTypes)
	}
	return slices.Clone(e.Matcher.DocumentTypes)
}

func (e *Engine) selected(ctx context.Context, bankAccount string, from, to time.Time) ([]Candidate, error) {
	seq, err := e.Matcher.FindCandidates(ctx, Query{BankAccount: bankAccount, From: from, To: to})
	if err != nil {
		return nil, err
	}
	cands, err := Collect(seq)
	if err != nil {
		return nil, err
	}
	return Select(cands), nil
}

// NewEngine wires the matcher, reconciler and GL backfill over one store.
func NewEngine(db *sql.DB, rc config.ReconciliationConfig, gl config.GLConfig, logger *zap.Logger) *Engine {
	accounts := repository.NewBankAccountRepo(db)
	txs := repository.NewBankTransactionRepo(db)
	reps := repository.NewLoanRepaymentRepo(db)
	matcher := &Matcher{
		Accounts:      accounts,
		Transactions:  txs,
		Repayments:    reps,
		DocumentTypes: rc.DocumentTypes,
		Logger:        logger,
	}
	return &Engine{
		Matcher: matcher,
		Reconciler: &Reconciler{
			DB:           db,
			Transactions: txs,
			Repayments:   reps,
			Links:        repository.NewReconciliationRepo(db),
			Matcher:      matcher,
			Logger:       logger,
		},
		GL: &GLBackfill{
			DB:         db,
			Repayments: reps,
			Loans:      repository.NewLoanRepo(db),
			Entries:    repository.NewGLEntryRepo(db),
			Precision:  int32(gl.CurrencyPrecision),
			SampleSize: gl.SampleSize,
			Logger:     logger,
		},
		PreviewLimit: rc.PreviewLimit,
		BatchLimit:   rc.BatchLimit,
		Logger:       logger,
	}
}
