package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jask/loanrecon/internal/database"
	"github.com/jask/loanrecon/internal/database/repository"
	"github.com/jask/loanrecon/internal/logging"
)

// ItemStatus is the outcome of committing one pair.
type ItemStatus string

const (
	StatusReconciled ItemStatus = "reconciled"
	StatusSkipped    ItemStatus = "skipped"
	StatusFailed     ItemStatus = "failed"
)

// ItemResult reports what happened to one bank transaction.
type ItemResult struct {
	Transaction string     `json:"transaction"`
	Repayment   string     `json:"repayment,omitempty"`
	Status      ItemStatus `json:"status"`
	Reason      string     `json:"reason,omitempty"`
}

// Result aggregates a commit batch.
type Result struct {
	TotalProcessed int          `json:"total_processed"`
	Reconciled     int          `json:"reconciled"`
	Skipped        int          `json:"skipped"`
	Failed         int          `json:"failed"`
	Details        []ItemResult `json:"details,omitempty"`
}

func (r *Result) add(item ItemResult) {
	r.TotalProcessed++
	switch item.Status {
	case StatusReconciled:
		r.Reconciled++
	case StatusSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
	r.Details = append(r.Details, item)
}

// Progress is reported after each item of a batch.
type Progress struct {
	Done  int
	Total int
	Last  ItemStatus
}

// Option configures a batch call.
type Option func(*batchOptions)

type batchOptions struct {
	progress func(Progress)
}

// WithProgress registers a callback invoked after every processed item.
func WithProgress(fn func(Progress)) Option {
	return func(o *batchOptions) { o.progress = fn }
}

func applyOptions(opts []Option) batchOptions {
	var o batchOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Reconciler commits candidate pairs. Each pair is re-checked and written in
// its own transaction; a failed pair never undoes earlier ones.
type Reconciler struct {
	DB           *sql.DB
	Transactions *repository.BankTransactionRepo
	Repayments   *repository.LoanRepaymentRepo
	Links        *repository.ReconciliationRepo
	Matcher      *Matcher
	Logger       *zap.Logger

	locks keyedMutex
}

// Commit links every candidate it can. Candidates whose records moved on since
// matching are skipped; store failures are counted as failed and the batch
// continues. The only call-level errors are an unreachable store and a
// cancelled context, in which case the counts so far are still returned.
func (r *Reconciler) Commit(ctx context.Context, cands []Candidate, opts ...Option) (Result, error) {
	o := applyOptions(opts)
	if err := r.ping(ctx); err != nil {
		return Result{}, err
	}

	accounts := make([]string, 0, len(cands))
	for _, c := range cands {
		accounts = append(accounts, c.BankAccount)
	}
	unlock := r.locks.Lock(accounts...)
	defer unlock()

	res := Result{}
	for i, c := range cands {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		item := r.commitOne(ctx, c)
		res.add(item)
		if o.progress != nil {
			o.progress(Progress{Done: i + 1, Total: len(cands), Last: item.Status})
		}
	}
	r.logger().Info("reconciliation batch committed",
		zap.Int("total", res.TotalProcessed),
		zap.Int("reconciled", res.Reconciled),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
	return res, nil
}

// CommitSelected reconciles the given bank transactions against their best
// current candidate. Unknown ids fail; ids without a candidate are skipped.
func (r *Reconciler) CommitSelected(ctx context.Context, transactionIDs []string, opts ...Option) ([]ItemResult, error) {
	if len(transactionIDs) == 0 {
		return nil, fmt.Errorf("no bank transactions selected: %w", ErrValidation)
	}
	o := applyOptions(opts)
	if err := r.ping(ctx); err != nil {
		return nil, err
	}

	out := make([]ItemResult, 0, len(transactionIDs))
	for i, raw := range transactionIDs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		item := r.commitSelectedOne(ctx, strings.TrimSpace(raw))
		out = append(out, item)
		if o.progress != nil {
			o.progress(Progress{Done: i + 1, Total: len(transactionIDs), Last: item.Status})
		}
	}
	return out, nil
}

func (r *Reconciler) commitSelectedOne(ctx context.Context, id string) ItemResult {
	if id == "" {
		return ItemResult{Transaction: id, Status: StatusFailed, Reason: fmt.Errorf("empty bank transaction id: %w", ErrNotFound).Error()}
	}
	t, err := r.Transactions.Get(ctx, id)
	if err != nil {
		return r.failed(Candidate{BankTransaction: id}, fmt.Errorf("load bank transaction: %w: %w", ErrPersistence, err))
	}
	if t == nil {
		return r.failed(Candidate{BankTransaction: id}, fmt.Errorf("bank transaction %s: %w", id, ErrNotFound))
	}

	unlock := r.locks.Lock(t.BankAccountID)
	defer unlock()

	if !t.Unreconciled() {
		return ItemResult{Transaction: id, Status: StatusSkipped, Reason: "bank transaction is already " + t.Status}
	}
	cands, err := r.Matcher.CandidatesFor(ctx, *t)
	if err != nil {
		return r.failed(Candidate{BankTransaction: id}, err)
	}
	picked := Select(cands)
	if len(picked) == 0 {
		return ItemResult{Transaction: id, Status: StatusSkipped, Reason: "no matching loan repayment"}
	}
	return r.commitOne(ctx, picked[0])
}

// commitOne re-checks and writes a single pair atomically.
func (r *Reconciler) commitOne(ctx context.Context, c Candidate) ItemResult {
	err := database.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		txs := r.Transactions.WithTx(tx)
		reps := r.Repayments.WithTx(tx)
		links := r.Links.WithTx(tx)

		t, err := txs.Get(ctx, c.BankTransaction)
		if err != nil {
			return fmt.Errorf("load bank transaction: %w: %w", ErrPersistence, err)
		}
		if t == nil {
			return fmt.Errorf("bank transaction %s: %w", c.BankTransaction, ErrNotFound)
		}
		lr, err := reps.Get(ctx, c.LoanRepayment)
		if err != nil {
			return fmt.Errorf("load loan repayment: %w: %w", ErrPersistence, err)
		}
		if lr == nil {
			return fmt.Errorf("loan repayment %s: %w", c.LoanRepayment, ErrNotFound)
		}
		if err := recheck(ctx, links, *t, *lr, c); err != nil {
			return err
		}

		ok, err := txs.MarkReconciled(ctx, t.ID, repository.DocTypeLoanRepayment, lr.ID)
		if err != nil {
			return fmt.Errorf("update bank transaction: %w: %w", ErrPersistence, err)
		}
		if !ok {
			return fmt.Errorf("bank transaction %s no longer unreconciled: %w", t.ID, ErrStateConflict)
		}
		ok, err = reps.MarkCleared(ctx, lr.ID, t.Date)
		if err != nil {
			return fmt.Errorf("update loan repayment: %w: %w", ErrPersistence, err)
		}
		if !ok {
			return fmt.Errorf("loan repayment %s already cleared: %w", lr.ID, ErrStateConflict)
		}
		if err := links.Add(ctx, repository.ReconciliationLink{
			ID:                uuid.NewString(),
			BankTransactionID: t.ID,
			LoanRepaymentID:   lr.ID,
			DocumentType:      repository.DocTypeLoanRepayment,
			Amount:            t.Deposit,
		}); err != nil {
			return fmt.Errorf("insert reconciliation link: %w: %w", ErrPersistence, err)
		}
		return nil
	})

	switch {
	case err == nil:
		r.logger().Debug("reconciled",
			zap.String("bank_transaction", c.BankTransaction),
			zap.String("loan_repayment", c.LoanRepayment),
			zap.String("amount", c.Amount.String()))
		return ItemResult{Transaction: c.BankTransaction, Repayment: c.LoanRepayment, Status: StatusReconciled}
	case errors.Is(err, ErrStateConflict):
		r.logger().Info("reconciliation skipped",
			zap.String("bank_transaction", c.BankTransaction),
			zap.String("loan_repayment", c.LoanRepayment),
			zap.Error(err))
		return ItemResult{Transaction: c.BankTransaction, Repayment: c.LoanRepayment, Status: StatusSkipped, Reason: err.Error()}
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPersistence):
		return r.failed(c, err)
	default:
		// begin/commit failures surface unwrapped from WithTx
		return r.failed(c, fmt.Errorf("%w: %w", ErrPersistence, err))
	}
}

// recheck verifies inside the write transaction that both records are still
// in the state the candidate was built from.
func recheck(ctx context.Context, links *repository.ReconciliationRepo, t repository.BankTransaction, lr repository.LoanRepayment, c Candidate) error {
	if !t.Unreconciled() {
		return fmt.Errorf("bank transaction %s is %s: %w", t.ID, t.Status, ErrStateConflict)
	}
	if lr.ClearanceDate != nil {
		return fmt.Errorf("loan repayment %s already cleared: %w", lr.ID, ErrStateConflict)
	}
	if !t.Deposit.Equal(c.Amount) || !lr.AmountPaid.Equal(t.Deposit) {
		return fmt.Errorf("amount changed for %s / %s: %w", t.ID, lr.ID, ErrStateConflict)
	}
	if l, err := links.ActiveForTransaction(ctx, t.ID); err != nil {
		return fmt.Errorf("load link: %w: %w", ErrPersistence, err)
	} else if l != nil {
		return fmt.Errorf("bank transaction %s already linked: %w", t.ID, ErrStateConflict)
	}
	if l, err := links.ActiveForRepayment(ctx, lr.ID); err != nil {
		return fmt.Errorf("load link: %w: %w", ErrPersistence, err)
	} else if l != nil {
		return fmt.Errorf("loan repayment %s already linked: %w", lr.ID, ErrStateConflict)
	}
	return nil
}

func (r *Reconciler) failed(c Candidate, err error) ItemResult {
	r.logger().Error("reconciliation failed",
		zap.String("bank_transaction", c.BankTransaction),
		zap.String("loan_repayment", c.LoanRepayment),
		zap.Error(err))
	return ItemResult{Transaction: c.BankTransaction, Repayment: c.LoanRepayment, Status: StatusFailed, Reason: err.Error()}
}

func (r *Reconciler) ping(ctx context.Context) error {
	if err := r.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("store unreachable: %w: %w", ErrPersistence, err)
	}
	return nil
}

func (r *Reconciler) logger() *zap.Logger { return logging.OrNop(r.Logger) }
