package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// RepaymentFilter narrows repayments eligible for bank matching. An empty
// PaymentAccount matches every repayment; otherwise repayments posted to a
// different payment account are excluded (unset payment accounts still match).
type RepaymentFilter struct {
	PaymentAccount string
	From           time.Time
	To             time.Time
}

// LoanRepaymentRepo handles loan repayments.
type LoanRepaymentRepo struct{ db DBTX }

func NewLoanRepaymentRepo(db DBTX) *LoanRepaymentRepo { return &LoanRepaymentRepo{db: db} }

// WithTx returns a repo bound to tx.
func (r *LoanRepaymentRepo) WithTx(tx *sql.Tx) *LoanRepaymentRepo {
	return &LoanRepaymentRepo{db: tx}
}

const loanRepaymentColumns = `id, loan_id, applicant_type, applicant, posting_date, amount_paid, principal_amount_paid, reference_number, payment_account, loan_account, cost_center, repay_from_salary, clearance_date, gl_posted, created_at, updated_at`

func (r *LoanRepaymentRepo) Insert(ctx context.Context, lr LoanRepayment) error {
	var principal any
	if lr.PrincipalAmountPaid.Valid {
		principal = lr.PrincipalAmountPaid.Decimal.String()
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO loan_repayments(
	 id, loan_id, applicant_type, applicant, posting_date, amount_paid, principal_amount_paid,
	 reference_number, payment_account, loan_account, cost_center, repay_from_salary,
	 clearance_date, gl_posted, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`,
		lr.ID, lr.LoanID, lr.ApplicantType, lr.Applicant, FormatDate(lr.PostingDate), lr.AmountPaid.String(), principal,
		lr.ReferenceNumber, lr.PaymentAccount, lr.LoanAccount, lr.CostCenter, lr.RepayFromSalary,
		nullDate(lr.ClearanceDate), lr.GLPosted)
	return err
}

// Get returns nil, nil when the repayment does not exist.
func (r *LoanRepaymentRepo) Get(ctx context.Context, id string) (*LoanRepayment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+loanRepaymentColumns+` FROM loan_repayments WHERE id = ?`, id)
	lr, err := scanLoanRepayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &lr, nil
}

// ListMatchable returns uncleared, unlinked repayments that can settle a bank
// deposit, ordered by posting date then id. Salary-deducted repayments never
// reach the bank and are left out.
func (r *LoanRepaymentRepo) ListMatchable(ctx context.Context, f RepaymentFilter) ([]LoanRepayment, error) {
	where := []string{
		"lr.clearance_date IS NULL",
		"lr.repay_from_salary = 0",
		"NOT EXISTS (SELECT 1 FROM reconciliation_links l WHERE l.loan_repayment_id = lr.id AND l.reversed_at IS NULL)",
	}
	var args []any
	if f.PaymentAccount != "" {
		where = append(where, "(lr.payment_account IS NULL OR lr.payment_account = '' OR lr.payment_account = ?)")
		args = append(args, f.PaymentAccount)
	}
	if !f.From.IsZero() {
		where = append(where, "lr.posting_date >= ?")
		args = append(args, FormatDate(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "lr.posting_date <= ?")
		args = append(args, FormatDate(f.To))
	}
	query := "SELECT " + prefixed("lr", loanRepaymentColumns) + " FROM loan_repayments lr WHERE " +
		strings.Join(where, " AND ") + " ORDER BY lr.posting_date ASC, lr.id ASC"
	return r.list(ctx, query, args...)
}

// ListMissingGL returns repayments without a GL posting, ordered by id.
// limit <= 0 returns all of them.
func (r *LoanRepaymentRepo) ListMissingGL(ctx context.Context, limit int) ([]LoanRepayment, error) {
	query := `SELECT ` + loanRepaymentColumns + ` FROM loan_repayments WHERE gl_posted = 0 ORDER BY id ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.list(ctx, query, args...)
}

// MarkCleared sets the clearance date on an uncleared repayment. It reports
// false when the repayment had already been cleared.
func (r *LoanRepaymentRepo) MarkCleared(ctx context.Context, id string, on time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
	UPDATE loan_repayments SET clearance_date = ?, updated_at = CURRENT_TIMESTAMP
	WHERE id = ? AND clearance_date IS NULL
	`, FormatDate(on), id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// MarkGLPosted sets the GL-posted flag. It reports false when the flag was
// already set.
func (r *LoanRepaymentRepo) MarkGLPosted(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
	UPDATE loan_repayments SET gl_posted = 1, updated_at = CURRENT_TIMESTAMP
	WHERE id = ? AND gl_posted = 0
	`, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *LoanRepaymentRepo) list(ctx context.Context, query string, args ...any) ([]LoanRepayment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LoanRepayment
	for rows.Next() {
		lr, err := scanLoanRepayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lr)
	}
	return out, rows.Err()
}

func scanLoanRepayment(row scanner) (LoanRepayment, error) {
	var lr LoanRepayment
	var posting string
	var ref, payment, loanAcct, cost, clearance sql.NullString
	if err := row.Scan(&lr.ID, &lr.LoanID, &lr.ApplicantType, &lr.Applicant, &posting, &lr.AmountPaid,
		&lr.PrincipalAmountPaid, &ref, &payment, &loanAcct, &cost, &lr.RepayFromSalary, &clearance,
		&lr.GLPosted, &lr.CreatedAt, &lr.UpdatedAt); err != nil {
		return LoanRepayment{}, err
	}
	d, err := ParseDate(posting)
	if err != nil {
		return LoanRepayment{}, err
	}
	lr.PostingDate = d
	if clearance.Valid && clearance.String != "" {
		c, err := ParseDate(clearance.String)
		if err != nil {
			return LoanRepayment{}, err
		}
		lr.ClearanceDate = &c
	}
	lr.ReferenceNumber = nullableString(ref)
	lr.PaymentAccount = nullableString(payment)
	lr.LoanAccount = nullableString(loanAcct)
	lr.CostCenter = nullableString(cost)
	return lr, nil
}
