package repository

import (
	"context"
	"database/sql"
	"errors"
)

// LoanRepo handles loans.
type LoanRepo struct{ db DBTX }

func NewLoanRepo(db DBTX) *LoanRepo { return &LoanRepo{db: db} }

// WithTx returns a repo bound to tx.
func (r *LoanRepo) WithTx(tx *sql.Tx) *LoanRepo { return &LoanRepo{db: tx} }

func (r *LoanRepo) Upsert(ctx context.Context, l Loan) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO loans(id, applicant_type, applicant, loan_account, payment_account, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
	 applicant_type=excluded.applicant_type,
	 applicant=excluded.applicant,
	 loan_account=excluded.loan_account,
	 payment_account=excluded.payment_account,
	 updated_at=CURRENT_TIMESTAMP;
	`, l.ID, l.ApplicantType, l.Applicant, l.LoanAccount, l.PaymentAccount)
	return err
}

// Get returns nil, nil when the loan does not exist.
func (r *LoanRepo) Get(ctx context.Context, id string) (*Loan, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, applicant_type, applicant, loan_account, payment_account, created_at, updated_at FROM loans WHERE id = ?`, id)
	var l Loan
	if err := row.Scan(&l.ID, &l.ApplicantType, &l.Applicant, &l.LoanAccount, &l.PaymentAccount, &l.CreatedAt, &l.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}
