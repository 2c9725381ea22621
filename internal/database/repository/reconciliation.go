package repository

import (
	"context"
	"database/sql"
	"errors"
)

// ReconciliationRepo handles reconciliation links.
type ReconciliationRepo struct{ db DBTX }

func NewReconciliationRepo(db DBTX) *ReconciliationRepo { return &ReconciliationRepo{db: db} }

// WithTx returns a repo bound to tx.
func (r *ReconciliationRepo) WithTx(tx *sql.Tx) *ReconciliationRepo {
	return &ReconciliationRepo{db: tx}
}

const linkColumns = `id, bank_transaction_id, loan_repayment_id, document_type, amount, created_at, reversed_at`

// Add inserts a link. The partial unique indexes reject a second active
// link for either side.
func (r *ReconciliationRepo) Add(ctx context.Context, l ReconciliationLink) error {
	docType := l.DocumentType
	if docType == "" {
		docType = DocTypeLoanRepayment
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO reconciliation_links(id, bank_transaction_id, loan_repayment_id, document_type, amount, created_at)
	VALUES(?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, l.ID, l.BankTransactionID, l.LoanRepaymentID, docType, l.Amount.String())
	return err
}

// ActiveForTransaction returns the non-reversed link of a bank transaction, or nil.
func (r *ReconciliationRepo) ActiveForTransaction(ctx context.Context, bankTransactionID string) (*ReconciliationLink, error) {
	return r.getOne(ctx, `SELECT `+linkColumns+` FROM reconciliation_links WHERE bank_transaction_id = ? AND reversed_at IS NULL`, bankTransactionID)
}

// ActiveForRepayment returns the non-reversed link of a repayment, or nil.
func (r *ReconciliationRepo) ActiveForRepayment(ctx context.Context, loanRepaymentID string) (*ReconciliationLink, error) {
	return r.getOne(ctx, `SELECT `+linkColumns+` FROM reconciliation_links WHERE loan_repayment_id = ? AND reversed_at IS NULL`, loanRepaymentID)
}

// ListActive returns all non-reversed links, oldest first.
func (r *ReconciliationRepo) ListActive(ctx context.Context) ([]ReconciliationLink, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+linkColumns+` FROM reconciliation_links WHERE reversed_at IS NULL ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReconciliationLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *ReconciliationRepo) getOne(ctx context.Context, query string, args ...any) (*ReconciliationLink, error) {
	l, err := scanLink(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func scanLink(row scanner) (ReconciliationLink, error) {
	var l ReconciliationLink
	var reversed sql.NullTime
	if err := row.Scan(&l.ID, &l.BankTransactionID, &l.LoanRepaymentID, &l.DocumentType, &l.Amount, &l.CreatedAt, &reversed); err != nil {
		return ReconciliationLink{}, err
	}
	if reversed.Valid {
		l.ReversedAt = &reversed.Time
	}
	return l, nil
}
