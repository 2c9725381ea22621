package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// UnreconciledFilter narrows the open bank transactions of one account.
// Zero From/To leave that side of the range open.
type UnreconciledFilter struct {
	BankAccountID string
	From          time.Time
	To            time.Time
}

// BankTransactionRepo handles bank transactions.
type BankTransactionRepo struct {
	db DBTX
}

func NewBankTransactionRepo(db DBTX) *BankTransactionRepo { return &BankTransactionRepo{db: db} }

// WithTx returns a repo bound to tx.
func (r *BankTransactionRepo) WithTx(tx *sql.Tx) *BankTransactionRepo {
	return &BankTransactionRepo{db: tx}
}

const bankTransactionColumns = `id, bank_account_id, date, deposit, withdrawal, reference_number, status, linked_document_type, linked_document, created_at, updated_at`

func (r *BankTransactionRepo) Insert(ctx context.Context, t BankTransaction) error {
	status := t.Status
	if status == "" {
		status = StatusUnreconciled
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO bank_transactions(
	 id, bank_account_id, date, deposit, withdrawal, reference_number, status,
	 linked_document_type, linked_document, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`,
		t.ID, t.BankAccountID, FormatDate(t.Date), t.Deposit.String(), t.Withdrawal.String(),
		t.ReferenceNumber, status, t.LinkedDocumentType, t.LinkedDocument)
	return err
}

// Get returns nil, nil when the transaction does not exist.
func (r *BankTransactionRepo) Get(ctx context.Context, id string) (*BankTransaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+bankTransactionColumns+` FROM bank_transactions WHERE id = ?`, id)
	t, err := scanBankTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// ListUnreconciled returns open deposits of an account ordered by date, id.
// Transactions already carrying an active link are excluded.
func (r *BankTransactionRepo) ListUnreconciled(ctx context.Context, f UnreconciledFilter) ([]BankTransaction, error) {
	where := []string{
		"bt.bank_account_id = ?",
		"bt.status IN ('pending', 'unreconciled')",
		"NOT EXISTS (SELECT 1 FROM reconciliation_links l WHERE l.bank_transaction_id = bt.id AND l.reversed_at IS NULL)",
	}
	args := []any{f.BankAccountID}
	if !f.From.IsZero() {
		where = append(where, "bt.date >= ?")
		args = append(args, FormatDate(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "bt.date <= ?")
		args = append(args, FormatDate(f.To))
	}
	query := "SELECT " + prefixed("bt", bankTransactionColumns) + " FROM bank_transactions bt WHERE " +
		strings.Join(where, " AND ") + " ORDER BY bt.date ASC, bt.id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BankTransaction
	for rows.Next() {
		t, err := scanBankTransaction(rows)
		if err != nil {
			return nil, err
		}
		if !t.Deposit.IsPositive() {
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkReconciled flips an open transaction to reconciled. It reports false
// when the row was no longer open, so callers can treat the write as a lost race.
func (r *BankTransactionRepo) MarkReconciled(ctx context.Context, id, docType, docName string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
	UPDATE bank_transactions
	SET status = ?, linked_document_type = ?, linked_document = ?, updated_at = CURRENT_TIMESTAMP
	WHERE id = ? AND status IN ('pending', 'unreconciled')
	`, StatusReconciled, docType, docName, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// CountByStatus returns per-status counts for an account ("" = all accounts).
func (r *BankTransactionRepo) CountByStatus(ctx context.Context, bankAccountID string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM bank_transactions`
	var args []any
	if bankAccountID != "" {
		query += ` WHERE bank_account_id = ?`
		args = append(args, bankAccountID)
	}
	query += ` GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func scanBankTransaction(row scanner) (BankTransaction, error) {
	var t BankTransaction
	var date string
	var ref, docType, doc sql.NullString
	if err := row.Scan(&t.ID, &t.BankAccountID, &date, &t.Deposit, &t.Withdrawal, &ref, &t.Status,
		&docType, &doc, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return BankTransaction{}, err
	}
	d, err := ParseDate(date)
	if err != nil {
		return BankTransaction{}, err
	}
	t.Date = d
	t.ReferenceNumber = nullableString(ref)
	t.LinkedDocumentType = nullableString(docType)
	t.LinkedDocument = nullableString(doc)
	return t, nil
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
