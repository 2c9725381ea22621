package repository

import (
	"context"
	"database/sql"
	"errors"
)

// BankAccountRepo handles bank accounts.
type BankAccountRepo struct {
	db DBTX
}

func NewBankAccountRepo(db DBTX) *BankAccountRepo {
	return &BankAccountRepo{db: db}
}

// Upsert inserts or renames an account. A blank GLAccount keeps the stored one.
func (r *BankAccountRepo) Upsert(ctx context.Context, a BankAccount) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO bank_accounts(id, name, gl_account, created_at, updated_at)
	VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
	 name=excluded.name,
	 gl_account=COALESCE(NULLIF(excluded.gl_account, ''), bank_accounts.gl_account),
	 updated_at=CURRENT_TIMESTAMP;
	`, a.ID, a.Name, a.GLAccount)
	return err
}

// Get returns nil, nil when the account does not exist.
func (r *BankAccountRepo) Get(ctx context.Context, id string) (*BankAccount, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, gl_account, created_at, updated_at FROM bank_accounts WHERE id = ?`, id)
	var a BankAccount
	if err := row.Scan(&a.ID, &a.Name, &a.GLAccount, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *BankAccountRepo) List(ctx context.Context) ([]BankAccount, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, gl_account, created_at, updated_at FROM bank_accounts ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BankAccount
	for rows.Next() {
		var a BankAccount
		if err := rows.Scan(&a.ID, &a.Name, &a.GLAccount, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
