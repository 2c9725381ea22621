package repository

import (
	"context"
	"database/sql"
)

// GLEntryRepo handles general-ledger entries.
type GLEntryRepo struct{ db DBTX }

func NewGLEntryRepo(db DBTX) *GLEntryRepo { return &GLEntryRepo{db: db} }

// WithTx returns a repo bound to tx.
func (r *GLEntryRepo) WithTx(tx *sql.Tx) *GLEntryRepo { return &GLEntryRepo{db: tx} }

func (r *GLEntryRepo) Insert(ctx context.Context, e GLEntry) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO gl_entries(
	 id, voucher_type, voucher_no, account, against, party_type, party, debit, credit,
	 against_voucher, remarks, cost_center, posting_date, is_cancelled, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`,
		e.ID, e.VoucherType, e.VoucherNo, e.Account, e.Against, e.PartyType, e.Party,
		e.Debit.String(), e.Credit.String(), e.AgainstVoucher, e.Remarks, e.CostCenter,
		FormatDate(e.PostingDate), e.IsCancelled)
	return err
}

// CountForVoucher counts non-cancelled entries of a voucher.
func (r *GLEntryRepo) CountForVoucher(ctx context.Context, voucherType, voucherNo string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM gl_entries WHERE voucher_type = ? AND voucher_no = ? AND is_cancelled = 0
	`, voucherType, voucherNo).Scan(&n)
	return n, err
}

// ListForVoucher returns non-cancelled entries of a voucher, debit leg first.
func (r *GLEntryRepo) ListForVoucher(ctx context.Context, voucherType, voucherNo string) ([]GLEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, voucher_type, voucher_no, account, against, party_type, party, debit, credit,
	 against_voucher, remarks, cost_center, posting_date, is_cancelled, created_at
	FROM gl_entries WHERE voucher_type = ? AND voucher_no = ? AND is_cancelled = 0
	ORDER BY CAST(debit AS REAL) DESC, id ASC
	`, voucherType, voucherNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GLEntry
	for rows.Next() {
		var e GLEntry
		var partyType, party, againstVoucher, cost sql.NullString
		var posting string
		if err := rows.Scan(&e.ID, &e.VoucherType, &e.VoucherNo, &e.Account, &e.Against, &partyType, &party,
			&e.Debit, &e.Credit, &againstVoucher, &e.Remarks, &cost, &posting, &e.IsCancelled, &e.CreatedAt); err != nil {
			return nil, err
		}
		d, err := ParseDate(posting)
		if err != nil {
			return nil, err
		}
		e.PostingDate = d
		e.PartyType = nullableString(partyType)
		e.Party = nullableString(party)
		e.AgainstVoucher = nullableString(againstVoucher)
		e.CostCenter = nullableString(cost)
		out = append(out, e)
	}
	return out, rows.Err()
}
