package service

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jask/loanrecon/internal/database"
	"github.com/jask/loanrecon/internal/database/repository"
)

func setupIngestTest(t *testing.T) (*IngestService, *repository.BankTransactionRepo, *repository.LoanRepaymentRepo, context.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	migrations, err := filepath.Abs("../database/migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(dbPath, migrations))

	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	txRepo := repository.NewBankTransactionRepo(db)
	repRepo := repository.NewLoanRepaymentRepo(db)
	svc := &IngestService{
		Accounts:     repository.NewBankAccountRepo(db),
		Transactions: txRepo,
		Loans:        repository.NewLoanRepo(db),
		Repayments:   repRepo,
	}
	return svc, txRepo, repRepo, ctx
}

func TestImportBankTransactions(t *testing.T) {
	t.Parallel()
	svc, txRepo, _, ctx := setupIngestTest(t)

	data := strings.Join([]string{
		"date,bank_account,gl_account,deposit,withdrawal,reference",
		"2024-01-05,HDFC-001,HDFC Bank - LC,\"1,000.00\",0,ABC123",
		"2024-01-06,HDFC-001,HDFC Bank - LC,250.5,,",
		"2024-01-07,HDFC-001,HDFC Bank - LC,0,99.00,CHQ-7,BT-FIXED",
	}, "\n")

	res, err := svc.ImportBankTransactions(ctx, strings.NewReader(data))
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Equal(t, 3, res.Imported)

	txs, err := txRepo.ListUnreconciled(ctx, repository.UnreconciledFilter{BankAccountID: "HDFC-001"})
	require.NoError(t, err)
	require.Len(t, txs, 2, "withdrawals are not open deposits")
	require.Equal(t, "1000", txs[0].Deposit.String())
	require.Equal(t, "ABC123", txs[0].Reference())
	require.Nil(t, txs[1].ReferenceNumber)

	fixed, err := txRepo.Get(ctx, "BT-FIXED")
	require.NoError(t, err)
	require.NotNil(t, fixed)
	require.Equal(t, "99", fixed.Withdrawal.String())

	// Re-import should skip duplicates via content-derived ids.
	res2, err := svc.ImportBankTransactions(ctx, strings.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 0, res2.Imported)
	require.Equal(t, 3, res2.Skipped)
	require.Empty(t, res2.Errors)
}

func TestImportBankTransactions_IdenticalRowsKept(t *testing.T) {
	t.Parallel()
	svc, txRepo, _, ctx := setupIngestTest(t)

	data := strings.Join([]string{
		"date,bank_account,gl_account,deposit,withdrawal,reference",
		"2024-02-01,HDFC-001,HDFC Bank - LC,500.00,0,",
		"2024-02-01,HDFC-001,HDFC Bank - LC,500.00,0,",
	}, "\n")

	res, err := svc.ImportBankTransactions(ctx, strings.NewReader(data))
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Equal(t, 2, res.Imported)
	require.Zero(t, res.Skipped)

	txs, err := txRepo.ListUnreconciled(ctx, repository.UnreconciledFilter{BankAccountID: "HDFC-001"})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.NotEqual(t, txs[0].ID, txs[1].ID)

	res, err = svc.ImportBankTransactions(ctx, strings.NewReader(data))
	require.NoError(t, err)
	require.Zero(t, res.Imported)
	require.Equal(t, 2, res.Skipped)
}

func TestImportBankTransactions_BlankGLAccountKeepsStored(t *testing.T) {
	t.Parallel()
	svc, _, _, ctx := setupIngestTest(t)

	first := "2024-02-01,HDFC-001,HDFC Bank - LC,500.00,0,UTR-1"
	_, err := svc.ImportBankTransactions(ctx, strings.NewReader(first))
	require.NoError(t, err)

	// a fresh service has no account cache, as in a second CLI run
	next := &IngestService{Accounts: svc.Accounts, Transactions: svc.Transactions, Loans: svc.Loans, Repayments: svc.Repayments}
	second := "2024-02-02,HDFC-001,,750.00,0,UTR-2"
	res, err := next.ImportBankTransactions(ctx, strings.NewReader(second))
	require.NoError(t, err)
	require.Equal(t, 1, res.Imported)

	acct, err := svc.Accounts.Get(ctx, "HDFC-001")
	require.NoError(t, err)
	require.NotNil(t, acct)
	require.Equal(t, "HDFC Bank - LC", acct.GLAccount)
}

func TestImportBankTransactions_Errors(t *testing.T) {
	t.Parallel()
	svc, _, _, ctx := setupIngestTest(t)

	data := strings.Join([]string{
		"2024-13-05,HDFC-001,HDFC Bank - LC,10,0,A",
		"2024-01-05,HDFC-001,HDFC Bank - LC,ten,0,B",
		"2024-01-05,,HDFC Bank - LC,10,0,C",
		"2024-01-05,HDFC-001",
		"2024-01-05,HDFC-001,HDFC Bank - LC,10,0,OK",
	}, "\n")
	res, err := svc.ImportBankTransactions(ctx, strings.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 1, res.Imported)
	require.Len(t, res.Errors, 4)
	require.Contains(t, res.Errors[0].Error(), "line 1 date")
	require.Contains(t, res.Errors[1].Error(), "line 2 deposit")
	require.Contains(t, res.Errors[2].Error(), "line 3 account")
	require.Contains(t, res.Errors[3].Error(), "line 4")
}

func TestImportRepayments(t *testing.T) {
	t.Parallel()
	svc, _, repRepo, ctx := setupIngestTest(t)

	data := strings.Join([]string{
		"id,loan,applicant_type,applicant,posting_date,amount_paid,principal_amount_paid,reference,payment_account,loan_account,cost_center,repay_from_salary",
		"LR-1,LOAN-1,Customer,CUST-1,2024-01-05,1000.00,800,ABC123,HDFC Bank - LC,Loans - LC,Main - LC,false",
		"LR-2,LOAN-1,Customer,CUST-1,2024-02-05,1000.00",
		"LR-3,LOAN-2,Employee,EMP-1,2024-02-05,200,,,,,,true",
		"LR-4,LOAN-2,Employee,EMP-1,2024-02-06,abc",
	}, "\n")

	res, err := svc.ImportRepayments(ctx, strings.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 3, res.Imported)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0].Error(), "line 5 amount_paid")

	lr, err := repRepo.Get(ctx, "LR-1")
	require.NoError(t, err)
	require.True(t, lr.PrincipalAmountPaid.Valid)
	require.Equal(t, "800", lr.PrincipalAmountPaid.Decimal.String())
	require.Equal(t, "ABC123", lr.Reference())
	require.Equal(t, "Main - LC", *lr.CostCenter)

	lr3, err := repRepo.Get(ctx, "LR-3")
	require.NoError(t, err)
	require.True(t, lr3.RepayFromSalary)
	require.False(t, lr3.PrincipalAmountPaid.Valid)

	loan, err := svc.Loans.Get(ctx, "LOAN-1")
	require.NoError(t, err)
	require.Equal(t, "Loans - LC", loan.LoanAccount)
	require.Equal(t, "HDFC Bank - LC", loan.PaymentAccount)

	res2, err := svc.ImportRepayments(ctx, strings.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 3, res2.Skipped)
}
