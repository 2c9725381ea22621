package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jask/loanrecon/internal/config"
	"github.com/jask/loanrecon/internal/database"
	"github.com/jask/loanrecon/internal/database/repository"
)

const (
	testBankAccount = "HDFC-001"
	testGLAccount   = "HDFC Bank - LC"
	testLoan        = "LOAN-0001"
	testLoanAccount = "Loans and Advances - LC"
)

type fixture struct {
	ctx      context.Context
	db       *sql.DB
	engine   *Engine
	accounts *repository.BankAccountRepo
	txs      *repository.BankTransactionRepo
	loans    *repository.LoanRepo
	reps     *repository.LoanRepaymentRepo
	links    *repository.ReconciliationRepo
	entries  *repository.GLEntryRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	dbPath := filepath.Join(t.TempDir(), "test.db")
	migrations, err := filepath.Abs("../database/migrations")
	require.NoError(t, err)
	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.RunMigrationsWithDB(db, migrations))

	rc := config.ReconciliationConfig{PreviewLimit: 100, BatchLimit: 1000, DocumentTypes: config.DefaultDocumentTypes}
	gl := config.GLConfig{CurrencyPrecision: 2, SampleSize: 20}
	f := &fixture{
		ctx:      ctx,
		db:       db,
		engine:   NewEngine(db, rc, gl, zaptest.NewLogger(t)),
		accounts: repository.NewBankAccountRepo(db),
		txs:      repository.NewBankTransactionRepo(db),
		loans:    repository.NewLoanRepo(db),
		reps:     repository.NewLoanRepaymentRepo(db),
		links:    repository.NewReconciliationRepo(db),
		entries:  repository.NewGLEntryRepo(db),
	}
	require.NoError(t, f.accounts.Upsert(ctx, repository.BankAccount{ID: testBankAccount, Name: "HDFC Current", GLAccount: testGLAccount}))
	require.NoError(t, f.loans.Upsert(ctx, repository.Loan{
		ID:             testLoan,
		ApplicantType:  "Customer",
		Applicant:      "CUST-0001",
		LoanAccount:    testLoanAccount,
		PaymentAccount: testGLAccount,
	}))
	return f
}

func (f *fixture) addTx(t *testing.T, id, date, deposit, ref string) {
	t.Helper()
	tx := repository.BankTransaction{
		ID:            id,
		BankAccountID: testBankAccount,
		Date:          day(t, date),
		Deposit:       dec(deposit),
		Withdrawal:    decimal.Zero,
	}
	if ref != "" {
		tx.ReferenceNumber = &ref
	}
	require.NoError(t, f.txs.Insert(f.ctx, tx))
}

func (f *fixture) addRepayment(t *testing.T, id, date, amount, ref string, mods ...func(*repository.LoanRepayment)) {
	t.Helper()
	lr := repository.LoanRepayment{
		ID:            id,
		LoanID:        testLoan,
		ApplicantType: "Customer",
		Applicant:     "CUST-0001",
		PostingDate:   day(t, date),
		AmountPaid:    dec(amount),
	}
	if ref != "" {
		lr.ReferenceNumber = &ref
	}
	for _, m := range mods {
		m(&lr)
	}
	require.NoError(t, f.reps.Insert(f.ctx, lr))
}

func (f *fixture) candidates(t *testing.T, q Query) []Candidate {
	t.Helper()
	seq, err := f.engine.Matcher.FindCandidates(f.ctx, q)
	require.NoError(t, err)
	cands, err := Collect(seq)
	require.NoError(t, err)
	return cands
}

func (f *fixture) activeLinks(t *testing.T) []repository.ReconciliationLink {
	t.Helper()
	links, err := f.links.ListActive(f.ctx)
	require.NoError(t, err)
	return links
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := repository.ParseDate(s)
	require.NoError(t, err)
	return d
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strPtr(s string) *string { return &s }
