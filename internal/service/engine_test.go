package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jask/loanrecon/internal/config"
)

func TestEngine_AutoReconcile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addTx(t, "BT-1", "2024-01-05", "1000.00", "ABC123")
	f.addRepayment(t, "LR-1", "2024-01-05", "1000.00", "ABC123")
	f.addTx(t, "BT-2", "2024-02-01", "500.00", "X")
	f.addRepayment(t, "LR-X", "2024-02-01", "500.00", "X")
	f.addRepayment(t, "LR-Y", "2024-02-01", "500.00", "Y")
	f.addTx(t, "BT-3", "2024-02-02", "10.00", "")

	res, err := f.engine.AutoReconcile(f.ctx, testBankAccount, day(t, "2024-01-01"), day(t, "2024-02-28"))
	require.NoError(t, err)
	require.Equal(t, 2, res.TotalProcessed)
	require.Equal(t, 2, res.Reconciled)

	links := f.activeLinks(t)
	require.Len(t, links, 2)
	pairs := map[string]string{}
	for _, l := range links {
		pairs[l.BankTransactionID] = l.LoanRepaymentID
	}
	require.Equal(t, map[string]string{"BT-1": "LR-1", "BT-2": "LR-X"}, pairs)

	again, err := f.engine.AutoReconcile(f.ctx, testBankAccount, day(t, "2024-01-01"), day(t, "2024-02-28"))
	require.NoError(t, err)
	require.Zero(t, again.TotalProcessed)
}

func TestEngine_AutoReconcileValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.engine.AutoReconcile(f.ctx, "", day(t, "2024-01-01"), day(t, "2024-02-28"))
	require.ErrorIs(t, err, ErrValidation)
}

func TestEngine_AutoReconcileBatchLimit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addTx(t, "BT-1", "2024-01-05", "1.00", "")
	f.addRepayment(t, "LR-1", "2024-01-05", "1.00", "")
	f.addTx(t, "BT-2", "2024-01-06", "2.00", "")
	f.addRepayment(t, "LR-2", "2024-01-06", "2.00", "")
	f.engine.BatchLimit = 1

	res, err := f.engine.AutoReconcile(f.ctx, testBankAccount, day(t, "2024-01-01"), day(t, "2024-01-31"))
	require.NoError(t, err)
	require.Equal(t, 1, res.Reconciled)
	require.Equal(t, "BT-1", res.Details[0].Transaction)
}

func TestEngine_Preview(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addTx(t, "BT-2", "2024-01-06", "20.00", "")
	f.addRepayment(t, "LR-2", "2024-01-06", "20.00", "")
	f.addTx(t, "BT-1", "2024-01-07", "1000.00", "ABC123")
	f.addRepayment(t, "LR-1", "2024-01-07", "1000.00", "ABC123")

	rows, err := f.engine.Preview(f.ctx, testBankAccount, day(t, "2024-01-01"), day(t, "2024-01-31"), 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, PreviewRow{
		BankTransaction:          "BT-1",
		BankTransactionDate:      "2024-01-07",
		BankTransactionAmount:    "1000",
		BankTransactionReference: "ABC123",
		LoanRepayment:            "LR-1",
		LoanRepaymentAmount:      "1000",
		LoanRepaymentDate:        "2024-01-07",
		Loan:                     testLoan,
		Applicant:                "CUST-0001",
		Confidence:               ConfidenceHigh,
	}, rows[0])
	require.Equal(t, ConfidenceMedium, rows[1].Confidence)

	limited, err := f.engine.Preview(f.ctx, testBankAccount, day(t, "2024-01-01"), day(t, "2024-01-31"), 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	require.Empty(t, f.activeLinks(t), "preview must not write")
}

func TestEngine_ReconcileSelectedAndGL(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addTx(t, "BT-1", "2024-01-05", "1000.00", "ABC123")
	f.addRepayment(t, "LR-1", "2024-01-05", "1000.00", "ABC123")

	items, err := f.engine.ReconcileSelected(f.ctx, []string{"BT-1"})
	require.NoError(t, err)
	require.Equal(t, StatusReconciled, items[0].Status)

	rep, err := f.engine.PreviewMissingGL(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.TotalCount)

	res, err := f.engine.RegenerateGL(f.ctx, 0, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Success)

	rep, err = f.engine.PreviewMissingGL(f.ctx)
	require.NoError(t, err)
	require.Zero(t, rep.TotalCount)
	require.True(t, rep.TotalAmount.IsZero())
}

func TestEngine_MatchFilters(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	got := f.engine.MatchFilters()
	require.Equal(t, config.DefaultDocumentTypes, got)
	got[0] = "changed"
	require.Equal(t, "payment_entry", f.engine.MatchFilters()[0])

	m := *f.engine.Matcher
	m.DocumentTypes = nil
	e := &Engine{Matcher: &m}
	require.Contains(t, e.MatchFilters(), "loan_repayment")
}
