package testdata

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/loanrecon/internal/database/repository"
)

// Repos bundles repos used by Seed.
type Repos struct {
	Accounts     *repository.BankAccountRepo
	Transactions *repository.BankTransactionRepo
	Loans        *repository.LoanRepo
	Repayments   *repository.LoanRepaymentRepo
}

// Sample identifiers created by Seed.
const (
	BankAccount = "SAMPLE-BANK-001"
	GLAccount   = "Sample Bank - SC"
	LoanAccount = "Loans and Advances - SC"
)

// Options controls Seed. The same Seed value always produces the same rows.
type Options struct {
	Seed  int64
	Loans int
	// Month is the first day of the month repayments are spread over.
	Month time.Time
}

// Summary counts what Seed wrote.
type Summary struct {
	Loans            int
	Repayments       int
	BankTransactions int
}

// Seed creates a bank account, loans, repayments and bank deposits covering
// every matching outcome: reference matches, amount-only matches, ties
// settled by reference, ambiguous ties, salary deductions and unmatched
// deposits.
func Seed(ctx context.Context, repos Repos, opts Options) (Summary, error) {
	if opts.Loans <= 0 {
		opts.Loans = 10
	}
	if opts.Month.IsZero() {
		opts.Month = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	sum := Summary{}

	acct := repository.BankAccount{ID: BankAccount, Name: "Sample Current Account", GLAccount: GLAccount}
	if err := repos.Accounts.Upsert(ctx, acct); err != nil {
		return sum, err
	}

	addTx := func(id string, date time.Time, amount decimal.Decimal, ref string) error {
		t := repository.BankTransaction{
			ID:            id,
			BankAccountID: acct.ID,
			Date:          date,
			Deposit:       amount,
			Withdrawal:    decimal.Zero,
		}
		if ref != "" {
			t.ReferenceNumber = &ref
		}
		if err := repos.Transactions.Insert(ctx, t); err != nil {
			return fmt.Errorf("seed bank transaction %s: %w", id, err)
		}
		sum.BankTransactions++
		return nil
	}
	addRepayment := func(lr repository.LoanRepayment) error {
		if err := repos.Repayments.Insert(ctx, lr); err != nil {
			return fmt.Errorf("seed repayment %s: %w", lr.ID, err)
		}
		sum.Repayments++
		return nil
	}

	for i := 1; i <= opts.Loans; i++ {
		loan := repository.Loan{
			ID:             fmt.Sprintf("LOAN-%04d", i),
			ApplicantType:  "Customer",
			Applicant:      fmt.Sprintf("CUST-%04d", i),
			LoanAccount:    LoanAccount,
			PaymentAccount: GLAccount,
		}
		if err := repos.Loans.Upsert(ctx, loan); err != nil {
			return sum, fmt.Errorf("seed loan %s: %w", loan.ID, err)
		}
		sum.Loans++

		date := opts.Month.AddDate(0, 0, i-1)
		amount := decimal.New(int64(rng.Intn(4000)+100)*100+int64(rng.Intn(100)), -2)
		ref := fmt.Sprintf("UTR%08d", rng.Intn(100000000))
		lr := repository.LoanRepayment{
			ID:            fmt.Sprintf("LR-%04d", i),
			LoanID:        loan.ID,
			ApplicantType: loan.ApplicantType,
			Applicant:     loan.Applicant,
			PostingDate:   date,
			AmountPaid:    amount,
		}
		if i%3 != 0 {
			lr.PrincipalAmountPaid = decimal.NewNullDecimal(amount.Mul(decimal.RequireFromString("0.8")).Round(2))
		}
		txRef := ""
		switch i % 5 {
		case 0:
			// salary deduction never reaches the bank
			lr.RepayFromSalary = true
		case 1, 2:
			lr.ReferenceNumber = &ref
			txRef = ref
		case 3:
			// amount and date only
		case 4:
			// deposit with no repayment behind it
			if err := addTx(fmt.Sprintf("BT-%04d-X", i), date, amount.Add(decimal.New(1, 0)), ""); err != nil {
				return sum, err
			}
		}
		if err := addRepayment(lr); err != nil {
			return sum, err
		}
		if i%5 != 0 && i%5 != 4 {
			if err := addTx(fmt.Sprintf("BT-%04d", i), date, amount, txRef); err != nil {
				return sum, err
			}
		}
	}

	// two equal repayments on one day: one deposit names its reference, the
	// other carries none and is ambiguous while both repayments are open
	tieDate := opts.Month.AddDate(0, 0, opts.Loans)
	tieAmount := decimal.RequireFromString("500.00")
	for _, ref := range []string{"TIE-X", "TIE-Y"} {
		r := ref
		if err := addRepayment(repository.LoanRepayment{
			ID:              "LR-" + ref,
			LoanID:          "LOAN-0001",
			ApplicantType:   "Customer",
			Applicant:       "CUST-0001",
			PostingDate:     tieDate,
			AmountPaid:      tieAmount,
			ReferenceNumber: &r,
		}); err != nil {
			return sum, err
		}
	}
	if err := addTx("BT-TIE-REF", tieDate, tieAmount, "TIE-X"); err != nil {
		return sum, err
	}
	if err := addTx("BT-TIE-NOREF", tieDate, tieAmount, ""); err != nil {
		return sum, err
	}
	return sum, nil
}
