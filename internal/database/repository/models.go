package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bank transaction statuses.
const (
	StatusPending             = "pending"
	StatusUnreconciled        = "unreconciled"
	StatusPartiallyReconciled = "partially_reconciled"
	StatusReconciled          = "reconciled"
)

// DocTypeLoanRepayment is the linked document type written on reconciled
// bank transactions and links, and the GL voucher type for repayments.
const DocTypeLoanRepayment = "loan_repayment"

// BankAccount represents a bank_accounts row.
type BankAccount struct {
	ID        string
	Name      string
	GLAccount string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BankTransaction represents a bank_transactions row. Date carries no
// time-of-day; it is stored as YYYY-MM-DD.
type BankTransaction struct {
	ID                 string
	BankAccountID      string
	Date               time.Time
	Deposit            decimal.Decimal
	Withdrawal         decimal.Decimal
	ReferenceNumber    *string
	Status             string
	LinkedDocumentType *string
	LinkedDocument     *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Unreconciled reports whether the transaction is still open for matching.
func (t BankTransaction) Unreconciled() bool {
	return t.Status == StatusPending || t.Status == StatusUnreconciled
}

// Reference returns the trimmed reference number, or "".
func (t BankTransaction) Reference() string { return deref(t.ReferenceNumber) }

// Loan represents a loans row.
type Loan struct {
	ID             string
	ApplicantType  string
	Applicant      string
	LoanAccount    string
	PaymentAccount string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LoanRepayment represents a loan_repayments row.
type LoanRepayment struct {
	ID                  string
	LoanID              string
	ApplicantType       string
	Applicant           string
	PostingDate         time.Time
	AmountPaid          decimal.Decimal
	PrincipalAmountPaid decimal.NullDecimal
	ReferenceNumber     *string
	PaymentAccount      *string
	LoanAccount         *string
	CostCenter          *string
	RepayFromSalary     bool
	ClearanceDate       *time.Time
	GLPosted            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Reference returns the trimmed reference number, or "".
func (r LoanRepayment) Reference() string { return deref(r.ReferenceNumber) }

// ReconciliationLink ties one bank transaction to one repayment.
type ReconciliationLink struct {
	ID                string
	BankTransactionID string
	LoanRepaymentID   string
	DocumentType      string
	Amount            decimal.Decimal
	CreatedAt         time.Time
	ReversedAt        *time.Time
}

// GLEntry is one leg of a general-ledger posting.
type GLEntry struct {
	ID             string
	VoucherType    string
	VoucherNo      string
	Account        string
	Against        string
	PartyType      *string
	Party          *string
	Debit          decimal.Decimal
	Credit         decimal.Decimal
	AgainstVoucher *string
	Remarks        string
	CostCenter     *string
	PostingDate    time.Time
	IsCancelled    bool
	CreatedAt      time.Time
}
