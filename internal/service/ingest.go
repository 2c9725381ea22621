package service

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jask/loanrecon/internal/database/repository"
)

// IngestService loads bank statements and loan repayments from CSV.
type IngestService struct {
	Accounts     *repository.BankAccountRepo
	Transactions *repository.BankTransactionRepo
	Loans        *repository.LoanRepo
	Repayments   *repository.LoanRepaymentRepo

	accountCache map[string]repository.BankAccount
	loanCache    map[string]struct{}
}

type IngestResult struct {
	Imported int
	Skipped  int
	Errors   []error
}

// ImportBankTransactions reads rows of
//
//	date, bank_account, gl_account, deposit, withdrawal, reference[, id]
//
// A header row is skipped. Rows without an id get one derived from their
// content and how often that content occurred earlier in the statement, so
// identical deposits in one file are all kept while importing the same
// statement twice skips every row.
func (s *IngestService) ImportBankTransactions(ctx context.Context, r io.Reader) (IngestResult, error) {
	res := IngestResult{}
	// occurrences of identical rows within this statement
	seen := make(map[string]int)
	err := readCSV(r, "date", &res.Errors, func(line int, rec []string) {
		if len(rec) < 6 {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: expected at least 6 columns", line))
			return
		}
		dateStr, accountName, glAccount, depositStr, withdrawalStr, ref := rec[0], rec[1], rec[2], rec[3], rec[4], rec[5]
		date, err := repository.ParseDate(dateStr)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d date: %w", line, err))
			return
		}
		deposit, err := parseAmount(depositStr)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d deposit: %w", line, err))
			return
		}
		withdrawal, err := parseAmount(withdrawalStr)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d withdrawal: %w", line, err))
			return
		}
		acct, err := s.accountForName(ctx, accountName, glAccount)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d account: %w", line, err))
			return
		}

		id := column(rec, 6)
		if id == "" {
			content := hashSource(acct.ID, repository.FormatDate(date), deposit.String(), withdrawal.String(), strings.TrimSpace(ref))
			n := seen[content]
			seen[content] = n + 1
			id = deterministicID(content, strconv.Itoa(n))
		}
		t := repository.BankTransaction{
			ID:              id,
			BankAccountID:   acct.ID,
			Date:            date,
			Deposit:         deposit,
			Withdrawal:      withdrawal,
			ReferenceNumber: nullableStr(ref),
			Status:          repository.StatusUnreconciled,
		}
		if err := s.Transactions.Insert(ctx, t); err != nil {
			// skip duplicates on unique constraint
			if repository.IsUniqueViolation(err) {
				res.Skipped++
				return
			}
			res.Errors = append(res.Errors, fmt.Errorf("line %d insert: %w", line, err))
			return
		}
		res.Imported++
	})
	return res, err
}

// ImportRepayments reads rows of
//
//	id, loan, applicant_type, applicant, posting_date, amount_paid,
//	principal_amount_paid, reference, payment_account, loan_account,
//	cost_center, repay_from_salary
//
// Columns after amount_paid are optional. Unknown loans are created from the
// row's applicant and accounts.
func (s *IngestService) ImportRepayments(ctx context.Context, r io.Reader) (IngestResult, error) {
	res := IngestResult{}
	err := readCSV(r, "id", &res.Errors, func(line int, rec []string) {
		if len(rec) < 6 {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: expected at least 6 columns", line))
			return
		}
		id, loanID, applicantType, applicant := strings.TrimSpace(rec[0]), strings.TrimSpace(rec[1]), strings.TrimSpace(rec[2]), strings.TrimSpace(rec[3])
		if id == "" || loanID == "" {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: id and loan are required", line))
			return
		}
		posting, err := repository.ParseDate(rec[4])
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d posting_date: %w", line, err))
			return
		}
		amount, err := parseAmount(rec[5])
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d amount_paid: %w", line, err))
			return
		}
		var principal decimal.NullDecimal
		if p := column(rec, 6); p != "" {
			d, err := parseAmount(p)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Errorf("line %d principal_amount_paid: %w", line, err))
				return
			}
			principal = decimal.NewNullDecimal(d)
		}
		var fromSalary bool
		if v := column(rec, 11); v != "" {
			fromSalary, err = strconv.ParseBool(v)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Errorf("line %d repay_from_salary: %w", line, err))
				return
			}
		}
		lr := repository.LoanRepayment{
			ID:                  id,
			LoanID:              loanID,
			ApplicantType:       applicantType,
			Applicant:           applicant,
			PostingDate:         posting,
			AmountPaid:          amount,
			PrincipalAmountPaid: principal,
			ReferenceNumber:     nullableStr(column(rec, 7)),
			PaymentAccount:      nullableStr(column(rec, 8)),
			LoanAccount:         nullableStr(column(rec, 9)),
			CostCenter:          nullableStr(column(rec, 10)),
			RepayFromSalary:     fromSalary,
		}
		if err := s.ensureLoan(ctx, lr); err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d loan: %w", line, err))
			return
		}
		if err := s.Repayments.Insert(ctx, lr); err != nil {
			if repository.IsUniqueViolation(err) {
				res.Skipped++
				return
			}
			res.Errors = append(res.Errors, fmt.Errorf("line %d insert: %w", line, err))
			return
		}
		res.Imported++
	})
	return res, err
}

// readCSV feeds every record to fn with its 1-based line number. A first
// record whose first field equals header is treated as a header and skipped.
// Malformed lines are appended to errs.
func readCSV(r io.Reader, header string, errs *[]error, fn func(line int, rec []string)) error {
	csvr := csv.NewReader(bufio.NewReader(r))
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1
	line := 0
	for {
		line++
		rec, err := csvr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				*errs = append(*errs, fmt.Errorf("line %d: %w", line, err))
				continue
			}
			return err
		}
		if line == 1 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), header) {
			continue
		}
		fn(line, rec)
	}
}

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func column(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func nullableStr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func hashSource(parts ...string) string {
	joined := strings.Join(parts, "|")
	sum := sha256.Sum256([]byte(joined))
	return fmt.Sprintf("%x", sum[:])
}

func deterministicID(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(hashSource(parts...))).String()
}

func (s *IngestService) accountForName(ctx context.Context, name, glAccount string) (repository.BankAccount, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return repository.BankAccount{}, errors.New("bank account name required")
	}
	if s.accountCache == nil {
		s.accountCache = make(map[string]repository.BankAccount)
	}
	if acct, ok := s.accountCache[name]; ok {
		return acct, nil
	}
	acct := repository.BankAccount{ID: name, Name: name, GLAccount: strings.TrimSpace(glAccount)}
	if err := s.Accounts.Upsert(ctx, acct); err != nil {
		return repository.BankAccount{}, err
	}
	s.accountCache[name] = acct
	return acct, nil
}

func (s *IngestService) ensureLoan(ctx context.Context, lr repository.LoanRepayment) error {
	if s.loanCache == nil {
		s.loanCache = make(map[string]struct{})
	}
	if _, ok := s.loanCache[lr.LoanID]; ok {
		return nil
	}
	existing, err := s.Loans.Get(ctx, lr.LoanID)
	if err != nil {
		return err
	}
	if existing == nil {
		loan := repository.Loan{
			ID:             lr.LoanID,
			ApplicantType:  lr.ApplicantType,
			Applicant:      lr.Applicant,
			LoanAccount:    deref(lr.LoanAccount),
			PaymentAccount: deref(lr.PaymentAccount),
		}
		if err := s.Loans.Upsert(ctx, loan); err != nil {
			return err
		}
	}
	s.loanCache[lr.LoanID] = struct{}{}
	return nil
}

// ParseDateFlag parses an optional YYYY-MM-DD value; "" is the zero time.
func ParseDateFlag(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	t, err := repository.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", s, ErrValidation)
	}
	return t, nil
}
