package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jask/loanrecon/internal/database"
	"github.com/jask/loanrecon/internal/database/repository"
)

// MaintenanceService houses destructive/ops actions surfaced through the CLI.
type MaintenanceService struct {
	DB *sql.DB
}

// Stats summarizes the store for status output.
type Stats struct {
	BankTransactions map[string]int
	ActiveLinks      int
	MissingGL        int
}

// Reset wipes all reconciliation data. It keeps the schema intact.
func (s *MaintenanceService) Reset(ctx context.Context) error {
	if s.DB == nil {
		return fmt.Errorf("maintenance: db not configured")
	}
	if err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		tables := []string{
			"gl_entries",
			"reconciliation_links",
			"loan_repayments",
			"loans",
			"bank_transactions",
			"bank_accounts",
		}
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("reset table %s: %w", t, err)
			}
		}
		return nil
	}); err != nil {
		return err
	}
	_, _ = s.DB.ExecContext(ctx, "VACUUM")
	return nil
}

// Stats counts transactions per status, active links and repayments
// still missing a GL posting.
func (s *MaintenanceService) Stats(ctx context.Context, bankAccount string) (Stats, error) {
	counts, err := repository.NewBankTransactionRepo(s.DB).CountByStatus(ctx, bankAccount)
	if err != nil {
		return Stats{}, fmt.Errorf("count bank transactions: %w: %w", ErrPersistence, err)
	}
	links, err := repository.NewReconciliationRepo(s.DB).ListActive(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list links: %w: %w", ErrPersistence, err)
	}
	missing, err := repository.NewLoanRepaymentRepo(s.DB).ListMissingGL(ctx, 0)
	if err != nil {
		return Stats{}, fmt.Errorf("list missing gl: %w: %w", ErrPersistence, err)
	}
	return Stats{BankTransactions: counts, ActiveLinks: len(links), MissingGL: len(missing)}, nil
}
