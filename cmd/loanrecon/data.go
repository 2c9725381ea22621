package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jask/loanrecon/internal/api"
	"github.com/jask/loanrecon/internal/config"
	"github.com/jask/loanrecon/internal/database"
	"github.com/jask/loanrecon/internal/database/repository"
	"github.com/jask/loanrecon/internal/service"
	"github.com/jask/loanrecon/internal/testdata"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			// migrations already ran while opening the store
			v, dirty, err := database.Version(a.cfg.Database.Path, a.cfg.Database.Migrations)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), kv("Schema",
				[2]string{"database", a.cfg.Database.Path},
				[2]string{"version", strconv.FormatUint(uint64(v), 10)},
				[2]string{"dirty", strconv.FormatBool(dirty)},
			))
			return nil
		},
	}
}

func newSeedCmd(a *app) *cobra.Command {
	var (
		seed  int64
		loans int
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert a deterministic sample data set",
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := testdata.Seed(cmd.Context(), testdata.Repos{
				Accounts:     repository.NewBankAccountRepo(a.db),
				Transactions: repository.NewBankTransactionRepo(a.db),
				Loans:        repository.NewLoanRepo(a.db),
				Repayments:   repository.NewLoanRepaymentRepo(a.db),
			}, testdata.Options{Seed: seed, Loans: loans})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), kv("Seeded "+testdata.BankAccount,
				[2]string{"loans", strconv.Itoa(sum.Loans)},
				[2]string{"repayments", strconv.Itoa(sum.Repayments)},
				[2]string{"bank transactions", strconv.Itoa(sum.BankTransactions)},
			))
			return nil
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().IntVar(&loans, "loans", 10, "number of loans")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import CSV data",
	}
	svc := func() *service.IngestService {
		return &service.IngestService{
			Accounts:     repository.NewBankAccountRepo(a.db),
			Transactions: repository.NewBankTransactionRepo(a.db),
			Loans:        repository.NewLoanRepo(a.db),
			Repayments:   repository.NewLoanRepaymentRepo(a.db),
		}
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "bank <file.csv>",
			Short: "Import a bank statement",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return importFile(cmd, args[0], svc().ImportBankTransactions)
			},
		},
		&cobra.Command{
			Use:   "repayments <file.csv>",
			Short: "Import loan repayments",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return importFile(cmd, args[0], svc().ImportRepayments)
			},
		},
	)
	return cmd
}

func importFile(cmd *cobra.Command, path string, fn func(context.Context, io.Reader) (service.IngestResult, error)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	res, err := fn(cmd.Context(), bufio.NewReader(f))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, kv("Imported "+path,
		[2]string{"imported", okStyle.Render(strconv.Itoa(res.Imported))},
		[2]string{"duplicates", warnStyle.Render(strconv.Itoa(res.Skipped))},
		[2]string{"errors", errorStyle.Render(strconv.Itoa(len(res.Errors)))},
	))
	for _, e := range res.Errors {
		fmt.Fprintln(out, "  "+errorStyle.Render(e.Error()))
	}
	return nil
}

func newStatusCmd(a *app) *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show transaction, link and ledger counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := &service.MaintenanceService{DB: a.db}
			st, err := m.Stats(cmd.Context(), account)
			if err != nil {
				return err
			}
			pairs := [][2]string{}
			for _, s := range []string{repository.StatusUnreconciled, repository.StatusPending, repository.StatusReconciled} {
				pairs = append(pairs, [2]string{s, strconv.Itoa(st.BankTransactions[s])})
			}
			pairs = append(pairs,
				[2]string{"active links", strconv.Itoa(st.ActiveLinks)},
				[2]string{"missing GL", strconv.Itoa(st.MissingGL)},
			)
			fmt.Fprintln(cmd.OutOrStdout(), kv("Status", pairs...))
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "bank-account", "", "restrict transaction counts to one bank account")
	return cmd
}

func newResetCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all imported and reconciled data",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to reset without --yes")
			}
			m := &service.MaintenanceService{DB: a.db}
			if err := m.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("database reset"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the reconciliation HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewServer(a.engine, a.log).Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.log.Info("http server listening", zap.String("addr", addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-cmd.Context().Done():
			}
			a.log.Info("shutting down http server")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	return cmd
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write a config file populated with the current settings",
		// the store is not needed here
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		PersistentPostRun: func(cmd *cobra.Command, args []string) {},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFlags(cmd.Flags())
			if err != nil {
				return err
			}
			path, _ := config.Path(cmd.Flags())
			if err := config.Save(cfg, path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("config written to "+path))
			return nil
		},
	}
}
