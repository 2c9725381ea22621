package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jask/loanrecon/internal/config"
	"github.com/jask/loanrecon/internal/database"
	"github.com/jask/loanrecon/internal/logging"
	"github.com/jask/loanrecon/internal/service"
)

// app carries what every subcommand needs once the store is open.
type app struct {
	cfg    config.Config
	log    *zap.Logger
	db     *sql.DB
	engine *service.Engine
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "loanrecon",
		Short:         "Reconcile bank deposits against loan repayments",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.PersistentFlags().String(config.FlagConfig, "", "config file (defaults to $LOANRECON_CONFIG or ~/.config/loanrecon/config.toml)")
	root.PersistentFlags().String(config.FlagDB, "", "database path (overrides database.path)")

	root.AddCommand(
		newMigrateCmd(a),
		newSeedCmd(a),
		newImportCmd(a),
		newAutoReconcileCmd(a),
		newReconcileSelectedCmd(a),
		newGLCmd(a),
		newServeCmd(a),
		newFiltersCmd(a),
		newStatusCmd(a),
		newResetCmd(a),
		newInitConfigCmd(),
	)
	return root
}

// open loads config, builds the logger, migrates and opens the store.
func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.LoadFlags(cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.log, err = logging.New(cfg.Log)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("mkdir db dir: %w", err)
	}
	a.db, err = database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if err := database.RunMigrationsWithDB(a.db, cfg.Database.Migrations); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.engine = service.NewEngine(a.db, cfg.Reconciliation, cfg.GL, a.log)
	return nil
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}
