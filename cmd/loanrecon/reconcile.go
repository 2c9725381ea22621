package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jask/loanrecon/internal/service"
)

func newAutoReconcileCmd(a *app) *cobra.Command {
	var (
		account, from, to string
		preview           bool
		limit             int
	)
	cmd := &cobra.Command{
		Use:   "auto-reconcile",
		Short: "Match and commit bank deposits against loan repayments",
		RunE: func(cmd *cobra.Command, args []string) error {
			fromDate, err := service.ParseDateFlag(from)
			if err != nil {
				return err
			}
			toDate, err := service.ParseDateFlag(to)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if preview {
				rows, err := a.engine.Preview(cmd.Context(), account, fromDate, toDate, limit)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					fmt.Fprintln(out, warnStyle.Render("no candidates"))
					return nil
				}
				table(out, []string{"BANK TXN", "DATE", "AMOUNT", "REFERENCE", "REPAYMENT", "LOAN", "APPLICANT", "CONFIDENCE"}, previewRows(rows))
				return nil
			}

			res, err := a.engine.AutoReconcile(cmd.Context(), account, fromDate, toDate)
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "bank-account", "", "bank account to reconcile (required)")
	cmd.Flags().StringVar(&from, "from-date", "", "earliest transaction date, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to-date", "", "latest transaction date, YYYY-MM-DD")
	cmd.Flags().BoolVar(&preview, "preview", false, "list proposed pairs without committing")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum preview rows (defaults to reconciliation.preview_limit)")
	_ = cmd.MarkFlagRequired("bank-account")
	return cmd
}

func newReconcileSelectedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile-selected <bank-transaction>...",
		Short: "Reconcile specific bank transactions against their best candidate",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := a.engine.ReconcileSelected(cmd.Context(), args)
			if err != nil {
				return err
			}
			res := service.Result{}
			for _, it := range items {
				res.TotalProcessed++
				switch it.Status {
				case service.StatusReconciled:
					res.Reconciled++
				case service.StatusSkipped:
					res.Skipped++
				default:
					res.Failed++
				}
			}
			res.Details = items
			printResult(cmd, res)
			return nil
		},
	}
}

func newFiltersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "filters",
		Short: "List linked document types offered for bank matching",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range a.engine.MatchFilters() {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
}

func previewRows(rows []service.PreviewRow) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			r.BankTransaction,
			r.BankTransactionDate,
			r.BankTransactionAmount,
			r.BankTransactionReference,
			r.LoanRepayment,
			r.Loan,
			r.Applicant,
			string(r.Confidence),
		})
	}
	return out
}

func printResult(cmd *cobra.Command, res service.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, kv("Reconciliation",
		[2]string{"processed", strconv.Itoa(res.TotalProcessed)},
		[2]string{"reconciled", okStyle.Render(strconv.Itoa(res.Reconciled))},
		[2]string{"skipped", warnStyle.Render(strconv.Itoa(res.Skipped))},
		[2]string{"failed", errorStyle.Render(strconv.Itoa(res.Failed))},
	))
	var rows [][]string
	for _, d := range res.Details {
		if d.Status == service.StatusReconciled {
			continue
		}
		rows = append(rows, []string{d.Transaction, d.Repayment, statusText(string(d.Status)), d.Reason})
	}
	if len(rows) > 0 {
		table(out, []string{"BANK TXN", "REPAYMENT", "STATUS", "REASON"}, rows)
	}
}
