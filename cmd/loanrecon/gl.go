package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jask/loanrecon/internal/service"
)

func newGLCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gl",
		Short: "Inspect and backfill missing loan repayment ledger entries",
	}
	cmd.AddCommand(newGLMissingCmd(a), newGLRegenerateCmd(a))
	return cmd
}

func newGLMissingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "missing",
		Short: "Report repayments without GL entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := a.engine.PreviewMissingGL(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, kv("Missing GL entries",
				[2]string{"repayments", strconv.Itoa(rep.TotalCount)},
				[2]string{"amount", rep.TotalAmount.StringFixed(2)},
			))
			if rep.TotalCount == 0 {
				return nil
			}
			months := make([][]string, 0, len(rep.ByMonth))
			for _, m := range rep.ByMonth {
				months = append(months, []string{m.Month, strconv.Itoa(m.Count), m.Amount.StringFixed(2)})
			}
			table(out, []string{"MONTH", "COUNT", "AMOUNT"}, months)
			fmt.Fprintln(out)
			sample := make([][]string, 0, len(rep.Sample))
			for _, s := range rep.Sample {
				sample = append(sample, []string{s.ID, s.Loan, s.Applicant, s.PostingDate, s.AmountPaid.StringFixed(2)})
			}
			table(out, []string{"REPAYMENT", "LOAN", "APPLICANT", "POSTED", "AMOUNT"}, sample)
			return nil
		},
	}
}

func newGLRegenerateCmd(a *app) *cobra.Command {
	var (
		limit  int
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "regenerate",
		Short: "Post GL entries for repayments that are missing them",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			progress := func(p service.Progress) {
				if p.Done%100 == 0 || p.Done == p.Total {
					fmt.Fprintf(cmd.ErrOrStderr(), "%d/%d\n", p.Done, p.Total)
				}
			}
			res, err := a.engine.GL.Regenerate(cmd.Context(), service.RegenerateOptions{
				Limit:    limit,
				DryRun:   dryRun,
				Progress: progress,
			})
			if err != nil {
				return err
			}
			title := "GL backfill"
			if dryRun {
				title += " (dry run)"
			}
			fmt.Fprintln(out, kv(title,
				[2]string{"processed", strconv.Itoa(res.Processed)},
				[2]string{"success", okStyle.Render(strconv.Itoa(res.Success))},
				[2]string{"skipped", warnStyle.Render(strconv.Itoa(res.Skipped))},
				[2]string{"errors", errorStyle.Render(strconv.Itoa(res.Errors))},
				[2]string{"amount", res.TotalAmount.StringFixed(2)},
			))
			if len(res.ErrorDetails) > 0 {
				rows := make([][]string, 0, len(res.ErrorDetails))
				for _, e := range res.ErrorDetails {
					rows = append(rows, []string{e.Repayment, e.Error})
				}
				table(out, []string{"REPAYMENT", "ERROR"}, rows)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum repayments to process (0 = all)")
	cmd.Flags().BoolVar(&dryRun, "preview", false, "validate postings without writing")
	return cmd
}
