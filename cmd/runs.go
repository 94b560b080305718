package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/blakegallagher1/gpc-cres/internal/model"
	"github.com/blakegallagher1/gpc-cres/internal/store"
)

var runsProject string

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect screening runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List screening runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		runs, err := env.Store.ListRuns(ctx, store.RunFilter{ProjectID: runsProject})
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"Run", "Project", "Status", "Trigger", "Playbook", "Review", "Created"})
		for _, run := range runs {
			t.AppendRow(table.Row{
				shortID(run.ID),
				run.ProjectID,
				run.Status,
				run.Trigger,
				run.PlaybookVersion,
				run.NeedsReview,
				run.CreatedAt.Format("2006-01-02 15:04:05"),
			})
		}
		t.SetStyle(table.StyleLight)
		t.Render()
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its final scores",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Store.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		score, err := env.Pipeline.FinalScores(ctx, run.ID)
		if err != nil {
			return err
		}
		printRunDetail(cmd.OutOrStdout(), run, score)
		return nil
	},
}

func printRunDetail(out io.Writer, run *model.ScreeningRun, score *model.ScoreBreakdown) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRow(table.Row{"Run", run.ID})
	t.AppendRow(table.Row{"Project", run.ProjectID})
	t.AppendRow(table.Row{"Status", run.Status})
	t.AppendRow(table.Row{"Trigger", run.Trigger})
	t.AppendRow(table.Row{"Playbook Version", run.PlaybookVersion})
	t.AppendRow(table.Row{"Needs Review", run.NeedsReview})
	if len(run.LowConfidenceKeys) > 0 {
		t.AppendRow(table.Row{"Low Confidence", strings.Join(run.LowConfidenceKeys, ", ")})
	}

	if score != nil {
		t.AppendSeparator()
		t.AppendRow(table.Row{"Overall Score", fmtScore(score.OverallScore)})
		t.AppendRow(table.Row{"Financial Score", fmtScore(score.FinancialScore)})
		t.AppendRow(table.Row{"Qualitative Score", fmtScore(score.QualitativeScore)})
		t.AppendRow(table.Row{"Provisional", score.IsProvisional})
		t.AppendRow(table.Row{"Hard Filter Failed", score.HardFilterFailed})
		if len(score.HardFilterReasons) > 0 {
			t.AppendRow(table.Row{"Hard Filter Reasons", strings.Join(score.HardFilterReasons, ", ")})
		}
		if len(score.MissingKeys) > 0 {
			t.AppendRow(table.Row{"Missing Inputs", strings.Join(score.MissingKeys, ", ")})
		}
		t.AppendSeparator()
		t.AppendRow(table.Row{"Cap Rate (Used)", fmtMetric(score.Metrics.CapRateUsed)})
		t.AppendRow(table.Row{"Yield on Cost", fmtMetric(score.Metrics.YieldOnCost)})
		t.AppendRow(table.Row{"Yield Spread", fmtMetric(score.Metrics.YieldSpread)})
		t.AppendRow(table.Row{"DSCR", fmtMetric(score.Metrics.DSCR)})
		t.AppendRow(table.Row{"Cash on Cash", fmtMetric(score.Metrics.CashOnCash)})
	}

	t.SetStyle(table.StyleLight)
	t.Render()
}

func fmtScore(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func fmtMetric(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	runsListCmd.Flags().StringVar(&runsProject, "project", "", "filter by project id")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
