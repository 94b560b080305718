package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/blakegallagher1/gpc-cres/internal/model"
)

var (
	exportProject string
	exportRunID   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a run's scorecard to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportProject == "" {
			return eris.New("--project is required")
		}

		ctx := cmd.Context()
		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()
		if err := env.Start(ctx); err != nil {
			return err
		}

		job, err := env.Pipeline.RequestExport(ctx, exportProject, exportRunID)
		if err != nil {
			return err
		}

		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return eris.Wrap(ctx.Err(), "wait for export")
			case <-ticker.C:
				job, err = env.Store.GetExportJob(ctx, job.ID)
				if err != nil {
					return err
				}
				switch job.Status {
				case model.JobStatusComplete:
					cmd.Printf("exported %s\n", job.FilePath)
					return nil
				case model.JobStatusFailed:
					return eris.Errorf("export %s failed: %s", job.ID, job.LastError)
				}
			}
		}
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportProject, "project", "", "project id to export (required)")
	exportCmd.Flags().StringVar(&exportRunID, "run", "", "run id (latest when omitted)")
	rootCmd.AddCommand(exportCmd)
}
