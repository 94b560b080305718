package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/blakegallagher1/gpc-cres/internal/model"
)

var (
	screenProject    string
	screenValuesFile string
)

var screenCmd = &cobra.Command{
	Use:   "screen",
	Short: "Screen a project and wait for its scores",
	Long:  "Queues a screening run (optionally applying a JSON document of field values first) and blocks until the run completes or fails.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if screenProject == "" {
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

		var delta []model.FieldValue
		trigger := model.TriggerManualRerun
		if screenValuesFile != "" {
			doc, err := os.ReadFile(screenValuesFile)
			if err != nil {
				return eris.Wrapf(err, "read values file %s", screenValuesFile)
			}
			var payload model.IngestionPayload
			if err := json.Unmarshal(doc, &payload); err != nil {
				return eris.Wrapf(err, "decode values file %s", screenValuesFile)
			}
			for _, v := range payload.Values {
				delta = append(delta, model.FieldValue{
					FieldKey:    v.FieldKey,
					ValueNumber: v.ValueNumber,
					ValueText:   v.ValueText,
					Confidence:  v.Confidence,
					Method:      v.Method,
					Citations:   v.Citations,
				})
			}
			trigger = model.TriggerFieldUpdate
		}

		run, err := env.Pipeline.StartRun(ctx, screenProject, trigger, delta)
		if err != nil {
			return err
		}

		final, err := waitForRun(ctx, env, run.ID)
		if err != nil {
			return err
		}

		score, err := env.Pipeline.FinalScores(ctx, final.ID)
		if err != nil {
			return err
		}
		printRunDetail(cmd.OutOrStdout(), final, score)
		return nil
	},
}

func waitForRun(ctx context.Context, env *appEnv, runID string) (*model.ScreeningRun, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), "wait for run")
		case <-ticker.C:
			run, err := env.Store.GetRun(ctx, runID)
			if err != nil {
				return nil, err
			}
			switch run.Status {
			case model.RunStatusComplete:
				return run, nil
			case model.RunStatusFailed:
				return nil, eris.Errorf("run %s failed: %s", runID, run.LastError)
			}
		}
	}
}

func init() {
	screenCmd.Flags().StringVar(&screenProject, "project", "", "project id to screen (required)")
	screenCmd.Flags().StringVar(&screenValuesFile, "values", "", "JSON file of field values to apply before screening")
	rootCmd.AddCommand(screenCmd)
}
