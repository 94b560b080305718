package main

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/blakegallagher1/gpc-cres/internal/model"
)

var (
	playbookFile     string
	playbookVersion  int
	playbookActivate bool
)

var playbookCmd = &cobra.Command{
	Use:   "playbook",
	Short: "Manage screening playbook versions",
}

var playbookCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new playbook version from a YAML settings file",
	Long:  "Reads a YAML settings document, overlays it on the defaults, and stores it as a new version. With --activate every known project is queued for rescreening; queued runs are picked up by the next serve process if workers are not running here.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		settings := model.DefaultSettings()
		if playbookFile != "" {
			doc, err := os.ReadFile(playbookFile)
			if err != nil {
				return eris.Wrapf(err, "read settings file %s", playbookFile)
			}
			if err := yaml.Unmarshal(doc, &settings); err != nil {
				return eris.Wrapf(err, "decode settings file %s", playbookFile)
			}
		}
		if err := settings.Validate(); err != nil {
			return err
		}

		pb, err := env.Store.CreatePlaybookVersion(ctx, playbookVersion, settings, false)
		if err != nil {
			return err
		}
		zap.L().Info("created playbook", zap.String("id", pb.ID), zap.Int("version", pb.Version))

		if playbookActivate {
			if _, err := env.Pipeline.ActivatePlaybook(ctx, pb.ID); err != nil {
				return err
			}
			zap.L().Info("activated playbook", zap.String("id", pb.ID))
		}

		cmd.Printf("playbook %s version %d created\n", pb.ID, pb.Version)
		return nil
	},
}

var playbookListCmd = &cobra.Command{
	Use:   "list",
	Short: "List playbook versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		playbooks, err := env.Store.ListPlaybooks(ctx)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"ID", "Version", "Active", "Min DSCR", "Min Cap", "LTV", "Created"})
		for _, pb := range playbooks {
			t.AppendRow(table.Row{
				shortID(pb.ID),
				pb.Version,
				pb.IsActive,
				pb.Settings.HardFilters.MinDSCR,
				pb.Settings.HardFilters.MinCapRate,
				pb.Settings.DebtTemplate.LTV,
				pb.CreatedAt.Format("2006-01-02 15:04:05"),
			})
		}
		t.SetStyle(table.StyleLight)
		t.Render()
		return nil
	},
}

var playbookActivateCmd = &cobra.Command{
	Use:   "activate <playbook-id>",
	Short: "Activate a playbook version and queue rescreens for every project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		pb, err := env.Pipeline.ActivatePlaybook(ctx, args[0])
		if err != nil {
			return err
		}
		cmd.Printf("playbook %s version %d activated\n", pb.ID, pb.Version)
		return nil
	},
}

func init() {
	playbookCreateCmd.Flags().StringVar(&playbookFile, "file", "", "YAML settings file (defaults used when omitted)")
	playbookCreateCmd.Flags().IntVar(&playbookVersion, "version", 0, "version number (next available when 0)")
	playbookCreateCmd.Flags().BoolVar(&playbookActivate, "activate", false, "activate the new version")
	playbookCmd.AddCommand(playbookCreateCmd)
	playbookCmd.AddCommand(playbookListCmd)
	playbookCmd.AddCommand(playbookActivateCmd)
	rootCmd.AddCommand(playbookCmd)
}
