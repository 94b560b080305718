package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blakegallagher1/gpc-cres/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "gpc-cres",
	Short: "Deal screening recomputation pipeline",
	Long:  "Scores commercial real estate deals 1-5 from extracted underwriting inputs, recomputing asynchronously whenever inputs, overrides, or the playbook change.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
