package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dupe-finder/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "dupe-finder",
	Short: "Beauty product dupe search pipeline",
	Long:  "Identifies a beauty product from text or a photo, finds cheaper alternatives, verifies them against UPCitemdb, compares them with an LLM and stores the results in Postgres.",
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
