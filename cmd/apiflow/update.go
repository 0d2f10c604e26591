package main

import (
	"context"

	"github.com/spf13/cobra"

	"apiflow/internal/engine"
)

var (
	updateStrict     bool
	updateNoGenerate bool
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Process changes since the last applied revision",
	Long: `Diffs the repository HEAD against the last applied revision, re-extracts
the changed files, resolves the affected endpoints, and regenerates
their artifacts. When the tool has never run in this repository the
command falls back to a full scan.

Examples:
  apiflow update           # Incremental update (full scan if uninitialized)
  apiflow update --strict  # Fail instead of falling back to a full scan`,
	RunE: runUpdate,
}

func init() {
	updateCmd.Flags().BoolVar(&updateStrict, "strict", false, "Require a baseline revision, never full-scan")
	updateCmd.Flags().BoolVar(&updateNoGenerate, "no-generate", false, "Skip artifact generation")
	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	eng, err := buildEngine(cfg, logger, updateNoGenerate)
	if err != nil {
		return err
	}

	mode := engine.ModeIncremental
	if updateStrict {
		mode = engine.ModeUpdateOnly
	}

	report, err := eng.Run(context.Background(), mode)
	if err != nil {
		logger.Error("update run failed", "error", err)
		return err
	}
	return printResult(report)
}
