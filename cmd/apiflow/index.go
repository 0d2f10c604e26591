package main

import (
	"context"

	"github.com/spf13/cobra"

	"apiflow/internal/engine"
)

var (
	indexNoGenerate bool
	indexSaveConfig bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the full index and regenerate all artifacts",
	Long: `Scans the whole source tree, rebuilds the index and flow documents from
scratch, and regenerates BDD artifacts for every endpoint. Endpoints
that existed before but no longer do are archived.

Examples:
  apiflow index                 # Full scan of the current repository
  apiflow index --repo ../shop  # Index another repository
  apiflow index --no-generate   # Update documents without calling the
                                # generation service`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&indexNoGenerate, "no-generate", false, "Skip artifact generation")
	indexCmd.Flags().BoolVar(&indexSaveConfig, "save-config", false, "Write the effective config to the state directory")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	if indexSaveConfig {
		if err := cfg.Save(cfg.RepoRoot); err != nil {
			return err
		}
	}

	eng, err := buildEngine(cfg, logger, indexNoGenerate)
	if err != nil {
		return err
	}

	report, err := eng.Run(context.Background(), engine.ModeFull)
	if err != nil {
		logger.Error("index run failed", "error", err)
		return err
	}
	return printResult(report)
}
