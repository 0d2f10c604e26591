package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"apiflow/internal/config"
	"apiflow/internal/logging"
	"apiflow/internal/version"
)

var (
	repoFlag      string
	formatFlag    string
	logLevelFlag  string
	logFormatFlag string
)

var rootCmd = &cobra.Command{
	Use:   "apiflow",
	Short: "apiflow - incremental API surface indexing and test case generation",
	Long: `apiflow indexes a Java/Spring source tree into structured JSON documents,
detects changes between git revisions, resolves which HTTP endpoints are
affected, and regenerates BDD feature artifacts for those endpoints.`,
	Version: version.Info(),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Generation credentials may live in a .env next to the repo.
		godotenv.Load(filepath.Join(repoFlag, ".env"))
		godotenv.Load()
	},
}

func init() {
	rootCmd.SetVersionTemplate("apiflow version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", ".", "Repository root to index")
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "human", "Output format: json or human")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "Log format: json or text")
}

// loadConfig resolves the repository root and loads its configuration.
func loadConfig() (*config.Config, error) {
	root, err := filepath.Abs(repoFlag)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(root)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the logger from config with CLI flag overrides.
func newLogger(cfg *config.Config) *slog.Logger {
	level := cfg.Logging.Level
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	format := cfg.Logging.Format
	if logFormatFlag != "" {
		format = logFormatFlag
	}
	return logging.NewLogger(logging.Config{
		Format: logging.Format(format),
		Level:  level,
	})
}

// printResult renders a command result in the selected output format.
func printResult(result interface{}) error {
	out, err := FormatResponse(result, OutputFormat(formatFlag))
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

// apiKey returns the generation service credential, empty when unset.
func apiKey() string {
	return os.Getenv("OPENAI_API_KEY")
}
