package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"apiflow/internal/engine"
	"apiflow/internal/watch"
)

var (
	watchInterval   time.Duration
	watchNoGenerate bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the source tree and update on changes",
	Long: `Watches the repository for source file changes and runs an incremental
update after each burst of edits settles. Updates are still driven by
git revisions: an edit that does not change HEAD (uncommitted work)
triggers a run that finds no committed diff and does nothing.

Stop with Ctrl-C.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "Quiet interval before processing a burst of changes")
	watchCmd.Flags().BoolVar(&watchNoGenerate, "no-generate", false, "Skip artifact generation")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	eng, err := buildEngine(cfg, logger, watchNoGenerate)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := watch.New(cfg.RepoRoot, cfg.SourceExt, skipDirs(cfg), watchInterval, logger)
	w.OnBatch = func(ctx context.Context, paths []string) error {
		logger.Info("change burst settled", "files", len(paths))
		report, err := eng.Run(ctx, engine.ModeIncremental)
		if err != nil {
			return err
		}
		if !report.NoOp {
			return printResult(report)
		}
		return nil
	}

	err = w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
