package main

import (
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"apiflow/internal/artifacts"
	"apiflow/internal/config"
	"apiflow/internal/engine"
	"apiflow/internal/gensvc"
	"apiflow/internal/gitrev"
	"apiflow/internal/store"
)

// buildEngine wires an engine from the loaded configuration. When
// skipGeneration is set, or no API key is available, the engine updates
// the index documents but produces no artifacts.
func buildEngine(cfg *config.Config, logger *slog.Logger, skipGeneration bool) (*engine.Engine, error) {
	st := store.New(cfg.StateDir(), logger)
	tracker := gitrev.NewTracker(
		cfg.RepoRoot,
		cfg.SourceExt,
		cfg.Extract.TestDirs,
		skipDirs(cfg),
		logger,
	)

	var generator gensvc.Generator
	if !skipGeneration {
		key := apiKey()
		if key == "" {
			logger.Warn("OPENAI_API_KEY not set, skipping artifact generation")
		} else {
			template, err := gensvc.LoadTemplate(templatePath(cfg))
			if err != nil {
				return nil, err
			}
			generator = gensvc.New(key, gensvc.Options{
				Model:       cfg.Generation.Model,
				Template:    template,
				MaxRetries:  cfg.Generation.MaxRetries,
				RetryDelay:  time.Duration(cfg.Generation.RetryDelayMs) * time.Millisecond,
				Timeout:     time.Duration(cfg.Generation.TimeoutMs) * time.Millisecond,
				MaxTokens:   cfg.Generation.MaxTokens,
				Temperature: cfg.Generation.Temperature,
			}, logger)
		}
	}

	writer := artifacts.NewWriter(
		filepath.Join(cfg.RepoRoot, cfg.Output.ArtifactsDir),
		cfg.Output.ArchiveDir,
		logger,
	)

	return engine.New(engine.Options{
		Config:    cfg,
		Store:     st,
		Tracker:   tracker,
		Generator: generator,
		Artifacts: writer,
		Logger:    logger,
	}), nil
}

// skipDirs lists directory names the tracker and watcher never descend
// into: the state directory and the artifacts output tree.
func skipDirs(cfg *config.Config) []string {
	dirs := []string{config.StateDirName}
	if seg := firstSegment(cfg.Output.ArtifactsDir); seg != "" && seg != "." {
		dirs = append(dirs, seg)
	}
	return dirs
}

func firstSegment(path string) string {
	path = filepath.ToSlash(path)
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

func templatePath(cfg *config.Config) string {
	if cfg.Generation.TemplatePath == "" {
		return ""
	}
	if filepath.IsAbs(cfg.Generation.TemplatePath) {
		return cfg.Generation.TemplatePath
	}
	return filepath.Join(cfg.RepoRoot, cfg.Generation.TemplatePath)
}
