package main

import (
	"context"

	"github.com/spf13/cobra"

	"apiflow/internal/gitrev"
	"apiflow/internal/store"
)

// StatusResult reports the persisted state of a repository.
type StatusResult struct {
	RepoRoot        string `json:"repoRoot"`
	Initialized     bool   `json:"initialized"`
	LastRevision    string `json:"lastRevision,omitempty"`
	CurrentRevision string `json:"currentRevision,omitempty"`
	Pending         bool   `json:"pending"`
	IndexedFiles    int    `json:"indexedFiles"`
	Endpoints       int    `json:"endpoints"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index state and pending changes",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	st := store.New(cfg.StateDir(), logger)
	result := &StatusResult{RepoRoot: cfg.RepoRoot}

	marker, hasMarker, err := st.LoadRevision()
	if err != nil {
		return err
	}
	if hasMarker {
		result.Initialized = true
		result.LastRevision = marker.RevisionID
	}

	index, err := st.LoadIndex()
	if err != nil {
		return err
	}
	result.IndexedFiles = len(index)

	graph, err := st.LoadFlow()
	if err != nil {
		return err
	}
	result.Endpoints = len(graph.EndpointKeys())

	tracker := gitrev.NewTracker(cfg.RepoRoot, cfg.SourceExt, cfg.Extract.TestDirs, skipDirs(cfg), logger)
	if current, err := tracker.CurrentRevision(context.Background()); err == nil {
		result.CurrentRevision = current
		result.Pending = hasMarker && current != marker.RevisionID
	} else {
		logger.Warn("could not resolve current revision", "error", err)
	}

	return printResult(result)
}
