// Package engine orchestrates an indexing run: revision detection,
// extraction, flow graph rebuild, impact resolution, artifact
// generation, and atomic persistence.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"apiflow/internal/artifacts"
	"apiflow/internal/config"
	flowerrors "apiflow/internal/errors"
	"apiflow/internal/extract"
	"apiflow/internal/gensvc"
	"apiflow/internal/gitrev"
	"apiflow/internal/impact"
	"apiflow/internal/store"
)

// Mode selects how the engine determines the file set to process.
type Mode string

const (
	// ModeFull rebuilds the index from a complete tree scan and
	// regenerates artifacts for every endpoint.
	ModeFull Mode = "full"
	// ModeIncremental diffs against the last applied revision, falling
	// back to a full scan when no revision marker exists yet.
	ModeIncremental Mode = "incremental"
	// ModeUpdateOnly is like incremental but refuses to run without a
	// baseline revision marker.
	ModeUpdateOnly Mode = "update-only"
)

// RevisionSource answers revision, diff, and tree-listing questions.
// Satisfied by *gitrev.Tracker.
type RevisionSource interface {
	CurrentRevision(ctx context.Context) (string, error)
	Diff(ctx context.Context, from, to string) (*gitrev.ChangeSet, error)
	ListSourceFiles() ([]string, error)
}

// Options wires the engine's collaborators. Generator may be nil, in
// which case artifact generation is skipped and only the index and flow
// documents are updated.
type Options struct {
	Config    *config.Config
	Store     *store.Store
	Tracker   RevisionSource
	Generator gensvc.Generator
	Artifacts *artifacts.Writer
	Logger    *slog.Logger
}

// Engine runs the indexing pipeline.
type Engine struct {
	cfg       *config.Config
	store     *store.Store
	tracker   RevisionSource
	generator gensvc.Generator
	artifacts *artifacts.Writer
	logger    *slog.Logger
}

// New creates an engine from its collaborators.
func New(opts Options) *Engine {
	return &Engine{
		cfg:       opts.Config,
		store:     opts.Store,
		tracker:   opts.Tracker,
		generator: opts.Generator,
		artifacts: opts.Artifacts,
		logger:    opts.Logger,
	}
}

// RunReport summarizes one engine run.
type RunReport struct {
	RunID        string `json:"runId"`
	Mode         string `json:"mode"`
	FromRevision string `json:"fromRevision,omitempty"`
	ToRevision   string `json:"toRevision"`
	NoOp         bool   `json:"noOp"`
	FullScan     bool   `json:"fullScan"`

	FilesAdded    int `json:"filesAdded"`
	FilesModified int `json:"filesModified"`
	FilesDeleted  int `json:"filesDeleted"`

	ParseFailures      []string `json:"parseFailures"`
	AffectedEndpoints  []string `json:"affectedEndpoints"`
	GeneratedArtifacts []string `json:"generatedArtifacts"`
	GenerationFailures []string `json:"generationFailures"`
	ArchivedEndpoints  []string `json:"archivedEndpoints"`

	Status     string `json:"status"`
	DurationMs int64  `json:"durationMs"`
}

// Run executes one indexing run. The revision marker only advances after
// the index, flow, and marker documents have all been committed, so an
// interrupted run is re-processed rather than silently skipped.
func (e *Engine) Run(ctx context.Context, mode Mode) (*RunReport, error) {
	started := time.Now()
	report := &RunReport{
		RunID:              uuid.NewString(),
		Mode:               string(mode),
		ParseFailures:      []string{},
		AffectedEndpoints:  []string{},
		GeneratedArtifacts: []string{},
		GenerationFailures: []string{},
		ArchivedEndpoints:  []string{},
	}

	current, err := e.tracker.CurrentRevision(ctx)
	if err != nil {
		return nil, err
	}
	report.ToRevision = current

	preIndex, err := e.store.LoadIndex()
	if err != nil {
		return nil, err
	}
	marker, hasMarker, err := e.store.LoadRevision()
	if err != nil {
		return nil, err
	}
	if hasMarker {
		report.FromRevision = marker.RevisionID
	}
	pending, err := e.store.LoadPending()
	if err != nil {
		return nil, err
	}

	changes, err := e.changeSet(ctx, mode, current, marker, hasMarker, preIndex, report)
	if err != nil {
		return nil, err
	}
	if changes == nil {
		// Endpoints whose generation failed last time stay affected
		// until they succeed, even when no revision changed.
		if len(pending) == 0 {
			report.NoOp = true
			report.Status = "success"
			report.DurationMs = time.Since(started).Milliseconds()
			e.logger.Info("revision already applied, nothing to do", "revision", current)
			return report, nil
		}
		e.logger.Info("retrying endpoints with pending generation", "count", len(pending))
		changes = &gitrev.ChangeSet{}
	}

	report.FilesAdded = len(changes.Added)
	report.FilesModified = len(changes.Modified)
	report.FilesDeleted = len(changes.Deleted)
	e.logger.Info("processing changes",
		"run", report.RunID,
		"added", len(changes.Added),
		"modified", len(changes.Modified),
		"deleted", len(changes.Deleted))

	// Entries are never mutated in place: the new index starts as a
	// shallow copy and only gains or loses whole entries, so the
	// pre-change view stays intact for deletion impact.
	newIndex := make(map[string]*extract.IndexEntry, len(preIndex))
	if !report.FullScan {
		for path, entry := range preIndex {
			newIndex[path] = entry
		}
	}
	for _, path := range changes.Deleted {
		delete(newIndex, path)
	}

	touched := changes.Touched()
	if err := e.extractAll(ctx, touched, preIndex, newIndex, report); err != nil {
		return nil, err
	}

	graph := extract.BuildGlobalFlowGraph(newIndex)
	newKeys := keySet(graph.EndpointKeys())
	preKeys := indexEndpointKeys(preIndex)

	var affected map[string]extract.EndpointDescriptor
	if report.FullScan {
		affected = allEndpoints(graph)
	} else {
		affected = impact.ResolveAffected(touched, newIndex)
		for key, ep := range impact.ResolveAffected(changes.Deleted, preIndex) {
			if _, exists := affected[key]; !exists {
				affected[key] = ep
			}
		}
	}
	for _, key := range pending {
		if _, exists := affected[key]; exists {
			continue
		}
		if ep, ok := endpointByKey(graph, key); ok {
			affected[key] = ep
		}
		// Keys without a live endpoint drop off: the source is gone.
	}
	report.AffectedEndpoints = impact.SortedKeys(affected)

	// Retired endpoints: present before, gone now.
	for _, key := range sortedKeySet(preKeys) {
		if _, alive := newKeys[key]; alive {
			continue
		}
		if err := e.archiveEndpoint(key); err != nil {
			return nil, err
		}
		report.ArchivedEndpoints = append(report.ArchivedEndpoints, key)
	}

	// A full scan regenerates every live artifact, so the live tree is
	// cleared once retired keys have been copied into the archive.
	if report.FullScan && e.artifacts != nil && e.generator != nil {
		if err := e.artifacts.Clean(); err != nil {
			return nil, err
		}
	}

	e.generateAll(ctx, affected, newKeys, newIndex, report)

	if e.artifacts != nil {
		if err := e.artifacts.WriteSummary(report.GeneratedArtifacts, report.GenerationFailures, report.ArchivedEndpoints); err != nil {
			return nil, err
		}
	}

	// Without a generator the pending set is carried over untouched;
	// otherwise this run's failures replace it.
	newPending := pending
	if e.generator != nil && e.artifacts != nil {
		newPending = report.GenerationFailures
	}

	// A cancelled run must not commit: the stores stay at their last
	// fully-written state and the next run re-processes the revision.
	if err := ctx.Err(); err != nil {
		return nil, flowerrors.New(flowerrors.InternalError, "run cancelled before commit", err)
	}

	// Commit order matters: marker last, each write atomic.
	if err := e.store.SaveIndex(newIndex); err != nil {
		return nil, err
	}
	if err := e.store.SaveFlow(graph); err != nil {
		return nil, err
	}
	if err := e.store.SavePending(newPending); err != nil {
		return nil, err
	}
	if err := e.store.SaveRevision(store.RevisionMarker{RevisionID: current}); err != nil {
		return nil, err
	}

	report.Status = "success"
	if len(report.ParseFailures) > 0 || len(report.GenerationFailures) > 0 {
		report.Status = "warnings"
	}
	report.DurationMs = time.Since(started).Milliseconds()
	e.logger.Info("run complete",
		"run", report.RunID,
		"status", report.Status,
		"endpoints", len(report.AffectedEndpoints),
		"generated", len(report.GeneratedArtifacts),
		"archived", len(report.ArchivedEndpoints))
	return report, nil
}

// changeSet resolves the mode into a concrete change set. A nil set with
// nil error means the current revision is already applied.
func (e *Engine) changeSet(ctx context.Context, mode Mode, current string, marker store.RevisionMarker, hasMarker bool, preIndex map[string]*extract.IndexEntry, report *RunReport) (*gitrev.ChangeSet, error) {
	switch mode {
	case ModeFull:
		return e.fullChangeSet(preIndex, report)
	case ModeIncremental:
		if !hasMarker {
			e.logger.Info("no baseline revision, falling back to full scan")
			return e.fullChangeSet(preIndex, report)
		}
	case ModeUpdateOnly:
		if !hasMarker {
			return nil, flowerrors.New(flowerrors.DiffFailure,
				"no baseline revision: run a full index first", nil)
		}
	default:
		return nil, flowerrors.New(flowerrors.InternalError, "unknown run mode "+string(mode), nil)
	}

	if marker.RevisionID == current {
		return nil, nil
	}
	return e.tracker.Diff(ctx, marker.RevisionID, current)
}

// fullChangeSet lists the whole tree as additions; files that vanished
// since the last run appear as deletions so their endpoints retire.
func (e *Engine) fullChangeSet(preIndex map[string]*extract.IndexEntry, report *RunReport) (*gitrev.ChangeSet, error) {
	report.FullScan = true
	files, err := e.tracker.ListSourceFiles()
	if err != nil {
		return nil, err
	}
	listed := keySet(files)
	set := &gitrev.ChangeSet{Added: files}
	for path := range preIndex {
		if _, ok := listed[path]; !ok {
			set.Deleted = append(set.Deleted, path)
		}
	}
	sort.Strings(set.Deleted)
	return set, nil
}

// extractAll re-extracts the touched files with a bounded worker pool.
// Each worker owns its parser. A parse failure keeps the file's previous
// entry when one exists and the run continues; cancellation is fatal so
// a partially applied change set is never committed.
func (e *Engine) extractAll(ctx context.Context, files []string, preIndex, newIndex map[string]*extract.IndexEntry, report *RunReport) error {
	if len(files) == 0 {
		return nil
	}

	workers := e.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(files) {
		workers = len(files)
	}

	type result struct {
		path  string
		entry *extract.IndexEntry
		err   error
	}

	jobs := make(chan string)
	results := make(chan result, len(files))
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ex := extract.NewExtractor(extract.Options{
				TestKeywords:     e.cfg.Extract.TestKeywords,
				ExternalPackages: e.cfg.Extract.ExternalPackages,
				FallbackWindow:   e.cfg.Extract.FallbackWindow,
			}, e.logger)
			for path := range jobs {
				if err := ctx.Err(); err != nil {
					results <- result{path: path, err: err}
					continue
				}
				entry, err := ex.ExtractFile(ctx, e.cfg.RepoRoot, path)
				results <- result{path: path, entry: entry, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, path := range files {
			select {
			case jobs <- path:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var fatal error
	for res := range results {
		if res.err != nil {
			if errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded) {
				if fatal == nil {
					fatal = flowerrors.New(flowerrors.InternalError, "extraction interrupted", res.err)
				}
				continue
			}
			e.logger.Warn("extraction failed, keeping previous entry if any",
				"file", res.path, "error", res.err)
			report.ParseFailures = append(report.ParseFailures, res.path)
			if prev, ok := preIndex[res.path]; ok {
				newIndex[res.path] = prev
			}
			continue
		}
		newIndex[res.path] = res.entry
	}
	sort.Strings(report.ParseFailures)
	if fatal == nil {
		if err := ctx.Err(); err != nil {
			fatal = flowerrors.New(flowerrors.InternalError, "extraction interrupted", err)
		}
	}
	return fatal
}

// generateAll regenerates artifacts for affected endpoints that still
// exist. Per-endpoint failures are recorded and the batch continues.
func (e *Engine) generateAll(ctx context.Context, affected map[string]extract.EndpointDescriptor, newKeys map[string]struct{}, newIndex map[string]*extract.IndexEntry, report *RunReport) {
	if e.generator == nil || e.artifacts == nil {
		return
	}

	for _, key := range impact.SortedKeys(affected) {
		if _, alive := newKeys[key]; !alive {
			continue
		}
		ep := affected[key]
		meta := buildMetadata(ep, newIndex)

		content, err := e.generator.Generate(ctx, meta)
		if err != nil {
			e.logger.Warn("artifact generation failed", "endpoint", key, "error", err)
			report.GenerationFailures = append(report.GenerationFailures, key)
			continue
		}
		if err := e.artifacts.Write(key, content); err != nil {
			e.logger.Warn("artifact write failed", "endpoint", key, "error", err)
			report.GenerationFailures = append(report.GenerationFailures, key)
			continue
		}
		report.GeneratedArtifacts = append(report.GeneratedArtifacts, key)
	}
}

func (e *Engine) archiveEndpoint(key string) error {
	if e.artifacts == nil {
		return nil
	}
	return e.artifacts.Archive(key)
}

// buildMetadata assembles the generation request for an endpoint from
// the entry that declares it.
func buildMetadata(ep extract.EndpointDescriptor, index map[string]*extract.IndexEntry) gensvc.Metadata {
	meta := gensvc.Metadata{
		Path:             ep.Path,
		Method:           ep.HTTPMethod,
		Controller:       ep.DeclaringClass,
		ControllerMethod: ep.DeclaringMethod,
		ServiceCalls:     []string{},
	}

	seen := make(map[string]struct{})
	for _, entry := range index {
		if !declaresClass(entry, ep.DeclaringClass) {
			continue
		}
		for _, ref := range entry.Flow.ServiceCalls {
			if _, dup := seen[ref.ComponentTypeName]; dup {
				continue
			}
			seen[ref.ComponentTypeName] = struct{}{}
			meta.ServiceCalls = append(meta.ServiceCalls, ref.ComponentTypeName)
		}
	}
	sort.Strings(meta.ServiceCalls)
	return meta
}

func declaresClass(entry *extract.IndexEntry, name string) bool {
	for _, c := range entry.Classes {
		if c.Name == name {
			return true
		}
	}
	return false
}

// endpointByKey finds the live descriptor for an endpoint key.
func endpointByKey(graph extract.GlobalFlowGraph, key string) (extract.EndpointDescriptor, bool) {
	for _, agg := range graph {
		for _, ep := range agg.Endpoints {
			if ep.Key() == key {
				return ep, true
			}
		}
	}
	return extract.EndpointDescriptor{}, false
}

func allEndpoints(graph extract.GlobalFlowGraph) map[string]extract.EndpointDescriptor {
	out := make(map[string]extract.EndpointDescriptor)
	for _, agg := range graph {
		for _, ep := range agg.Endpoints {
			if _, exists := out[ep.Key()]; !exists {
				out[ep.Key()] = ep
			}
		}
	}
	return out
}

func indexEndpointKeys(index map[string]*extract.IndexEntry) map[string]struct{} {
	keys := make(map[string]struct{})
	for _, entry := range index {
		for _, ep := range entry.Flow.Endpoints {
			keys[ep.Key()] = struct{}{}
		}
	}
	return keys
}

func keySet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}

func sortedKeySet(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
