// Package store persists the index, flow graph, and revision marker as
// JSON documents under the state directory.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	flowerrors "apiflow/internal/errors"
	"apiflow/internal/extract"
)

const (
	indexFile    = "index.json"
	flowFile     = "global_flow.json"
	revisionFile = "last_revision.json"
	pendingFile  = "pending_generation.json"
)

// RevisionMarker records the last revision whose changes were fully
// applied to the persisted documents.
type RevisionMarker struct {
	RevisionID string `json:"revisionId"`
}

// Store reads and writes the persisted documents. All saves are atomic:
// the document is written to a temp file in the same directory and
// renamed over the target, so readers never observe a partial write.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New creates a store rooted at the given state directory.
func New(dir string, logger *slog.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

// LoadIndex loads the persisted index. A missing or empty file yields an
// empty index; unreadable JSON is fatal so a good document is never
// clobbered by a later save.
func (s *Store) LoadIndex() (map[string]*extract.IndexEntry, error) {
	path := filepath.Join(s.dir, indexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*extract.IndexEntry{}, nil
		}
		return nil, flowerrors.New(flowerrors.StoreIOFailure, "reading index document", err)
	}
	if len(data) == 0 {
		s.logger.Warn("index document is empty, treating as uninitialized", "path", path)
		return map[string]*extract.IndexEntry{}, nil
	}

	var index map[string]*extract.IndexEntry
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, flowerrors.New(flowerrors.StoreIOFailure,
			fmt.Sprintf("index document %s is corrupt", path), err)
	}
	return index, nil
}

// SaveIndex atomically persists the index keyed by normalized file path.
func (s *Store) SaveIndex(index map[string]*extract.IndexEntry) error {
	return s.saveAtomic(indexFile, index)
}

// LoadFlow loads the persisted flow graph, empty when missing.
func (s *Store) LoadFlow() (extract.GlobalFlowGraph, error) {
	path := filepath.Join(s.dir, flowFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return extract.GlobalFlowGraph{}, nil
		}
		return nil, flowerrors.New(flowerrors.StoreIOFailure, "reading flow document", err)
	}
	if len(data) == 0 {
		s.logger.Warn("flow document is empty, treating as uninitialized", "path", path)
		return extract.GlobalFlowGraph{}, nil
	}

	var graph extract.GlobalFlowGraph
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, flowerrors.New(flowerrors.StoreIOFailure,
			fmt.Sprintf("flow document %s is corrupt", path), err)
	}
	return graph, nil
}

// SaveFlow atomically persists the flow graph.
func (s *Store) SaveFlow(graph extract.GlobalFlowGraph) error {
	return s.saveAtomic(flowFile, graph)
}

// LoadRevision loads the last applied revision marker. Reports ok=false
// when no marker has been written yet.
func (s *Store) LoadRevision() (RevisionMarker, bool, error) {
	path := filepath.Join(s.dir, revisionFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RevisionMarker{}, false, nil
		}
		return RevisionMarker{}, false, flowerrors.New(flowerrors.StoreIOFailure, "reading revision marker", err)
	}
	if len(data) == 0 {
		return RevisionMarker{}, false, nil
	}

	var marker RevisionMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return RevisionMarker{}, false, flowerrors.New(flowerrors.StoreIOFailure,
			fmt.Sprintf("revision marker %s is corrupt", path), err)
	}
	if strings.TrimSpace(marker.RevisionID) == "" {
		return RevisionMarker{}, false, nil
	}
	return marker, true, nil
}

// SaveRevision atomically persists the revision marker. It must be
// written only after the index and flow documents are saved, so a crash
// between saves re-processes the revision instead of skipping it.
func (s *Store) SaveRevision(marker RevisionMarker) error {
	return s.saveAtomic(revisionFile, marker)
}

// LoadPending loads the endpoint keys whose artifact generation has not
// succeeded yet. They stay pending until generation succeeds or the
// endpoint disappears from the index.
func (s *Store) LoadPending() ([]string, error) {
	path := filepath.Join(s.dir, pendingFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, flowerrors.New(flowerrors.StoreIOFailure, "reading pending generation document", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, flowerrors.New(flowerrors.StoreIOFailure,
			fmt.Sprintf("pending generation document %s is corrupt", path), err)
	}
	return keys, nil
}

// SavePending atomically persists the pending endpoint keys.
func (s *Store) SavePending(keys []string) error {
	sorted := append([]string{}, keys...)
	sort.Strings(sorted)
	return s.saveAtomic(pendingFile, sorted)
}

// saveAtomic marshals v and writes it via temp file + rename.
func (s *Store) saveAtomic(name string, v any) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return flowerrors.New(flowerrors.StoreIOFailure, "creating state directory", err)
	}

	data, err := marshalStable(v)
	if err != nil {
		return flowerrors.New(flowerrors.StoreIOFailure, fmt.Sprintf("encoding %s", name), err)
	}

	path := filepath.Join(s.dir, name)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return flowerrors.New(flowerrors.StoreIOFailure, fmt.Sprintf("writing %s", name), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return flowerrors.New(flowerrors.StoreIOFailure, fmt.Sprintf("replacing %s", name), err)
	}

	s.logger.Debug("saved document", "path", path, "bytes", len(data))
	return nil
}

// marshalStable produces indented JSON with sorted object keys so that
// identical state yields identical bytes. encoding/json already sorts
// map keys; the helper exists to keep the indentation choice in one
// place.
func marshalStable(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
