// Package artifacts writes, archives, and summarizes generated feature
// files.
package artifacts

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	flowerrors "apiflow/internal/errors"
	"apiflow/internal/paths"
)

const (
	deprecatedPrefix = "# DEPRECATED"
	summaryFileName  = "test_cases_summary.md"
)

// Writer manages the artifact directory: one feature file per endpoint
// key, an archive subdirectory for retired endpoints, and a summary.
type Writer struct {
	dir        string
	archiveDir string
	logger     *slog.Logger
}

// NewWriter creates a writer for the given artifacts directory.
// archiveName is the subdirectory retired artifacts are copied into.
func NewWriter(dir, archiveName string, logger *slog.Logger) *Writer {
	return &Writer{
		dir:        dir,
		archiveDir: filepath.Join(dir, archiveName),
		logger:     logger,
	}
}

// Dir returns the artifacts directory.
func (w *Writer) Dir() string {
	return w.dir
}

// FilePath returns the artifact path for an endpoint key.
func (w *Writer) FilePath(key string) string {
	return filepath.Join(w.dir, paths.ArtifactFileName(key))
}

// Write persists the generated content for an endpoint key, replacing
// any previous artifact atomically.
func (w *Writer) Write(key, content string) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return flowerrors.New(flowerrors.StoreIOFailure, "creating artifacts directory", err)
	}

	method, path, ok := paths.SplitEndpointKey(key)
	if !ok {
		method, path = key, ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# BDD Test Cases for %s %s\n\n", method, path)
	b.WriteString(strings.TrimSpace(content))
	b.WriteString("\n")

	return w.writeAtomic(w.FilePath(key), []byte(b.String()))
}

// Archive retires the artifact for an endpoint that no longer exists: a
// copy is placed in the archive directory and the live file is rewritten
// with a deprecation header so stale consumers see the state change.
// A missing live artifact is not an error.
func (w *Writer) Archive(key string) error {
	live := w.FilePath(key)
	content, err := os.ReadFile(live)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return flowerrors.New(flowerrors.CleanupFailure,
			fmt.Sprintf("reading artifact for %s", key), err)
	}
	if strings.HasPrefix(string(content), deprecatedPrefix) {
		return nil
	}

	if err := os.MkdirAll(w.archiveDir, 0755); err != nil {
		return flowerrors.New(flowerrors.CleanupFailure, "creating archive directory", err)
	}
	archived := filepath.Join(w.archiveDir, paths.ArtifactFileName(key))
	if err := w.writeAtomic(archived, content); err != nil {
		return err
	}
	header := fmt.Sprintf("%s: endpoint %s removed %s\n", deprecatedPrefix, key,
		time.Now().UTC().Format(time.RFC3339))
	if err := w.writeAtomic(live, append([]byte(header), content...)); err != nil {
		return err
	}

	w.logger.Info("archived retired endpoint artifact", "endpoint", key, "archive", archived)
	return nil
}

// WriteSummary writes the run summary markdown listing current and
// retired endpoints.
func (w *Writer) WriteSummary(generated, failed, archived []string) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return flowerrors.New(flowerrors.StoreIOFailure, "creating artifacts directory", err)
	}

	var b strings.Builder
	b.WriteString("# Test Cases Summary\n\n")
	fmt.Fprintf(&b, "Updated: %s\n\n", time.Now().UTC().Format(time.RFC3339))

	writeSection := func(title string, keys []string) {
		fmt.Fprintf(&b, "## %s\n\n", title)
		if len(keys) == 0 {
			b.WriteString("(none)\n\n")
			return
		}
		sorted := append([]string(nil), keys...)
		sort.Strings(sorted)
		for _, key := range sorted {
			fmt.Fprintf(&b, "- `%s` -> %s\n", key, paths.ArtifactFileName(key))
		}
		b.WriteString("\n")
	}

	writeSection("Generated", generated)
	writeSection("Failed", failed)
	writeSection("Archived", archived)

	return w.writeAtomic(filepath.Join(w.dir, summaryFileName), []byte(b.String()))
}

// Clean removes live artifacts and the summary ahead of a full
// regeneration. The archive subdirectory is kept: it is the only record
// of endpoints that no longer exist.
func (w *Writer) Clean() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return flowerrors.New(flowerrors.CleanupFailure, "reading artifacts directory", err)
	}

	archiveName := filepath.Base(w.archiveDir)
	for _, entry := range entries {
		if entry.Name() == archiveName {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if entry.IsDir() {
			if err := SafeRemoveDir(path, w.logger); err != nil {
				return err
			}
			continue
		}
		if err := os.Remove(path); err != nil {
			return flowerrors.New(flowerrors.CleanupFailure,
				fmt.Sprintf("removing %s", path), err)
		}
	}
	return nil
}

func (w *Writer) writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return flowerrors.New(flowerrors.StoreIOFailure, fmt.Sprintf("writing %s", path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return flowerrors.New(flowerrors.StoreIOFailure, fmt.Sprintf("replacing %s", path), err)
	}
	return nil
}

// SafeRemoveDir removes a directory tree with escalating strategies:
// plain removal, then a permission-fixing walk, then the system rm as a
// last resort. Only when all three fail is the failure fatal, because a
// directory that cannot be cleared would poison every later run.
func SafeRemoveDir(dir string, logger *slog.Logger) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	if err := os.RemoveAll(dir); err == nil {
		return nil
	} else {
		logger.Warn("directory removal failed, retrying with permission fix", "dir", dir, "error", err)
	}

	// Read-only entries block RemoveAll; open them up and retry.
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			os.Chmod(path, 0755)
		} else {
			os.Chmod(path, 0644)
		}
		return nil
	})
	if err := os.RemoveAll(dir); err == nil {
		return nil
	} else {
		logger.Warn("directory removal failed after permission fix, escalating to rm", "dir", dir, "error", err)
	}

	if out, err := exec.Command("rm", "-rf", dir).CombinedOutput(); err != nil {
		return flowerrors.New(flowerrors.CleanupFailure,
			fmt.Sprintf("removing directory %s: %s", dir, strings.TrimSpace(string(out))), err)
	}
	if _, err := os.Stat(dir); err == nil {
		return flowerrors.New(flowerrors.CleanupFailure,
			fmt.Sprintf("directory %s still present after removal", dir), nil)
	}
	return nil
}
