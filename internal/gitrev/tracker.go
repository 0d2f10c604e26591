// Package gitrev detects source changes between git revisions.
package gitrev

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	flowerrors "apiflow/internal/errors"
	"apiflow/internal/paths"
)

// ChangeSet lists the in-scope source files that differ between two
// revisions, grouped by change kind. A rename contributes the old path
// to Deleted and the new path to Added.
type ChangeSet struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// Empty reports whether the set contains no changes.
func (c *ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// Total returns the number of changed files.
func (c *ChangeSet) Total() int {
	return len(c.Added) + len(c.Modified) + len(c.Deleted)
}

// Touched returns added plus modified paths, the files that need
// re-extraction.
func (c *ChangeSet) Touched() []string {
	out := make([]string, 0, len(c.Added)+len(c.Modified))
	out = append(out, c.Added...)
	out = append(out, c.Modified...)
	sort.Strings(out)
	return out
}

// Tracker answers revision and diff questions about one git repository.
type Tracker struct {
	repoRoot  string
	sourceExt string
	testDirs  []string
	skipDirs  []string
	logger    *slog.Logger
}

// NewTracker creates a tracker for the repository at repoRoot. skipDirs
// are repo-relative directory names whose contents are never in scope
// (the state directory, build output).
func NewTracker(repoRoot, sourceExt string, testDirs, skipDirs []string, logger *slog.Logger) *Tracker {
	return &Tracker{
		repoRoot:  repoRoot,
		sourceExt: sourceExt,
		testDirs:  testDirs,
		skipDirs:  skipDirs,
		logger:    logger,
	}
}

// CurrentRevision returns the repository HEAD commit hash. Any git
// failure here is fatal for the run: without a trustworthy revision the
// engine cannot know what changed.
func (t *Tracker) CurrentRevision(ctx context.Context) (string, error) {
	out, err := t.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", flowerrors.New(flowerrors.DiffFailure, "resolving current revision", err)
	}
	rev := strings.TrimSpace(string(out))
	if rev == "" {
		return "", flowerrors.New(flowerrors.DiffFailure, "git rev-parse returned an empty revision", nil)
	}
	return rev, nil
}

// Diff computes the in-scope change set between two revisions using
// `git diff --name-status -z`. NUL separators keep paths with unusual
// characters intact.
func (t *Tracker) Diff(ctx context.Context, from, to string) (*ChangeSet, error) {
	out, err := t.git(ctx, "diff", "--name-status", "-z", from, to)
	if err != nil {
		return nil, flowerrors.New(flowerrors.DiffFailure,
			fmt.Sprintf("diffing %s..%s", short(from), short(to)), err)
	}
	changes, err := parseNameStatus(out)
	if err != nil {
		return nil, flowerrors.New(flowerrors.DiffFailure, "parsing git diff output", err)
	}
	return t.filterScope(changes), nil
}

// ListSourceFiles walks the repository and returns all in-scope source
// files as sorted repo-relative paths. Used for full scans.
func (t *Tracker) ListSourceFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(t.repoRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(t.repoRoot, path)
		if relErr != nil {
			return relErr
		}
		rel = paths.NormalizeSourcePath(rel)
		if d.IsDir() {
			if rel == "." {
				return nil
			}
			name := d.Name()
			if name == ".git" || t.isSkipDir(name) {
				return filepath.SkipDir
			}
			return nil
		}
		if t.inScope(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, flowerrors.New(flowerrors.StoreIOFailure, "walking source tree", err)
	}
	sort.Strings(files)
	return files, nil
}

func (t *Tracker) git(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = t.repoRoot
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("git %s: %s", args[0], msg)
	}
	return stdout.Bytes(), nil
}

// rawChange is one parsed entry of a --name-status diff before scope
// filtering.
type rawChange struct {
	status  byte
	path    string
	newPath string // renames and copies only
}

// parseNameStatus parses NUL-separated `git diff --name-status -z`
// output. Entries are STATUS\0PATH\0 with a second path for R/C entries.
func parseNameStatus(out []byte) ([]rawChange, error) {
	tokens := strings.Split(string(out), "\x00")
	var changes []rawChange
	for i := 0; i < len(tokens); {
		status := tokens[i]
		if status == "" {
			i++
			continue
		}
		if i+1 >= len(tokens) {
			return nil, fmt.Errorf("truncated diff entry after status %q", status)
		}
		c := rawChange{status: status[0], path: tokens[i+1]}
		i += 2
		if c.status == 'R' || c.status == 'C' {
			if i >= len(tokens) {
				return nil, fmt.Errorf("rename entry for %q missing destination", c.path)
			}
			c.newPath = tokens[i]
			i++
		}
		changes = append(changes, c)
	}
	return changes, nil
}

// filterScope converts raw diff entries into an in-scope change set.
// Renames become a delete of the old path plus an add of the new one;
// copies add the destination only.
func (t *Tracker) filterScope(changes []rawChange) *ChangeSet {
	set := &ChangeSet{}
	seen := make(map[string]struct{})
	add := func(bucket *[]string, path string) {
		path = paths.NormalizeSourcePath(path)
		if !t.inScope(path) {
			return
		}
		if _, dup := seen[path]; dup {
			return
		}
		seen[path] = struct{}{}
		*bucket = append(*bucket, path)
	}

	for _, c := range changes {
		switch c.status {
		case 'A':
			add(&set.Added, c.path)
		case 'M', 'T':
			add(&set.Modified, c.path)
		case 'D':
			add(&set.Deleted, c.path)
		case 'R':
			add(&set.Deleted, c.path)
			add(&set.Added, c.newPath)
		case 'C':
			add(&set.Added, c.newPath)
		default:
			t.logger.Debug("ignoring diff entry with unhandled status",
				"status", string(c.status), "path", c.path)
		}
	}

	sort.Strings(set.Added)
	sort.Strings(set.Modified)
	sort.Strings(set.Deleted)
	return set
}

// inScope reports whether a repo-relative path is an indexable source
// file: right extension, not under a test or skipped directory.
func (t *Tracker) inScope(rel string) bool {
	if !strings.HasSuffix(rel, t.sourceExt) {
		return false
	}
	if paths.UnderTestDir(rel, t.testDirs) {
		return false
	}
	for _, part := range strings.Split(rel, "/") {
		if t.isSkipDir(part) {
			return false
		}
	}
	return true
}

func (t *Tracker) isSkipDir(name string) bool {
	for _, d := range t.skipDirs {
		if name == d {
			return true
		}
	}
	return false
}

func short(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
