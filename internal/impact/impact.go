// Package impact resolves changed source files to the endpoints they
// affect.
package impact

import (
	"path"
	"sort"
	"strings"

	"apiflow/internal/extract"
	"apiflow/internal/paths"
)

// ResolveAffected maps changed files to the endpoints affected by them.
// The result is keyed by endpoint key. Resolution is one hop deep:
//
//   - direct: endpoints declared in a changed file
//   - indirect: endpoints declared in any file whose service or
//     repository references name a type declared in a changed file
//
// Matching is by bare type name, so two same-named types in different
// packages are indistinguishable; that over-approximates rather than
// misses. A deeper chain (controller -> service -> repository) is
// resolved only for the middle hop, not transitively.
func ResolveAffected(changedFiles []string, index map[string]*extract.IndexEntry) map[string]extract.EndpointDescriptor {
	affected := make(map[string]extract.EndpointDescriptor)

	changedTypes := make(map[string]struct{})
	for _, file := range changedFiles {
		file = paths.NormalizeSourcePath(file)
		entry := index[file]
		if entry != nil {
			for _, ep := range entry.Flow.Endpoints {
				if _, exists := affected[ep.Key()]; !exists {
					affected[ep.Key()] = ep
				}
			}
			for _, name := range entry.ClassNames() {
				changedTypes[name] = struct{}{}
			}
			continue
		}
		// No entry for the file (never indexed, or parse failed on every
		// run). Fall back to the file name stem as the candidate type.
		if stem := fileStem(file); stem != "" {
			changedTypes[stem] = struct{}{}
		}
	}

	if len(changedTypes) == 0 {
		return affected
	}

	for _, entry := range index {
		if !referencesAny(entry, changedTypes) {
			continue
		}
		for _, ep := range entry.Flow.Endpoints {
			if _, exists := affected[ep.Key()]; !exists {
				affected[ep.Key()] = ep
			}
		}
	}

	return affected
}

// SortedKeys returns the affected endpoint keys in sorted order.
func SortedKeys(affected map[string]extract.EndpointDescriptor) []string {
	keys := make([]string, 0, len(affected))
	for k := range affected {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func referencesAny(entry *extract.IndexEntry, types map[string]struct{}) bool {
	for _, ref := range entry.Flow.ServiceCalls {
		if _, ok := types[ref.ComponentTypeName]; ok {
			return true
		}
	}
	for _, ref := range entry.Flow.RepositoryCalls {
		if _, ok := types[ref.ComponentTypeName]; ok {
			return true
		}
	}
	return false
}

func fileStem(file string) string {
	base := path.Base(file)
	if i := strings.LastIndex(base, "."); i > 0 {
		return base[:i]
	}
	return base
}
