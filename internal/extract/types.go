// Package extract derives structured index entries and request-flow data
// from Java source files.
//
// Scope: file-level granularity, shallow name-based dependency references.
// Limitation: component references are matched by declared type name, not
// resolved symbols; a repository reached only through a service layer is
// not linked to the controller above it (one-hop only).
package extract

import (
	"sort"

	"apiflow/internal/paths"
)

// IndexEntry is the structured record extracted from one source file.
type IndexEntry struct {
	FilePath     string         `json:"filePath"`
	PackageName  string         `json:"packageName"`
	Classes      []ClassRecord  `json:"classes"`
	Methods      []MethodRecord `json:"methods"`
	Dependencies []string       `json:"dependencies"`
	Flow         FlowEntry      `json:"flow"`
}

// ClassRecord describes a declared type and its classification markers.
type ClassRecord struct {
	Name           string   `json:"name"`
	DeclaredAtLine int      `json:"declaredAtLine"`
	Markers        []string `json:"markers,omitempty"`
}

// MethodRecord describes a declared method and its markers.
type MethodRecord struct {
	Name           string   `json:"name"`
	DeclaredAtLine int      `json:"declaredAtLine"`
	Markers        []string `json:"markers,omitempty"`
}

// FlowEntry is the subset of an IndexEntry describing entry points and
// named internal dependencies.
type FlowEntry struct {
	Endpoints       []EndpointDescriptor `json:"endpoints"`
	ServiceCalls    []ComponentRef       `json:"serviceCalls"`
	RepositoryCalls []ComponentRef       `json:"repositoryCalls"`
}

// EndpointDescriptor describes one externally reachable entry point.
type EndpointDescriptor struct {
	HTTPMethod      string `json:"httpMethod"`
	Path            string `json:"path"`
	DeclaringClass  string `json:"declaringClass"`
	DeclaringMethod string `json:"declaringMethod"`
	Line            int    `json:"line"`
}

// Key returns the stable endpoint identity. Two descriptors with the same
// key are the same logical entry point across runs even if the declaring
// method or line differ.
func (e EndpointDescriptor) Key() string {
	return paths.EndpointKey(e.HTTPMethod, e.Path)
}

// ComponentRef is a shallow, name-based reference from a class to a
// dependency it declares. It is not a resolved call edge.
type ComponentRef struct {
	OwnerClass        string `json:"ownerClass"`
	ComponentTypeName string `json:"componentTypeName"`
	FieldName         string `json:"fieldName"`
}

// FlowAggregate is the per-path node of the global flow graph.
type FlowAggregate struct {
	Endpoints    []EndpointDescriptor `json:"endpoints"`
	ServiceCalls []ComponentRef       `json:"serviceCalls"`
}

// GlobalFlowGraph maps normalized endpoint paths to their aggregated flow.
// It is a derived view: always rebuilt from the full index, never edited.
type GlobalFlowGraph map[string]*FlowAggregate

// ClassNames returns the names of all types declared in the entry.
func (e *IndexEntry) ClassNames() []string {
	names := make([]string, 0, len(e.Classes))
	for _, c := range e.Classes {
		names = append(names, c.Name)
	}
	return names
}

// EndpointKeys returns the sorted endpoint keys declared in the entry.
func (e *IndexEntry) EndpointKeys() []string {
	keys := make([]string, 0, len(e.Flow.Endpoints))
	for _, ep := range e.Flow.Endpoints {
		keys = append(keys, ep.Key())
	}
	sort.Strings(keys)
	return keys
}
