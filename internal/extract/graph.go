package extract

import (
	"sort"

	"apiflow/internal/paths"
)

// BuildGlobalFlowGraph derives the flow graph from the full index. It is
// rebuilt from scratch on every run; incremental edits to the graph are
// never attempted. Output ordering is deterministic so saved documents
// are byte-stable across runs over the same tree.
func BuildGlobalFlowGraph(index map[string]*IndexEntry) GlobalFlowGraph {
	graph := make(GlobalFlowGraph)

	files := make([]string, 0, len(index))
	for path := range index {
		files = append(files, path)
	}
	sort.Strings(files)

	for _, file := range files {
		entry := index[file]
		for _, ep := range entry.Flow.Endpoints {
			key := paths.NormalizeEndpointPath(ep.Path)
			agg := graph[key]
			if agg == nil {
				agg = &FlowAggregate{
					Endpoints:    []EndpointDescriptor{},
					ServiceCalls: []ComponentRef{},
				}
				graph[key] = agg
			}
			agg.Endpoints = append(agg.Endpoints, ep)
			agg.ServiceCalls = append(agg.ServiceCalls, entry.Flow.ServiceCalls...)
		}
	}

	for _, agg := range graph {
		agg.Endpoints = dedupEndpoints(agg.Endpoints)
		agg.ServiceCalls = dedupRefs(agg.ServiceCalls)
	}

	return graph
}

// EndpointKeys returns the sorted endpoint keys present in the graph.
func (g GlobalFlowGraph) EndpointKeys() []string {
	seen := make(map[string]struct{})
	for _, agg := range g {
		for _, ep := range agg.Endpoints {
			seen[ep.Key()] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dedupEndpoints(eps []EndpointDescriptor) []EndpointDescriptor {
	sort.Slice(eps, func(i, j int) bool {
		if eps[i].Key() != eps[j].Key() {
			return eps[i].Key() < eps[j].Key()
		}
		if eps[i].DeclaringClass != eps[j].DeclaringClass {
			return eps[i].DeclaringClass < eps[j].DeclaringClass
		}
		return eps[i].DeclaringMethod < eps[j].DeclaringMethod
	})
	out := eps[:0]
	for i, ep := range eps {
		if i > 0 && ep.Key() == eps[i-1].Key() &&
			ep.DeclaringClass == eps[i-1].DeclaringClass &&
			ep.DeclaringMethod == eps[i-1].DeclaringMethod {
			continue
		}
		out = append(out, ep)
	}
	return out
}

func dedupRefs(refs []ComponentRef) []ComponentRef {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].OwnerClass != refs[j].OwnerClass {
			return refs[i].OwnerClass < refs[j].OwnerClass
		}
		if refs[i].ComponentTypeName != refs[j].ComponentTypeName {
			return refs[i].ComponentTypeName < refs[j].ComponentTypeName
		}
		return refs[i].FieldName < refs[j].FieldName
	})
	out := refs[:0]
	for i, ref := range refs {
		if i > 0 && ref == refs[i-1] {
			continue
		}
		out = append(out, ref)
	}
	return out
}
