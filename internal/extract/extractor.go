package extract

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"apiflow/internal/parser"
	"apiflow/internal/paths"
)

// Options controls what the extractor includes in an index entry.
type Options struct {
	// TestKeywords mark test-only classes and methods by substring match.
	TestKeywords []string
	// ExternalPackages are import prefixes excluded from dependencies.
	ExternalPackages []string
	// FallbackWindow is how many lines above a handler declaration the
	// heuristic path scan inspects when structural extraction finds no path.
	FallbackWindow int
}

// Extractor turns parsed Java sources into index entries.
// It is not safe for concurrent use because the underlying parser adapter
// is not; create one Extractor per worker.
type Extractor struct {
	adapter *parser.Adapter
	opts    Options
	logger  *slog.Logger
}

// NewExtractor creates an extractor with its own parser adapter.
func NewExtractor(opts Options, logger *slog.Logger) *Extractor {
	if opts.FallbackWindow <= 0 {
		opts.FallbackWindow = 10
	}
	return &Extractor{
		adapter: parser.NewAdapter(),
		opts:    opts,
		logger:  logger,
	}
}

// ExtractFile reads and extracts one source file. relPath is the
// repo-relative path recorded in the entry; the file is read from
// root/relPath.
func (x *Extractor) ExtractFile(ctx context.Context, root, relPath string) (*IndexEntry, error) {
	source, err := os.ReadFile(filepath.Join(root, relPath))
	if err != nil {
		return nil, err
	}
	return x.Extract(ctx, relPath, source)
}

// Extract parses source and builds the index entry for one file.
// A syntax failure is returned as *parser.ParseError; the caller decides
// whether to keep a previous entry for the file.
func (x *Extractor) Extract(ctx context.Context, relPath string, source []byte) (*IndexEntry, error) {
	tree, err := x.adapter.Parse(ctx, relPath, source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	entry := &IndexEntry{
		FilePath:     paths.NormalizeSourcePath(relPath),
		Classes:      []ClassRecord{},
		Methods:      []MethodRecord{},
		Dependencies: []string{},
		Flow: FlowEntry{
			Endpoints:       []EndpointDescriptor{},
			ServiceCalls:    []ComponentRef{},
			RepositoryCalls: []ComponentRef{},
		},
	}

	root := tree.RootNode()
	for i := 0; i < int(root.ChildCount()); i++ {
		node := root.Child(i)
		switch node.Type() {
		case "package_declaration":
			entry.PackageName = packageName(node, source)
		case "import_declaration":
			if dep := x.importedPackage(node, source); dep != "" {
				entry.Dependencies = append(entry.Dependencies, dep)
			}
		case "class_declaration", "interface_declaration":
			x.extractType(node, source, entry)
		}
	}

	sort.Strings(entry.Dependencies)
	entry.Dependencies = dedupStrings(entry.Dependencies)
	return entry, nil
}

// extractType records a class or interface declaration, its methods, and
// its flow contributions. Interfaces are indexed like classes so that
// repository interfaces participate in dependency lookup.
func (x *Extractor) extractType(node *sitter.Node, source []byte, entry *IndexEntry) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	className := nameNode.Content(source)
	if x.isTestName(className) {
		x.logger.Debug("skipping test type", "class", className, "file", entry.FilePath)
		return
	}

	markers := annotationNames(node, source)
	entry.Classes = append(entry.Classes, ClassRecord{
		Name:           className,
		DeclaredAtLine: int(node.StartPoint().Row) + 1,
		Markers:        markers,
	})

	basePath := classBasePath(node, source)
	controller := isControllerMarkers(markers)

	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := 0; i < int(body.ChildCount()); i++ {
		member := body.Child(i)
		switch member.Type() {
		case "method_declaration":
			x.extractMethod(member, source, entry, className, basePath, controller)
		case "field_declaration":
			x.extractField(member, source, entry, className)
		case "class_declaration", "interface_declaration":
			x.extractType(member, source, entry)
		}
	}
}

func (x *Extractor) extractMethod(node *sitter.Node, source []byte, entry *IndexEntry, className, basePath string, controller bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	methodName := nameNode.Content(source)
	if x.isTestName(methodName) {
		return
	}

	markers := annotationNames(node, source)
	line := int(node.StartPoint().Row) + 1
	entry.Methods = append(entry.Methods, MethodRecord{
		Name:           methodName,
		DeclaredAtLine: line,
		Markers:        markers,
	})

	if !controller {
		return
	}
	if ep, ok := x.endpointFromMethod(node, source, className, methodName, basePath); ok {
		entry.Flow.Endpoints = append(entry.Flow.Endpoints, ep)
	}
}

func (x *Extractor) extractField(node *sitter.Node, source []byte, entry *IndexEntry, className string) {
	ref, ok := componentRefFromField(node, source, className)
	if !ok {
		return
	}
	// Service takes precedence when a type name carries both suffixes.
	switch {
	case strings.Contains(ref.ComponentTypeName, "Service"):
		entry.Flow.ServiceCalls = append(entry.Flow.ServiceCalls, ref)
	case strings.Contains(ref.ComponentTypeName, "Repository"):
		entry.Flow.RepositoryCalls = append(entry.Flow.RepositoryCalls, ref)
	}
}

func (x *Extractor) isTestName(name string) bool {
	for _, kw := range x.opts.TestKeywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

// importedPackage returns the imported name, or "" when the import is
// filtered as an external dependency.
func (x *Extractor) importedPackage(node *sitter.Node, source []byte) string {
	name := ""
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "scoped_identifier" || child.Type() == "identifier" {
			name = child.Content(source)
			break
		}
	}
	if name == "" {
		return ""
	}
	for _, prefix := range x.opts.ExternalPackages {
		if name == prefix || strings.HasPrefix(name, prefix+".") {
			return ""
		}
	}
	return name
}

func packageName(node *sitter.Node, source []byte) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "scoped_identifier" || child.Type() == "identifier" {
			return child.Content(source)
		}
	}
	return ""
}

// annotationNames returns the simple names of all annotations on a
// declaration, in source order.
func annotationNames(node *sitter.Node, source []byte) []string {
	var names []string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() != "modifiers" {
			continue
		}
		for j := 0; j < int(child.ChildCount()); j++ {
			ann := child.Child(j)
			if ann.Type() != "annotation" && ann.Type() != "marker_annotation" {
				continue
			}
			if nameNode := ann.ChildByFieldName("name"); nameNode != nil {
				names = append(names, nameNode.Content(source))
			}
		}
	}
	return names
}

func dedupStrings(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
