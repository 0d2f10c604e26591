package extract

import (
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"apiflow/internal/paths"
)

// mappingMethods maps Spring handler annotations to HTTP methods.
// RequestMapping resolves its method from the annotation arguments and
// defaults to GET.
var mappingMethods = map[string]string{
	"GetMapping":    "GET",
	"PostMapping":   "POST",
	"PutMapping":    "PUT",
	"DeleteMapping": "DELETE",
	"PatchMapping":  "PATCH",
}

var valueAttrPattern = regexp.MustCompile(`value\s*=\s*"([^"]*)"`)

func isControllerMarkers(markers []string) bool {
	for _, m := range markers {
		if m == "RestController" || m == "Controller" {
			return true
		}
	}
	return false
}

// classBasePath returns the path declared by a class-level RequestMapping,
// or "" when the class declares none.
func classBasePath(node *sitter.Node, source []byte) string {
	for _, ann := range annotations(node) {
		if annotationName(ann, source) != "RequestMapping" {
			continue
		}
		if path, ok := annotationPath(ann, source); ok {
			return path
		}
	}
	return ""
}

// endpointFromMethod builds the endpoint descriptor for a handler method,
// or reports false when the method carries no mapping annotation.
func (x *Extractor) endpointFromMethod(node *sitter.Node, source []byte, className, methodName, basePath string) (EndpointDescriptor, bool) {
	for _, ann := range annotations(node) {
		name := annotationName(ann, source)

		httpMethod := ""
		if m, ok := mappingMethods[name]; ok {
			httpMethod = m
		} else if name == "RequestMapping" {
			httpMethod = requestMappingMethod(ann, source)
		} else {
			continue
		}

		path, ok := annotationPath(ann, source)
		if !ok || path == "" {
			// The declaration node starts at its first annotation, so the
			// window is anchored at the name line to keep the annotation
			// text inside it.
			anchor := int(node.StartPoint().Row)
			if nameNode := node.ChildByFieldName("name"); nameNode != nil {
				anchor = int(nameNode.StartPoint().Row)
			}
			if fallback, found := x.fallbackPathFromWindow(source, anchor); found {
				path = fallback
			}
		}

		return EndpointDescriptor{
			HTTPMethod:      httpMethod,
			Path:            paths.JoinEndpointPaths(basePath, path),
			DeclaringClass:  className,
			DeclaringMethod: methodName,
			Line:            int(node.StartPoint().Row) + 1,
		}, true
	}
	return EndpointDescriptor{}, false
}

// componentRefFromField builds the shallow dependency reference declared
// by a field. Generic wrappers are unwrapped to the first named type.
func componentRefFromField(node *sitter.Node, source []byte, ownerClass string) (ComponentRef, bool) {
	typeNode := node.ChildByFieldName("type")
	if typeNode == nil {
		return ComponentRef{}, false
	}
	typeName := namedTypeOf(typeNode, source)
	if typeName == "" {
		return ComponentRef{}, false
	}

	fieldName := ""
	if decl := node.ChildByFieldName("declarator"); decl != nil {
		if nameNode := decl.ChildByFieldName("name"); nameNode != nil {
			fieldName = nameNode.Content(source)
		}
	}

	return ComponentRef{
		OwnerClass:        ownerClass,
		ComponentTypeName: typeName,
		FieldName:         fieldName,
	}, true
}

// namedTypeOf resolves a type node to its simple type name, looking
// through generic wrappers like Optional<AccountService>.
func namedTypeOf(node *sitter.Node, source []byte) string {
	switch node.Type() {
	case "type_identifier":
		return node.Content(source)
	case "generic_type":
		// The wrapper (Optional, List) is never the component; the type
		// argument is.
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			if child.Type() != "type_arguments" {
				continue
			}
			for j := 0; j < int(child.ChildCount()); j++ {
				if name := namedTypeOf(child.Child(j), source); name != "" {
					return name
				}
			}
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			if node.Child(i).Type() == "type_identifier" {
				return node.Child(i).Content(source)
			}
		}
	case "scoped_type_identifier":
		// com.example.AccountService -> AccountService
		content := node.Content(source)
		if i := strings.LastIndex(content, "."); i >= 0 {
			return content[i+1:]
		}
		return content
	}
	return ""
}

// annotations returns the annotation nodes attached to a declaration.
func annotations(node *sitter.Node) []*sitter.Node {
	var anns []*sitter.Node
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() != "modifiers" {
			continue
		}
		for j := 0; j < int(child.ChildCount()); j++ {
			ann := child.Child(j)
			if ann.Type() == "annotation" || ann.Type() == "marker_annotation" {
				anns = append(anns, ann)
			}
		}
	}
	return anns
}

func annotationName(ann *sitter.Node, source []byte) string {
	if nameNode := ann.ChildByFieldName("name"); nameNode != nil {
		return nameNode.Content(source)
	}
	return ""
}

// annotationPath extracts the path argument of a mapping annotation: a
// lone string literal, or a value=/path= pair. Reports false when the
// annotation declares no path argument at all.
func annotationPath(ann *sitter.Node, source []byte) (string, bool) {
	args := ann.ChildByFieldName("arguments")
	if args == nil {
		return "", false
	}
	for i := 0; i < int(args.ChildCount()); i++ {
		arg := args.Child(i)
		switch arg.Type() {
		case "string_literal":
			return unquote(arg.Content(source)), true
		case "element_value_pair":
			key := arg.ChildByFieldName("key")
			value := arg.ChildByFieldName("value")
			if key == nil || value == nil {
				continue
			}
			keyName := key.Content(source)
			if keyName != "value" && keyName != "path" {
				continue
			}
			if value.Type() == "string_literal" {
				return unquote(value.Content(source)), true
			}
			// Array form: take the first literal.
			if value.Type() == "element_value_array_initializer" {
				for j := 0; j < int(value.ChildCount()); j++ {
					if el := value.Child(j); el.Type() == "string_literal" {
						return unquote(el.Content(source)), true
					}
				}
			}
		}
	}
	return "", false
}

// requestMappingMethod resolves the method= argument of a RequestMapping
// annotation, e.g. RequestMethod.DELETE -> DELETE. Defaults to GET.
func requestMappingMethod(ann *sitter.Node, source []byte) string {
	args := ann.ChildByFieldName("arguments")
	if args == nil {
		return "GET"
	}
	for i := 0; i < int(args.ChildCount()); i++ {
		arg := args.Child(i)
		if arg.Type() != "element_value_pair" {
			continue
		}
		key := arg.ChildByFieldName("key")
		value := arg.ChildByFieldName("value")
		if key == nil || value == nil || key.Content(source) != "method" {
			continue
		}
		content := value.Content(source)
		if i := strings.LastIndex(content, "."); i >= 0 {
			content = content[i+1:]
		}
		return strings.ToUpper(strings.TrimSpace(content))
	}
	return "GET"
}

// fallbackPathFromWindow scans the configured number of lines above row
// for a value="..." attribute. It recovers paths the structural pass
// misses, such as concatenated or otherwise non-literal annotation
// arguments. row is the 0-indexed line of the handler's name, so the
// annotation lines above it are inside the window.
func (x *Extractor) fallbackPathFromWindow(source []byte, row int) (string, bool) {
	lines := strings.Split(string(source), "\n")
	start := row - x.opts.FallbackWindow
	if start < 0 {
		start = 0
	}
	if row > len(lines) {
		row = len(lines)
	}
	// Nearest line above wins.
	for i := row - 1; i >= start; i-- {
		if m := valueAttrPattern.FindStringSubmatch(lines[i]); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func unquote(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}
