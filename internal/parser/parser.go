// Package parser wraps tree-sitter for Java source parsing.
package parser

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
)

// ParseError is a typed per-file parse failure. The caller must treat it
// as "skip this file, keep the previous index entry, continue the batch".
type ParseError struct {
	Path    string
	Message string
	Line    int
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

// Adapter wraps a tree-sitter parser configured for Java.
// An Adapter is not safe for concurrent use; create one per worker.
type Adapter struct {
	parser *sitter.Parser
}

// NewAdapter creates a Java parser adapter.
func NewAdapter() *Adapter {
	p := sitter.NewParser()
	p.SetLanguage(java.GetLanguage())
	return &Adapter{parser: p}
}

// Parse parses Java source and returns the syntax tree. The caller owns
// the tree and must Close it. A tree whose root contains an ERROR node is
// reported as a ParseError; tree-sitter itself never hard-fails on
// malformed input, so the ERROR node is the syntax-failure signal.
func (a *Adapter) Parse(ctx context.Context, path string, source []byte) (*sitter.Tree, error) {
	tree, err := a.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		// Cancellation is the caller's problem, not a syntax failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ParseError{Path: path, Message: err.Error()}
	}

	root := tree.RootNode()
	if root.HasError() {
		line := firstErrorLine(root)
		tree.Close()
		return nil, &ParseError{Path: path, Message: "syntax error", Line: line}
	}

	return tree, nil
}

// firstErrorLine finds the 1-indexed line of the first ERROR node.
func firstErrorLine(node *sitter.Node) int {
	if node.Type() == "ERROR" || node.IsMissing() {
		return int(node.StartPoint().Row) + 1
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if !child.HasError() {
			continue
		}
		if line := firstErrorLine(child); line > 0 {
			return line
		}
	}
	return 0
}
