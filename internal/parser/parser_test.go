package parser

import (
	"context"
	"strings"
	"testing"
)

func TestParseValidSource(t *testing.T) {
	a := NewAdapter()

	tree, err := a.Parse(context.Background(), "App.java", []byte(`package com.shop;

public class App {
    public void run() {}
}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer tree.Close()

	if tree.RootNode().Type() != "program" {
		t.Errorf("root type = %q", tree.RootNode().Type())
	}
}

func TestParseSyntaxError(t *testing.T) {
	a := NewAdapter()

	_, err := a.Parse(context.Background(), "Broken.java", []byte(`package com.shop;

public class Broken {
    public void oops( {
}
`))
	if err == nil {
		t.Fatal("expected parse error")
	}
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Path != "Broken.java" {
		t.Errorf("Path = %q", pe.Path)
	}
	if !strings.Contains(pe.Error(), "Broken.java") {
		t.Errorf("Error() = %q", pe.Error())
	}
}

func TestAdapterReuse(t *testing.T) {
	a := NewAdapter()

	for i := 0; i < 3; i++ {
		tree, err := a.Parse(context.Background(), "App.java", []byte("class App {}"))
		if err != nil {
			t.Fatalf("Parse #%d: %v", i, err)
		}
		tree.Close()
	}
}
