package tools

import (
	"context"
	"encoding/json"
	"testing"
)

type stubTool struct {
	name string
	desc string
}

func (s *stubTool) Name() string { return s.name }
func (s *stubTool) Metadata() Metadata {
	return Metadata{Name: s.name, NameFrontend: s.name, Description: s.desc}
}
func (s *stubTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (s *stubTool) Execute(ctx context.Context, ec ExecContext, args json.RawMessage) Result {
	return Result{Content: "ok"}
}

func TestRegistryOverwrite(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "alpha", desc: "first"})
	r.Register(&stubTool{name: "alpha", desc: "second"})

	if r.Len() != 1 {
		t.Fatalf("expected 1 tool, got %d", r.Len())
	}
	got, ok := r.Get("alpha")
	if !ok {
		t.Fatalf("tool missing after re-registration")
	}
	if got.Metadata().Description != "second" {
		t.Fatalf("re-registration did not overwrite: %q", got.Metadata().Description)
	}
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		r.Register(&stubTool{name: name})
	}
	metas := r.List()
	if len(metas) != 3 {
		t.Fatalf("expected 3, got %d", len(metas))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, m := range metas {
		if m.Name != want[i] {
			t.Fatalf("list not sorted: got %q at %d, want %q", m.Name, i, want[i])
		}
	}
}

func TestDefaultRegistryHILFlag(t *testing.T) {
	r := NewDefaultRegistry(nil)

	tool, ok := r.Get("plot-generator")
	if !ok {
		t.Fatalf("plot-generator not registered")
	}
	if !tool.Metadata().RequiresValidation {
		t.Fatalf("plot-generator must require validation")
	}

	for _, name := range []string{"get-brain-region", "literature-search"} {
		tool, ok := r.Get(name)
		if !ok {
			t.Fatalf("%s not registered", name)
		}
		if tool.Metadata().RequiresValidation {
			t.Fatalf("%s must not require validation", name)
		}
	}
}

func TestPlotGeneratorExecute(t *testing.T) {
	tool := NewPlotGeneratorTool()

	res := tool.Execute(context.Background(), ExecContext{}, json.RawMessage(`{"kind":"scatter","values":[[1,2],[3,4]]}`))
	if res.Err != nil {
		t.Fatalf("execute: %v", res.Err)
	}
	var out struct {
		Plot struct {
			Kind string `json:"kind"`
		} `json:"plot"`
	}
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if out.Plot.Kind != "scatter" {
		t.Fatalf("kind = %q", out.Plot.Kind)
	}

	res = tool.Execute(context.Background(), ExecContext{}, json.RawMessage(`{"kind":"pie","values":[[1]]}`))
	if res.Err == nil {
		t.Fatalf("expected error for unsupported kind")
	}
}
