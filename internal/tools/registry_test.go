package tools

import (
	"context"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
)

func stubTool(name, reply string) Tool {
	return NewFunc(name, "stub "+name, &jsonschema.Schema{Type: "object"},
		func(ctx context.Context, args map[string]any) (string, error) {
			return reply, nil
		})
}

func TestRegistry_PreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(stubTool("alpha", ""))
	r.Register(stubTool("beta", ""))
	r.Register(stubTool("gamma", ""))

	all := r.All()
	want := []string{"alpha", "beta", "gamma"}
	if len(all) != len(want) {
		t.Fatalf("All() returned %d tools, want %d", len(all), len(want))
	}
	for i, tool := range all {
		if tool.Name() != want[i] {
			t.Errorf("All()[%d] = %q, want %q", i, tool.Name(), want[i])
		}
	}
}

func TestRegistry_DuplicateNameReplaces(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(stubTool("search", "remote"))
	r.Register(stubTool("other", "x"))
	r.Register(stubTool("search", "local"))

	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}

	tool, ok := r.Get("search")
	if !ok {
		t.Fatal("Get(search) not found")
	}
	got, err := tool.Call(context.Background(), nil)
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if got != "local" {
		t.Errorf("Call() = %q, want the later registration to win", got)
	}

	// Replacement keeps the original position.
	if name := r.All()[0].Name(); name != "search" {
		t.Errorf("All()[0] = %q, want search", name)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry(nil)

	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) = ok, want not found")
	}
}
