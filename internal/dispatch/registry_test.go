package dispatch

import (
	"context"
	"strings"
	"testing"
)

func nopHandler(context.Context, map[string]any) (any, error) {
	return "ok", nil
}

func TestRegister(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(Entry{Name: "file_read", Handler: nopHandler}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	err := r.Register(Entry{Name: "file_read", Handler: nopHandler})
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("duplicate registration error = %v", err)
	}

	if err := r.Register(Entry{Name: "", Handler: nopHandler}); err == nil {
		t.Fatal("empty name accepted")
	}
	if err := r.Register(Entry{Name: "broken"}); err == nil {
		t.Fatal("nil handler accepted")
	}

	if _, ok := r.Lookup("file_read"); !ok {
		t.Fatal("registered tool not found")
	}
	if _, ok := r.Lookup("nope"); ok {
		t.Fatal("unregistered tool found")
	}
}

func TestEntriesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(Entry{Name: name, Handler: nopHandler}); err != nil {
			t.Fatal(err)
		}
	}

	entries := r.Entries()
	if len(entries) != 3 || r.Len() != 3 {
		t.Fatalf("got %d entries", len(entries))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if entries[i].Name != want {
			t.Fatalf("entries[%d] = %q, want %q", i, entries[i].Name, want)
		}
	}
}

func TestTyped(t *testing.T) {
	type input struct {
		Path  string `json:"path"`
		Limit int    `json:"limit,omitempty"`
	}

	h := Typed(func(_ context.Context, in input) (any, error) {
		return in.Path + "/" + string(rune('0'+in.Limit)), nil
	})

	got, err := h(context.Background(), map[string]any{"path": "a.txt", "limit": 3})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got != "a.txt/3" {
		t.Fatalf("payload = %v", got)
	}

	// Mistyped arguments surface as execution errors, though in
	// practice the gate's schema check rejects them first.
	if _, err := h(context.Background(), map[string]any{"path": 1}); err == nil {
		t.Fatal("mistyped argument accepted")
	}
}

func TestSchemaForRequiredFields(t *testing.T) {
	type input struct {
		Path    string `json:"path"`
		Content string `json:"content,omitempty"`
	}

	schema, err := SchemaFor[input]()
	if err != nil {
		t.Fatalf("SchemaFor: %v", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if err := resolved.Validate(map[string]any{"path": "x"}); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}
	if err := resolved.Validate(map[string]any{"content": "x"}); err == nil {
		t.Error("missing required field accepted")
	}
}
