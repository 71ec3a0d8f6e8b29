package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/toolgate/toolgate/internal/gate"
)

// HandlerFunc executes one validated tool call. Arguments arrive with
// path fields already confined by the gate. The returned payload must
// be JSON-serializable.
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// Entry describes one registered tool.
type Entry struct {
	Name        string
	Description string

	// InputSchema is the JSON schema advertised to clients and
	// enforced by the gate.
	InputSchema *jsonschema.Schema

	// Policy selects which gate checks apply to this tool's arguments.
	Policy gate.Policy

	Handler HandlerFunc

	resolved *jsonschema.Resolved
}

// Resolved returns the compiled schema used for validation.
func (e *Entry) Resolved() *jsonschema.Resolved {
	return e.resolved
}

// Registry maps tool names to entries. Registration happens during
// startup; lookups afterwards are concurrent and never mutate state.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds a tool. Duplicate names and incomplete entries are
// rejected, keeping one name bound to one handler for the lifetime of
// the process.
func (r *Registry) Register(e Entry) error {
	if e.Name == "" {
		return fmt.Errorf("registering tool: empty name")
	}
	if e.Handler == nil {
		return fmt.Errorf("registering tool %q: nil handler", e.Name)
	}

	if e.InputSchema != nil {
		resolved, err := e.InputSchema.Resolve(nil)
		if err != nil {
			return fmt.Errorf("registering tool %q: resolving schema: %w", e.Name, err)
		}
		e.resolved = resolved
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[e.Name]; exists {
		return fmt.Errorf("registering tool %q: name already registered", e.Name)
	}
	r.entries[e.Name] = &e
	return nil
}

// Lookup returns the entry for name.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Entries returns all registered tools sorted by name.
func (r *Registry) Entries() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Typed adapts a handler taking a typed input struct to HandlerFunc.
// Arguments round-trip through JSON, so the struct's json tags define
// the accepted fields and match the schema derived from the same type.
func Typed[In any](fn func(ctx context.Context, in In) (any, error)) HandlerFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, Errorf(KindExecutionError, "encoding arguments: %v", err)
		}
		var in In
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, Errorf(KindExecutionError, "decoding arguments: %v", err)
		}
		return fn(ctx, in)
	}
}

// SchemaFor derives the input schema for a typed handler's argument
// struct. Registration fails fast on types the schema generator cannot
// express.
func SchemaFor[In any]() (*jsonschema.Schema, error) {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return nil, fmt.Errorf("deriving schema: %w", err)
	}
	return schema, nil
}
