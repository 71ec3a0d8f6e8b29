package gate

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/toolgate/toolgate/internal/log"
	"github.com/toolgate/toolgate/internal/security"
)

type fileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

func resolvedSchema(t *testing.T) *jsonschema.Resolved {
	t.Helper()
	schema, err := jsonschema.For[fileArgs](nil)
	if err != nil {
		t.Fatalf("deriving schema: %v", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		t.Fatalf("resolving schema: %v", err)
	}
	return resolved
}

func newTestGate(t *testing.T, limit int, maxSize int64) (*Gate, string) {
	t.Helper()
	root := t.TempDir()
	paths, err := security.NewPathValidator(root)
	if err != nil {
		t.Fatal(err)
	}
	g := New(
		security.NewRateLimiter(limit, time.Minute),
		paths,
		security.NewCommandValidator(nil),
		[]string{".txt", ".go"},
		maxSize,
		log.NewNop(),
	)
	return g, paths.Root()
}

func TestEvaluateOrdering(t *testing.T) {
	// With the budget exhausted, even a hostile path must be reported
	// as rate_limited: the cheapest check runs first.
	g, _ := newTestGate(t, 1, 1024)

	if _, v := g.Evaluate("c", "file_read", map[string]any{"path": "a.txt"}, nil, Policy{PathFields: []string{"path"}}); v != nil {
		t.Fatalf("first call denied: %v", v)
	}
	_, v := g.Evaluate("c", "file_read", map[string]any{"path": "../../etc/passwd"}, nil, Policy{PathFields: []string{"path"}})
	if v == nil || v.Kind != KindRateLimited {
		t.Fatalf("violation = %v, want %s", v, KindRateLimited)
	}
}

func TestEvaluateWarnsOnExhaustedBudget(t *testing.T) {
	var buf bytes.Buffer
	root := t.TempDir()
	paths, err := security.NewPathValidator(root)
	if err != nil {
		t.Fatal(err)
	}
	g := New(
		security.NewRateLimiter(2, time.Minute),
		paths,
		security.NewCommandValidator(nil),
		nil, 1024,
		log.NewWithWriter(&buf, log.Config{}),
	)

	if _, v := g.Evaluate("c", "file_read", map[string]any{}, nil, Policy{}); v != nil {
		t.Fatalf("first call denied: %v", v)
	}
	if strings.Contains(buf.String(), "rate_budget_exhausted") {
		t.Fatalf("budget warning logged with budget left: %s", buf.String())
	}

	if _, v := g.Evaluate("c", "file_read", map[string]any{}, nil, Policy{}); v != nil {
		t.Fatalf("second call denied: %v", v)
	}
	if !strings.Contains(buf.String(), "rate_budget_exhausted") {
		t.Fatalf("last admitted call did not log the budget warning: %s", buf.String())
	}
}

func TestEvaluateSchema(t *testing.T) {
	g, _ := newTestGate(t, 100, 1024)
	schema := resolvedSchema(t)

	// Missing required field.
	_, v := g.Evaluate("c", "file_read", map[string]any{}, schema, Policy{})
	if v == nil || v.Kind != KindSchemaInvalid {
		t.Fatalf("violation = %v, want %s", v, KindSchemaInvalid)
	}

	// Wrong type.
	_, v = g.Evaluate("c", "file_read", map[string]any{"path": 42}, schema, Policy{})
	if v == nil || v.Kind != KindSchemaInvalid {
		t.Fatalf("violation = %v, want %s", v, KindSchemaInvalid)
	}

	// Valid arguments pass.
	if _, v := g.Evaluate("c", "file_read", map[string]any{"path": "a.txt"}, schema, Policy{}); v != nil {
		t.Fatalf("valid args denied: %v", v)
	}
}

func TestEvaluatePathConfinement(t *testing.T) {
	g, root := newTestGate(t, 100, 1024)
	pol := Policy{PathFields: []string{"path"}}

	args := map[string]any{"path": "sub/../a.txt"}
	validated, v := g.Evaluate("c", "file_read", args, nil, pol)
	if v != nil {
		t.Fatalf("denied: %v", v)
	}
	want := filepath.Join(root, "a.txt")
	if validated["path"] != want {
		t.Fatalf("path rewritten to %v, want %q", validated["path"], want)
	}
	// The caller's map stays untouched.
	if args["path"] != "sub/../a.txt" {
		t.Fatalf("input args mutated: %v", args["path"])
	}

	// Validation is idempotent over its own output.
	again, v := g.Evaluate("c", "file_read", validated, nil, pol)
	if v != nil {
		t.Fatalf("re-evaluation denied: %v", v)
	}
	if again["path"] != want {
		t.Fatalf("re-evaluation changed path to %v", again["path"])
	}

	_, v = g.Evaluate("c", "file_read", map[string]any{"path": "../../etc/passwd"}, nil, pol)
	if v == nil || v.Kind != KindPathEscape {
		t.Fatalf("violation = %v, want %s", v, KindPathEscape)
	}
	if v != nil && strings.Contains(v.Message, root) {
		t.Fatalf("violation message leaks resolved root: %q", v.Message)
	}
}

func TestEvaluateExtension(t *testing.T) {
	g, _ := newTestGate(t, 100, 1024)
	pol := Policy{PathFields: []string{"path"}, CheckExtension: true}

	if _, v := g.Evaluate("c", "file_write", map[string]any{"path": "ok.txt"}, nil, pol); v != nil {
		t.Fatalf("allowed extension denied: %v", v)
	}
	if _, v := g.Evaluate("c", "file_write", map[string]any{"path": "Makefile"}, nil, pol); v != nil {
		t.Fatalf("extensionless file denied: %v", v)
	}
	_, v := g.Evaluate("c", "file_write", map[string]any{"path": "payload.exe"}, nil, pol)
	if v == nil || v.Kind != KindExtensionNotAllowed {
		t.Fatalf("violation = %v, want %s", v, KindExtensionNotAllowed)
	}
}

func TestEvaluateSizeLimits(t *testing.T) {
	g, root := newTestGate(t, 100, 16)

	// Oversized write payload.
	_, v := g.Evaluate("c", "file_write",
		map[string]any{"path": "a.txt", "content": strings.Repeat("x", 17)},
		nil, Policy{PathFields: []string{"path"}, ContentField: "content"})
	if v == nil || v.Kind != KindSizeExceeded {
		t.Fatalf("violation = %v, want %s", v, KindSizeExceeded)
	}

	// Oversized file on disk, checked before any read.
	big := filepath.Join(root, "big.txt")
	if err := os.WriteFile(big, []byte(strings.Repeat("y", 32)), 0o600); err != nil {
		t.Fatal(err)
	}
	_, v = g.Evaluate("c", "file_read", map[string]any{"path": "big.txt"},
		nil, Policy{PathFields: []string{"path"}, CheckDiskSize: true})
	if v == nil || v.Kind != KindSizeExceeded {
		t.Fatalf("violation = %v, want %s", v, KindSizeExceeded)
	}

	// Missing file passes the size check; the handler owns not-found.
	if _, v := g.Evaluate("c", "file_read", map[string]any{"path": "absent.txt"},
		nil, Policy{PathFields: []string{"path"}, CheckDiskSize: true}); v != nil {
		t.Fatalf("missing file denied at gate: %v", v)
	}
}

func TestEvaluateCommand(t *testing.T) {
	g, _ := newTestGate(t, 100, 1024)
	pol := Policy{CommandField: "command"}

	if _, v := g.Evaluate("c", "system_command", map[string]any{"command": "ls -la"}, nil, pol); v != nil {
		t.Fatalf("benign command denied: %v", v)
	}
	_, v := g.Evaluate("c", "system_command", map[string]any{"command": "rm -rf /"}, nil, pol)
	if v == nil || v.Kind != KindCommandBlocked {
		t.Fatalf("violation = %v, want %s", v, KindCommandBlocked)
	}
}
