package security

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestValidator(t *testing.T) (*PathValidator, string) {
	t.Helper()
	root := t.TempDir()
	v, err := NewPathValidator(root)
	if err != nil {
		t.Fatalf("NewPathValidator(%q): %v", root, err)
	}
	// TempDir may itself sit behind a symlink (macOS /var -> /private/var).
	return v, v.Root()
}

func TestResolve(t *testing.T) {
	v, root := newTestValidator(t)

	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "sub", "deep"), 0o750); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		path      string
		want      string
		shouldErr bool
	}{
		{
			name: "relative path inside root",
			path: "notes.txt",
			want: filepath.Join(root, "notes.txt"),
		},
		{
			name: "absolute path inside root",
			path: filepath.Join(root, "sub", "deep"),
			want: filepath.Join(root, "sub", "deep"),
		},
		{
			name: "nested relative with dot segments staying inside",
			path: "sub/./deep/../deep",
			want: filepath.Join(root, "sub", "deep"),
		},
		{
			name: "new file in existing directory",
			path: "sub/new.txt",
			want: filepath.Join(root, "sub", "new.txt"),
		},
		{
			name: "root itself",
			path: ".",
			want: root,
		},
		{
			name:      "parent traversal",
			path:      "../../etc/passwd",
			shouldErr: true,
		},
		{
			name:      "absolute path outside root",
			path:      "/etc/passwd",
			shouldErr: true,
		},
		{
			name:      "traversal hidden mid-path",
			path:      "sub/../../outside.txt",
			shouldErr: true,
		},
		{
			name:      "empty path",
			path:      "",
			shouldErr: true,
		},
		{
			name:      "nul byte",
			path:      "notes\x00.txt",
			shouldErr: true,
		},
		{
			name:      "sibling directory sharing prefix",
			path:      root + "extra/file.txt",
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Resolve(tt.path)
			if tt.shouldErr {
				if err == nil {
					t.Fatalf("Resolve(%q) = %q, want error", tt.path, got)
				}
				if !errors.Is(err, ErrPathEscape) {
					t.Fatalf("Resolve(%q) error = %v, want ErrPathEscape", tt.path, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.path, err)
			}
			if got != tt.want {
				t.Fatalf("Resolve(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestResolveIdempotent(t *testing.T) {
	v, root := newTestValidator(t)
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	first, err := v.Resolve("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	second, err := v.Resolve(first)
	if err != nil {
		t.Fatalf("re-resolving %q: %v", first, err)
	}
	if first != second {
		t.Fatalf("resolution not idempotent: %q then %q", first, second)
	}
}

func TestResolveSymlinkEscape(t *testing.T) {
	v, root := newTestValidator(t)

	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secret, []byte("s"), 0o600); err != nil {
		t.Fatal(err)
	}

	link := filepath.Join(root, "innocent.txt")
	if err := os.Symlink(secret, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if got, err := v.Resolve("innocent.txt"); err == nil {
		t.Fatalf("Resolve followed escaping symlink to %q", got)
	} else if !errors.Is(err, ErrPathEscape) {
		t.Fatalf("error = %v, want ErrPathEscape", err)
	}
}

func TestResolveSymlinkedParentEscape(t *testing.T) {
	v, root := newTestValidator(t)

	outside := t.TempDir()
	linkDir := filepath.Join(root, "dir")
	if err := os.Symlink(outside, linkDir); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	// The target file does not exist, so the non-existent branch must
	// still notice the escaping parent.
	if got, err := v.Resolve("dir/new.txt"); err == nil {
		t.Fatalf("Resolve allowed write through escaping parent: %q", got)
	}
}

func TestNewPathValidatorRejectsFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "f")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewPathValidator(file); err == nil {
		t.Fatal("NewPathValidator accepted a regular file as root")
	}
}

func TestErrorDoesNotLeakRoot(t *testing.T) {
	// Error text may name the root (it is caller-supplied) but must
	// wrap the sentinel so callers map it to a stable kind.
	v, _ := newTestValidator(t)
	_, err := v.Resolve("../escape")
	if err == nil || !strings.Contains(err.Error(), "escape") {
		t.Fatalf("unexpected error: %v", err)
	}
}
