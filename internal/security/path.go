package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscape indicates a path that resolves outside the sandbox root.
var ErrPathEscape = errors.New("path escapes sandbox root")

// PathValidator confines file paths to a single root directory.
// Used to prevent path traversal attacks (CWE-22).
//
// Resolution follows symlinks, so a link inside the root pointing
// outside it is rejected. A link swapped in between validation and use
// is not caught; callers that need stronger guarantees must open with
// O_NOFOLLOW or re-validate after open.
type PathValidator struct {
	root string
}

// NewPathValidator creates a validator rooted at root. The root must
// exist; its own symlinks are resolved once so later prefix checks
// compare like with like.
func NewPathValidator(root string) (*PathValidator, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %q: %w", root, err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving root symlinks: %w", err)
	}

	info, err := os.Stat(realRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", realRoot)
	}

	return &PathValidator{root: realRoot}, nil
}

// Root returns the resolved sandbox root.
func (v *PathValidator) Root() string {
	return v.root
}

// Resolve validates a raw path and returns its confined absolute form.
// Relative paths are interpreted against the sandbox root, never the
// process working directory. Validation is idempotent: resolving an
// already-resolved path returns it unchanged.
func (v *PathValidator) Resolve(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathEscape)
	}
	if strings.ContainsRune(raw, 0) {
		return "", fmt.Errorf("%w: path contains NUL byte", ErrPathEscape)
	}

	cleaned := filepath.Clean(raw)
	if !filepath.IsAbs(cleaned) {
		cleaned = filepath.Join(v.root, cleaned)
	}

	if !v.within(cleaned) {
		return "", fmt.Errorf("%w: %q resolves outside %q", ErrPathEscape, raw, v.root)
	}

	// Resolve symlinks so a link under the root cannot point out of it.
	real, err := filepath.EvalSymlinks(cleaned)
	if err != nil {
		if os.IsNotExist(err) {
			// Target does not exist yet (new file). The lexical check
			// above already passed, but a symlinked parent could still
			// escape, so resolve the deepest existing ancestor.
			return v.resolveNew(cleaned)
		}
		return "", fmt.Errorf("resolving symlinks for %q: %w", raw, err)
	}

	if !v.within(real) {
		return "", fmt.Errorf("%w: symlink %q points to %q", ErrPathEscape, raw, real)
	}
	return real, nil
}

// resolveNew confines a path whose final components do not exist yet by
// resolving the deepest existing ancestor and re-joining the remainder.
func (v *PathValidator) resolveNew(abs string) (string, error) {
	dir := abs
	var rest []string
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		rest = append([]string{filepath.Base(dir)}, rest...)
		dir = parent
		if real, err := filepath.EvalSymlinks(dir); err == nil {
			resolved := filepath.Join(append([]string{real}, rest...)...)
			if !v.within(resolved) {
				return "", fmt.Errorf("%w: %q resolves to %q", ErrPathEscape, abs, resolved)
			}
			return resolved, nil
		}
	}
	return "", fmt.Errorf("%w: no existing ancestor for %q", ErrPathEscape, abs)
}

// within reports whether abs is the root or a descendant of it.
// The trailing separator prevents /data matching /database.
func (v *PathValidator) within(abs string) bool {
	if abs == v.root {
		return true
	}
	return strings.HasPrefix(abs, v.root+string(filepath.Separator))
}
