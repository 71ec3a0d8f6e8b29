// Package gate implements the security gate every tool call passes
// through before dispatch. Checks run cheapest first and short-circuit
// on the first failure: rate limit, argument schema, path confinement
// with extension and size limits, then command deny-patterns. Any
// internal uncertainty denies the call; the gate never fails open.
package gate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/toolgate/toolgate/internal/log"
	"github.com/toolgate/toolgate/internal/security"
)

// Violation kinds. These are stable identifiers: they appear in
// responses, logs, audit events, and metrics labels.
const (
	KindRateLimited         = "rate_limited"
	KindSchemaInvalid       = "schema_invalid"
	KindPathEscape          = "path_escape"
	KindExtensionNotAllowed = "extension_not_allowed"
	KindSizeExceeded        = "size_exceeded"
	KindCommandBlocked      = "command_blocked"
)

// Violation is a denied check. It reports which rule failed but never
// embeds resolved filesystem paths or other internals.
type Violation struct {
	Kind    string
	Message string
}

func (v *Violation) Error() string {
	return v.Kind + ": " + v.Message
}

// Policy declares which gate checks apply to one tool's arguments.
// The zero value means only rate limiting and schema validation run.
type Policy struct {
	// PathFields names string arguments holding sandbox paths. Each is
	// confined and rewritten to its resolved absolute form.
	PathFields []string

	// ContentField names a string argument whose size is capped by the
	// file size limit (write payloads).
	ContentField string

	// CommandField names a string argument checked against the command
	// deny list.
	CommandField string

	// CheckExtension enforces the extension allow-list on PathFields.
	CheckExtension bool

	// CheckDiskSize stats each existing PathFields target and rejects
	// files over the size limit before any read starts.
	CheckDiskSize bool
}

// Gate composes the validators. All methods are safe for concurrent
// use; the validators carry their own synchronization.
type Gate struct {
	limiter     *security.RateLimiter
	paths       *security.PathValidator
	commands    *security.CommandValidator
	allowedExts map[string]struct{}
	maxFileSize int64
	logger      log.Logger
}

// New creates a gate. allowedExts entries are lowercased dot-prefixed
// extensions; maxFileSize is in bytes.
func New(
	limiter *security.RateLimiter,
	paths *security.PathValidator,
	commands *security.CommandValidator,
	allowedExts []string,
	maxFileSize int64,
	logger log.Logger,
) *Gate {
	exts := make(map[string]struct{}, len(allowedExts))
	for _, e := range allowedExts {
		exts[strings.ToLower(e)] = struct{}{}
	}
	return &Gate{
		limiter:     limiter,
		paths:       paths,
		commands:    commands,
		allowedExts: exts,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// Evaluate runs every applicable check for one call. On success it
// returns a copy of args with path fields rewritten to their confined
// absolute form; handlers must use the returned map. On failure it
// returns the first violation and nil args.
//
// Evaluate consumes rate budget even when a later check fails: a caller
// streaming hostile requests burns through its window like any other.
func (g *Gate) Evaluate(callerID, tool string, args map[string]any, schema *jsonschema.Resolved, pol Policy) (map[string]any, *Violation) {
	if !g.limiter.Allow(callerID) {
		return nil, g.deny(callerID, tool, &Violation{
			Kind:    KindRateLimited,
			Message: "rate limit exceeded, retry next window",
		})
	}
	if g.limiter.Remaining(callerID) == 0 {
		// This call consumed the caller's last unit for the window.
		g.logger.Warn("rate_budget_exhausted", "caller_id", callerID, "tool", tool)
	}

	if schema != nil {
		if err := schema.Validate(args); err != nil {
			return nil, g.deny(callerID, tool, &Violation{
				Kind:    KindSchemaInvalid,
				Message: fmt.Sprintf("arguments rejected by schema: %v", err),
			})
		}
	}

	validated := make(map[string]any, len(args))
	for k, v := range args {
		validated[k] = v
	}

	for _, field := range pol.PathFields {
		raw, ok := stringArg(args, field)
		if !ok {
			continue // optional path argument not supplied
		}
		resolved, err := g.paths.Resolve(raw)
		if err != nil {
			if errors.Is(err, security.ErrPathEscape) {
				return nil, g.deny(callerID, tool, &Violation{
					Kind:    KindPathEscape,
					Message: fmt.Sprintf("path %q is outside the sandbox", raw),
				})
			}
			// Resolution failed for an unknown reason. Fail closed.
			return nil, g.deny(callerID, tool, &Violation{
				Kind:    KindPathEscape,
				Message: fmt.Sprintf("path %q could not be validated", raw),
			})
		}

		if pol.CheckExtension {
			if v := g.checkExtension(resolved); v != nil {
				return nil, g.deny(callerID, tool, v)
			}
		}
		if pol.CheckDiskSize {
			if v := g.checkDiskSize(resolved); v != nil {
				return nil, g.deny(callerID, tool, v)
			}
		}
		validated[field] = resolved
	}

	if pol.ContentField != "" {
		if content, ok := stringArg(args, pol.ContentField); ok {
			if int64(len(content)) > g.maxFileSize {
				return nil, g.deny(callerID, tool, &Violation{
					Kind:    KindSizeExceeded,
					Message: fmt.Sprintf("content is %d bytes, limit is %d", len(content), g.maxFileSize),
				})
			}
		}
	}

	if pol.CommandField != "" {
		if command, ok := stringArg(args, pol.CommandField); ok {
			if err := g.commands.Check(command); err != nil {
				return nil, g.deny(callerID, tool, &Violation{
					Kind:    KindCommandBlocked,
					Message: "command matches a blocked pattern",
				})
			}
		}
	}

	return validated, nil
}

// checkExtension enforces the allow-list. Extensionless files pass so
// Makefile and LICENSE stay reachable; directories have no extension.
func (g *Gate) checkExtension(path string) *Violation {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return nil
	}
	if _, ok := g.allowedExts[ext]; !ok {
		return &Violation{
			Kind:    KindExtensionNotAllowed,
			Message: fmt.Sprintf("extension %q is not in the allow-list", ext),
		}
	}
	return nil
}

// checkDiskSize rejects oversized existing files before a read starts.
// Missing targets pass; the handler reports not-found on its own.
func (g *Gate) checkDiskSize(path string) *Violation {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if info.Mode().IsRegular() && info.Size() > g.maxFileSize {
		return &Violation{
			Kind:    KindSizeExceeded,
			Message: fmt.Sprintf("file is %d bytes, limit is %d", info.Size(), g.maxFileSize),
		}
	}
	return nil
}

// deny logs the violation and returns it. Every denial produces one
// security_event record with enough context to reconstruct what was
// refused without echoing the full arguments.
func (g *Gate) deny(callerID, tool string, v *Violation) *Violation {
	g.logger.Warn("security_event",
		"caller_id", callerID,
		"tool", tool,
		"violation", v.Kind,
		"detail", v.Message,
	)
	return v
}

func stringArg(args map[string]any, field string) (string, bool) {
	raw, ok := args[field]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
