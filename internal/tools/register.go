package tools

import (
	"context"
	"fmt"

	"github.com/toolgate/toolgate/internal/dispatch"
	"github.com/toolgate/toolgate/internal/gate"
)

// Registrar is implemented by every toolset.
type Registrar interface {
	Register(reg *dispatch.Registry) error
}

// RegisterAll registers every non-nil toolset. Optional toolsets
// (database, AI) are registered even when unconfigured so clients see
// a stable tool list; their handlers report the missing configuration.
func RegisterAll(reg *dispatch.Registry, sets ...Registrar) error {
	for _, s := range sets {
		if s == nil {
			continue
		}
		if err := s.Register(reg); err != nil {
			return err
		}
	}
	return nil
}

// add derives the input schema from In and registers one tool.
func add[In any](
	reg *dispatch.Registry,
	name, description string,
	pol gate.Policy,
	fn func(ctx context.Context, in In) (any, error),
) error {
	schema, err := dispatch.SchemaFor[In]()
	if err != nil {
		return fmt.Errorf("tool %s: %w", name, err)
	}
	return reg.Register(dispatch.Entry{
		Name:        name,
		Description: description,
		InputSchema: schema,
		Policy:      pol,
		Handler:     dispatch.Typed(fn),
	})
}
