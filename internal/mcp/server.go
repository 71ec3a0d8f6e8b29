package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/toolgate/toolgate/internal/dispatch"
	"github.com/toolgate/toolgate/internal/log"
)

// Server bridges the tool registry to an MCP transport.
type Server struct {
	srv        *mcp.Server
	dispatcher *dispatch.Dispatcher
	callerID   string
	logger     log.Logger
}

// Config holds the MCP server identity and wiring.
type Config struct {
	Name    string
	Version string

	// CallerID labels every call from this transport for rate limiting
	// and audit. Stdio has exactly one peer, so one ID covers it.
	CallerID string

	Dispatcher *dispatch.Dispatcher
	Registry   *dispatch.Registry
	Logger     log.Logger
}

// NewServer builds an MCP server advertising every registered tool.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("mcp server: name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("mcp server: version is required")
	}
	if cfg.Dispatcher == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("mcp server: dispatcher and registry are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.CallerID == "" {
		cfg.CallerID = "local"
	}

	s := &Server{
		srv: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		dispatcher: cfg.Dispatcher,
		callerID:   cfg.CallerID,
		logger:     cfg.Logger,
	}

	for _, e := range cfg.Registry.Entries() {
		s.addTool(e)
	}
	s.logger.Info("mcp server ready",
		"name", cfg.Name, "version", cfg.Version, "tools", cfg.Registry.Len())
	return s, nil
}

// addTool registers one dispatcher entry with the SDK. Arguments stay
// a raw map so the gate, not the SDK, owns schema validation and the
// rejection shows up as a normal error result with a violation kind.
func (s *Server) addTool(e *dispatch.Entry) {
	tool := &mcp.Tool{
		Name:        e.Name,
		Description: e.Description,
		InputSchema: e.InputSchema,
	}
	name := e.Name
	mcp.AddTool(s.srv, tool, func(ctx context.Context, _ *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		resp := s.dispatcher.Handle(ctx, dispatch.Request{
			CallerID:  s.callerID,
			Tool:      name,
			Arguments: args,
		})
		return responseToResult(&resp), nil, nil
	})
}

// Run serves MCP traffic on the transport until ctx is canceled. It
// blocks for the lifetime of the connection.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	if err := s.srv.Run(ctx, transport); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
