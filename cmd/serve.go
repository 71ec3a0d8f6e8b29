package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/audit"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/dispatch"
	"github.com/toolgate/toolgate/internal/gate"
	"github.com/toolgate/toolgate/internal/log"
	"github.com/toolgate/toolgate/internal/mcp"
	"github.com/toolgate/toolgate/internal/metrics"
	"github.com/toolgate/toolgate/internal/security"
	"github.com/toolgate/toolgate/internal/tools"
)

var metricsAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve tools over MCP on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "",
		"listen address for the Prometheus /metrics endpoint (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := log.New(log.Config{Level: level, JSON: cfg.LogJSON})

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting toolgate",
		"version", Version,
		"base_path", cfg.BasePath,
		"rate_limit", cfg.RateLimitPerWindow,
		"db_enabled", cfg.Database.Enabled(),
		"ai_enabled", cfg.AI.Enabled())

	collector := metrics.New()
	dispatcher, registry, cleanup, err := buildDispatcher(ctx, cfg, collector, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	server, err := mcp.NewServer(mcp.Config{
		Name:       "toolgate",
		Version:    Version,
		Dispatcher: dispatcher,
		Registry:   registry,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	if cfg.MetricsAddr != "" {
		stopMetrics := serveMetrics(ctx, cfg.MetricsAddr, collector, logger)
		defer stopMetrics()
	}

	err = server.Run(ctx, &mcpsdk.StdioTransport{})

	if saveErr := collector.Save(cfg.MetricsFile); saveErr != nil {
		logger.Warn("saving metrics snapshot", "path", cfg.MetricsFile, "error", saveErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("toolgate shut down")
	return nil
}

// buildDispatcher assembles the gate, registry, and dispatcher from
// configuration. The returned cleanup closes the shared database pool
// and flushes the audit writer.
func buildDispatcher(ctx context.Context, cfg *config.Config, collector *metrics.Collector, logger log.Logger) (*dispatch.Dispatcher, *dispatch.Registry, func(), error) {
	paths, err := security.NewPathValidator(cfg.BasePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("sandbox root: %w", err)
	}

	g := gate.New(
		security.NewRateLimiter(cfg.RateLimitPerWindow, cfg.RateWindow()),
		paths,
		security.NewCommandValidator(cfg.BlockedCommands),
		cfg.AllowedExtensions,
		cfg.MaxFileSize(),
		logger,
	)

	var (
		pool    *pgxpool.Pool
		auditor audit.Writer
		pgAudit *audit.PGWriter
	)
	if cfg.Database.Enabled() {
		pool, err = pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		if cfg.Database.AuditEnabled {
			pgAudit, err = audit.NewPGWriter(ctx, cfg.Database.URL, logger)
			if err != nil {
				pool.Close()
				return nil, nil, nil, fmt.Errorf("starting audit writer: %w", err)
			}
			auditor = pgAudit
		}
	}
	cleanup := func() {
		if pgAudit != nil {
			pgAudit.Close()
		}
		if pool != nil {
			pool.Close()
		}
	}

	ai, err := tools.NewAIToolset(ctx, cfg.AI, logger)
	if err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("initializing AI tools: %w", err)
	}

	registry := dispatch.NewRegistry()
	err = tools.RegisterAll(registry,
		tools.NewFileToolset(cfg.MaxFileSize(), logger),
		tools.NewSystemToolset(cfg.CommandTimeout(), cfg.BasePath, logger),
		tools.NewWebToolset(cfg.Web, logger),
		tools.NewCodeToolset(logger),
		tools.NewGitToolset(cfg.Git, logger),
		tools.NewDatabaseToolset(pool, logger),
		ai,
	)
	if err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("registering tools: %w", err)
	}

	d := dispatch.NewDispatcher(g, registry, collector, auditor, cfg.RequestTimeout(), logger)
	return d, registry, cleanup, nil
}

// serveMetrics exposes the Prometheus endpoint on its own listener so
// scrapes never touch the stdio transport. The returned stop function
// shuts the listener down and waits briefly for in-flight scrapes.
func serveMetrics(ctx context.Context, addr string, collector *metrics.Collector, logger log.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics listener started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics listener shutdown", "error", err)
		}
	}
}
