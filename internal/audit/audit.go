// Package audit persists one event per dispatched tool call.
//
// Writes are decoupled from the request path: Write enqueues into a
// buffered channel and returns immediately, a single goroutine drains
// the channel into PostgreSQL, and a full buffer drops the event with a
// log line rather than stalling a tool call. Audit is best-effort by
// contract; the security gate, not the audit trail, is the enforcement
// point.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/toolgate/toolgate/internal/log"
)

// Event records the outcome of one tool call.
type Event struct {
	RequestID string
	CallerID  string
	Tool      string
	Outcome   string // "success" or a violation/error kind
	Detail    string
	Duration  time.Duration
	At        time.Time
}

// Writer accepts events for persistence. Write must never block the
// caller and must swallow storage failures.
type Writer interface {
	Write(Event)
	Close()
}

// NopWriter discards all events. Used when no database is configured.
type NopWriter struct{}

func (NopWriter) Write(Event) {}
func (NopWriter) Close()      {}

const (
	bufferSize   = 1024
	insertEvent  = `INSERT INTO tool_events (request_id, caller_id, tool, outcome, detail, duration_ms, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	createEvents = `CREATE TABLE IF NOT EXISTS tool_events (
		id BIGSERIAL PRIMARY KEY,
		request_id TEXT NOT NULL,
		caller_id TEXT NOT NULL,
		tool TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		duration_ms DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`
)

// PGWriter persists events to PostgreSQL through a connection pool.
type PGWriter struct {
	pool   *pgxpool.Pool
	events chan Event
	done   chan struct{}
	logger log.Logger

	// mu orders Write sends against the channel close in Close.
	mu        sync.RWMutex
	closeOnce sync.Once
	closed    bool
}

// NewPGWriter connects to the database, ensures the events table
// exists, and starts the drain goroutine. The pool is owned by the
// writer and released on Close.
func NewPGWriter(ctx context.Context, dsn string, logger log.Logger) (*PGWriter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting audit store: %w", err)
	}
	if _, err := pool.Exec(ctx, createEvents); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring tool_events table: %w", err)
	}

	w := &PGWriter{
		pool:   pool,
		events: make(chan Event, bufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go w.drain()
	return w, nil
}

// Write enqueues an event. When the buffer is full the event is
// dropped and counted in the log; the tool call is never delayed.
func (w *PGWriter) Write(ev Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("audit buffer full, dropping event",
			"tool", ev.Tool, "request_id", ev.RequestID)
	}
}

// Close stops accepting events, flushes the buffer, and releases the
// pool. Events written after Close are dropped.
func (w *PGWriter) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.events)
		w.mu.Unlock()
		<-w.done
		w.pool.Close()
	})
}

func (w *PGWriter) drain() {
	defer close(w.done)
	for ev := range w.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := w.pool.Exec(ctx, insertEvent,
			ev.RequestID, ev.CallerID, ev.Tool, ev.Outcome, ev.Detail,
			float64(ev.Duration.Microseconds())/1000, ev.At)
		cancel()
		if err != nil {
			w.logger.Warn("audit insert failed", "error", err, "tool", ev.Tool)
		}
	}
}
