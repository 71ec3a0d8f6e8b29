package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/audit"
	"github.com/toolgate/toolgate/internal/gate"
	"github.com/toolgate/toolgate/internal/log"
	"github.com/toolgate/toolgate/internal/metrics"
)

// Dispatcher executes tool calls end to end: gate, lookup, handler,
// normalization. Safe for concurrent use; each call is independent.
type Dispatcher struct {
	gate     *gate.Gate
	registry *Registry
	metrics  *metrics.Collector
	audit    audit.Writer
	timeout  time.Duration
	logger   log.Logger
}

// NewDispatcher wires the dispatcher. timeout bounds every handler
// invocation; zero disables the per-call deadline.
func NewDispatcher(
	g *gate.Gate,
	registry *Registry,
	collector *metrics.Collector,
	auditor audit.Writer,
	timeout time.Duration,
	logger log.Logger,
) *Dispatcher {
	if auditor == nil {
		auditor = audit.NopWriter{}
	}
	return &Dispatcher{
		gate:     g,
		registry: registry,
		metrics:  collector,
		audit:    auditor,
		timeout:  timeout,
		logger:   logger,
	}
}

// Handle runs one request to completion and always returns a usable
// Response; it never panics and never returns both payload and error.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	start := time.Now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CallerID == "" {
		req.CallerID = "local"
	}
	if req.Arguments == nil {
		req.Arguments = map[string]any{}
	}

	// Unknown tools short-circuit before any gate work: there is no
	// schema or policy to check against.
	entry, ok := d.registry.Lookup(req.Tool)
	if !ok {
		return d.finish(req, start, nil, &ErrorRecord{
			Kind:    KindUnknownTool,
			Message: "tool " + req.Tool + " is not registered",
		})
	}

	validated, violation := d.gate.Evaluate(req.CallerID, req.Tool, req.Arguments, entry.Resolved(), entry.Policy)
	if violation != nil {
		return d.finish(req, start, nil, &ErrorRecord{
			Kind:    violation.Kind,
			Message: violation.Message,
		})
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	payload, err := d.invoke(ctx, entry, validated)
	if err != nil {
		return d.finish(req, start, nil, d.toRecord(req, err))
	}
	return d.finish(req, start, payload, nil)
}

// invoke runs the handler with panic isolation. A panicking tool must
// not take down the server; it becomes an execution error.
func (d *Dispatcher) invoke(ctx context.Context, entry *Entry, args map[string]any) (payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool handler panicked", "tool", entry.Name, "panic", r)
			payload = nil
			err = Errorf(KindExecutionError, "tool %s failed internally", entry.Name)
		}
	}()
	return entry.Handler(ctx, args)
}

// toRecord maps handler errors onto the stable taxonomy. The full
// error chain goes to the log; the record carries only kind and a
// sanitized message.
func (d *Dispatcher) toRecord(req Request, err error) *ErrorRecord {
	var te *Error
	if errors.As(err, &te) {
		if te.Err != nil {
			d.logger.Debug("tool error cause", "tool", req.Tool, "request_id", req.ID, "error", te.Err)
		}
		return &ErrorRecord{Kind: te.Kind, Message: te.Message, Retryable: te.Retryable}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ErrorRecord{Kind: KindTimeout, Message: "tool call exceeded its deadline", Retryable: true}
	}
	if errors.Is(err, context.Canceled) {
		return &ErrorRecord{Kind: KindTimeout, Message: "tool call canceled"}
	}
	d.logger.Debug("unclassified tool error", "tool", req.Tool, "request_id", req.ID, "error", err)
	return &ErrorRecord{Kind: KindExecutionError, Message: "tool execution failed"}
}

// finish assembles the response and records the outcome exactly once
// across the metrics, audit, and log surfaces.
func (d *Dispatcher) finish(req Request, start time.Time, payload any, rec *ErrorRecord) Response {
	duration := time.Since(start)

	outcome := "success"
	detail := ""
	if rec != nil {
		outcome = rec.Kind
		detail = rec.Message
	}

	d.metrics.Record(req.Tool, duration, outcomeKind(rec))
	d.audit.Write(audit.Event{
		RequestID: req.ID,
		CallerID:  req.CallerID,
		Tool:      req.Tool,
		Outcome:   outcome,
		Detail:    detail,
		Duration:  duration,
		At:        time.Now(),
	})

	if rec != nil {
		d.logger.Warn("tool call failed",
			"request_id", req.ID, "caller_id", req.CallerID,
			"tool", req.Tool, "kind", rec.Kind, "duration", duration)
	} else {
		d.logger.Info("tool call completed",
			"request_id", req.ID, "caller_id", req.CallerID,
			"tool", req.Tool, "duration", duration)
	}

	return Response{
		RequestID: req.ID,
		Tool:      req.Tool,
		Payload:   payload,
		Error:     rec,
		Duration:  duration,
	}
}

func outcomeKind(rec *ErrorRecord) string {
	if rec == nil {
		return ""
	}
	return rec.Kind
}
