package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/toolgate/toolgate/internal/gate"
	"github.com/toolgate/toolgate/internal/log"
	"github.com/toolgate/toolgate/internal/metrics"
	"github.com/toolgate/toolgate/internal/security"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestDispatcher(t *testing.T, limit int) (*Dispatcher, *Registry, *metrics.Collector) {
	t.Helper()
	paths, err := security.NewPathValidator(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	g := gate.New(
		security.NewRateLimiter(limit, time.Minute),
		paths,
		security.NewCommandValidator(nil),
		[]string{".txt"},
		1<<20,
		log.NewNop(),
	)
	reg := NewRegistry()
	collector := metrics.New()
	d := NewDispatcher(g, reg, collector, nil, time.Second, log.NewNop())
	return d, reg, collector
}

func TestHandleSuccess(t *testing.T) {
	d, reg, collector := newTestDispatcher(t, 100)

	err := reg.Register(Entry{
		Name: "echo",
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return args["msg"], nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	resp := d.Handle(context.Background(), Request{Tool: "echo", Arguments: map[string]any{"msg": "hi"}})
	if !resp.Succeeded() {
		t.Fatalf("Handle failed: %+v", resp.Error)
	}
	if resp.Payload != "hi" {
		t.Fatalf("payload = %v, want hi", resp.Payload)
	}
	if resp.RequestID == "" {
		t.Fatal("no request id assigned")
	}
	if resp.Error != nil {
		t.Fatal("success response carries an error")
	}

	snap := collector.Snapshot()
	if snap.TotalCalls != 1 || snap.TotalFailures != 0 {
		t.Fatalf("metrics = %d/%d, want 1/0", snap.TotalCalls, snap.TotalFailures)
	}
}

func TestHandleUnknownTool(t *testing.T) {
	d, _, collector := newTestDispatcher(t, 100)

	resp := d.Handle(context.Background(), Request{Tool: "missing"})
	if resp.Succeeded() {
		t.Fatal("unknown tool succeeded")
	}
	if resp.Error.Kind != KindUnknownTool {
		t.Fatalf("kind = %q, want %q", resp.Error.Kind, KindUnknownTool)
	}
	if resp.Payload != nil {
		t.Fatal("failure response carries a payload")
	}
	if got := collector.Snapshot().Violations[KindUnknownTool]; got != 1 {
		t.Fatalf("unknown_tool metric = %d, want 1", got)
	}
}

func TestHandleGateViolation(t *testing.T) {
	d, reg, _ := newTestDispatcher(t, 100)

	invoked := false
	err := reg.Register(Entry{
		Name:   "file_read",
		Policy: gate.Policy{PathFields: []string{"path"}},
		Handler: func(_ context.Context, _ map[string]any) (any, error) {
			invoked = true
			return nil, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	resp := d.Handle(context.Background(), Request{
		Tool:      "file_read",
		Arguments: map[string]any{"path": "../../etc/passwd"},
	})
	if resp.Succeeded() || resp.Error.Kind != gate.KindPathEscape {
		t.Fatalf("response = %+v, want %s", resp.Error, gate.KindPathEscape)
	}
	if invoked {
		t.Fatal("handler ran despite gate violation")
	}
}

func TestHandleRateLimitExhaustion(t *testing.T) {
	d, reg, collector := newTestDispatcher(t, 60)

	if err := reg.Register(Entry{Name: "ping", Handler: nopHandler}); err != nil {
		t.Fatal(err)
	}

	for i := range 60 {
		if resp := d.Handle(context.Background(), Request{Tool: "ping", CallerID: "c"}); !resp.Succeeded() {
			t.Fatalf("request %d failed: %+v", i+1, resp.Error)
		}
	}
	resp := d.Handle(context.Background(), Request{Tool: "ping", CallerID: "c"})
	if resp.Succeeded() || resp.Error.Kind != gate.KindRateLimited {
		t.Fatalf("request 61 = %+v, want %s", resp.Error, gate.KindRateLimited)
	}

	snap := collector.Snapshot()
	if snap.TotalCalls != 61 || snap.TotalFailures != 1 {
		t.Fatalf("metrics = %d/%d, want 61/1", snap.TotalCalls, snap.TotalFailures)
	}
}

func TestHandleErrorMapping(t *testing.T) {
	d, reg, _ := newTestDispatcher(t, 100)

	tests := []struct {
		name          string
		handler       HandlerFunc
		wantKind      string
		wantRetryable bool
	}{
		{
			name: "typed error keeps kind",
			handler: func(context.Context, map[string]any) (any, error) {
				return nil, Errorf(KindIOError, "no such file")
			},
			wantKind: KindIOError,
		},
		{
			name: "retryable network error",
			handler: func(context.Context, map[string]any) (any, error) {
				return nil, Errorf(KindNetworkError, "connection reset").AsRetryable()
			},
			wantKind:      KindNetworkError,
			wantRetryable: true,
		},
		{
			name: "wrapped cause stays internal",
			handler: func(context.Context, map[string]any) (any, error) {
				return nil, WrapErr(KindDomainError, "query failed", errors.New("pq: secret detail"))
			},
			wantKind: KindDomainError,
		},
		{
			name: "plain error becomes execution error",
			handler: func(context.Context, map[string]any) (any, error) {
				return nil, errors.New("spontaneous failure")
			},
			wantKind: KindExecutionError,
		},
		{
			name: "deadline becomes retryable timeout",
			handler: func(ctx context.Context, _ map[string]any) (any, error) {
				return nil, context.DeadlineExceeded
			},
			wantKind:      KindTimeout,
			wantRetryable: true,
		},
		{
			name: "panic becomes execution error",
			handler: func(context.Context, map[string]any) (any, error) {
				panic("boom")
			},
			wantKind: KindExecutionError,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name := "tool_" + string(rune('a'+i))
			if err := reg.Register(Entry{Name: name, Handler: tt.handler}); err != nil {
				t.Fatal(err)
			}
			resp := d.Handle(context.Background(), Request{Tool: name})
			if resp.Succeeded() {
				t.Fatal("expected failure")
			}
			if resp.Error.Kind != tt.wantKind {
				t.Fatalf("kind = %q, want %q", resp.Error.Kind, tt.wantKind)
			}
			if resp.Error.Retryable != tt.wantRetryable {
				t.Fatalf("retryable = %v, want %v", resp.Error.Retryable, tt.wantRetryable)
			}
			if tt.name == "wrapped cause stays internal" && resp.Error.Message != "query failed" {
				t.Fatalf("message leaks cause: %q", resp.Error.Message)
			}
		})
	}
}

func TestHandleTimeout(t *testing.T) {
	paths, err := security.NewPathValidator(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	g := gate.New(security.NewRateLimiter(100, time.Minute), paths,
		security.NewCommandValidator(nil), nil, 1<<20, log.NewNop())
	reg := NewRegistry()
	d := NewDispatcher(g, reg, metrics.New(), nil, 20*time.Millisecond, log.NewNop())

	err = reg.Register(Entry{
		Name: "slow",
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return "done", nil
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	resp := d.Handle(context.Background(), Request{Tool: "slow"})
	if resp.Succeeded() || resp.Error.Kind != KindTimeout {
		t.Fatalf("response = %+v, want timeout", resp.Error)
	}
	if !resp.Error.Retryable {
		t.Fatal("timeout not marked retryable")
	}
}

func TestHandleConcurrent(t *testing.T) {
	d, reg, collector := newTestDispatcher(t, 10_000)

	if err := reg.Register(Entry{Name: "ping", Handler: nopHandler}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				if resp := d.Handle(context.Background(), Request{Tool: "ping"}); !resp.Succeeded() {
					t.Errorf("concurrent call failed: %+v", resp.Error)
					return
				}
			}
		}()
	}
	wg.Wait()

	if snap := collector.Snapshot(); snap.TotalCalls != 1000 {
		t.Fatalf("TotalCalls = %d, want 1000", snap.TotalCalls)
	}
}
