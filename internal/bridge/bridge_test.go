package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deckbridge/deckbridge/internal/devtool"
)

// scriptedSession is a devtool.Session whose Evaluate responses are
// scripted per expression prefix and per call count.
type scriptedSession struct {
	mu       sync.Mutex
	workers  []devtool.Context
	frames   []devtool.Context
	evaluate func(call int, target devtool.Context, expr string) (json.RawMessage, error)
	calls    int
}

func (s *scriptedSession) Contexts(_ context.Context, kind devtool.ContextKind) ([]devtool.Context, error) {
	if kind == devtool.KindWorker {
		return s.workers, nil
	}
	return s.frames, nil
}

func (s *scriptedSession) Subscribe(context.Context, devtool.Context) error { return nil }

func (s *scriptedSession) Evaluate(_ context.Context, target devtool.Context, expr string) (json.RawMessage, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	return s.evaluate(n, target, expr)
}

func (s *scriptedSession) Events() <-chan devtool.Event { return nil }
func (s *scriptedSession) Close() error                 { return nil }

func testBridge() *Bridge {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	return New(cfg)
}

func isProbe(expr string) bool {
	return len(expr) >= 6 && expr[:6] == "typeof"
}

func TestRunWorkerChannelSuccess(t *testing.T) {
	sess := &scriptedSession{
		workers: []devtool.Context{{ID: "w1", Kind: devtool.KindWorker}},
		evaluate: func(_ int, _ devtool.Context, expr string) (json.RawMessage, error) {
			if isProbe(expr) {
				return json.RawMessage(`true`), nil
			}
			return json.RawMessage(`{"answer":42}`), nil
		},
	}

	result, err := testBridge().Run(context.Background(), sess, ChannelWorker, "query()")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != `{"answer":42}` {
		t.Fatalf("unexpected result: %s", result)
	}
}

func TestRunSkipsUnqualifiedWorkers(t *testing.T) {
	sess := &scriptedSession{
		workers: []devtool.Context{
			{ID: "plain", Kind: devtool.KindWorker},
			{ID: "sandbox", Kind: devtool.KindWorker},
		},
		evaluate: func(_ int, target devtool.Context, expr string) (json.RawMessage, error) {
			if isProbe(expr) {
				if target.ID == "sandbox" {
					return json.RawMessage(`true`), nil
				}
				return json.RawMessage(`false`), nil
			}
			if target.ID != "sandbox" {
				t.Fatalf("executed on unqualified context %s", target.ID)
			}
			return json.RawMessage(`"ok"`), nil
		},
	}

	result, err := testBridge().Run(context.Background(), sess, ChannelWorker, "query()")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != `"ok"` {
		t.Fatalf("unexpected result: %s", result)
	}
}

func TestRunNoQualifyingWorker(t *testing.T) {
	sess := &scriptedSession{
		workers: []devtool.Context{{ID: "plain", Kind: devtool.KindWorker}},
		evaluate: func(_ int, _ devtool.Context, _ string) (json.RawMessage, error) {
			return json.RawMessage(`false`), nil
		},
	}

	_, err := testBridge().Run(context.Background(), sess, ChannelWorker, "query()")
	if !errors.Is(err, ErrNoExecutionContext) {
		t.Fatalf("expected ErrNoExecutionContext, got %v", err)
	}
}

func TestRunNoFrameEntryPoint(t *testing.T) {
	sess := &scriptedSession{
		frames: []devtool.Context{{ID: "f1", Kind: devtool.KindFrame}},
		evaluate: func(_ int, _ devtool.Context, _ string) (json.RawMessage, error) {
			return json.RawMessage(`false`), nil
		},
	}

	_, err := testBridge().Run(context.Background(), sess, ChannelFrame, "mutate()")
	if !errors.Is(err, ErrNoPluginUI) {
		t.Fatalf("expected ErrNoPluginUI, got %v", err)
	}
}

func TestRunRetriesOnDetachment(t *testing.T) {
	// Execution fails with a detachment error on the first attempt and
	// succeeds after re-discovery; the caller sees only the success.
	executions := 0
	sess := &scriptedSession{
		workers: []devtool.Context{{ID: "w1", Kind: devtool.KindWorker}},
		evaluate: func(_ int, _ devtool.Context, expr string) (json.RawMessage, error) {
			if isProbe(expr) {
				return json.RawMessage(`true`), nil
			}
			executions++
			if executions == 1 {
				return nil, devtool.ErrContextDetached
			}
			return json.RawMessage(`"recovered"`), nil
		},
	}

	result, err := testBridge().Run(context.Background(), sess, ChannelWorker, "query()")
	if err != nil {
		t.Fatalf("expected transparent retry, got error: %v", err)
	}
	if string(result) != `"recovered"` {
		t.Fatalf("unexpected result: %s", result)
	}
	if executions != 2 {
		t.Fatalf("expected 2 execution attempts, got %d", executions)
	}
}

func TestRunExhaustedRetriesSurfaceNotFound(t *testing.T) {
	executions := 0
	sess := &scriptedSession{
		workers: []devtool.Context{{ID: "w1", Kind: devtool.KindWorker}},
		evaluate: func(_ int, _ devtool.Context, expr string) (json.RawMessage, error) {
			if isProbe(expr) {
				return json.RawMessage(`true`), nil
			}
			executions++
			return nil, devtool.ErrContextDetached
		},
	}

	_, err := testBridge().Run(context.Background(), sess, ChannelWorker, "query()")
	if !errors.Is(err, ErrNoExecutionContext) {
		t.Fatalf("expected ErrNoExecutionContext after exhausted retries, got %v", err)
	}
	if executions != DefaultConfig().MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", DefaultConfig().MaxAttempts, executions)
	}
}

func TestRunDoesNotRetryScriptErrors(t *testing.T) {
	executions := 0
	sess := &scriptedSession{
		workers: []devtool.Context{{ID: "w1", Kind: devtool.KindWorker}},
		evaluate: func(_ int, _ devtool.Context, expr string) (json.RawMessage, error) {
			if isProbe(expr) {
				return json.RawMessage(`true`), nil
			}
			executions++
			return nil, &devtool.EvalError{Message: "ReferenceError: nope is not defined"}
		},
	}

	_, err := testBridge().Run(context.Background(), sess, ChannelWorker, "nope()")
	var evalErr *devtool.EvalError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected EvalError passthrough, got %v", err)
	}
	if executions != 1 {
		t.Fatalf("script errors must not be retried, got %d attempts", executions)
	}
}

func TestRunDeadlineDuringProbeSurfacesTimeout(t *testing.T) {
	// A deadline expiring mid-scan must not make the candidates look
	// unqualified; the caller asked a timing question, not a precondition
	// question.
	cases := []struct {
		name    string
		channel Channel
		sess    *scriptedSession
	}{
		{
			name:    "worker",
			channel: ChannelWorker,
			sess:    &scriptedSession{workers: []devtool.Context{{ID: "w1", Kind: devtool.KindWorker}}},
		},
		{
			name:    "frame",
			channel: ChannelFrame,
			sess:    &scriptedSession{frames: []devtool.Context{{ID: "ui", Kind: devtool.KindFrame}}},
		},
	}

	for _, tc := range cases {
		tc.sess.evaluate = func(_ int, _ devtool.Context, _ string) (json.RawMessage, error) {
			return nil, context.DeadlineExceeded
		}

		_, err := testBridge().RunWithTimeout(context.Background(), tc.sess, tc.channel, "query()", time.Nanosecond)
		if !errors.Is(err, ErrEvaluationTimeout) {
			t.Errorf("%s: expected ErrEvaluationTimeout, got %v", tc.name, err)
		}
		if errors.Is(err, ErrNoExecutionContext) || errors.Is(err, ErrNoPluginUI) {
			t.Errorf("%s: timeout misreported as a missing precondition: %v", tc.name, err)
		}
	}
}

func TestRunUnknownChannel(t *testing.T) {
	sess := &scriptedSession{}
	if _, err := testBridge().Run(context.Background(), sess, Channel("pipe"), "x"); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestFrameChannelStructuredReply(t *testing.T) {
	sess := &scriptedSession{
		frames: []devtool.Context{{ID: "ui", Kind: devtool.KindFrame}},
		evaluate: func(_ int, _ devtool.Context, expr string) (json.RawMessage, error) {
			if isProbe(expr) {
				return json.RawMessage(`true`), nil
			}
			return json.RawMessage(`{"success":true,"result":{"nodes":3}}`), nil
		},
	}

	result, err := testBridge().Run(context.Background(), sess, ChannelFrame, "countNodes()")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != `{"nodes":3}` {
		t.Fatalf("unexpected result: %s", result)
	}
}

func TestFrameChannelErrorReply(t *testing.T) {
	sess := &scriptedSession{
		frames: []devtool.Context{{ID: "ui", Kind: devtool.KindFrame}},
		evaluate: func(_ int, _ devtool.Context, expr string) (json.RawMessage, error) {
			if isProbe(expr) {
				return json.RawMessage(`true`), nil
			}
			return json.RawMessage(`{"success":false,"error":"node locked"}`), nil
		},
	}

	_, err := testBridge().Run(context.Background(), sess, ChannelFrame, "mutate()")
	var evalErr *devtool.EvalError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected EvalError, got %v", err)
	}
	if evalErr.Message != "node locked" {
		t.Fatalf("expected original message, got %q", evalErr.Message)
	}
}
