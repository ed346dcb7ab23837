package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/deckbridge/deckbridge/internal/devtool"
)

// Prober discovers a qualifying execution context and runs code in it.
// The two implementations cover the platform's capability split: workers
// carry the read-style sandbox API, frames carry the write-style entry
// point registered by the companion UI.
type Prober interface {
	// Name identifies the channel for diagnostics.
	Name() string

	// FindQualifying scans the currently live candidate contexts in order
	// and returns the first one exposing the required capability. The scan
	// is linear with early exit; candidates that fail to probe are skipped.
	// Returns the channel's not-found error when nothing qualifies.
	FindQualifying(ctx context.Context, sess devtool.Session) (devtool.Context, error)

	// Execute runs the code string in a previously discovered context.
	Execute(ctx context.Context, sess devtool.Session, target devtool.Context, code string) (json.RawMessage, error)

	// NotFound returns the channel's terminal error.
	NotFound() error
}

// WorkerProbe is the read path: it finds a background worker whose global
// scope exposes the sandbox API marker and evaluates code there directly.
type WorkerProbe struct {
	// Marker is the global whose presence indicates the sandbox API.
	Marker string
	Logger *slog.Logger
}

// Name implements Prober.
func (p *WorkerProbe) Name() string { return "worker" }

// NotFound implements Prober.
func (p *WorkerProbe) NotFound() error { return ErrNoExecutionContext }

// FindQualifying implements Prober.
func (p *WorkerProbe) FindQualifying(ctx context.Context, sess devtool.Session) (devtool.Context, error) {
	contexts, err := sess.Contexts(ctx, devtool.KindWorker)
	if err != nil {
		return devtool.Context{}, fmt.Errorf("enumerating workers: %w", err)
	}
	p.log().Debug("probing workers", "candidates", len(contexts))

	probe := fmt.Sprintf("typeof %s !== \"undefined\"", p.Marker)
	for _, c := range contexts {
		res, err := sess.Evaluate(ctx, c, probe)
		if err != nil {
			if ctxErr := scanInterrupted(ctx); ctxErr != nil {
				return devtool.Context{}, ctxErr
			}
			// The candidate may have detached or be unprobable; that
			// only disqualifies this candidate, not the scan.
			p.log().Debug("worker probe failed", "context_id", c.ID, "error", err)
			continue
		}
		var present bool
		if err := json.Unmarshal(res, &present); err != nil || !present {
			continue
		}
		p.log().Debug("worker qualified", "context_id", c.ID, "url", c.URL)
		return c, nil
	}
	return devtool.Context{}, ErrNoExecutionContext
}

// Execute implements Prober. The expression is evaluated with promise
// resolution, so async sandbox code works unchanged.
func (p *WorkerProbe) Execute(ctx context.Context, sess devtool.Session, target devtool.Context, code string) (json.RawMessage, error) {
	res, err := sess.Evaluate(ctx, target, code)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: worker evaluation", ErrEvaluationTimeout)
		}
		return nil, err
	}
	return res, nil
}

// scanInterrupted distinguishes a dead deadline from an unqualified
// candidate. An expired context would otherwise make every remaining
// candidate look unprobable and misreport a timeout as a missing
// precondition.
func scanInterrupted(ctx context.Context) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: context discovery", ErrEvaluationTimeout)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return nil
	}
}

func (p *WorkerProbe) log() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// FrameProbe is the write path: it finds a frame where the companion UI has
// registered the named entry point and invokes it with the code string and
// a timeout. The entry point replies with a structured
// {success, result|error} envelope.
type FrameProbe struct {
	// EntryPoint is the function name the companion UI registers on window.
	EntryPoint string
	Logger     *slog.Logger
}

// frameReply is the structured reply from the companion UI entry point.
type frameReply struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   string          `json:"error"`
}

// Name implements Prober.
func (p *FrameProbe) Name() string { return "frame" }

// NotFound implements Prober.
func (p *FrameProbe) NotFound() error { return ErrNoPluginUI }

// FindQualifying implements Prober.
func (p *FrameProbe) FindQualifying(ctx context.Context, sess devtool.Session) (devtool.Context, error) {
	contexts, err := sess.Contexts(ctx, devtool.KindFrame)
	if err != nil {
		return devtool.Context{}, fmt.Errorf("enumerating frames: %w", err)
	}
	p.log().Debug("probing frames", "candidates", len(contexts))

	probe := fmt.Sprintf("typeof window !== \"undefined\" && typeof window.%s === \"function\"", p.EntryPoint)
	for _, c := range contexts {
		res, err := sess.Evaluate(ctx, c, probe)
		if err != nil {
			if ctxErr := scanInterrupted(ctx); ctxErr != nil {
				return devtool.Context{}, ctxErr
			}
			p.log().Debug("frame probe failed", "context_id", c.ID, "error", err)
			continue
		}
		var present bool
		if err := json.Unmarshal(res, &present); err != nil || !present {
			continue
		}
		p.log().Debug("frame qualified", "context_id", c.ID, "url", c.URL)
		return c, nil
	}
	return devtool.Context{}, ErrNoPluginUI
}

// Execute implements Prober. The deadline on ctx bounds the call; the
// remaining time is also passed to the entry point so the UI side can give
// up on its own.
func (p *FrameProbe) Execute(ctx context.Context, sess devtool.Session, target devtool.Context, code string) (json.RawMessage, error) {
	codeJSON, err := json.Marshal(code)
	if err != nil {
		return nil, fmt.Errorf("encoding code string: %w", err)
	}

	timeoutMs := int64(0)
	if deadline, ok := ctx.Deadline(); ok {
		timeoutMs = time.Until(deadline).Milliseconds()
	}

	call := fmt.Sprintf("window.%s(%s, %d)", p.EntryPoint, codeJSON, timeoutMs)
	res, err := sess.Evaluate(ctx, target, call)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: plugin UI call", ErrEvaluationTimeout)
		}
		return nil, err
	}

	var reply frameReply
	if err := json.Unmarshal(res, &reply); err != nil {
		return nil, fmt.Errorf("malformed plugin UI reply: %w", err)
	}
	if !reply.Success {
		return nil, &devtool.EvalError{Message: reply.Error}
	}
	if len(reply.Result) == 0 {
		return json.RawMessage("null"), nil
	}
	return reply.Result, nil
}

func (p *FrameProbe) log() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
