package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/deckbridge/deckbridge/internal/devtool"
)

// Channel selects which execution surface a call targets.
type Channel string

const (
	// ChannelWorker targets the sandbox worker exposing the plugin API.
	ChannelWorker Channel = "worker"
	// ChannelFrame targets the companion UI frame with a registered
	// entry point.
	ChannelFrame Channel = "frame"
)

// Config holds the bridge's tunables.
type Config struct {
	// WorkerMarker is the global whose presence marks the sandbox worker.
	WorkerMarker string
	// FrameEntryPoint is the function the companion UI registers on window.
	FrameEntryPoint string
	// CallTimeout bounds a single Run call end to end.
	CallTimeout time.Duration
	// MaxAttempts is the total number of execution attempts when the
	// target context detaches mid-call.
	MaxAttempts int
	// RetryDelay is the pause between attempts, letting the page finish
	// whatever navigation or reload caused the detachment.
	RetryDelay time.Duration
}

// DefaultConfig returns the bridge defaults.
func DefaultConfig() Config {
	return Config{
		WorkerMarker:    "hostPluginAPI",
		FrameEntryPoint: "__bridgeExecute",
		CallTimeout:     8 * time.Second,
		MaxAttempts:     2,
		RetryDelay:      500 * time.Millisecond,
	}
}

// Bridge routes code execution requests to the right context inside an
// attached debugging session, re-discovering the target when it detaches
// under the call.
type Bridge struct {
	cfg     Config
	logger  *slog.Logger
	probers map[Channel]Prober
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithProber overrides the prober for a channel. Used by tests.
func WithProber(ch Channel, p Prober) Option {
	return func(b *Bridge) {
		b.probers[ch] = p
	}
}

// New creates a Bridge with the given config.
func New(cfg Config, opts ...Option) *Bridge {
	b := &Bridge{
		cfg:     cfg,
		logger:  slog.Default(),
		probers: map[Channel]Prober{},
	}
	for _, opt := range opts {
		opt(b)
	}
	if _, ok := b.probers[ChannelWorker]; !ok {
		b.probers[ChannelWorker] = &WorkerProbe{Marker: cfg.WorkerMarker, Logger: b.logger}
	}
	if _, ok := b.probers[ChannelFrame]; !ok {
		b.probers[ChannelFrame] = &FrameProbe{EntryPoint: cfg.FrameEntryPoint, Logger: b.logger}
	}
	return b
}

// Run executes code on the named channel with the configured call timeout.
// Discovery runs fresh on every call; nothing is cached between calls, so a
// context that died since the last call costs nothing but a rescan.
//
// When the discovered context detaches during execution, Run re-discovers
// and retries up to cfg.MaxAttempts total attempts. A retry that finds no
// qualifying context, or exhausted attempts, surfaces the channel's
// not-found error so the caller sees a stable precondition failure rather
// than protocol internals.
func (b *Bridge) Run(ctx context.Context, sess devtool.Session, channel Channel, code string) (json.RawMessage, error) {
	return b.RunWithTimeout(ctx, sess, channel, code, b.cfg.CallTimeout)
}

// RunWithTimeout is Run with a caller-chosen deadline. A non-positive
// timeout falls back to the configured default.
func (b *Bridge) RunWithTimeout(ctx context.Context, sess devtool.Session, channel Channel, code string, timeout time.Duration) (json.RawMessage, error) {
	prober, ok := b.probers[channel]
	if !ok {
		return nil, fmt.Errorf("unknown channel %q", channel)
	}

	if timeout <= 0 {
		timeout = b.cfg.CallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, b.timeoutOr(ctx.Err())
			case <-time.After(b.cfg.RetryDelay):
			}
		}

		target, err := prober.FindQualifying(ctx, sess)
		if err != nil {
			// Nothing qualifying right now. Discovery failure is not
			// retried; the precondition simply does not hold.
			return nil, err
		}

		result, err := prober.Execute(ctx, sess, target, code)
		if err == nil {
			return result, nil
		}
		if !devtool.IsDetachment(err) {
			return nil, err
		}

		lastErr = err
		b.logger.Warn("execution context detached, retrying",
			"channel", prober.Name(),
			"attempt", attempt,
			"max_attempts", b.cfg.MaxAttempts,
			"error", err)
	}

	return nil, fmt.Errorf("%w (context detached repeatedly: %v)", prober.NotFound(), lastErr)
}

func (b *Bridge) timeoutOr(err error) error {
	if err == context.DeadlineExceeded {
		return ErrEvaluationTimeout
	}
	return err
}
