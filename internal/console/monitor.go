package console

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/deckbridge/deckbridge/internal/devtool"
)

// Config holds monitor configuration.
type Config struct {
	Capacity int
	Truncate TruncateOptions
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		Capacity: DefaultCapacity,
		Truncate: DefaultTruncateOptions(),
	}
}

// Monitor passively records everything the attached host process and its
// sandboxed sub-contexts log or raise, independent of any particular query.
// One dispatcher loop consumes the session's ordered event channel.
type Monitor struct {
	cfg    Config
	logger *slog.Logger
	buffer *Buffer
	broker *Broker

	mu       sync.Mutex
	sess     devtool.Session
	stopCh   chan struct{}
	running  bool
	lastBase string
}

// NewMonitor creates a monitor. A nil broker disables live fan-out.
func NewMonitor(cfg Config, broker *Broker, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:    cfg,
		logger: logger.With("component", "console"),
		buffer: NewBuffer(cfg.Capacity),
		broker: broker,
	}
}

// Attach starts monitoring a debug session. Idempotent for the same
// session handle; attaching a different handle replaces the previous one.
// All currently live sub-contexts are subscribed individually, since the
// protocol does not deliver their logs through the main event stream.
func (m *Monitor) Attach(ctx context.Context, sess devtool.Session) error {
	m.mu.Lock()
	if m.running && m.sess == sess {
		m.mu.Unlock()
		return nil
	}
	if m.running {
		close(m.stopCh)
	}
	m.sess = sess
	m.stopCh = make(chan struct{})
	m.running = true
	stopCh := m.stopCh
	m.mu.Unlock()

	for _, kind := range []devtool.ContextKind{devtool.KindFrame, devtool.KindWorker} {
		contexts, err := sess.Contexts(ctx, kind)
		if err != nil {
			m.logger.Warn("context enumeration failed", "kind", kind, "error", err)
			continue
		}
		for _, c := range contexts {
			if err := sess.Subscribe(ctx, c); err != nil {
				m.logger.Warn("context subscribe failed",
					"kind", kind, "context_id", c.ID, "error", err)
			}
		}
	}

	go m.run(sess, stopCh)
	m.logger.Info("console monitor attached")
	return nil
}

// Stop detaches the dispatcher loop. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	close(m.stopCh)
	m.running = false
	m.sess = nil
	m.logger.Info("console monitor stopped")
}

// GetLogs returns the matching tail slice of the buffer. No side effects.
func (m *Monitor) GetLogs(opts QueryOptions) []LogEntry {
	return m.buffer.Query(opts)
}

// Clear empties the buffer and returns the number of entries removed.
func (m *Monitor) Clear() int {
	return m.buffer.Clear()
}

// BufferLen returns the current number of buffered entries.
func (m *Monitor) BufferLen() int {
	return m.buffer.Len()
}

// Attached reports whether a session is currently being monitored.
func (m *Monitor) Attached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Session returns the currently attached session, or nil.
func (m *Monitor) Session() devtool.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// Broker returns the live-stream broker fed by this monitor.
func (m *Monitor) Broker() *Broker {
	return m.broker
}

func (m *Monitor) run(sess devtool.Session, stopCh chan struct{}) {
	events := sess.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				m.logger.Info("session event stream ended")
				return
			}
			m.dispatch(sess, ev)
		case <-stopCh:
			return
		}
	}
}

// dispatch processes one event. Failures are isolated per event: one
// malformed payload must not stop monitoring.
func (m *Monitor) dispatch(sess devtool.Session, ev devtool.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event processing panic", "panic", r)
		}
	}()

	switch e := ev.(type) {
	case devtool.ConsoleEvent:
		m.append(m.consoleEntry(e))

	case devtool.ExceptionEvent:
		m.append(LogEntry{
			Timestamp: e.Time,
			Level:     "error",
			Message:   TruncateString(e.Message, m.cfg.Truncate.MaxStringLen),
			Origin:    ClassifyOrigin(e.SourceURL),
			ContextID: e.ContextID,
			Stack:     e.Stack,
		})

	case devtool.ContextCreatedEvent:
		// Sandboxed-plugin output is only captured through the context's
		// own stream.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sess.Subscribe(ctx, e.Context); err != nil {
			m.logger.Warn("new context subscribe failed",
				"context_id", e.Context.ID, "error", err)
		} else {
			m.logger.Debug("subscribed to new context",
				"context_id", e.Context.ID, "kind", e.Context.Kind)
		}

	case devtool.ContextDestroyedEvent:
		m.logger.Debug("context destroyed", "context_id", e.ContextID)

	case devtool.NavigationEvent:
		m.handleNavigation(e.URL)
	}
}

func (m *Monitor) consoleEntry(e devtool.ConsoleEvent) LogEntry {
	args := make([]any, 0, len(e.Args))
	for _, raw := range e.Args {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			v = string(raw)
		}
		args = append(args, TruncateValue(v, m.cfg.Truncate))
	}

	return LogEntry{
		Timestamp: e.Time,
		Level:     e.Level,
		Message:   TruncateString(e.Message, m.cfg.Truncate.MaxStringLen),
		Args:      args,
		Origin:    ClassifyOrigin(e.SourceURL),
		ContextID: e.ContextID,
		Stack:     e.Stack,
	}
}

// handleNavigation clears the buffer when the primary surface moves to a
// materially different resource. Fragment and query variation within the
// same base identifier is single-page navigation and keeps history intact.
func (m *Monitor) handleNavigation(rawURL string) {
	base := NormalizeBaseURL(rawURL)

	m.mu.Lock()
	prev := m.lastBase
	m.lastBase = base
	m.mu.Unlock()

	if prev == "" || prev == base {
		return
	}

	removed := m.buffer.Clear()
	m.logger.Info("console history cleared on navigation",
		"from", prev, "to", base, "removed", removed)
	m.append(LogEntry{
		Timestamp: time.Now(),
		Level:     "info",
		Message:   fmt.Sprintf("console history cleared: navigated to %s (%d entries dropped)", base, removed),
		Origin:    OriginHostApp,
	})
}

func (m *Monitor) append(e LogEntry) {
	m.buffer.Append(e)
	if m.broker != nil {
		m.broker.Publish(e)
	}
}

// NormalizeBaseURL reduces a URL to scheme, host and path, stripping query
// and fragment. Unparsable input is returned as-is.
func NormalizeBaseURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return rawURL
	}
	return u.Scheme + "://" + u.Host + u.Path
}
