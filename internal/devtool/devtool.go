// Package devtool provides the narrow handle onto the host process's
// remote-debugging connection. The bridge and the console monitor consume the
// Session interface; the CDP client in this package is its production
// implementation. Consumers never hold a Context beyond one request: the host
// process owns context lifetimes and may detach any of them at any time.
package devtool

import (
	"context"
	"encoding/json"
	"time"
)

// ContextKind distinguishes the two surfaces code can run in.
type ContextKind string

const (
	// KindWorker is an isolated, enumerable background context.
	KindWorker ContextKind = "worker"
	// KindFrame is an embedded UI surface with named callable entry points.
	KindFrame ContextKind = "frame"
)

// Context is a candidate execution surface inside the host process.
type Context struct {
	ID    string
	Kind  ContextKind
	URL   string
	Title string
}

// StackFrame is one frame of a script stack trace.
type StackFrame struct {
	Function string `json:"function"`
	URL      string `json:"url"`
	Line     int64  `json:"line"`
	Column   int64  `json:"column"`
}

// Event is a typed message from the debug connection. All events are pushed
// onto a single ordered channel consumed by one dispatcher loop.
type Event interface {
	isEvent()
}

// ConsoleEvent is a console API call observed in some context.
type ConsoleEvent struct {
	Time      time.Time
	Level     string
	Message   string
	Args      []json.RawMessage
	SourceURL string
	ContextID string
	Stack     []StackFrame
}

// ExceptionEvent is an uncaught error raised in some context.
type ExceptionEvent struct {
	Time      time.Time
	Message   string
	SourceURL string
	ContextID string
	Stack     []StackFrame
}

// ContextCreatedEvent announces a new live context.
type ContextCreatedEvent struct {
	Context Context
}

// ContextDestroyedEvent announces that a context is gone.
type ContextDestroyedEvent struct {
	ContextID string
}

// NavigationEvent announces a navigation of the primary surface.
type NavigationEvent struct {
	URL string
}

func (ConsoleEvent) isEvent()          {}
func (ExceptionEvent) isEvent()        {}
func (ContextCreatedEvent) isEvent()   {}
func (ContextDestroyedEvent) isEvent() {}
func (NavigationEvent) isEvent()       {}

// Session is the externally supplied debugging handle. Implementations must
// deliver events in arrival order on the Events channel.
type Session interface {
	// Contexts enumerates the currently live contexts of the given kind.
	// The result reflects the host process's state at call time and goes
	// stale the moment it is returned.
	Contexts(ctx context.Context, kind ContextKind) ([]Context, error)

	// Subscribe enables log and error delivery for the given context.
	// Sub-context output does not propagate through the main event stream,
	// so each worker must be subscribed individually.
	Subscribe(ctx context.Context, target Context) error

	// Evaluate runs an expression in the given context and returns its
	// JSON-serialized value. A thrown script error yields *EvalError; a
	// vanished context yields an error matching ErrContextDetached.
	Evaluate(ctx context.Context, target Context, expression string) (json.RawMessage, error)

	// Events returns the ordered event channel. It is closed when the
	// session closes.
	Events() <-chan Event

	// Close tears down the connection. Safe to call multiple times.
	Close() error
}
