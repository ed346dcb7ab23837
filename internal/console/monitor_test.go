package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/deckbridge/deckbridge/internal/devtool"
)

// fakeSession is a scriptable devtool.Session for monitor tests.
type fakeSession struct {
	mu         sync.Mutex
	contexts   map[devtool.ContextKind][]devtool.Context
	subscribed []string
	subErr     error
	events     chan devtool.Event
	closed     bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		contexts: make(map[devtool.ContextKind][]devtool.Context),
		events:   make(chan devtool.Event, 64),
	}
}

func (f *fakeSession) Contexts(_ context.Context, kind devtool.ContextKind) ([]devtool.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contexts[kind], nil
}

func (f *fakeSession) Subscribe(_ context.Context, target devtool.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return f.subErr
	}
	f.subscribed = append(f.subscribed, target.ID)
	return nil
}

func (f *fakeSession) Evaluate(_ context.Context, _ devtool.Context, _ string) (json.RawMessage, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSession) Events() <-chan devtool.Event { return f.events }

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeSession) subscribedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.subscribed))
	copy(out, f.subscribed)
	return out
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func testMonitor(t *testing.T) (*Monitor, *fakeSession) {
	t.Helper()
	sess := newFakeSession()
	m := NewMonitor(Config{Capacity: 50, Truncate: DefaultTruncateOptions()}, nil, nil)
	if err := m.Attach(context.Background(), sess); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	t.Cleanup(m.Stop)
	return m, sess
}

func TestMonitorAttachSubscribesLiveContexts(t *testing.T) {
	sess := newFakeSession()
	sess.contexts[devtool.KindFrame] = []devtool.Context{{ID: "frame-1", Kind: devtool.KindFrame}}
	sess.contexts[devtool.KindWorker] = []devtool.Context{{ID: "worker-1", Kind: devtool.KindWorker}}

	m := NewMonitor(DefaultConfig(), nil, nil)
	if err := m.Attach(context.Background(), sess); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	defer m.Stop()

	ids := sess.subscribedIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 subscriptions, got %v", ids)
	}
}

func TestMonitorAttachIdempotentForSameSession(t *testing.T) {
	m, sess := testMonitor(t)

	if err := m.Attach(context.Background(), sess); err != nil {
		t.Fatalf("second attach failed: %v", err)
	}
	if !m.Attached() {
		t.Fatal("monitor should remain attached")
	}
}

func TestMonitorRecordsConsoleEvents(t *testing.T) {
	m, sess := testMonitor(t)

	sess.events <- devtool.ConsoleEvent{
		Time:      time.Now(),
		Level:     "warn",
		Message:   "low memory",
		SourceURL: "https://app.example.com/editor",
	}

	waitFor(t, func() bool { return m.BufferLen() == 1 }, "console event never buffered")

	got := m.GetLogs(QueryOptions{})
	if got[0].Level != "warn" || got[0].Message != "low memory" {
		t.Fatalf("unexpected entry: %+v", got[0])
	}
	if got[0].Origin != OriginHostApp {
		t.Fatalf("expected host-app origin, got %q", got[0].Origin)
	}
}

func TestMonitorSubscribesCreatedContexts(t *testing.T) {
	m, sess := testMonitor(t)

	sess.events <- devtool.ContextCreatedEvent{
		Context: devtool.Context{ID: "worker-new", Kind: devtool.KindWorker},
	}

	waitFor(t, func() bool {
		for _, id := range sess.subscribedIDs() {
			if id == "worker-new" {
				return true
			}
		}
		return false
	}, "created context never subscribed")
	_ = m
}

func TestMonitorNavigationSameBaseKeepsHistory(t *testing.T) {
	m, sess := testMonitor(t)

	sess.events <- devtool.NavigationEvent{URL: "https://app.example.com/file/abc?node=1"}
	sess.events <- devtool.ConsoleEvent{Time: time.Now(), Level: "log", Message: "kept"}
	waitFor(t, func() bool { return m.BufferLen() == 1 }, "entry never buffered")

	// Fragment-only variation of the same base identifier.
	sess.events <- devtool.NavigationEvent{URL: "https://app.example.com/file/abc#frame"}

	// Give the dispatcher a chance to misbehave before asserting.
	time.Sleep(50 * time.Millisecond)
	if m.BufferLen() != 1 {
		t.Fatalf("same-base navigation must not clear, have %d entries", m.BufferLen())
	}
}

func TestMonitorNavigationDifferentBaseClears(t *testing.T) {
	m, sess := testMonitor(t)

	sess.events <- devtool.NavigationEvent{URL: "https://app.example.com/file/abc"}
	sess.events <- devtool.ConsoleEvent{Time: time.Now(), Level: "log", Message: "stale"}
	waitFor(t, func() bool { return m.BufferLen() == 1 }, "entry never buffered")

	sess.events <- devtool.NavigationEvent{URL: "https://app.example.com/file/other"}

	waitFor(t, func() bool {
		logs := m.GetLogs(QueryOptions{})
		return len(logs) == 1 && logs[0].Level == "info" && logs[0].Message != "stale"
	}, "expected history cleared with exactly one synthetic marker entry")
}

func TestMonitorIsolatesEventProcessingFailures(t *testing.T) {
	m, sess := testMonitor(t)

	// A console event with an argument that is not valid JSON must not
	// stop the dispatcher.
	sess.events <- devtool.ConsoleEvent{
		Time:    time.Now(),
		Level:   "log",
		Message: "mangled",
		Args:    []json.RawMessage{json.RawMessage(`{"broken`)},
	}
	sess.events <- devtool.ConsoleEvent{Time: time.Now(), Level: "log", Message: "after"}

	waitFor(t, func() bool { return m.BufferLen() == 2 }, "dispatcher stopped after malformed payload")
}

func TestMonitorStopIdempotent(t *testing.T) {
	m, _ := testMonitor(t)
	m.Stop()
	m.Stop()
	if m.Attached() {
		t.Fatal("monitor should be detached after stop")
	}
}

func TestMonitorClearReturnsCount(t *testing.T) {
	m, sess := testMonitor(t)

	for i := 0; i < 3; i++ {
		sess.events <- devtool.ConsoleEvent{Time: time.Now(), Level: "log", Message: fmt.Sprintf("m%d", i)}
	}
	waitFor(t, func() bool { return m.BufferLen() == 3 }, "entries never buffered")

	if cleared := m.Clear(); cleared != 3 {
		t.Fatalf("expected 3 cleared, got %d", cleared)
	}
}
