package devtool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	cdplog "github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
)

// eventBufferSize bounds the event channel. The dispatcher loop normally
// keeps up; entries are dropped with a warning under sustained overload
// rather than blocking the read loop.
const eventBufferSize = 512

// wireMessage is the DevTools protocol frame. Command parameters, results
// and event payloads inside it are the cdproto domain types.
type wireMessage struct {
	ID        int64           `json:"id,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// frameContext is a tracked page execution context.
type frameContext struct {
	id     int64
	origin string
	name   string
}

// workerTarget is an attached worker-class target.
type workerTarget struct {
	targetID  string
	sessionID string
	url       string
	title     string
}

// CDPClient implements Session over a Chrome DevTools Protocol WebSocket.
type CDPClient struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu       sync.Mutex
	pending  map[int64]chan *wireMessage
	frames   map[int64]frameContext
	workers  map[string]workerTarget // keyed by target ID
	sessions map[string]string       // session ID -> target ID

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	// eventMu serializes emit against closeEvents: announceWorker emits
	// from its own goroutine and can outlive the read loop, so the events
	// channel must never close while a producer is mid-send.
	eventMu      sync.Mutex
	eventsClosed bool
}

// Dial connects to the debugger endpoint and enables the Runtime, Page, Log
// and Target domains so events start flowing.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*CDPClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing debugger endpoint: %w", err)
	}

	c := &CDPClient{
		conn:     conn,
		logger:   logger.With("component", "devtool"),
		pending:  make(map[int64]chan *wireMessage),
		frames:   make(map[int64]frameContext),
		workers:  make(map[string]workerTarget),
		sessions: make(map[string]string),
		events:   make(chan Event, eventBufferSize),
		done:     make(chan struct{}),
	}

	go c.readLoop()

	for _, method := range []string{"Page.enable", "Runtime.enable", "Log.enable"} {
		if err := c.call(ctx, "", method, nil, nil); err != nil {
			c.Close()
			return nil, fmt.Errorf("enabling %s: %w", method, err)
		}
	}
	discover := &target.SetDiscoverTargetsParams{Discover: true}
	if err := c.call(ctx, "", "Target.setDiscoverTargets", discover, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("enabling target discovery: %w", err)
	}

	return c, nil
}

// Events returns the ordered event channel.
func (c *CDPClient) Events() <-chan Event {
	return c.events
}

// Close tears down the connection. Safe to call multiple times.
func (c *CDPClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()

		c.mu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
	})
	return nil
}

// Contexts enumerates live contexts of the given kind. Workers are taken
// from a fresh Target.getTargets call and attached on demand; frames come
// from execution contexts observed on the page session.
func (c *CDPClient) Contexts(ctx context.Context, kind ContextKind) ([]Context, error) {
	switch kind {
	case KindWorker:
		return c.workerContexts(ctx)
	case KindFrame:
		return c.frameContexts(), nil
	default:
		return nil, fmt.Errorf("unknown context kind %q", kind)
	}
}

func (c *CDPClient) workerContexts(ctx context.Context) ([]Context, error) {
	var ret target.GetTargetsReturns
	if err := c.call(ctx, "", "Target.getTargets", &target.GetTargetsParams{}, &ret); err != nil {
		return nil, err
	}

	var out []Context
	for _, info := range ret.TargetInfos {
		if info == nil || !isWorkerType(info.Type) {
			continue
		}
		sessionID, err := c.ensureAttached(ctx, string(info.TargetID), info.URL, info.Title)
		if err != nil {
			// The target may have gone away between enumeration and
			// attach; skip it rather than failing the whole scan.
			c.logger.Warn("worker attach failed",
				"target_id", info.TargetID,
				"error", err,
			)
			continue
		}
		out = append(out, Context{
			ID:    sessionID,
			Kind:  KindWorker,
			URL:   info.URL,
			Title: info.Title,
		})
	}
	return out, nil
}

func (c *CDPClient) frameContexts() []Context {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]int64, 0, len(c.frames))
	for id := range c.frames {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Context, 0, len(ids))
	for _, id := range ids {
		fc := c.frames[id]
		out = append(out, Context{
			ID:    strconv.FormatInt(id, 10),
			Kind:  KindFrame,
			URL:   fc.origin,
			Title: fc.name,
		})
	}
	return out
}

// ensureAttached returns the flattened session ID for a worker target,
// attaching if this is the first time we see it.
func (c *CDPClient) ensureAttached(ctx context.Context, targetID, url, title string) (string, error) {
	c.mu.Lock()
	if w, ok := c.workers[targetID]; ok {
		c.mu.Unlock()
		return w.sessionID, nil
	}
	c.mu.Unlock()

	params := &target.AttachToTargetParams{
		TargetID: target.ID(targetID),
		Flatten:  true,
	}
	var ret target.AttachToTargetReturns
	if err := c.call(ctx, "", "Target.attachToTarget", params, &ret); err != nil {
		return "", err
	}
	sessionID := string(ret.SessionID)

	c.mu.Lock()
	c.workers[targetID] = workerTarget{
		targetID:  targetID,
		sessionID: sessionID,
		url:       url,
		title:     title,
	}
	c.sessions[sessionID] = targetID
	c.mu.Unlock()

	return sessionID, nil
}

// Subscribe enables log delivery for a context. Worker output only flows
// after Runtime is enabled on the worker's own session; frame contexts are
// already covered by the page session's Runtime domain.
func (c *CDPClient) Subscribe(ctx context.Context, tgt Context) error {
	if tgt.Kind != KindWorker {
		return nil
	}
	return c.call(ctx, tgt.ID, "Runtime.enable", nil, nil)
}

// Evaluate runs an expression in the given context with promise resolution
// and by-value result serialization.
func (c *CDPClient) Evaluate(ctx context.Context, tgt Context, expression string) (json.RawMessage, error) {
	params := &runtime.EvaluateParams{
		Expression:    expression,
		ReturnByValue: true,
		AwaitPromise:  true,
	}

	sessionID := ""
	switch tgt.Kind {
	case KindWorker:
		sessionID = tgt.ID
	case KindFrame:
		id, err := strconv.ParseInt(tgt.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid frame context id %q: %w", tgt.ID, err)
		}
		params.ContextID = runtime.ExecutionContextID(id)
	default:
		return nil, fmt.Errorf("unknown context kind %q", tgt.Kind)
	}

	var ret runtime.EvaluateReturns
	if err := c.call(ctx, sessionID, "Runtime.evaluate", params, &ret); err != nil {
		return nil, err
	}

	if ret.ExceptionDetails != nil {
		return nil, &EvalError{Message: exceptionText(ret.ExceptionDetails)}
	}

	if ret.Result == nil || len(ret.Result.Value) == 0 {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage([]byte(ret.Result.Value)), nil
}

// call sends one command and waits for the matching reply.
func (c *CDPClient) call(ctx context.Context, sessionID, method string, params, result any) error {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshaling %s params: %w", method, err)
		}
		raw = data
	}

	id := c.nextID.Add(1)
	replyCh := make(chan *wireMessage, 1)

	c.mu.Lock()
	c.pending[id] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	msg := wireMessage{ID: id, SessionID: sessionID, Method: method, Params: raw}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", method, err)
	}

	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSessionClosed, method, err)
	}

	select {
	case reply, ok := <-replyCh:
		if !ok {
			return ErrSessionClosed
		}
		if reply.Error != nil {
			return classifyProtocolError(method, reply.Error.Message)
		}
		if result != nil && len(reply.Result) > 0 {
			if err := json.Unmarshal(reply.Result, result); err != nil {
				return fmt.Errorf("unmarshaling %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrSessionClosed
	}
}

// readLoop reads protocol frames, routes command replies to their waiters
// and translates events onto the ordered event channel.
func (c *CDPClient) readLoop() {
	defer c.closeEvents()
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("debug connection closed", "error", err)
			}
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("unparsable protocol frame", "error", err)
			continue
		}

		if msg.ID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- &msg
			}
			continue
		}

		c.handleEvent(&msg)
	}
}

// handleEvent translates one protocol event. Malformed payloads are logged
// and skipped; they must never stop the read loop.
func (c *CDPClient) handleEvent(msg *wireMessage) {
	switch msg.Method {
	case "Runtime.consoleAPICalled":
		var ev runtime.EventConsoleAPICalled
		if err := json.Unmarshal(msg.Params, &ev); err != nil {
			c.logger.Warn("bad console event payload", "error", err)
			return
		}
		c.emit(c.consoleEvent(&ev, msg.SessionID))

	case "Runtime.exceptionThrown":
		var ev runtime.EventExceptionThrown
		if err := json.Unmarshal(msg.Params, &ev); err != nil {
			c.logger.Warn("bad exception event payload", "error", err)
			return
		}
		if ev.ExceptionDetails == nil {
			return
		}
		c.emit(ExceptionEvent{
			Time:      time.Now(),
			Message:   exceptionText(ev.ExceptionDetails),
			SourceURL: ev.ExceptionDetails.URL,
			ContextID: msg.SessionID,
			Stack:     stackFrames(ev.ExceptionDetails.StackTrace),
		})

	case "Log.entryAdded":
		var ev cdplog.EventEntryAdded
		if err := json.Unmarshal(msg.Params, &ev); err != nil || ev.Entry == nil {
			return
		}
		c.emit(ConsoleEvent{
			Time:      time.Now(),
			Level:     normalizeLevel(string(ev.Entry.Level)),
			Message:   ev.Entry.Text,
			SourceURL: ev.Entry.URL,
			ContextID: msg.SessionID,
		})

	case "Runtime.executionContextCreated":
		var ev runtime.EventExecutionContextCreated
		if err := json.Unmarshal(msg.Params, &ev); err != nil || ev.Context == nil {
			return
		}
		// Worker sessions report their own contexts; only page contexts
		// are enumerable frame candidates.
		if msg.SessionID != "" {
			return
		}
		id := int64(ev.Context.ID)
		c.mu.Lock()
		c.frames[id] = frameContext{
			id:     id,
			origin: ev.Context.Origin,
			name:   ev.Context.Name,
		}
		c.mu.Unlock()
		c.emit(ContextCreatedEvent{Context: Context{
			ID:    strconv.FormatInt(id, 10),
			Kind:  KindFrame,
			URL:   ev.Context.Origin,
			Title: ev.Context.Name,
		}})

	case "Runtime.executionContextDestroyed":
		var ev runtime.EventExecutionContextDestroyed
		if err := json.Unmarshal(msg.Params, &ev); err != nil {
			return
		}
		if msg.SessionID != "" {
			return
		}
		id := int64(ev.ExecutionContextID)
		c.mu.Lock()
		delete(c.frames, id)
		c.mu.Unlock()
		c.emit(ContextDestroyedEvent{ContextID: strconv.FormatInt(id, 10)})

	case "Page.frameNavigated":
		var ev page.EventFrameNavigated
		if err := json.Unmarshal(msg.Params, &ev); err != nil || ev.Frame == nil {
			return
		}
		if ev.Frame.ParentID != "" {
			return // only primary-surface navigations matter
		}
		c.emit(NavigationEvent{URL: ev.Frame.URL})

	case "Target.targetCreated":
		var ev target.EventTargetCreated
		if err := json.Unmarshal(msg.Params, &ev); err != nil || ev.TargetInfo == nil {
			return
		}
		if !isWorkerType(ev.TargetInfo.Type) {
			return
		}
		// Attaching requires a command round trip, which cannot happen on
		// the read loop itself.
		info := ev.TargetInfo
		go c.announceWorker(string(info.TargetID), info.URL, info.Title)

	case "Target.targetDestroyed":
		var ev target.EventTargetDestroyed
		if err := json.Unmarshal(msg.Params, &ev); err != nil {
			return
		}
		c.mu.Lock()
		w, ok := c.workers[string(ev.TargetID)]
		if ok {
			delete(c.sessions, w.sessionID)
			delete(c.workers, string(ev.TargetID))
		}
		c.mu.Unlock()
		if ok {
			c.emit(ContextDestroyedEvent{ContextID: w.sessionID})
		}
	}
}

// announceWorker attaches to a freshly created worker target and announces
// it as a live context.
func (c *CDPClient) announceWorker(targetID, url, title string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessionID, err := c.ensureAttached(ctx, targetID, url, title)
	if err != nil {
		c.logger.Warn("worker attach failed", "target_id", targetID, "error", err)
		return
	}
	c.emit(ContextCreatedEvent{Context: Context{
		ID:    sessionID,
		Kind:  KindWorker,
		URL:   url,
		Title: title,
	}})
}

// emit delivers an event without ever blocking the read loop. Events are
// dropped with a warning if the dispatcher falls behind, and dropped
// silently once the session has closed.
func (c *CDPClient) emit(ev Event) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	if c.eventsClosed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("event channel full, dropping event")
	}
}

// closeEvents marks the channel closed before closing it, so late emitters
// see the flag instead of a closed channel.
func (c *CDPClient) closeEvents() {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	c.eventsClosed = true
	close(c.events)
}

func (c *CDPClient) consoleEvent(ev *runtime.EventConsoleAPICalled, sessionID string) ConsoleEvent {
	args := make([]json.RawMessage, 0, len(ev.Args))
	parts := make([]string, 0, len(ev.Args))
	for _, arg := range ev.Args {
		if arg == nil {
			continue
		}
		if len(arg.Value) > 0 {
			args = append(args, json.RawMessage([]byte(arg.Value)))
			parts = append(parts, argText([]byte(arg.Value)))
		} else if arg.Description != "" {
			desc, _ := json.Marshal(arg.Description)
			args = append(args, desc)
			parts = append(parts, arg.Description)
		}
	}

	contextID := sessionID
	if contextID == "" {
		contextID = strconv.FormatInt(int64(ev.ExecutionContextID), 10)
	}

	frames := stackFrames(ev.StackTrace)
	sourceURL := ""
	if len(frames) > 0 {
		sourceURL = frames[0].URL
	}

	return ConsoleEvent{
		Time:      time.Now(),
		Level:     normalizeLevel(string(ev.Type)),
		Message:   strings.Join(parts, " "),
		Args:      args,
		SourceURL: sourceURL,
		ContextID: contextID,
		Stack:     frames,
	}
}

// argText renders a JSON console argument as display text. Plain strings
// lose their quotes; everything else stays raw JSON.
func argText(raw []byte) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// exceptionText pulls the most descriptive message out of exception details.
// The exception object's description usually carries the message and stack;
// the Text field is a generic "Uncaught" otherwise.
func exceptionText(details *runtime.ExceptionDetails) string {
	if details == nil {
		return ""
	}
	if details.Exception != nil && details.Exception.Description != "" {
		return details.Exception.Description
	}
	if details.Exception != nil && len(details.Exception.Value) > 0 {
		return argText([]byte(details.Exception.Value))
	}
	return details.Text
}

func stackFrames(st *runtime.StackTrace) []StackFrame {
	if st == nil {
		return nil
	}
	frames := make([]StackFrame, 0, len(st.CallFrames))
	for _, cf := range st.CallFrames {
		if cf == nil {
			continue
		}
		frames = append(frames, StackFrame{
			Function: cf.FunctionName,
			URL:      cf.URL,
			Line:     cf.LineNumber,
			Column:   cf.ColumnNumber,
		})
	}
	return frames
}

// normalizeLevel maps protocol console types onto the five stored levels.
func normalizeLevel(t string) string {
	switch t {
	case "log", "info", "warning", "error", "debug":
		if t == "warning" {
			return "warn"
		}
		return t
	case "warn":
		return "warn"
	case "assert", "trace":
		return "debug"
	default:
		return "log"
	}
}

func isWorkerType(t string) bool {
	switch t {
	case "worker", "shared_worker", "service_worker":
		return true
	default:
		return false
	}
}

var _ Session = (*CDPClient)(nil)
