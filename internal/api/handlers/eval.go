package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/deckbridge/deckbridge/internal/bridge"
	"github.com/deckbridge/deckbridge/internal/devtool"
)

// SessionProvider hands out the currently attached debugging session.
type SessionProvider interface {
	Session() devtool.Session
}

// Runner executes code through the bridge's retry machinery.
type Runner interface {
	RunWithTimeout(ctx context.Context, sess devtool.Session, channel bridge.Channel, code string, timeout time.Duration) (json.RawMessage, error)
}

// EvalHandler runs caller-supplied code in the debugged application.
type EvalHandler struct {
	runner   Runner
	sessions SessionProvider
	logger   *slog.Logger
}

// NewEvalHandler creates a new eval handler.
func NewEvalHandler(runner Runner, sessions SessionProvider, logger *slog.Logger) *EvalHandler {
	return &EvalHandler{runner: runner, sessions: sessions, logger: logger}
}

// EvalRequest is the body of POST /v1/eval.
type EvalRequest struct {
	// Channel is "worker" or "frame"; defaults to "worker".
	Channel string `json:"channel"`
	Code    string `json:"code"`
	// TimeoutMS overrides the server's default call timeout when positive.
	TimeoutMS int `json:"timeout_ms,omitempty"`
}

// EvalResponse is the success body of POST /v1/eval.
type EvalResponse struct {
	Result json.RawMessage `json:"result"`
}

// Create handles POST /v1/eval.
func (h *EvalHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req EvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Code == "" {
		WriteBadRequest(w, "code is required")
		return
	}

	channel := bridge.Channel(req.Channel)
	if channel == "" {
		channel = bridge.ChannelWorker
	}
	if channel != bridge.ChannelWorker && channel != bridge.ChannelFrame {
		WriteBadRequest(w, "channel must be \"worker\" or \"frame\"")
		return
	}
	if req.TimeoutMS < 0 {
		WriteBadRequest(w, "timeout_ms must not be negative")
		return
	}

	sess := h.sessions.Session()
	if sess == nil {
		WriteError(w, http.StatusServiceUnavailable, ErrCodeNotAttached,
			"no debugging session attached: start the host application with remote debugging enabled")
		return
	}

	result, err := h.runner.RunWithTimeout(r.Context(), sess, channel, req.Code,
		time.Duration(req.TimeoutMS)*time.Millisecond)
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, &EvalResponse{Result: result})
}

// writeRunError maps bridge errors to HTTP statuses. Precondition
// failures are 503 (the caller can fix the host application and retry),
// timeouts are 504, and script throws are 422 with the original message.
func (h *EvalHandler) writeRunError(w http.ResponseWriter, err error) {
	var evalErr *devtool.EvalError
	switch {
	case errors.Is(err, bridge.ErrNoExecutionContext):
		WriteError(w, http.StatusServiceUnavailable, ErrCodeNoContext, err.Error())
	case errors.Is(err, bridge.ErrNoPluginUI):
		WriteError(w, http.StatusServiceUnavailable, ErrCodeNoPluginUI, err.Error())
	case errors.Is(err, bridge.ErrEvaluationTimeout):
		WriteError(w, http.StatusGatewayTimeout, ErrCodeEvaluationTimeout, err.Error())
	case errors.As(err, &evalErr):
		WriteError(w, http.StatusUnprocessableEntity, ErrCodeEvaluationThrew, evalErr.Message)
	default:
		h.logger.Error("eval failed", "error", err)
		WriteInternalError(w, "evaluation failed")
	}
}
