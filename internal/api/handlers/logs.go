// Package handlers implements the HTTP handlers for the bridge API.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/deckbridge/deckbridge/internal/console"
)

// LogStore is the slice of the console monitor the log handlers need.
type LogStore interface {
	GetLogs(opts console.QueryOptions) []console.LogEntry
	Clear() int
}

// LogsHandler serves buffered console history.
type LogsHandler struct {
	store  LogStore
	logger *slog.Logger
}

// NewLogsHandler creates a new logs handler.
func NewLogsHandler(store LogStore, logger *slog.Logger) *LogsHandler {
	return &LogsHandler{store: store, logger: logger}
}

// Get handles GET /v1/logs. Query parameters: count, level, since
// (RFC 3339 or Unix milliseconds).
func (h *LogsHandler) Get(w http.ResponseWriter, r *http.Request) {
	var opts console.QueryOptions

	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteBadRequest(w, "count must be a non-negative integer")
			return
		}
		opts.Count = n
	}

	opts.Level = r.URL.Query().Get("level")

	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := parseSince(raw)
		if err != nil {
			WriteBadRequest(w, "since must be RFC 3339 or Unix milliseconds")
			return
		}
		opts.Since = since
	}

	entries := h.store.GetLogs(opts)
	WriteJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// Delete handles DELETE /v1/logs.
func (h *LogsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	cleared := h.store.Clear()
	h.logger.Info("console history cleared via API", "entries", cleared)
	WriteJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
}

func parseSince(raw string) (time.Time, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339, raw)
}
