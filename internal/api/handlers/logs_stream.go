package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deckbridge/deckbridge/internal/console"
)

// LogStreamHandler streams console entries to WebSocket clients as they
// arrive.
type LogStreamHandler struct {
	broker *console.Broker
	logger *slog.Logger
}

// NewLogStreamHandler creates a new log stream handler.
func NewLogStreamHandler(broker *console.Broker, logger *slog.Logger) *LogStreamHandler {
	return &LogStreamHandler{broker: broker, logger: logger}
}

const streamPingInterval = 30 * time.Second

// Stream handles GET /v1/logs/stream. The optional level query parameter
// restricts the stream to entries at that level.
func (h *LogStreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	level := r.URL.Query().Get("level")

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket", "error", err)
		return
	}
	defer conn.Close()

	sub := h.broker.Subscribe(level)
	defer h.broker.Unsubscribe(sub)

	h.logger.Info("log stream client connected", "subscriber_id", sub.ID, "level", level)

	// Drain client frames so close and pong handling work; the stream is
	// one-directional otherwise.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case entry, ok := <-sub.Ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(entry); err != nil {
				h.logger.Debug("log stream write failed", "subscriber_id", sub.ID, "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-clientGone:
			h.logger.Info("log stream client disconnected", "subscriber_id", sub.ID)
			return
		}
	}
}
