package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/deckbridge/deckbridge/internal/ports"
)

// Discoverer finds sibling instances through their advertisements.
type Discoverer interface {
	DiscoverInstances(preferred int) []ports.Advertisement
	CleanupStale() (int, error)
}

// InstancesHandler serves multi-instance discovery.
type InstancesHandler struct {
	coordinator   Discoverer
	preferredPort int
	logger        *slog.Logger
}

// NewInstancesHandler creates a new instances handler.
func NewInstancesHandler(coordinator Discoverer, preferredPort int, logger *slog.Logger) *InstancesHandler {
	return &InstancesHandler{coordinator: coordinator, preferredPort: preferredPort, logger: logger}
}

// List handles GET /v1/instances. The optional preferred query parameter
// overrides the scanned range's base port.
func (h *InstancesHandler) List(w http.ResponseWriter, r *http.Request) {
	preferred := h.preferredPort
	if raw := r.URL.Query().Get("preferred"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p <= 0 || p > 65535 {
			WriteBadRequest(w, "preferred must be a valid port number")
			return
		}
		preferred = p
	}

	instances := h.coordinator.DiscoverInstances(preferred)
	if instances == nil {
		instances = []ports.Advertisement{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"instances": instances,
		"count":     len(instances),
	})
}

// Cleanup handles POST /v1/instances/cleanup: removes every stale
// advertisement on the machine.
func (h *InstancesHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.coordinator.CleanupStale()
	if err != nil {
		h.logger.Error("stale advertisement cleanup failed", "error", err)
		WriteInternalError(w, "cleanup failed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"removed": removed})
}
