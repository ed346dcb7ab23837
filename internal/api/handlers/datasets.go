package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/deckbridge/deckbridge/internal/datacache"
)

// Fetcher extracts a dataset from the debugged application on a cache
// miss. Implementations go through the execution bridge.
type Fetcher interface {
	Fetch(ctx context.Context, key string) (*datacache.Dataset, error)
}

// DatasetsHandler serves cached, shaped datasets.
type DatasetsHandler struct {
	store   *datacache.Store
	shaper  *datacache.Shaper
	fetcher Fetcher
	logger  *slog.Logger
}

// NewDatasetsHandler creates a new datasets handler. fetcher may be nil,
// in which case misses are reported as not found instead of triggering
// an extraction.
func NewDatasetsHandler(store *datacache.Store, shaper *datacache.Shaper, fetcher Fetcher, logger *slog.Logger) *DatasetsHandler {
	return &DatasetsHandler{store: store, shaper: shaper, fetcher: fetcher, logger: logger}
}

// Get handles GET /v1/data/{key}. Query parameters: mode (summary,
// filtered, full; default summary), and for filtered mode: group,
// nameContains, itemMode.
func (h *DatasetsHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	mode := datacache.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = datacache.ModeSummary
	}

	ds, err := h.store.Get(key)
	if errors.Is(err, datacache.ErrNotFound) && h.fetcher != nil {
		ds, err = h.fetcher.Fetch(r.Context(), key)
		if err == nil {
			if putErr := h.store.Put(key, ds); putErr != nil {
				h.logger.Warn("failed to cache fetched dataset", "key", key, "error", putErr)
			}
		}
	}
	if err != nil {
		if errors.Is(err, datacache.ErrNotFound) {
			WriteNotFound(w, "no dataset cached under key "+key)
			return
		}
		h.logger.Error("dataset fetch failed", "key", key, "error", err)
		WriteInternalError(w, "dataset fetch failed")
		return
	}

	filter := datacache.Filter{
		Group:        r.URL.Query().Get("group"),
		NameContains: r.URL.Query().Get("nameContains"),
		Mode:         r.URL.Query().Get("itemMode"),
	}

	shaped, err := h.shaper.Shape(ds, mode, filter)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, shaped)
}

// Put handles PUT /v1/data/{key}: stores a dataset directly, superseding
// any cached copy.
func (h *DatasetsHandler) Put(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var ds datacache.Dataset
	if err := json.NewDecoder(r.Body).Decode(&ds); err != nil {
		WriteBadRequest(w, "invalid dataset body: "+err.Error())
		return
	}

	if err := h.store.Put(key, &ds); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"stored": key})
}

// Delete handles DELETE /v1/data/{key}.
func (h *DatasetsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	h.store.Delete(key)
	WriteJSON(w, http.StatusOK, map[string]any{"deleted": key})
}
