package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/deckbridge/deckbridge/internal/datacache"
)

// fakeFetcher is a scripted Fetcher.
type fakeFetcher struct {
	dataset *datacache.Dataset
	err     error
	calls   int
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string) (*datacache.Dataset, error) {
	f.calls++
	return f.dataset, f.err
}

func datasetsRouter(h *DatasetsHandler) chi.Router {
	r := chi.NewRouter()
	r.Get("/v1/data/{key}", h.Get)
	r.Put("/v1/data/{key}", h.Put)
	r.Delete("/v1/data/{key}", h.Delete)
	return r
}

func sampleDataset() *datacache.Dataset {
	return &datacache.Dataset{Groups: []datacache.Group{
		{Name: "styles", Items: []datacache.Item{
			{Name: "Primary", Mode: "light"},
			{Name: "Secondary", Mode: "dark"},
		}},
	}}
}

func TestDatasetsGetServedFromCache(t *testing.T) {
	store := datacache.NewStore()
	store.Put("file-1", sampleDataset())
	fetcher := &fakeFetcher{}
	h := NewDatasetsHandler(store, datacache.NewShaper(0), fetcher, testLogger())

	rec := httptest.NewRecorder()
	datasetsRouter(h).ServeHTTP(rec, httptest.NewRequest("GET", "/v1/data/file-1?mode=full", nil))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if fetcher.calls != 0 {
		t.Fatal("cache hit must not trigger a fetch")
	}

	var shaped datacache.Shaped
	json.Unmarshal(rec.Body.Bytes(), &shaped)
	if shaped.Mode != datacache.ModeFull || len(shaped.Groups) != 1 {
		t.Fatalf("unexpected shaped response: %+v", shaped)
	}
}

func TestDatasetsGetFetchesOnMiss(t *testing.T) {
	store := datacache.NewStore()
	fetcher := &fakeFetcher{dataset: sampleDataset()}
	h := NewDatasetsHandler(store, datacache.NewShaper(0), fetcher, testLogger())

	rec := httptest.NewRecorder()
	datasetsRouter(h).ServeHTTP(rec, httptest.NewRequest("GET", "/v1/data/file-2", nil))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected one fetch, got %d", fetcher.calls)
	}

	// The fetched dataset is now cached.
	if _, err := store.Get("file-2"); err != nil {
		t.Fatalf("fetched dataset not cached: %v", err)
	}
}

func TestDatasetsGetMissWithoutFetcher(t *testing.T) {
	h := NewDatasetsHandler(datacache.NewStore(), datacache.NewShaper(0), nil, testLogger())

	rec := httptest.NewRecorder()
	datasetsRouter(h).ServeHTTP(rec, httptest.NewRequest("GET", "/v1/data/absent", nil))

	if rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDatasetsGetFetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("sandbox unreachable")}
	h := NewDatasetsHandler(datacache.NewStore(), datacache.NewShaper(0), fetcher, testLogger())

	rec := httptest.NewRecorder()
	datasetsRouter(h).ServeHTTP(rec, httptest.NewRequest("GET", "/v1/data/file-3", nil))

	if rec.Code != 500 {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestDatasetsGetFilterParams(t *testing.T) {
	store := datacache.NewStore()
	store.Put("file-1", sampleDataset())
	h := NewDatasetsHandler(store, datacache.NewShaper(0), nil, testLogger())

	rec := httptest.NewRecorder()
	target := "/v1/data/file-1?mode=filtered&group=styles&nameContains=primary&itemMode=light"
	datasetsRouter(h).ServeHTTP(rec, httptest.NewRequest("GET", target, nil))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var shaped datacache.Shaped
	json.Unmarshal(rec.Body.Bytes(), &shaped)
	if len(shaped.Groups) != 1 || len(shaped.Groups[0].Items) != 1 {
		t.Fatalf("expected one filtered item, got %+v", shaped.Groups)
	}
	if shaped.Groups[0].Items[0].Name != "Primary" {
		t.Fatalf("wrong item survived the filter: %+v", shaped.Groups[0].Items[0])
	}
}

func TestDatasetsPutThenGet(t *testing.T) {
	store := datacache.NewStore()
	h := NewDatasetsHandler(store, datacache.NewShaper(0), nil, testLogger())
	r := datasetsRouter(h)

	body, _ := json.Marshal(sampleDataset())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("PUT", "/v1/data/file-9", strings.NewReader(string(body))))
	if rec.Code != 200 {
		t.Fatalf("put: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/data/file-9?mode=summary", nil))
	if rec.Code != 200 {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	var shaped datacache.Shaped
	json.Unmarshal(rec.Body.Bytes(), &shaped)
	if len(shaped.Summary) != 1 || shaped.Summary[0].ItemCount != 2 {
		t.Fatalf("unexpected summary: %+v", shaped.Summary)
	}
}

func TestDatasetsDelete(t *testing.T) {
	store := datacache.NewStore()
	store.Put("file-1", sampleDataset())
	h := NewDatasetsHandler(store, datacache.NewShaper(0), nil, testLogger())

	rec := httptest.NewRecorder()
	datasetsRouter(h).ServeHTTP(rec, httptest.NewRequest("DELETE", "/v1/data/file-1", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if _, err := store.Get("file-1"); err == nil {
		t.Fatal("expected the entry deleted")
	}
}
