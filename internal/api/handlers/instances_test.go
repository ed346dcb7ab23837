package handlers

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/deckbridge/deckbridge/internal/ports"
)

// fakeDiscoverer is a scripted Discoverer.
type fakeDiscoverer struct {
	instances []ports.Advertisement
	preferred int
	removed   int
	err       error
}

func (f *fakeDiscoverer) DiscoverInstances(preferred int) []ports.Advertisement {
	f.preferred = preferred
	return f.instances
}

func (f *fakeDiscoverer) CleanupStale() (int, error) { return f.removed, f.err }

func TestInstancesList(t *testing.T) {
	d := &fakeDiscoverer{instances: []ports.Advertisement{
		{Port: 9223, PID: 100, Host: "127.0.0.1"},
		{Port: 9224, PID: 200, Host: "127.0.0.1"},
	}}
	h := NewInstancesHandler(d, 9223, testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest("GET", "/v1/instances", nil))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if d.preferred != 9223 {
		t.Fatalf("expected configured preferred port, got %d", d.preferred)
	}

	var body struct {
		Instances []ports.Advertisement `json:"instances"`
		Count     int                   `json:"count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Count != 2 || len(body.Instances) != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestInstancesListEmptyIsArray(t *testing.T) {
	h := NewInstancesHandler(&fakeDiscoverer{}, 9223, testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest("GET", "/v1/instances", nil))

	if body := rec.Body.String(); !strings.Contains(body, `"instances":[]`) {
		t.Fatalf("expected an empty array, got %s", body)
	}
}

func TestInstancesListPreferredOverride(t *testing.T) {
	d := &fakeDiscoverer{}
	h := NewInstancesHandler(d, 9223, testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest("GET", "/v1/instances?preferred=9400", nil))
	if rec.Code != 200 || d.preferred != 9400 {
		t.Fatalf("preferred override not applied: status=%d preferred=%d", rec.Code, d.preferred)
	}

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest("GET", "/v1/instances?preferred=notaport", nil))
	if rec.Code != 400 {
		t.Fatalf("expected 400 for invalid preferred, got %d", rec.Code)
	}
}

func TestInstancesCleanup(t *testing.T) {
	h := NewInstancesHandler(&fakeDiscoverer{removed: 3}, 9223, testLogger())

	rec := httptest.NewRecorder()
	h.Cleanup(rec, httptest.NewRequest("POST", "/v1/instances/cleanup", nil))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]int
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["removed"] != 3 {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestInstancesCleanupFailure(t *testing.T) {
	h := NewInstancesHandler(&fakeDiscoverer{err: errors.New("io error")}, 9223, testLogger())

	rec := httptest.NewRecorder()
	h.Cleanup(rec, httptest.NewRequest("POST", "/v1/instances/cleanup", nil))
	if rec.Code != 500 {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
