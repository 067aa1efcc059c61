package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPSource_FetchSimulators(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simulators" {
			t.Errorf("path = %q, want /simulators", r.URL.Path)
		}
		if r.URL.Query().Get("includeTests") != "false" {
			t.Errorf("includeTests = %q, want false", r.URL.Query().Get("includeTests"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"copasi","name":"COPASI","version":"4.45.296",
			 "image":{"url":"ghcr.io/biosimulators/copasi:4.45.296","digest":"sha256:abc"},
			 "created":"2025-01-10","updated":"2025-06-01"},
			{"id":"broken","name":"NoImage","version":"1.0.0"},
			{"id":"tellurium","name":"Tellurium","version":"2.2.10",
			 "image":{"url":"ghcr.io/biosimulators/tellurium:2.2.10","digest":"sha256:def"},
			 "created":"2024-11-02","updated":"2025-03-14"}
		]`))
	}))
	defer server.Close()

	source := NewHTTPSource(server.URL, 0)
	simulators, err := source.FetchSimulators(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	// The entry without an image digest is skipped.
	if len(simulators) != 2 {
		t.Fatalf("entries = %d, want 2", len(simulators))
	}
	if simulators[0].ID != "copasi" || simulators[0].Image.Digest != "sha256:abc" {
		t.Errorf("first entry = %+v", simulators[0])
	}
	if simulators[1].ID != "tellurium" {
		t.Errorf("second entry = %+v", simulators[1])
	}
}

func TestHTTPSource_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	source := NewHTTPSource(server.URL, 0)
	if _, err := source.FetchSimulators(context.Background()); err == nil {
		t.Error("expected error for 500 response")
	}
}
