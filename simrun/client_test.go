package simrun

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/verisim-io/verisim/types"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(ClientConfig{
		RunsBaseURL: server.URL,
		DataBaseURL: server.URL,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, server
}

func TestSubmitRun_MultipartFields(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/runs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("file part: %v", err)
		}
		defer func() { _ = file.Close() }()
		archive, _ := io.ReadAll(file)
		if string(archive) != "archive-bytes" {
			t.Errorf("archive = %q", archive)
		}
		if header.Filename != "model.omex" {
			t.Errorf("filename = %q, want model.omex", header.Filename)
		}

		var payload submitPayload
		if err := json.Unmarshal([]byte(r.FormValue("simulationRun")), &payload); err != nil {
			t.Fatalf("descriptor part: %v", err)
		}
		if payload.Simulator != "copasi" || payload.SimulatorVersion != "4.45.296" {
			t.Errorf("descriptor = %+v", payload)
		}
		if payload.MaxTime != DefaultMaxTime {
			t.Errorf("maxTime = %d, want %d", payload.MaxTime, DefaultMaxTime)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"abc123","name":"verify","simulator":"copasi",
			"simulatorVersion":"4.45.296","status":"QUEUED"}`))
	}))

	run, err := client.SubmitRun(context.Background(), SubmitRequest{
		Name:             "verify",
		Simulator:        "copasi",
		SimulatorVersion: "4.45.296",
		Archive:          []byte("archive-bytes"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if run.ID != "abc123" || run.Status != types.RunStatusQueued {
		t.Errorf("run = %+v", run)
	}
}

func TestGetRun_Status(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/runs/abc123" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"abc123","status":"RUNNING"}`))
	}))

	run, err := client.GetRun(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != types.RunStatusRunning {
		t.Errorf("status = %q, want RUNNING", run.Status)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "run not found", http.StatusNotFound)
	}))

	_, err := client.GetRun(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("error = %v, want ErrRunNotFound match", err)
	}
	if IsTransient(err) {
		t.Error("not-found must not classify as transient")
	}
}

func TestGetDatasetValues(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/datasets/abc123/data" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("dataset_name") != "report" {
			t.Errorf("dataset_name = %q", r.URL.Query().Get("dataset_name"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"shape":[2,3],"values":[0,1,2,10,9.5,9.1]}`))
	}))

	values, err := client.GetDatasetValues(context.Background(), "abc123", "report")
	if err != nil {
		t.Fatalf("get values: %v", err)
	}
	if len(values.Values) != 6 || values.Shape[0] != 2 {
		t.Errorf("values = %+v", values)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		notFound  bool
		transient bool
	}{
		{"404", &APIError{StatusCode: 404, Op: "get run"}, true, false},
		{"400", &APIError{StatusCode: 400, Op: "submit run"}, false, false},
		{"429", &APIError{StatusCode: 429, Op: "get run"}, false, true},
		{"503", &APIError{StatusCode: 503, Op: "get run"}, false, true},
		{"plumbing", errors.New("unexpected EOF"), false, true},
		{"nil", nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound = %v, want %v", got, tt.notFound)
			}
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v", got, tt.transient)
			}
		})
	}
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(ClientConfig{DataBaseURL: "http://x"}); err == nil {
		t.Error("expected error for missing runs base URL")
	}
	if _, err := NewClient(ClientConfig{RunsBaseURL: "http://x"}); err == nil {
		t.Error("expected error for missing data base URL")
	}
}
