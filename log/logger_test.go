package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogger_IncludesWorkflowContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf).WithWorkflow("omex-verification-abc123")

	logger.Info("dispatching simulators", map[string]any{"count": 3})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}

	if entry["workflow_id"] != "omex-verification-abc123" {
		t.Errorf("workflow_id = %v, want omex-verification-abc123", entry["workflow_id"])
	}
	if entry["message"] != "dispatching simulators" {
		t.Errorf("message = %v, want dispatching simulators", entry["message"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
}

func TestLogger_FieldsNested(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf)

	logger.Error("submission failed", map[string]any{"simulator": "copasi"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}

	fields, ok := entry["fields"].(map[string]any)
	if !ok {
		t.Fatal("fields object missing from log entry")
	}
	if fields["simulator"] != "copasi" {
		t.Errorf("fields.simulator = %v, want copasi", fields["simulator"])
	}
}

func TestSugaredLogger_Printf(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf)

	logger.Sugar().Infof("resolved %d simulators", 5)

	if !strings.Contains(buf.String(), "resolved 5 simulators") {
		t.Errorf("output missing formatted message: %s", buf.String())
	}
}
