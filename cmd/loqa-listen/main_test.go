package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loqa.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunMissingModel(t *testing.T) {
	path := writeConfig(t, `
recognizer:
  mode: whisper-exec
  command: sh
  model_path: /models/missing
`)
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", path}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Model not found at /models/missing") {
		t.Fatalf("stderr missing model error: %s", stderr.String())
	}
	if stdout.Len() != 0 {
		t.Fatalf("expected empty stdout, got %q", stdout.String())
	}
}

func TestRunMissingModelJSONCarriesPath(t *testing.T) {
	path := writeConfig(t, `
telemetry:
  log_format: json
recognizer:
  mode: whisper-exec
  command: sh
  model_path: /models/missing
`)
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-config", path}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	var found bool
	for _, line := range strings.Split(strings.TrimSpace(stderr.String()), "\n") {
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("stderr line is not json: %q", line)
		}
		if record["level"] == "ERROR" {
			found = true
			if record["msg"] != "Model not found at /models/missing" || record["path"] != "/models/missing" {
				t.Fatalf("unexpected error record %v", record)
			}
		}
	}
	if !found {
		t.Fatalf("no error record in %s", stderr.String())
	}
}

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-version"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if strings.TrimSpace(stdout.String()) != version {
		t.Fatalf("unexpected version output %q", stdout.String())
	}
}

func TestRunBadConfig(t *testing.T) {
	path := writeConfig(t, "capture:\n  mode: sometimes\n")
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-config", path}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "capture.mode") {
		t.Fatalf("expected key in error, got %s", stderr.String())
	}
}

func TestRunInterruptedBeforeStartIsClean(t *testing.T) {
	path := writeConfig(t, `
capture:
  mode: stream
  fallback:
    enabled: false
recognizer:
  mode: mock
`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var stdout, stderr bytes.Buffer
	if code := run(ctx, []string{"-config", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0 on interrupt, got %d: %s", code, stderr.String())
	}
}
