package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		wantErr  bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"", INFO, false},
		{"warning", WARN, false},
		{"error", ERROR, false},
		{"fatal", FATAL, false},
		{"loud", INFO, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if level != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, expected %v", tt.input, level, tt.expected)
			}
		})
	}
}

func TestTextOutputAndLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, false)
	logger.SetOutput(&buf)

	logger.Debug("hidden")
	logger.WithField("pid", 42).Info("Master 42 is running")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line should be filtered, got %q", out)
	}
	if !strings.Contains(out, "INFO: Master 42 is running pid=42") {
		t.Errorf("unexpected text line: %q", out)
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DEBUG, true)
	logger.SetOutput(&buf)

	logger.WithFields(Fields{"slot": 1}).Warn("worker 7 died", Fields{"code": 2})

	var entry LogEntry
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("failed to decode JSON line %q: %v", buf.String(), err)
	}
	if entry.Level != "WARN" || entry.Message != "worker 7 died" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Fields["slot"] != float64(1) || entry.Fields["code"] != float64(2) {
		t.Errorf("expected merged fields, got %v", entry.Fields)
	}
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(INFO, false)
	parent.SetOutput(&buf)

	child := parent.WithField("component", "worker")
	parent.Info("from parent")
	child.Info("from child")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if strings.Contains(lines[0], "component=") {
		t.Errorf("parent logger picked up child field: %q", lines[0])
	}
	if !strings.Contains(lines[1], "component=worker") {
		t.Errorf("child logger lost its field: %q", lines[1])
	}
}

func TestFatalExits(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO, false)
	logger.SetOutput(&buf)

	code := -1
	logger.out.exit = func(c int) { code = c }
	logger.Fatal("cannot bind")

	if code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
}

func TestOpenWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "prefork.log")

	logger, err := Open(Options{Level: "info", Format: "text", File: path})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	logger.Info("written to file")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file missing line, got %q", string(data))
	}
}

func TestOpenRejectsUnknownLevel(t *testing.T) {
	if _, err := Open(Options{Level: "verbose"}); err == nil {
		t.Error("expected error for unknown level")
	}
}
