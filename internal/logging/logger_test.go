package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WARN, false)
	l.SetOutput(&buf)

	l.Info("hidden")
	l.Warn("shown", Fields{"job": "nginx"})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("INFO line written at WARN level: %q", out)
	}
	if !strings.Contains(out, "WARN: shown job=nginx") {
		t.Errorf("Expected warn line with fields, got %q", out)
	}
}

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(DEBUG, true)
	l.SetOutput(&buf)

	l.WithField("run_id", "abc").Debug("tick", Fields{"n": 1})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse log line: %v", err)
	}
	if entry.Level != "DEBUG" || entry.Message != "tick" {
		t.Errorf("Unexpected entry: %+v", entry)
	}
	if entry.Fields["run_id"] != "abc" {
		t.Errorf("Expected run_id field, got %v", entry.Fields)
	}
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(INFO, false)
	parent.SetOutput(&buf)

	_ = parent.WithField("child", true)
	parent.Info("plain")

	if strings.Contains(buf.String(), "child") {
		t.Errorf("Parent logger picked up child field: %q", buf.String())
	}
}

func TestFromVerbosity(t *testing.T) {
	tests := []struct {
		count int
		want  Level
	}{
		{0, WARN},
		{1, INFO},
		{2, DEBUG},
		{5, DEBUG},
	}
	for _, tt := range tests {
		if got := FromVerbosity(tt.count); got != tt.want {
			t.Errorf("FromVerbosity(%d) = %v, want %v", tt.count, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("WARNING") != WARN {
		t.Error("Expected WARNING to parse as WARN")
	}
	if ParseLevel("bogus") != INFO {
		t.Error("Expected unknown level to default to INFO")
	}
}
