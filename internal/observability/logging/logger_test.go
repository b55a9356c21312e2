package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerJSONCarriesService(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "worker", "info", "json")
	logger.Info("session_started", "session_id", "s1")
	logger.Debug("hidden")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if line["service"] != "worker" || line["msg"] != "session_started" || line["session_id"] != "s1" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestNewLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "extractctl", "debug", "TEXT").Debug("plan_previewed")
	if !strings.Contains(buf.String(), "msg=plan_previewed") || !strings.Contains(buf.String(), "service=extractctl") {
		t.Fatalf("unexpected text output %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"debug": slog.LevelDebug, " WARNING ": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
