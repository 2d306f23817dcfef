package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{input: "", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "WARN", want: slog.LevelWarn},
		{input: "warning", want: slog.LevelWarn},
		{input: " info ", want: slog.LevelInfo},
		{input: "debug", want: slog.LevelDebug},
		{input: "trace", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseLevel(%q) error=nil, want error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLevel(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Fatalf("ParseLevel(%q)=%v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLoggerJSONFiltersByLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("NewLogger() error: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("flush failed", "operation", "append_samples")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines=%d, want 1: %q", len(lines), buf.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if got := record["msg"]; got != "flush failed" {
		t.Fatalf("msg=%v, want %q", got, "flush failed")
	}
	if got := record["component"]; got != "ongoingai-collector" {
		t.Fatalf("component=%v, want %q", got, "ongoingai-collector")
	}
	if got := record["operation"]; got != "append_samples" {
		t.Fatalf("operation=%v, want %q", got, "append_samples")
	}
}

func TestNewLoggerText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "debug", "")
	if err != nil {
		t.Fatalf("NewLogger() error: %v", err)
	}
	logger.Debug("captured", "host", "api.openai.com")
	if got := buf.String(); !strings.Contains(got, "msg=captured") || !strings.Contains(got, "host=api.openai.com") {
		t.Fatalf("text output=%q, want msg and host attributes", got)
	}
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	if _, err := NewLogger(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Fatal("NewLogger() error=nil, want unknown format error")
	}
}
