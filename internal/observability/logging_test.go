package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("failed to decode log line %q: %v", buf.String(), err)
	}
	return record
}

func TestLoggerRedactsInlineImages(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf, Format: "json"})

	image := "data:image/png;base64," + strings.Repeat("QUJD", 64)
	logger.Info(context.Background(), "render completed", "image", image)

	record := decodeLine(t, &buf)
	got, _ := record["image"].(string)
	if strings.Contains(got, "QUJD") {
		t.Fatalf("expected image payload to be redacted, got %q", got)
	}
	if !strings.HasPrefix(got, "[image ") {
		t.Fatalf("expected image placeholder, got %q", got)
	}
}

func TestLoggerRedactsSecrets(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{name: "sensitive key", key: "api_key", value: "super-secret-value"},
		{name: "jwt in string", key: "header", value: "eyJhbGciOi.eyJzdWIiOi.c2lnbmF0dXJl"},
		{name: "error value", key: "error", value: errors.New("token: abcdefghijklmnopqrstuvwxyz")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Output: &buf, Format: "json"})
			logger.Warn(context.Background(), "check", tt.key, tt.value)

			record := decodeLine(t, &buf)
			got, _ := record[tt.key].(string)
			if !strings.Contains(got, "[REDACTED]") {
				t.Fatalf("expected %s to be redacted, got %q", tt.key, got)
			}
		})
	}
}

func TestLoggerAddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf, Format: "json"})

	ctx := AddSessionID(AddRequestID(context.Background(), "req-1"), "sess-1")
	ctx = AddJobID(ctx, "job-9")
	logger.Slog().InfoContext(ctx, "poll tick")

	record := decodeLine(t, &buf)
	for key, want := range map[string]string{"request_id": "req-1", "session_id": "sess-1", "job_id": "job-9"} {
		if record[key] != want {
			t.Fatalf("expected %s=%q, got %v", key, want, record[key])
		}
	}
}

func TestLoggerSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf, Format: "text", Level: "warn"})

	logger.Info(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn level")
	}

	logger.SetLevel("debug")
	logger.Debug(context.Background(), "visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("expected debug output after SetLevel, got %q", buf.String())
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := map[string]string{
		"debug":   "DEBUG",
		"WARNING": "WARN",
		"error":   "ERROR",
		"bogus":   "INFO",
	}
	for input, want := range tests {
		if got := LogLevelFromString(input).String(); got != want {
			t.Errorf("LogLevelFromString(%q) = %s, want %s", input, got, want)
		}
	}
}
