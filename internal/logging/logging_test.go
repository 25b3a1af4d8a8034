package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := ContextWithLogger(context.Background(), logger)

	if got := FromContext(ctx); got != logger {
		t.Fatalf("expected logger from context, got %v", got)
	}
	if got := FromContext(context.Background()); got != nil {
		t.Fatalf("expected nil logger for bare context, got %v", got)
	}
	if got := ContextWithLogger(ctx, nil); got != ctx {
		t.Fatalf("expected context to be returned unchanged for nil logger")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q): expected %v, got %v", input, want, got)
		}
	}
}

func TestNewJSONLogger_FiltersBelowLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, "warn")
	logger.Info("dropped")
	logger.Warn("kept", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single JSON entry, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "kept" || entry["key"] != "value" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
}
