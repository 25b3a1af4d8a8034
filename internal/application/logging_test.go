package application

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/example/availability-engine/internal/logging"
)

func TestDefaultLogger(t *testing.T) {
	t.Parallel()

	custom := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := defaultLogger(custom); got != custom {
		t.Fatalf("expected custom logger to be returned")
	}

	if got := defaultLogger(nil); got != slog.Default() {
		t.Fatalf("expected default logger when none provided")
	}
}

func TestServiceLogger_PrefersContextLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctxLogger := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := logging.ContextWithLogger(context.Background(), ctxLogger)

	base := slog.New(slog.NewJSONHandler(io.Discard, nil))
	serviceLogger(ctx, base, "Ledger", "Start", "user_id", "u-1").Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log entry: %v", err)
	}
	if entry["service"] != "Ledger" || entry["operation"] != "Start" || entry["user_id"] != "u-1" {
		t.Fatalf("expected service attributes, got %v", entry)
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&ValidationError{FieldErrors: map[string]string{"a": "b"}}, "validation_error"},
		{newError(KindTimeout, true, nil), "timeout"},
		{fmt.Errorf("lookup: %w", ErrNotFound), "not_found"},
		{fmt.Errorf("%w: pending", ErrInvalidTransition), "invalid_transition"},
		{context.Canceled, "canceled"},
		{errors.New("boom"), "unexpected"},
	}

	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Fatalf("expected %q for %v, got %q", tt.want, tt.err, got)
		}
	}
}
