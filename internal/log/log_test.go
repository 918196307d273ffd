package log

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)
	original := Logger()
	ReplaceLogger(slog.New(newHandler(buf)))
	t.Cleanup(func() {
		ReplaceLogger(original)
	})
	return buf
}

func TestInfoProducesLogfmtWithTimestamp(t *testing.T) {
	buf := captureLogs(t)

	Info(context.Background(), "hello", "user", "test")

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatalf("expected log output, got empty string")
	}
	for _, want := range []string{"ts=", "level=info", "msg=hello", "user=test"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in log line, got %q", want, line)
		}
	}
}

func TestWithAttrsAddsScopedFields(t *testing.T) {
	buf := captureLogs(t)

	ctx := WithAttrs(context.Background(), "tenant", 7)
	ctx = WithAttrs(ctx, "request", "abc")
	Error(ctx, "propagation failed", "formulation", 3)

	line := strings.TrimSpace(buf.String())
	for _, want := range []string{"level=error", "tenant=7", "request=abc", "formulation=3"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in log line, got %q", want, line)
		}
	}
}

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { _ = SetLevel("info") })

	for _, level := range []string{"debug", "INFO", "warn", "error", ""} {
		if err := SetLevel(level); err != nil {
			t.Fatalf("SetLevel(%q) error = %v", level, err)
		}
	}
	if err := SetLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestDebugSuppressedAtInfoLevel(t *testing.T) {
	buf := captureLogs(t)
	if err := SetLevel("info"); err != nil {
		t.Fatalf("SetLevel error = %v", err)
	}

	Debug(context.Background(), "hidden")

	if buf.Len() != 0 {
		t.Fatalf("expected no output for debug at info level, got %q", buf.String())
	}
}
