package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestInitWriter_JSONWithService(t *testing.T) {
	var buf bytes.Buffer
	l := InitWriter(&buf, "gameserver", slog.LevelInfo)
	l.Debug("hidden")
	l.Info("hello", slog.Int("n", 3))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (debug filtered), got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["service"] != "gameserver" || rec["msg"] != "hello" || rec["n"] != float64(3) {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if tid := TraceID(ctx); tid != "" {
		t.Errorf("expected empty trace id, got %q", tid)
	}
	ctx = WithTraceID(ctx, "test-trace-123")
	if tid := TraceID(ctx); tid != "test-trace-123" {
		t.Errorf("expected 'test-trace-123', got %q", tid)
	}
}

func TestGenerateTraceID(t *testing.T) {
	a, b := GenerateTraceID("order"), GenerateTraceID("order")
	if !strings.HasPrefix(a, "order-") {
		t.Errorf("expected prefix 'order-', got %s", a)
	}
	if a == b {
		t.Error("trace ids should be unique")
	}
	if got := GenerateTraceID(""); strings.HasPrefix(got, "-") || len(got) != 36 {
		t.Errorf("unprefixed id should be a bare uuid, got %q", got)
	}
}

func TestLogWithTrace(t *testing.T) {
	if attrs := LogWithTrace(context.Background()); attrs != nil {
		t.Errorf("expected nil attrs without trace id, got %v", attrs)
	}
	attrs := LogWithTrace(WithTraceID(context.Background(), "t-1"))
	if len(attrs) != 1 {
		t.Fatalf("expected 1 attr, got %d", len(attrs))
	}
	if a, ok := attrs[0].(slog.Attr); !ok || a.Value.String() != "t-1" {
		t.Errorf("unexpected attr %v", attrs[0])
	}
}
