package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("failed to parse log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLoggerRespectsLevel(t *testing.T) {
	tests := []struct {
		level     slog.Level
		log       func(*slog.Logger)
		shouldLog bool
	}{
		{level: slog.LevelDebug, log: func(l *slog.Logger) { l.Debug("m") }, shouldLog: true},
		{level: slog.LevelInfo, log: func(l *slog.Logger) { l.Debug("m") }, shouldLog: false},
		{level: slog.LevelInfo, log: func(l *slog.Logger) { l.Info("m") }, shouldLog: true},
		{level: slog.LevelWarn, log: func(l *slog.Logger) { l.Info("m") }, shouldLog: false},
		{level: slog.LevelError, log: func(l *slog.Logger) { l.Warn("m") }, shouldLog: false},
		{level: slog.LevelError, log: func(l *slog.Logger) { l.Error("m") }, shouldLog: true},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		tt.log(NewLoggerTo(&buf, tt.level))
		if got := buf.Len() > 0; got != tt.shouldLog {
			t.Errorf("level %s: logged=%v, want %v", tt.level, got, tt.shouldLog)
		}
	}
}

func TestLoggerAddsTraceIDs(t *testing.T) {
	setupTracerProvider(t)

	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, slog.LevelInfo)

	ctx, span := StartSpan(context.Background(), "charge")
	logger.InfoContext(ctx, "charging order", "order_id", "O1")
	span.End()
	logger.InfoContext(context.Background(), "no span")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0]["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("expected trace_id, got %v", entries[0]["trace_id"])
	}
	if entries[0]["span_id"] == nil || entries[0]["order_id"] != "O1" {
		t.Errorf("unexpected entry %v", entries[0])
	}
	if _, ok := entries[1]["trace_id"]; ok {
		t.Errorf("expected no trace_id without a span, got %v", entries[1])
	}
}

func TestLoggerRedactsCardData(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, slog.LevelInfo).
		With("api_key", "secret-key").
		WithGroup("card")

	logger.Info("authorizing",
		"card_number", "4111111111111111",
		"CVV", "123",
		"last4", "1111",
	)

	out := buf.String()
	for _, leaked := range []string{"secret-key", "4111111111111111", `"123"`} {
		if strings.Contains(out, leaked) {
			t.Errorf("log output leaked %s: %s", leaked, out)
		}
	}

	entry := decodeLines(t, &buf)[0]
	if entry["api_key"] != redacted {
		t.Errorf("expected api_key redacted, got %v", entry["api_key"])
	}
	card, ok := entry["card"].(map[string]any)
	if !ok {
		t.Fatalf("expected card group, got %v", entry)
	}
	if card["last4"] != "1111" {
		t.Errorf("expected last4 kept, got %v", card["last4"])
	}
	if card["card_number"] != redacted {
		t.Errorf("expected card_number redacted, got %v", card["card_number"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
