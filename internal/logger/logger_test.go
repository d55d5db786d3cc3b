package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewWritesJSONWithService(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "csgo-quant", slog.LevelInfo)
	l.Debug("hidden")
	l.Info("hello", "items", 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["service"] != "csgo-quant" || rec["msg"] != "hello" {
		t.Errorf("unexpected record %v", rec)
	}
	if rec["items"].(float64) != 3 {
		t.Errorf("items = %v", rec["items"])
	}
}

func TestCycleIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if id := CycleID(ctx); id != "" {
		t.Errorf("expected empty cycle id, got %q", id)
	}
	ctx = WithCycleID(ctx, "c-1")
	if id := CycleID(ctx); id != "c-1" {
		t.Errorf("expected c-1, got %q", id)
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, "svc", slog.LevelInfo)

	FromContext(WithCycleID(context.Background(), "c-42"), base).Info("tick")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["cycle_id"] != "c-42" {
		t.Errorf("cycle_id = %v", rec["cycle_id"])
	}

	if FromContext(context.Background(), base) != base {
		t.Error("logger without cycle id should be returned as is")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError,
		"": slog.LevelInfo, "verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
