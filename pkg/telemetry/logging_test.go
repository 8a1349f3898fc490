package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestConfigureSlogJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "info", "json")
	logger.InfoContext(context.Background(), "engine.run.start", slog.String("run_id", "r-1"))
	out := buf.String()
	if !strings.Contains(out, `"run_id":"r-1"`) {
		t.Fatalf("missing structured field: %s", out)
	}
	if !strings.Contains(out, "engine.run.start") {
		t.Fatalf("missing message: %s", out)
	}
}

func TestConfigureSlogLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "warn", "text")
	logger.Info("dropped")
	logger.Warn("kept")
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info should be filtered: %s", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("warn should pass: %s", out)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
