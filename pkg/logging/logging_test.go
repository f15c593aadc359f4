package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_Component(t *testing.T) {
	var buf bytes.Buffer
	Init(slog.LevelDebug, "text", &buf)

	New("matcher").Debug("slide skipped", "slide", 3)

	out := buf.String()
	if !strings.Contains(out, "component=matcher") || !strings.Contains(out, "slide=3") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestInit_JSON(t *testing.T) {
	var buf bytes.Buffer
	Init(slog.LevelInfo, "json", &buf)

	New("store").Info("run saved")

	out := buf.String()
	if !strings.Contains(out, `"component":"store"`) || !strings.Contains(out, `"level":"INFO"`) {
		t.Errorf("unexpected JSON output: %s", out)
	}
}

func TestSetup_LevelGating(t *testing.T) {
	var buf bytes.Buffer
	if err := Setup("warn", "text", &buf); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	logger := New("gate")
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be suppressed at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn message missing")
	}
}

func TestSetup_Errors(t *testing.T) {
	if err := Setup("loud", "text"); err == nil {
		t.Error("expected error for unknown level")
	}
	if err := Setup("info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}
