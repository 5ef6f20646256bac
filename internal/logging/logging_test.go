package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestTraditionalHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraditionalHandler(&buf, slog.LevelInfo)).With("run_id", "r1")

	logger.Debug("hidden")
	logger.Info("segmented", "labels", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered: %q", out)
	}
	if !strings.Contains(out, "[INFO] segmented [run_id=r1 labels=3]") {
		t.Fatalf("unexpected line: %q", out)
	}
}

func TestRunHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraditionalHandler(&buf, slog.LevelDebug))

	LogRunStart(logger, "r1", "NGC1", "r", 50, nil)
	LogStep(logger, "r1", "sky", "ok", map[string]any{"rms": 0.1})
	LogRunError(logger, "r1", "NGC1", time.Second, errors.New("no image"), nil)
	LogEngineStatus(logger, "statmorph", false, "not in PATH")

	out := buf.String()
	for _, want := range []string{"run started", "pipeline step", "[ERROR] run failed", "engine not available"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
