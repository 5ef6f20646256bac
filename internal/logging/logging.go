package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"astromorph/internal/config"
)

// New returns a slog.Logger with the provided level string (info, debug, warn, error).
// format may be "json" or "text".
func New(level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// Setup configures global logging with optional dated file output.
func Setup(cfg *config.Config) (*slog.Logger, error) {
	level := parseLevel(cfg.Logging.Level)

	writers := []io.Writer{os.Stdout}

	if cfg.Logging.FileOutput {
		if err := os.MkdirAll(cfg.Logging.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		logFile := filepath.Join(cfg.Logging.LogDir, fmt.Sprintf("astromorph-%s.log",
			time.Now().Format("2006-01-02")))

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)

		current := filepath.Join(cfg.Logging.LogDir, "astromorph-current.log")
		os.Remove(current)
		// best effort; some filesystems refuse symlinks
		_ = os.Symlink(filepath.Base(logFile), current)
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Logging.Format) == "json" {
		handler = slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: level})
	} else {
		handler = NewTraditionalHandler(io.MultiWriter(writers...), level)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("astromorph logging initialized",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"file_output", cfg.Logging.FileOutput,
		"log_dir", cfg.Logging.LogDir,
	)
	return logger, nil
}

// TraditionalHandler implements slog.Handler with "[LEVEL] message [k=v ...]" lines.
type TraditionalHandler struct {
	logger *log.Logger
	level  slog.Level
	attrs  []slog.Attr
}

// NewTraditionalHandler writes to w with standard log flags.
func NewTraditionalHandler(w io.Writer, level slog.Level) *TraditionalHandler {
	return &TraditionalHandler{logger: log.New(w, "", log.LstdFlags), level: level}
}

func (h *TraditionalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *TraditionalHandler) Handle(ctx context.Context, r slog.Record) error {
	msg := r.Message
	attrs := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		return true
	})
	if len(attrs) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(attrs, " "))
	}
	h.logger.Printf("[%s] %s", strings.ToUpper(r.Level.String()), msg)
	return nil
}

func (h *TraditionalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *TraditionalHandler) WithGroup(name string) slog.Handler {
	return h
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogRunStart logs the beginning of a morphology run.
func LogRunStart(logger *slog.Logger, runID, object, band string, sizeKpc float64, options map[string]any) {
	logger.Info("run started",
		"id", runID,
		"object", object,
		"band", band,
		"size_kpc", sizeKpc,
		"options", options,
	)
}

// LogRunComplete logs a run that reached the result table.
func LogRunComplete(logger *slog.Logger, runID, object string, duration time.Duration, flags map[string]any) {
	logger.Info("run completed",
		"id", runID,
		"object", object,
		"duration_ms", duration.Milliseconds(),
		"duration_human", duration.String(),
		"flags", flags,
	)
}

// LogRunError logs a run that stopped on a failure.
func LogRunError(logger *slog.Logger, runID, object string, duration time.Duration, err error, context map[string]any) {
	logger.Error("run failed",
		"id", runID,
		"object", object,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
		"context", context,
	)
}

// LogEngineStatus logs morphology engine detection.
func LogEngineStatus(logger *slog.Logger, engine string, available bool, detail string) {
	if available {
		logger.Debug("engine detected", "engine", engine, "detail", detail)
	} else {
		logger.Debug("engine not available", "engine", engine, "detail", detail)
	}
}

// LogStep logs individual pipeline steps within a run.
func LogStep(logger *slog.Logger, runID, step, status string, details map[string]any) {
	logger.Info("pipeline step",
		"run_id", runID,
		"step", step,
		"status", status,
		"details", details,
	)
}
