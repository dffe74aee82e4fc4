package crystal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Logger is the structured logging surface the rest of the project depends
// on, kept as an interface (rather than *slog.Logger directly) so tests can
// swap in NopLogger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger discards everything. Use in tests.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}

// crystalHandler is a custom slog.Handler formatting records as:
//
//	<timestamp>\t<level>\t<project>\t<message>\t<key=value ...>
type crystalHandler struct {
	w       io.Writer
	project string
	attrs   []slog.Attr
}

func (h *crystalHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *crystalHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")
	if _, err := fmt.Fprintf(h.w, "%s\t%s\t%s\t%s", ts, r.Level.String(), h.project, r.Message); err != nil {
		return err
	}
	for _, a := range h.attrs {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
		return true
	})
	_, err := fmt.Fprintln(h.w)
	return err
}

func (h *crystalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &crystalHandler{
		w:       h.w,
		project: h.project,
		attrs:   append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *crystalHandler) WithGroup(string) slog.Handler { return h }

// newLogger creates a structured logger writing to both logDir/crystal.log
// and stderr, returning the open log file for Project.Close to flush.
func newLogger(logDir, project string) (Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "crystal.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	w := io.MultiWriter(f, os.Stderr)
	handler := &crystalHandler{w: w, project: project}
	return &slogAdapter{l: slog.New(handler)}, f, nil
}

// slogAdapter adapts *slog.Logger to the Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
