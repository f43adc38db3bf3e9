package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// LogFileName is the log file written inside the configured log directory.
const LogFileName = "iscm.log"

// iscmHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<opID>\t<message>\t<key=value ...>
//
// Checkouts log from many goroutines, so writes are serialized.
type iscmHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	opID  string
	level slog.Level
	attrs []slog.Attr
}

func newHandler(w io.Writer, opID string, level slog.Level) *iscmHandler {
	return &iscmHandler{mu: &sync.Mutex{}, w: w, opID: opID, level: level}
}

func (h *iscmHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *iscmHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")

	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := fmt.Fprintf(h.w, "%s\t%s\t%s\t%s", ts, r.Level.String(), h.opID, r.Message)
	if err != nil {
		return err
	}

	// Write pre-set attrs.
	for _, a := range h.attrs {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
	}

	// Write per-record attrs.
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
		return true
	})

	_, err = fmt.Fprintln(h.w)
	return err
}

func (h *iscmHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &iscmHandler{
		mu:    h.mu,
		w:     h.w,
		opID:  h.opID,
		level: h.level,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *iscmHandler) WithGroup(string) slog.Handler { return h }

// newLogger creates a structured logger that writes to both logDir/iscm.log
// and stderr. Debug records are only written when verbose is set.
// It returns the slog.Logger, the open log file (for cleanup), and any error.
func newLogger(logDir string, opID string, stderr io.Writer, verbose bool) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, LogFileName)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	handler := newHandler(io.MultiWriter(f, stderr), opID, level)
	return slog.New(handler), f, nil
}

// slogAdapter wraps *slog.Logger to satisfy the integrity.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
