package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const logFilePrefix = "print-my-bridge"

// NewLogger builds the process logger. It always writes to stderr and, when
// dir is set, also appends to a daily file dir/print-my-bridge.YYYY-MM-DD.log.
// The returned closer releases the file and is never nil.
func NewLogger(cfg LogOptions) (*slog.Logger, io.Closer, error) {
	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if cfg.Dir != "" {
		f, err := newDailyFile(cfg.Dir, time.Now)
		if err != nil {
			return nil, nil, err
		}
		w = io.MultiWriter(f, os.Stderr)
		closer = f
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With("service", "print-my-bridge"), closer, nil
}

// LogOptions mirrors model.LogConfig after command line overrides.
type LogOptions struct {
	Level  string
	Format string
	Dir    string
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// dailyFile is an append-only log file that switches to a new file when the
// local date changes. Old files are kept.
type dailyFile struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
	day string
	f   *os.File
}

func newDailyFile(dir string, now func() time.Time) (*dailyFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	d := &dailyFile{dir: dir, now: now}
	if err := d.openFor(now().Format(time.DateOnly)); err != nil {
		return nil, err
	}
	return d, nil
}

func dailyLogName(day string) string {
	return logFilePrefix + "." + day + ".log"
}

func (d *dailyFile) openFor(day string) error {
	f, err := os.OpenFile(filepath.Join(d.dir, dailyLogName(day)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	if d.f != nil {
		_ = d.f.Close()
	}
	d.f, d.day = f, day
	return nil
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return 0, os.ErrClosed
	}
	if day := d.now().Format(time.DateOnly); day != d.day {
		if err := d.openFor(day); err != nil {
			return 0, err
		}
	}
	return d.f.Write(p)
}

func (d *dailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
