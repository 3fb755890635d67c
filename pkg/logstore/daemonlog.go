package logstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DailyRotatingWriter is an io.Writer that reopens its underlying file at
// UTC midnight, appending a `.YYYY-MM-DD` suffix to the configured base
// path — the daemon's own log file (spec.md §9: `daemon.log.YYYY-MM-DD`).
// lumberjack (pkg/log.DaemonWriter, a size-based rotator) has no native
// notion of date-suffixed daily files, so this wrapper supplies the
// date-rollover half of the "daily rotation" requirement.
type DailyRotatingWriter struct {
	mu      sync.Mutex
	base    string
	file    *os.File
	current string
}

// NewDailyRotatingWriter opens today's file at base+"."+date, creating the
// parent directory if needed.
func NewDailyRotatingWriter(base string) (*DailyRotatingWriter, error) {
	w := &DailyRotatingWriter{base: base}
	if err := w.rotate(time.Now().UTC()); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *DailyRotatingWriter) rotate(now time.Time) error {
	date := now.Format("2006-01-02")
	if date == w.current && w.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(w.base), 0o755); err != nil {
		return fmt.Errorf("logstore: create daemon log dir: %w", err)
	}

	path := w.base + "." + date
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logstore: open %s: %w", path, err)
	}

	old := w.file
	w.file = f
	w.current = date
	if old != nil {
		old.Close()
	}
	return nil
}

// Write implements io.Writer, rotating to a new day's file first if UTC
// midnight has passed since the last write.
func (w *DailyRotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotate(time.Now().UTC()); err != nil {
		return 0, err
	}
	return w.file.Write(p)
}

// Close closes the currently open file.
func (w *DailyRotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}
