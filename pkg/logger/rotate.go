package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Rotation defaults applied when the config leaves a knob unset.
const (
	defaultMaxSizeMB  = 100
	defaultBackups    = 7
	defaultMaxAgeDays = 30
)

// auditRotator appends to a single file and rotates it by size. Backups are
// numbered path.1 (newest) .. path.N and pruned by count and age.
type auditRotator struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	maxBytes  int64
	backups   int
	retention time.Duration
	written   int64
}

func newAuditRotator(path string, maxSizeMB, backups, maxAgeDays int) (*auditRotator, error) {
	if path == "" {
		return nil, errors.New("audit log path is required")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxSizeMB
	}
	if backups <= 0 {
		backups = defaultBackups
	}
	if maxAgeDays <= 0 {
		maxAgeDays = defaultMaxAgeDays
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &auditRotator{
		path:      path,
		maxBytes:  int64(maxSizeMB) * 1024 * 1024,
		backups:   backups,
		retention: time.Duration(maxAgeDays) * 24 * time.Hour,
	}, nil
}

func (w *auditRotator) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.open(); err != nil {
		return 0, err
	}
	if w.maxBytes > 0 && w.written+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *auditRotator) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.written = 0
	return err
}

func (w *auditRotator) open() error {
	if w.file != nil {
		return nil
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	w.file = file
	w.written = info.Size()
	return nil
}

// rotate shifts every backup one slot up, moves the live file into slot 1 and
// drops whatever falls off the end.
func (w *auditRotator) rotate() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	w.written = 0

	if w.backups <= 0 {
		_ = os.Remove(w.path)
		return nil
	}
	for i := w.backups - 1; i >= 1; i-- {
		src := w.backupPath(i)
		if _, err := os.Stat(src); err == nil {
			_ = os.Rename(src, w.backupPath(i+1))
		}
	}
	if _, err := os.Stat(w.path); err == nil {
		_ = os.Rename(w.path, w.backupPath(1))
	}
	w.pruneByAge()
	return nil
}

func (w *auditRotator) pruneByAge() {
	if w.retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-w.retention)
	for i := 1; i <= w.backups; i++ {
		path := w.backupPath(i)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(path)
		}
	}
}

func (w *auditRotator) backupPath(i int) string {
	return fmt.Sprintf("%s.%d", w.path, i)
}
