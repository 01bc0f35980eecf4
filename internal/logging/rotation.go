package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig controls size-based rotation of dysche.log.
type RotationConfig struct {
	// MaxSizeMB is the size at which the log is rotated. 0 disables rotation.
	MaxSizeMB int
	// MaxBackups is how many rotated files to keep.
	MaxBackups int
	// Compress gzips rotated files.
	Compress bool
}

// DefaultRotationConfig returns the rotation settings used when none are configured.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSizeMB: 10, MaxBackups: 3}
}

// RotatingWriter is an append-only file writer that rotates by size.
// It is safe for concurrent use.
type RotatingWriter struct {
	mu sync.Mutex

	path       string
	limit      int64
	maxBackups int
	compress   bool

	file *os.File
	size int64
}

// NewRotatingWriter opens (or creates) path for appending.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		path:       path,
		limit:      int64(cfg.MaxSizeMB) << 20,
		maxBackups: cfg.MaxBackups,
		compress:   cfg.Compress,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(rw.path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	rw.file = f
	rw.size = info.Size()
	return nil
}

// Write appends p, rotating first if p would push the file past the limit.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, os.ErrClosed
	}
	if rw.limit > 0 && rw.size > 0 && rw.size+int64(len(p)) > rw.limit {
		if err := rw.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

// Rotate forces a rotation.
func (rw *RotatingWriter) Rotate() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return os.ErrClosed
	}
	return rw.rotate()
}

// rotate shifts path.N to path.N+1, moves the live file to path.1 and
// reopens. The caller must hold the mutex.
func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	rw.file = nil

	if rw.maxBackups <= 0 {
		if err := os.Remove(rw.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove log file: %w", err)
		}
		return rw.open()
	}

	// Drop the oldest backup, then shift the rest up by one.
	_ = os.Remove(rw.backupName(rw.maxBackups))
	for i := rw.maxBackups - 1; i >= 1; i-- {
		src := rw.backupName(i)
		if _, err := os.Stat(src); err == nil {
			_ = os.Rename(src, rw.backupName(i+1))
		}
	}

	first := rw.path + ".1"
	if err := os.Rename(rw.path, first); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	if rw.compress {
		if err := gzipFile(first, first+".gz"); err != nil {
			return err
		}
	}
	return rw.open()
}

func (rw *RotatingWriter) backupName(n int) string {
	name := fmt.Sprintf("%s.%d", rw.path, n)
	if rw.compress {
		name += ".gz"
	}
	return name
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open rotated log: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create compressed log: %w", err)
	}
	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		_ = zw.Close()
		_ = out.Close()
		return fmt.Errorf("failed to compress log: %w", err)
	}
	if err := zw.Close(); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to compress log: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// Close closes the underlying file. Further writes fail with os.ErrClosed.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.file == nil {
		return nil
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}
