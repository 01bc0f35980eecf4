package resource

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/dysche/internal/errors"
)

// File is a resource read from a path.
type File struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
}

// NewFile returns a file-backed resource for path on fs.
func NewFile(fs afero.Fs, path string) *File {
	return &File{fs: fs, path: path}
}

// Path returns the backing path, or "" once released.
func (f *File) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

// Kind implements Resource.
func (f *File) Kind() Kind {
	if !f.Enabled() {
		return KindDisabled
	}
	return KindFile
}

// Enabled implements Resource.
func (f *File) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path != ""
}

// Size implements Resource.
func (f *File) Size() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.path == "" {
		return 0, notReady()
	}
	info, err := f.fs.Stat(f.path)
	if err != nil {
		return 0, f.ioError("stat", err)
	}
	return info.Size(), nil
}

// Load implements Resource.
func (f *File) Load(dst []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.path == "" {
		return notReady()
	}

	fh, err := f.fs.Open(f.path)
	if err != nil {
		return f.ioError("open", err)
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return f.ioError("stat", err)
	}
	size := info.Size()
	if size > int64(len(dst)) {
		return overflow(size, len(dst))
	}
	if _, err := io.ReadFull(fh, dst[:size]); err != nil {
		return f.ioError("read", err)
	}
	return nil
}

// Release implements Resource.
func (f *File) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.path = ""
	return nil
}

// Describe implements Resource.
func (f *File) Describe() string {
	if p := f.Path(); p != "" {
		return p
	}
	return "-"
}

func (f *File) ioError(op string, err error) error {
	return errors.NewResourceError(op+" resource", fmt.Errorf("%w: %w", errors.ErrIOFailure, err)).WithPath(f.path)
}
