package physmem

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/dysche/internal/errors"
)

// Sim is a Mapper over registered physical ranges. Each range is backed by
// its own mapping, created on first use, so windows into the same range alias
// the same bytes. With a backing directory the contents persist across
// processes in sparse files.
type Sim struct {
	mu     sync.Mutex
	dir    string
	ranges []*simRange
	open   int
	closed bool
}

type simRange struct {
	addr uint64
	size uint64
	mem  []byte
	file *os.File
}

// SimOption configures a Sim.
type SimOption func(*Sim)

// WithBackingDir stores range contents under dir so separate processes see
// the same memory.
func WithBackingDir(dir string) SimOption {
	return func(s *Sim) {
		s.dir = dir
	}
}

// NewSim creates an empty simulator.
func NewSim(opts ...SimOption) *Sim {
	s := &Sim{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds [addr, addr+size). Ranges may not overlap.
func (s *Sim) Register(addr, size uint64) error {
	if size == 0 {
		return errors.Kindf(errors.ErrInvalidArgument, "empty simulated range at %#x", addr)
	}
	if addr+size < addr {
		return errors.Kindf(errors.ErrInvalidArgument, "simulated range at %#x wraps", addr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.ranges {
		if addr < r.addr+r.size && r.addr < addr+size {
			return errors.Kindf(errors.ErrInvalidArgument, "simulated range %#x@%#x overlaps %#x@%#x", size, addr, r.size, r.addr)
		}
	}
	s.ranges = append(s.ranges, &simRange{addr: addr, size: size})
	sort.Slice(s.ranges, func(i, j int) bool { return s.ranges[i].addr < s.ranges[j].addr })
	return nil
}

// Map returns a window aliasing the registered range that contains the
// whole request.
func (s *Sim) Map(addr, length uint64) (*Window, error) {
	if length == 0 {
		return nil, errors.Kindf(errors.ErrInvalidArgument, "zero-length window at %#x", addr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.Kindf(errors.ErrIOFailure, "simulator closed")
	}

	r := s.find(addr, length)
	if r == nil {
		return nil, errors.NewLayoutError("map physical window", errors.Kindf(errors.ErrIOFailure, "no simulated memory at %#x", addr)).
			WithBounds(addr, length, 0)
	}
	if err := s.materialize(r); err != nil {
		return nil, err
	}

	off := addr - r.addr
	end := off + length
	s.open++
	return newWindow(addr, r.mem[off:end:end], func() error {
		s.mu.Lock()
		s.open--
		s.mu.Unlock()
		return nil
	}), nil
}

func (s *Sim) find(addr, length uint64) *simRange {
	end := addr + length
	if end < addr {
		return nil
	}
	for _, r := range s.ranges {
		if addr >= r.addr && end <= r.addr+r.size {
			return r
		}
	}
	return nil
}

// materialize creates the backing mapping. The caller must hold the mutex.
func (s *Sim) materialize(r *simRange) error {
	if r.mem != nil {
		return nil
	}

	fd := -1
	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS | unix.MAP_NORESERVE
	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return errors.NewResourceError("create simulator directory", fmt.Errorf("%w: %w", errors.ErrIOFailure, err)).WithPath(s.dir)
		}
		path := filepath.Join(s.dir, fmt.Sprintf("mem-%x.img", r.addr))
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
		if err != nil {
			return errors.NewResourceError("open simulator backing", fmt.Errorf("%w: %w", errors.ErrIOFailure, err)).WithPath(path)
		}
		if err := f.Truncate(int64(r.size)); err != nil {
			_ = f.Close()
			return errors.NewResourceError("size simulator backing", fmt.Errorf("%w: %w", errors.ErrIOFailure, err)).WithPath(path)
		}
		r.file = f
		fd = int(f.Fd())
		flags = unix.MAP_SHARED
	}

	mem, err := unix.Mmap(fd, 0, int(r.size), unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil {
		if r.file != nil {
			_ = r.file.Close()
			r.file = nil
		}
		return errors.NewLayoutError("back simulated range", fmt.Errorf("%w: %w", errors.ErrIOFailure, err)).
			WithBounds(r.addr, r.size, r.size)
	}
	r.mem = mem
	return nil
}

// OpenWindows reports how many windows are currently mapped.
func (s *Sim) OpenWindows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Peek copies length bytes at addr without counting as an open window.
func (s *Sim) Peek(addr, length uint64) ([]byte, error) {
	w, err := s.Map(addr, length)
	if err != nil {
		return nil, err
	}
	defer w.Close()
	out := make([]byte, length)
	copy(out, w.Bytes())
	return out, nil
}

// Close unmaps every backing range. Windows must not be used afterwards.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for _, r := range s.ranges {
		if r.mem != nil {
			if err := unix.Munmap(r.mem); err != nil {
				errs = append(errs, err)
			}
			r.mem = nil
		}
		if r.file != nil {
			if err := r.file.Close(); err != nil {
				errs = append(errs, err)
			}
			r.file = nil
		}
	}
	return errors.Join(errs...)
}
