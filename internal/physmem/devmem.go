package physmem

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/dysche/internal/errors"
)

// DevMem maps physical memory through a character device.
type DevMem struct {
	file     *os.File
	pageSize uint64
}

// OpenDevMem opens path (normally /dev/mem) for read/write synchronous access.
func OpenDevMem(path string) (*DevMem, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, errors.NewResourceError("open memory device", fmt.Errorf("%w: %w", errors.ErrIOFailure, err)).WithPath(path)
	}
	return &DevMem{file: f, pageSize: uint64(unix.Getpagesize())}, nil
}

// Map maps [addr, addr+length). The mapping starts on a page boundary and
// the returned window is trimmed to the requested range.
func (d *DevMem) Map(addr, length uint64) (*Window, error) {
	if length == 0 {
		return nil, errors.Kindf(errors.ErrInvalidArgument, "zero-length window at %#x", addr)
	}
	base := addr &^ (d.pageSize - 1)
	delta := addr - base
	span := delta + length

	mem, err := unix.Mmap(int(d.file.Fd()), int64(base), int(span), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.NewLayoutError("map physical window", fmt.Errorf("%w: %w", errors.ErrIOFailure, err)).
			WithBounds(addr, length, 0)
	}
	return newWindow(addr, mem[delta:span:span], func() error {
		return unix.Munmap(mem)
	}), nil
}

// Close closes the device.
func (d *DevMem) Close() error {
	return d.file.Close()
}
