// Package physmem maps physical address ranges into the process.
//
// Every mapping is a Window. Callers own the window and must Close it on
// every exit path:
//
//	w, err := mapper.Map(addr, length)
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//	copy(w.Bytes(), data)
//
// DevMem maps through a memory device such as /dev/mem. Sim backs registered
// ranges with anonymous or file-backed memory for hosts without one.
package physmem

import (
	"sync"
)

// Mapper maps physical ranges.
type Mapper interface {
	// Map returns a window over [addr, addr+length).
	Map(addr, length uint64) (*Window, error)
	// Close releases the mapper itself. Open windows stay valid until closed.
	Close() error
}

// Window is a scoped view of physical memory. Close is idempotent.
type Window struct {
	addr uint64
	buf  []byte

	once    sync.Once
	release func() error
	err     error
}

func newWindow(addr uint64, buf []byte, release func() error) *Window {
	return &Window{addr: addr, buf: buf, release: release}
}

// Addr returns the physical address of the first byte.
func (w *Window) Addr() uint64 { return w.addr }

// Len returns the window length in bytes.
func (w *Window) Len() int { return len(w.buf) }

// Bytes returns the mapped memory. The slice is invalid after Close.
func (w *Window) Bytes() []byte { return w.buf }

// Close unmaps the window.
func (w *Window) Close() error {
	w.once.Do(func() {
		w.buf = nil
		if w.release != nil {
			w.err = w.release()
		}
	})
	return w.err
}
