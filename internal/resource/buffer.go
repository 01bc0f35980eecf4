package resource

import (
	"fmt"
	"sync"
)

// Buffer is an in-memory resource. Owned buffers drop their bytes on
// Release; borrowed buffers only detach from them.
type Buffer struct {
	mu      sync.Mutex
	data    []byte
	owned   bool
	enabled bool
	label   string
	patch   Patcher
}

// BufferOption configures a Buffer.
type BufferOption func(*Buffer)

// WithPatch runs p on the destination after every copy.
func WithPatch(p Patcher) BufferOption {
	return func(b *Buffer) {
		b.patch = p
	}
}

// WithLabel sets the Describe text.
func WithLabel(label string) BufferOption {
	return func(b *Buffer) {
		b.label = label
	}
}

// Owned wraps bytes the resource takes ownership of.
func Owned(data []byte, opts ...BufferOption) *Buffer {
	return newBuffer(data, true, opts)
}

// Borrowed wraps static bytes that must outlive the resource.
func Borrowed(data []byte, opts ...BufferOption) *Buffer {
	return newBuffer(data, false, opts)
}

func newBuffer(data []byte, owned bool, opts []BufferOption) *Buffer {
	b := &Buffer{data: data, owned: owned, enabled: true}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Kind implements Resource.
func (b *Buffer) Kind() Kind {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return KindDisabled
	}
	if b.owned {
		return KindOwned
	}
	return KindBorrowed
}

// Enabled implements Resource.
func (b *Buffer) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

// Size implements Resource.
func (b *Buffer) Size() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return 0, notReady()
	}
	return int64(len(b.data)), nil
}

// Load implements Resource.
func (b *Buffer) Load(dst []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return notReady()
	}
	if len(b.data) > len(dst) {
		return overflow(int64(len(b.data)), len(dst))
	}
	copy(dst, b.data)
	if b.patch != nil {
		return b.patch(dst[:len(b.data)])
	}
	return nil
}

// Bytes returns the stored content. Callers must not modify borrowed bytes.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Release implements Resource.
func (b *Buffer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return nil
	}
	b.enabled = false
	b.patch = nil
	b.data = nil
	return nil
}

// Describe implements Resource.
func (b *Buffer) Describe() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.label != "" {
		return b.label
	}
	kind := "borrowed"
	if b.owned {
		kind = "owned"
	}
	return fmt.Sprintf("%s buffer (%d bytes)", kind, len(b.data))
}
