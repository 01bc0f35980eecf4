// Package resource models loadable partition content: kernel images, root
// filesystems, device trees and the loader stub.
//
// A Resource is one of a closed set of variants:
//   - File: content read from a path on an afero filesystem
//   - Owned: bytes the resource owns and drops on Release
//   - Borrowed: process-wide static bytes that are never freed
//   - Disabled: an absent optional resource
//
// Every variant reports its size, copies itself into a caller-supplied
// destination and releases its backing storage. Release is idempotent and
// leaves the resource disabled.
package resource

import (
	"fmt"

	"github.com/Iron-Ham/dysche/internal/errors"
)

// Kind tags the active backing of a resource.
type Kind int

const (
	KindDisabled Kind = iota
	KindFile
	KindOwned
	KindBorrowed
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindDisabled:
		return "disabled"
	case KindFile:
		return "file"
	case KindOwned:
		return "owned"
	case KindBorrowed:
		return "borrowed"
	default:
		return "unknown"
	}
}

// Slot names the four resource positions of an instance.
type Slot int

const (
	SlotLoader Slot = iota
	SlotKernel
	SlotFDT
	SlotRootfs
)

// NumSlots is the number of resource positions of an instance.
const NumSlots = 4

// Slots lists every slot in declaration order.
var Slots = []Slot{SlotLoader, SlotKernel, SlotFDT, SlotRootfs}

// String returns the slot name.
func (s Slot) String() string {
	switch s {
	case SlotLoader:
		return "loader"
	case SlotKernel:
		return "kernel"
	case SlotFDT:
		return "fdt"
	case SlotRootfs:
		return "rootfs"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

// Resource is loadable content.
type Resource interface {
	Kind() Kind
	Enabled() bool
	// Size reports the content length in bytes.
	Size() (int64, error)
	// Load copies the content into dst. It fails with errors.ErrOverflow,
	// writing nothing, when the content is longer than dst.
	Load(dst []byte) error
	// Release drops owned backing storage and disables the resource.
	Release() error
	// Describe returns a short human-readable origin.
	Describe() string
}

// Patcher rewrites content after it has been copied into its destination.
type Patcher func(dst []byte) error

type disabled struct{}

// Disabled returns a resource that rejects every operation with
// errors.ErrNotReady. Release is a no-op.
func Disabled() Resource { return disabled{} }

func (disabled) Kind() Kind { return KindDisabled }
func (disabled) Enabled() bool { return false }
func (disabled) Size() (int64, error) { return 0, notReady() }
func (disabled) Load(dst []byte) error { return notReady() }
func (disabled) Release() error { return nil }
func (disabled) Describe() string { return "-" }

func notReady() error {
	return errors.Kindf(errors.ErrNotReady, "resource disabled")
}

// IsEnabled reports whether r is non-nil and enabled.
func IsEnabled(r Resource) bool {
	return r != nil && r.Enabled()
}

func overflow(size int64, capacity int) error {
	return errors.NewLayoutError("resource larger than destination", errors.ErrOverflow).
		WithBounds(0, uint64(size), uint64(capacity))
}
