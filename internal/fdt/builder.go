package fdt

import (
	"encoding/binary"

	"github.com/Iron-Ham/dysche/internal/errors"
	"github.com/Iron-Ham/dysche/internal/layout"
)

// MaxSize caps generated and patched blobs.
const MaxSize = 2 << 20

// Cell widths of generated trees.
const (
	DefaultAddressCells = 2
	DefaultSizeCells    = 2
)

// UEFI locates the host's EFI memory map for the guest.
type UEFI struct {
	SystemTable uint64
	MmapStart   uint64
	MmapSize    uint64
	DescSize    uint32
	DescVer     uint32
}

// Params describes the partition a tree is built for.
type Params struct {
	Cmdline string
	// Ranges holds every declared range; the first is the primary.
	Ranges []layout.Range
	// RootfsSize is the initrd length, or 0 without a root filesystem.
	RootfsSize uint64
	// UEFI is nil when the host has no EFI memory map.
	UEFI *UEFI
	// RequireUEFI turns a missing UEFI map into errors.ErrNotFound.
	RequireUEFI bool
}

func (p Params) primary() layout.Range {
	if len(p.Ranges) == 0 {
		return layout.Range{}
	}
	return p.Ranges[0]
}

func (p Params) check() error {
	if len(p.Ranges) == 0 || p.Ranges[0].Empty() {
		return errors.Kindf(errors.ErrInvalidArgument, "no primary memory range")
	}
	if len(p.Ranges) > layout.MaxRanges {
		return errors.NewLayoutError("too many memory ranges", errors.ErrOverflow).
			WithBounds(0, uint64(len(p.Ranges)), layout.MaxRanges)
	}
	return nil
}

// Generate builds a minimal tree: cell widths, /chosen with bootargs, the
// UEFI memory map when known, initrd bounds and linux,usable-memory-range
// covering the primary range from the loader region onwards plus every
// additional range.
func Generate(p Params) ([]byte, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	if p.UEFI == nil && p.RequireUEFI {
		return nil, errors.Kindf(errors.ErrNotFound, "UEFI parameters unavailable")
	}

	t := New()
	t.Root.SetU32("#address-cells", DefaultAddressCells)
	t.Root.SetU32("#size-cells", DefaultSizeCells)

	chosen := t.Ensure("/chosen")
	if u := p.UEFI; u != nil {
		chosen.SetU32("linux,uefi-mmap-desc-ver", u.DescVer)
		chosen.SetU32("linux,uefi-mmap-desc-size", u.DescSize)
		chosen.SetU32("linux,uefi-mmap-size", uint32(u.MmapSize))
		chosen.SetU64("linux,uefi-mmap-start", u.MmapStart)
		chosen.SetU64("linux,uefi-system-table", u.SystemTable)
	}
	chosen.SetString("bootargs", p.Cmdline)

	primary := p.primary()
	setInitrd(chosen, primary, p.RootfsSize)

	loaderAddr, _ := layout.PhysAddr(primary, layout.Loader)
	if loaderAddr >= primary.End() {
		return nil, errors.NewLayoutError("primary range ends before the loader region", errors.ErrOverflow).
			WithRegion(layout.Loader.String()).WithBounds(layout.Offset(layout.Loader), 0, primary.Size)
	}
	usable := []uint64{loaderAddr, primary.End() - loaderAddr}
	for _, r := range p.Ranges[1:] {
		usable = append(usable, r.Addr, r.Size)
	}
	chosen.SetU64s("linux,usable-memory-range", usable...)

	return pack(t)
}

// Patch rewrites a supplied blob for the partition: /memory reg covers every
// range with the primary starting at the kernel region, /chosen carries
// bootargs and initrd bounds. Entries use the root's #size-cells width
// (1 when absent).
func Patch(blob []byte, p Params) ([]byte, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	t, err := Parse(blob)
	if err != nil {
		return nil, err
	}

	cells := uint32(1)
	if prop, ok := t.Root.Prop("#size-cells"); ok {
		if v, ok := prop.U32(); ok {
			cells = v
		}
	}
	if cells != 1 && cells != 2 {
		return nil, errors.Kindf(errors.ErrParseError, "unsupported #size-cells %d", cells)
	}

	primary := p.primary()
	kernelAddr, _ := layout.PhysAddr(primary, layout.Kernel)
	if kernelAddr >= primary.End() {
		return nil, errors.NewLayoutError("primary range ends before the kernel region", errors.ErrOverflow).
			WithRegion(layout.Kernel.String()).WithBounds(layout.Offset(layout.Kernel), 0, primary.Size)
	}
	entries := []uint64{kernelAddr, primary.End() - kernelAddr}
	for _, r := range p.Ranges[1:] {
		entries = append(entries, r.Addr, r.Size)
	}

	reg := make([]byte, 0, len(entries)*int(cells)*4)
	for _, v := range entries {
		if cells == 1 {
			if v > 0xffffffff {
				return nil, errors.NewLayoutError("memory entry does not fit one cell", errors.ErrOverflow).
					WithBounds(v, 4, 0xffffffff)
			}
			reg = binary.BigEndian.AppendUint32(reg, uint32(v))
		} else {
			reg = binary.BigEndian.AppendUint64(reg, v)
		}
	}

	mem := t.Ensure("/memory")
	if _, ok := mem.Prop("device_type"); !ok {
		mem.SetString("device_type", "memory")
	}
	mem.SetProp("reg", reg)

	chosen := t.Ensure("/chosen")
	if p.Cmdline != "" {
		chosen.SetString("bootargs", p.Cmdline)
	}
	setInitrd(chosen, primary, p.RootfsSize)

	return pack(t)
}

func setInitrd(chosen *Node, primary layout.Range, size uint64) {
	if size == 0 {
		return
	}
	start, _ := layout.PhysAddr(primary, layout.Rootfs)
	chosen.SetU64("linux,initrd-start", start)
	chosen.SetU64("linux,initrd-end", start+size)
}

func pack(t *Tree) ([]byte, error) {
	blob, err := t.Pack()
	if err != nil {
		return nil, err
	}
	if len(blob) > MaxSize {
		return nil, errors.Kindf(errors.ErrOutOfMemory, "device tree of %d bytes exceeds %d", len(blob), MaxSize)
	}
	return blob, nil
}
