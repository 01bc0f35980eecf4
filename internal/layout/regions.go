// Package layout places the fixed partition regions inside an instance's
// primary memory range and gives bounds-checked access to them.
package layout

import (
	"fmt"
	"sort"

	"github.com/Iron-Ham/dysche/internal/errors"
)

// Region is a named, fixed-offset part of the primary range.
type Region int

const (
	SharedConfig Region = iota
	Console
	PartEP
	Loader
	Kernel
	FDT
	Rootfs

	numRegions
)

const (
	kib = uint64(1) << 10
	mib = kib << 10
)

type entry struct {
	name   string
	offset uint64
	size   uint64
}

var table = [numRegions]entry{
	SharedConfig: {"shared-config", 0, 1 * mib},
	Console:      {"console", 1 * mib, 1 * mib},
	PartEP:       {"partep", 2 * mib, 4 * mib},
	Loader:       {"loader", 6 * mib, 2 * mib},
	Kernel:       {"kernel", 8 * mib, 128 * mib},
	FDT:          {"fdt", 136 * mib, 8 * mib},
	Rootfs:       {"rootfs", 144 * mib, 512 * mib},
}

// Regions returns every region in table order.
func Regions() []Region {
	out := make([]Region, numRegions)
	for i := range out {
		out[i] = Region(i)
	}
	return out
}

// String returns the region name.
func (r Region) String() string {
	if r < 0 || r >= numRegions {
		return fmt.Sprintf("region(%d)", int(r))
	}
	return table[r].name
}

// Offset returns the region's offset from the primary base.
func Offset(r Region) uint64 { return table[r].offset }

// Size returns the region's table size.
func Size(r Region) uint64 { return table[r].size }

// Span returns the end of the last region, the smallest primary range that
// holds every region at full size.
func Span() uint64 {
	var end uint64
	for _, e := range table {
		end = max(end, e.offset+e.size)
	}
	return end
}

// Verify checks that no two regions overlap.
func Verify() error {
	regs := Regions()
	sort.Slice(regs, func(i, j int) bool { return Offset(regs[i]) < Offset(regs[j]) })
	for i := 1; i < len(regs); i++ {
		prev, cur := regs[i-1], regs[i]
		if Offset(prev)+Size(prev) > Offset(cur) {
			return errors.NewLayoutError(fmt.Sprintf("region %s overlaps %s", prev, cur), errors.ErrInvalidArgument).
				WithRegion(cur.String()).WithBounds(Offset(cur), Size(cur), 0)
		}
		if Size(cur) == 0 {
			return errors.NewLayoutError("empty region", errors.ErrInvalidArgument).WithRegion(cur.String())
		}
	}
	return nil
}

// MaxRanges is the number of physical ranges an instance may declare.
const MaxRanges = 4

// Range is a physical memory range.
type Range struct {
	Size uint64 `json:"size"`
	Addr uint64 `json:"addr"`
}

// End returns the first address past the range.
func (r Range) End() uint64 { return r.Addr + r.Size }

// Empty reports whether the range has no bytes.
func (r Range) Empty() bool { return r.Size == 0 }

// String renders the range as size@addr.
func (r Range) String() string {
	return fmt.Sprintf("%#x@%#x", r.Size, r.Addr)
}

// PhysAddr returns the physical address of region r within primary.
func PhysAddr(primary Range, r Region) (uint64, error) {
	if primary.Empty() {
		return 0, errors.NewLayoutError("no primary memory range bound", errors.ErrInvalidArgument).WithRegion(r.String())
	}
	return primary.Addr + Offset(r), nil
}

// Capacity returns how many bytes of region r fit in primary: the table
// size, clamped to what remains of the range after the region offset.
func Capacity(primary Range, r Region) uint64 {
	off := Offset(r)
	if off >= primary.Size {
		return 0
	}
	return min(Size(r), primary.Size-off)
}
