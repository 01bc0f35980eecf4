// Package loader prepares the stub that runs first on a partition's boot
// core. The stub learns where the device tree and kernel live from two
// 8-byte fields that are patched in the mapped destination at load time.
//
// The builtin riscv64 stub (stub_riscv64.bin):
//
//	0x00  auipc t0, 0          # t0 = loader base
//	0x04  ld    t1, 24(t0)     # fdt offset
//	0x08  ld    t2, 32(t0)     # kernel offset
//	0x0c  add   a1, t0, t1     # a1 = fdt address, a0 keeps the hart id
//	0x10  add   t2, t0, t2
//	0x14  jr    t2             # enter the kernel
//	0x18  .dword fdt offset
//	0x20  .dword kernel offset
package loader

import (
	_ "embed"
	"encoding/binary"
	"fmt"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/dysche/internal/errors"
	"github.com/Iron-Ham/dysche/internal/layout"
	"github.com/Iron-Ham/dysche/internal/logging"
	"github.com/Iron-Ham/dysche/internal/resource"
)

//go:embed stub_riscv64.bin
var builtinStub []byte

// Builtin patch field offsets.
const (
	BuiltinFDTOffset    = 24
	BuiltinKernelOffset = 32

	fieldWidth = 8
)

// Builtin returns a copy of the builtin stub.
func Builtin() []byte {
	return append([]byte(nil), builtinStub...)
}

// Preparer builds loader resources.
type Preparer struct {
	fs        afero.Fs
	path      string
	fdtOff    int
	kernelOff int
	logger    *logging.Logger
}

// Option configures a Preparer.
type Option func(*Preparer)

// WithCustomStub uses the stub at path with the given patch field offsets
// instead of the builtin one.
func WithCustomStub(fs afero.Fs, path string, fdtOff, kernelOff int) Option {
	return func(p *Preparer) {
		p.fs = fs
		p.path = path
		p.fdtOff = fdtOff
		p.kernelOff = kernelOff
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Preparer) {
		p.logger = l
	}
}

// NewPreparer returns a Preparer that uses the builtin stub unless
// configured otherwise.
func NewPreparer(opts ...Option) *Preparer {
	p := &Preparer{fdtOff: BuiltinFDTOffset, kernelOff: BuiltinKernelOffset}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Offsets holds the patched values: distances from the loader base.
type Offsets struct {
	FDT    uint64
	Kernel uint64
}

// ComputeOffsets returns the fdt and kernel offsets relative to the loader region.
func ComputeOffsets(primary layout.Range) (Offsets, error) {
	loaderAddr, err := layout.PhysAddr(primary, layout.Loader)
	if err != nil {
		return Offsets{}, err
	}
	fdtAddr, _ := layout.PhysAddr(primary, layout.FDT)
	kernelAddr, _ := layout.PhysAddr(primary, layout.Kernel)
	return Offsets{FDT: fdtAddr - loaderAddr, Kernel: kernelAddr - loaderAddr}, nil
}

// Prepare returns a loader resource for an instance whose primary range is
// primary. The stub is copied into the loader region and patched there.
func (p *Preparer) Prepare(primary layout.Range) (resource.Resource, error) {
	offs, err := ComputeOffsets(primary)
	if err != nil {
		return nil, err
	}

	stub, owned, err := p.stub()
	if err != nil {
		return nil, err
	}
	if err := checkFields(len(stub), p.fdtOff, p.kernelOff); err != nil {
		return nil, err
	}
	if capacity := layout.Capacity(primary, layout.Loader); uint64(len(stub)) > capacity {
		return nil, errors.NewLayoutError("loader stub larger than region", errors.ErrOverflow).
			WithRegion(layout.Loader.String()).WithBounds(0, uint64(len(stub)), capacity)
	}

	fdtOff, kernelOff := p.fdtOff, p.kernelOff
	patch := func(dst []byte) error {
		if err := checkFields(len(dst), fdtOff, kernelOff); err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(dst[fdtOff:], offs.FDT)
		binary.LittleEndian.PutUint64(dst[kernelOff:], offs.Kernel)
		return nil
	}

	if p.logger != nil {
		p.logger.Debug("prepared loader",
			"source", p.describe(), "fdt_offset", offs.FDT, "kernel_offset", offs.Kernel)
	}

	label := resource.WithLabel(p.describe())
	if owned {
		return resource.Owned(stub, resource.WithPatch(patch), label), nil
	}
	return resource.Borrowed(stub, resource.WithPatch(patch), label), nil
}

func (p *Preparer) stub() ([]byte, bool, error) {
	if p.path == "" {
		return builtinStub, false, nil
	}
	data, err := afero.ReadFile(p.fs, p.path)
	if err != nil {
		return nil, false, errors.NewResourceError("read loader stub", fmt.Errorf("%w: %w", errors.ErrIOFailure, err)).
			WithSlot(resource.SlotLoader.String()).WithPath(p.path)
	}
	return data, true, nil
}

func (p *Preparer) describe() string {
	if p.path == "" {
		return "builtin riscv64 stub"
	}
	return p.path
}

func checkFields(size, fdtOff, kernelOff int) error {
	for _, off := range []int{fdtOff, kernelOff} {
		if off < 0 || off+fieldWidth > size {
			return errors.NewLayoutError("loader patch field outside stub", errors.ErrOverflow).
				WithRegion(layout.Loader.String()).WithBounds(uint64(max(off, 0)), fieldWidth, uint64(size))
		}
	}
	return nil
}

// ReadOffsets returns the patched values from a loaded stub.
func ReadOffsets(stub []byte, fdtOff, kernelOff int) (Offsets, error) {
	if err := checkFields(len(stub), fdtOff, kernelOff); err != nil {
		return Offsets{}, err
	}
	return Offsets{
		FDT:    binary.LittleEndian.Uint64(stub[fdtOff:]),
		Kernel: binary.LittleEndian.Uint64(stub[kernelOff:]),
	}, nil
}
