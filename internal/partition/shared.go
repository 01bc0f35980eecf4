package partition

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"github.com/Iron-Ham/dysche/internal/errors"
)

// Shared configuration block magics.
const (
	MagicBegin uint32 = 0x20200806
	MagicEnd   uint32 = 0x20211102
)

// SharedBlockSize is the byte length of the block at the start of the
// shared-config region.
const SharedBlockSize = 48

// Field offsets within the shared block.
const (
	offMagicBegin = 0
	offID         = 4
	offNewStatus  = 8
	offSlaveCnt   = 12
	offMasterCnt  = 16
	offCmd        = 20
	offReq        = 24
	offResp       = 28
	offCPU        = 32
	offRet        = 40
	offMagicEnd   = 44
)

// SharedBlock is a view of the shared configuration block inside a mapped
// window. The heartbeat counters are accessed atomically since the guest
// updates them concurrently. Multi-byte fields are little-endian, which
// matches every host dysche supports.
type SharedBlock struct {
	buf []byte
}

// SharedSnapshot is a copy of every field.
type SharedSnapshot struct {
	MagicBegin uint32
	ID         uint32
	NewStatus  Status
	SlaveCnt   uint32
	MasterCnt  uint32
	Cmd        uint32
	Req        uint32
	Resp       uint32
	CPU        uint64
	Ret        int32
	MagicEnd   uint32
}

// NewSharedBlock wraps buf, which must hold at least SharedBlockSize bytes.
func NewSharedBlock(buf []byte) (*SharedBlock, error) {
	if len(buf) < SharedBlockSize {
		return nil, errors.NewLayoutError("shared block does not fit", errors.ErrOverflow).
			WithBounds(0, SharedBlockSize, uint64(len(buf)))
	}
	return &SharedBlock{buf: buf[:SharedBlockSize]}, nil
}

func (b *SharedBlock) u32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&b.buf[off]))
}

// Stamp zeroes the block and writes both magics and the identity.
func (b *SharedBlock) Stamp(id int) {
	clear(b.buf)
	binary.LittleEndian.PutUint32(b.buf[offMagicBegin:], MagicBegin)
	binary.LittleEndian.PutUint32(b.buf[offID:], uint32(id))
	binary.LittleEndian.PutUint32(b.buf[offMagicEnd:], MagicEnd)
}

// Valid reports whether both magics are present.
func (b *SharedBlock) Valid() bool {
	return binary.LittleEndian.Uint32(b.buf[offMagicBegin:]) == MagicBegin &&
		binary.LittleEndian.Uint32(b.buf[offMagicEnd:]) == MagicEnd
}

// ID returns the stamped identity.
func (b *SharedBlock) ID() int {
	return int(binary.LittleEndian.Uint32(b.buf[offID:]))
}

// SlaveStatus returns the status last reported by the guest.
func (b *SharedBlock) SlaveStatus() Status {
	return StatusFromWire(atomic.LoadUint32(b.u32(offNewStatus)))
}

// SlaveCount returns the guest heartbeat counter.
func (b *SharedBlock) SlaveCount() uint32 {
	return atomic.LoadUint32(b.u32(offSlaveCnt))
}

// MasterCount returns the host heartbeat counter.
func (b *SharedBlock) MasterCount() uint32 {
	return atomic.LoadUint32(b.u32(offMasterCnt))
}

// IncMaster advances the host heartbeat counter and returns the new value.
func (b *SharedBlock) IncMaster() uint32 {
	return atomic.AddUint32(b.u32(offMasterCnt), 1)
}

// Hot-scale mailbox fields. The protocol is not defined yet; dysche only
// exposes the raw values.

// Cmd returns the pending hot-scale command.
func (b *SharedBlock) Cmd() uint32 { return atomic.LoadUint32(b.u32(offCmd)) }

// Req returns the hot-scale request word.
func (b *SharedBlock) Req() uint32 { return atomic.LoadUint32(b.u32(offReq)) }

// Resp returns the hot-scale response word.
func (b *SharedBlock) Resp() uint32 { return atomic.LoadUint32(b.u32(offResp)) }

// Snapshot copies every field.
func (b *SharedBlock) Snapshot() SharedSnapshot {
	le := binary.LittleEndian
	return SharedSnapshot{
		MagicBegin: le.Uint32(b.buf[offMagicBegin:]),
		ID:         le.Uint32(b.buf[offID:]),
		NewStatus:  b.SlaveStatus(),
		SlaveCnt:   b.SlaveCount(),
		MasterCnt:  b.MasterCount(),
		Cmd:        b.Cmd(),
		Req:        b.Req(),
		Resp:       b.Resp(),
		CPU:        le.Uint64(b.buf[offCPU:]),
		Ret:        int32(le.Uint32(b.buf[offRet:])),
		MagicEnd:   le.Uint32(b.buf[offMagicEnd:]),
	}
}
