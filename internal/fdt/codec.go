package fdt

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Iron-Ham/dysche/internal/errors"
)

const (
	// Magic is the first word of every blob.
	Magic = 0xd00dfeed

	tokenBeginNode = 1
	tokenEndNode   = 2
	tokenProp      = 3
	tokenNop       = 4
	tokenEnd       = 9

	headerSize   = 40
	version      = 17
	lastCompVers = 16
	maxDepth     = 64
)

type header struct {
	Magic           uint32
	TotalSize       uint32
	OffDtStruct     uint32
	OffDtStrings    uint32
	OffMemRsvmap    uint32
	Version         uint32
	LastCompVersion uint32
	BootCPUIDPhys   uint32
	SizeDtStrings   uint32
	SizeDtStruct    uint32
}

func parseErr(format string, args ...any) error {
	return errors.Kindf(errors.ErrParseError, format, args...)
}

// Parse decodes a blob. Bytes past the header's totalsize are ignored, so a
// blob read into a larger scratch buffer parses as-is.
func Parse(blob []byte) (*Tree, error) {
	if len(blob) < headerSize {
		return nil, parseErr("blob of %d bytes is shorter than the header", len(blob))
	}
	var h header
	if err := binary.Read(bytes.NewReader(blob[:headerSize]), binary.BigEndian, &h); err != nil {
		return nil, parseErr("read header: %v", err)
	}
	if h.Magic != Magic {
		return nil, parseErr("bad magic %#x", h.Magic)
	}
	if h.Version < 16 || h.LastCompVersion > version {
		return nil, parseErr("unsupported version %d (compatible %d)", h.Version, h.LastCompVersion)
	}
	if uint64(h.TotalSize) > uint64(len(blob)) || h.TotalSize < headerSize {
		return nil, parseErr("totalsize %d outside blob of %d bytes", h.TotalSize, len(blob))
	}
	blob = blob[:h.TotalSize]

	if h.Version < 17 {
		h.SizeDtStruct = h.TotalSize - h.OffDtStruct
	}
	structs, err := section(blob, h.OffDtStruct, h.SizeDtStruct, "struct")
	if err != nil {
		return nil, err
	}
	strs, err := section(blob, h.OffDtStrings, h.SizeDtStrings, "strings")
	if err != nil {
		return nil, err
	}

	t := &Tree{BootCPU: h.BootCPUIDPhys}
	if t.Reserved, err = parseReservations(blob, h.OffMemRsvmap); err != nil {
		return nil, err
	}
	if t.Root, err = parseStruct(structs, strs); err != nil {
		return nil, err
	}
	return t, nil
}

func section(blob []byte, off, size uint32, name string) ([]byte, error) {
	end := uint64(off) + uint64(size)
	if off < headerSize || end > uint64(len(blob)) {
		return nil, parseErr("%s block [%#x, %#x) outside blob", name, off, end)
	}
	return blob[off:end], nil
}

func parseReservations(blob []byte, off uint32) ([]Reservation, error) {
	var out []Reservation
	for pos := uint64(off); ; pos += 16 {
		if pos < headerSize || pos+16 > uint64(len(blob)) {
			return nil, parseErr("unterminated memory reservation block")
		}
		addr := binary.BigEndian.Uint64(blob[pos:])
		size := binary.BigEndian.Uint64(blob[pos+8:])
		if addr == 0 && size == 0 {
			return out, nil
		}
		out = append(out, Reservation{Addr: addr, Size: size})
	}
}

type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) u32() (uint32, error) {
	if c.pos+4 > len(c.buf) {
		return 0, parseErr("struct block truncated at %#x", c.pos)
	}
	v := binary.BigEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) cstring() (string, error) {
	i := bytes.IndexByte(c.buf[c.pos:], 0)
	if i < 0 {
		return "", parseErr("unterminated node name at %#x", c.pos)
	}
	s := string(c.buf[c.pos : c.pos+i])
	c.pos = align4(c.pos + i + 1)
	return s, nil
}

func (c *cursor) bytes(n uint32) ([]byte, error) {
	end := uint64(c.pos) + uint64(n)
	if end > uint64(len(c.buf)) {
		return nil, parseErr("property value at %#x overruns struct block", c.pos)
	}
	v := append([]byte(nil), c.buf[c.pos:end]...)
	c.pos = align4(int(end))
	return v, nil
}

func align4(n int) int {
	return (n + 3) &^ 3
}

func stringAt(strs []byte, off uint32) (string, error) {
	if uint64(off) >= uint64(len(strs)) {
		return "", parseErr("property name offset %#x outside strings block", off)
	}
	i := bytes.IndexByte(strs[off:], 0)
	if i < 0 {
		return "", parseErr("unterminated property name at %#x", off)
	}
	return string(strs[off : off+uint32(i)]), nil
}

func parseStruct(structs, strs []byte) (*Node, error) {
	c := &cursor{buf: structs}
	var stack []*Node
	var root *Node

	for {
		tok, err := c.u32()
		if err != nil {
			return nil, err
		}
		switch tok {
		case tokenBeginNode:
			name, err := c.cstring()
			if err != nil {
				return nil, err
			}
			n := &Node{Name: name}
			if len(stack) == 0 {
				if root != nil {
					return nil, parseErr("second root node %q", name)
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			if len(stack) == maxDepth {
				return nil, parseErr("nodes nested deeper than %d", maxDepth)
			}
			stack = append(stack, n)
		case tokenEndNode:
			if len(stack) == 0 {
				return nil, parseErr("unbalanced end node at %#x", c.pos-4)
			}
			stack = stack[:len(stack)-1]
		case tokenProp:
			if len(stack) == 0 {
				return nil, parseErr("property outside a node at %#x", c.pos-4)
			}
			length, err := c.u32()
			if err != nil {
				return nil, err
			}
			nameOff, err := c.u32()
			if err != nil {
				return nil, err
			}
			name, err := stringAt(strs, nameOff)
			if err != nil {
				return nil, err
			}
			val, err := c.bytes(length)
			if err != nil {
				return nil, err
			}
			n := stack[len(stack)-1]
			n.Props = append(n.Props, Property{Name: name, Value: val})
		case tokenNop:
		case tokenEnd:
			if len(stack) != 0 {
				return nil, parseErr("end token inside node %q", stack[len(stack)-1].Name)
			}
			if root == nil {
				return nil, parseErr("blob has no root node")
			}
			return root, nil
		default:
			return nil, parseErr("unknown token %#x at %#x", tok, c.pos-4)
		}
	}
}

// Pack encodes the tree. Property names share one string table entry.
func (t *Tree) Pack() ([]byte, error) {
	if t.Root == nil {
		return nil, errors.Kindf(errors.ErrInvalidArgument, "tree has no root node")
	}

	var structs bytes.Buffer
	var strs bytes.Buffer
	offsets := make(map[string]uint32)

	nameOff := func(name string) uint32 {
		if off, ok := offsets[name]; ok {
			return off
		}
		off := uint32(strs.Len())
		strs.WriteString(name)
		strs.WriteByte(0)
		offsets[name] = off
		return off
	}

	put32 := func(v uint32) {
		_ = binary.Write(&structs, binary.BigEndian, v)
	}
	pad := func() {
		for structs.Len()%4 != 0 {
			structs.WriteByte(0)
		}
	}

	var walk func(n *Node, depth int) error
	walk = func(n *Node, depth int) error {
		if depth > maxDepth {
			return errors.Kindf(errors.ErrInvalidArgument, "nodes nested deeper than %d", maxDepth)
		}
		put32(tokenBeginNode)
		structs.WriteString(n.Name)
		structs.WriteByte(0)
		pad()
		for _, p := range n.Props {
			put32(tokenProp)
			put32(uint32(len(p.Value)))
			put32(nameOff(p.Name))
			structs.Write(p.Value)
			pad()
		}
		for _, c := range n.Children {
			if err := walk(c, depth+1); err != nil {
				return err
			}
		}
		put32(tokenEndNode)
		return nil
	}
	if err := walk(t.Root, 0); err != nil {
		return nil, err
	}
	put32(tokenEnd)

	rsvOff := uint32(headerSize)
	rsvSize := uint32(16 * (len(t.Reserved) + 1))
	structOff := rsvOff + rsvSize
	stringsOff := structOff + uint32(structs.Len())
	total := stringsOff + uint32(strs.Len())

	h := header{
		Magic:           Magic,
		TotalSize:       total,
		OffDtStruct:     structOff,
		OffDtStrings:    stringsOff,
		OffMemRsvmap:    rsvOff,
		Version:         version,
		LastCompVersion: lastCompVers,
		BootCPUIDPhys:   t.BootCPU,
		SizeDtStrings:   uint32(strs.Len()),
		SizeDtStruct:    uint32(structs.Len()),
	}

	out := bytes.NewBuffer(make([]byte, 0, total))
	if err := binary.Write(out, binary.BigEndian, h); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for _, r := range t.Reserved {
		_ = binary.Write(out, binary.BigEndian, r.Addr)
		_ = binary.Write(out, binary.BigEndian, r.Size)
	}
	out.Write(make([]byte, 16))
	out.Write(structs.Bytes())
	out.Write(strs.Bytes())
	return out.Bytes(), nil
}
