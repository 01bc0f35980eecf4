// Package fdt reads, edits and writes flattened device tree blobs, and
// builds the trees handed to partition kernels.
package fdt

import (
	"encoding/binary"
	"strings"
)

// Tree is a decoded device tree.
type Tree struct {
	Root     *Node
	Reserved []Reservation
	// BootCPU is the header's boot_cpuid_phys.
	BootCPU uint32
}

// Reservation is one memory reservation block entry.
type Reservation struct {
	Addr uint64
	Size uint64
}

// Node is a device tree node.
type Node struct {
	Name     string
	Props    []Property
	Children []*Node
}

// Property is a named raw value.
type Property struct {
	Name  string
	Value []byte
}

// New returns a tree with an empty root node.
func New() *Tree {
	return &Tree{Root: &Node{}}
}

// Lookup finds the node at an absolute path such as "/chosen".
func (t *Tree) Lookup(path string) (*Node, bool) {
	n := t.Root
	for _, part := range splitPath(path) {
		child, ok := n.Child(part)
		if !ok {
			return nil, false
		}
		n = child
	}
	return n, true
}

// Ensure returns the node at path, creating missing nodes along the way.
func (t *Tree) Ensure(path string) *Node {
	n := t.Root
	for _, part := range splitPath(path) {
		n = n.AddChild(part)
	}
	return n
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// Child returns the direct child called name. A name without a unit
// address also matches "name@unit".
func (n *Node) Child(name string) (*Node, bool) {
	for _, c := range n.Children {
		if c.Name == name {
			return c, true
		}
	}
	if !strings.Contains(name, "@") {
		for _, c := range n.Children {
			if base, _, ok := strings.Cut(c.Name, "@"); ok && base == name {
				return c, true
			}
		}
	}
	return nil, false
}

// AddChild returns the child called name, adding it if absent.
func (n *Node) AddChild(name string) *Node {
	if c, ok := n.Child(name); ok {
		return c
	}
	c := &Node{Name: name}
	n.Children = append(n.Children, c)
	return c
}

// Prop returns the property called name.
func (n *Node) Prop(name string) (*Property, bool) {
	for i := range n.Props {
		if n.Props[i].Name == name {
			return &n.Props[i], true
		}
	}
	return nil, false
}

// SetProp adds or replaces a property.
func (n *Node) SetProp(name string, value []byte) {
	if p, ok := n.Prop(name); ok {
		p.Value = value
		return
	}
	n.Props = append(n.Props, Property{Name: name, Value: value})
}

// DeleteProp removes a property if present.
func (n *Node) DeleteProp(name string) {
	for i := range n.Props {
		if n.Props[i].Name == name {
			n.Props = append(n.Props[:i], n.Props[i+1:]...)
			return
		}
	}
}

// SetU32 stores a single big-endian cell.
func (n *Node) SetU32(name string, v uint32) {
	n.SetProp(name, binary.BigEndian.AppendUint32(nil, v))
}

// SetU64 stores a two-cell big-endian value.
func (n *Node) SetU64(name string, v uint64) {
	n.SetProp(name, binary.BigEndian.AppendUint64(nil, v))
}

// SetString stores a NUL-terminated string.
func (n *Node) SetString(name, v string) {
	n.SetProp(name, append([]byte(v), 0))
}

// SetU64s stores a list of two-cell values.
func (n *Node) SetU64s(name string, vs ...uint64) {
	buf := make([]byte, 0, 8*len(vs))
	for _, v := range vs {
		buf = binary.BigEndian.AppendUint64(buf, v)
	}
	n.SetProp(name, buf)
}

// U32 decodes a single-cell property.
func (p *Property) U32() (uint32, bool) {
	if len(p.Value) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(p.Value), true
}

// U64 decodes a two-cell property.
func (p *Property) U64() (uint64, bool) {
	if len(p.Value) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(p.Value), true
}

// AsString decodes a NUL-terminated string property.
func (p *Property) AsString() (string, bool) {
	if len(p.Value) == 0 || p.Value[len(p.Value)-1] != 0 {
		return "", false
	}
	return string(p.Value[:len(p.Value)-1]), true
}

// Cells decodes the value as numbers of cells 32-bit cells each.
func (p *Property) Cells(cells int) ([]uint64, bool) {
	width := 4 * cells
	if cells < 1 || cells > 2 || len(p.Value)%width != 0 {
		return nil, false
	}
	out := make([]uint64, 0, len(p.Value)/width)
	for off := 0; off < len(p.Value); off += width {
		if cells == 1 {
			out = append(out, uint64(binary.BigEndian.Uint32(p.Value[off:])))
		} else {
			out = append(out, binary.BigEndian.Uint64(p.Value[off:]))
		}
	}
	return out, true
}
