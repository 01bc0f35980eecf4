package fdt

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes the tree in device tree source syntax.
func (t *Tree) Dump(w io.Writer) error {
	var b strings.Builder
	b.WriteString("/dts-v1/;\n\n")
	for _, r := range t.Reserved {
		fmt.Fprintf(&b, "/memreserve/ %#x %#x;\n", r.Addr, r.Size)
	}
	if len(t.Reserved) > 0 {
		b.WriteString("\n")
	}
	dumpNode(&b, t.Root, 0)
	_, err := io.WriteString(w, b.String())
	return err
}

func dumpNode(b *strings.Builder, n *Node, depth int) {
	indent := strings.Repeat("\t", depth)
	name := n.Name
	if depth == 0 {
		name = "/"
	}
	fmt.Fprintf(b, "%s%s {\n", indent, name)
	for _, p := range n.Props {
		fmt.Fprintf(b, "%s\t%s", indent, p.Name)
		if v := formatValue(p.Value); v != "" {
			fmt.Fprintf(b, " = %s", v)
		}
		b.WriteString(";\n")
	}
	for i, c := range n.Children {
		if i > 0 || len(n.Props) > 0 {
			b.WriteString("\n")
		}
		dumpNode(b, c, depth+1)
	}
	fmt.Fprintf(b, "%s};\n", indent)
}

func formatValue(v []byte) string {
	if len(v) == 0 {
		return ""
	}
	if s, ok := printableStrings(v); ok {
		quoted := make([]string, len(s))
		for i := range s {
			quoted[i] = fmt.Sprintf("%q", s[i])
		}
		return strings.Join(quoted, ", ")
	}
	if len(v)%4 == 0 {
		cells := make([]string, 0, len(v)/4)
		for i := 0; i < len(v); i += 4 {
			cells = append(cells, fmt.Sprintf("%#x", uint32(v[i])<<24|uint32(v[i+1])<<16|uint32(v[i+2])<<8|uint32(v[i+3])))
		}
		return "<" + strings.Join(cells, " ") + ">"
	}
	parts := make([]string, len(v))
	for i, c := range v {
		parts[i] = fmt.Sprintf("%02x", c)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func printableStrings(v []byte) ([]string, bool) {
	if v[len(v)-1] != 0 {
		return nil, false
	}
	parts := strings.Split(string(v[:len(v)-1]), "\x00")
	for _, p := range parts {
		if p == "" {
			return nil, false
		}
		for _, r := range p {
			if r < 0x20 || r > 0x7e {
				return nil, false
			}
		}
	}
	return parts, true
}
