// Package util holds small parsers and formatters shared by the CLI and the
// partition manager: memparse sizes, cpulists and terminal truncation.
package util

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Truncate shortens s to maxWidth terminal columns, ending in "..." when cut.
// ANSI escape sequences and wide runes are measured correctly.
func Truncate(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	return ansi.Truncate(s, maxWidth, "...")
}
