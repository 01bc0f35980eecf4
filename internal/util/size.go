package util

import (
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"

	"github.com/Iron-Ham/dysche/internal/errors"
)

// Size is a byte count or physical address written in memparse notation.
type Size uint64

// String renders the size in memparse notation.
func (s Size) String() string {
	return FormatSize(uint64(s))
}

// MarshalYAML writes sizes back in the notation ParseSize accepts.
func (s Size) MarshalYAML() (any, error) {
	return s.String(), nil
}

var sizeShift = map[byte]uint{
	'K': 10,
	'M': 20,
	'G': 30,
	'T': 40,
	'P': 50,
	'E': 60,
}

// ParseSize parses a number with an optional K/M/G/T/P/E suffix
// (case-insensitive). The number may be decimal, 0x-prefixed hex or
// 0-prefixed octal.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.Kindf(errors.ErrInvalidArgument, "empty size")
	}

	num := s
	var shift uint
	last := s[len(s)-1]
	if sh, ok := sizeShift[upper(last)]; ok && !(isHexPrefixed(s) && isHexDigit(last)) {
		num = s[:len(s)-1]
		shift = sh
	}

	v, err := strconv.ParseUint(num, 0, 64)
	if err != nil {
		return 0, errors.Kindf(errors.ErrInvalidArgument, "malformed size %q", s)
	}
	if shift > 0 {
		if v > math.MaxUint64>>shift {
			return 0, errors.Kindf(errors.ErrInvalidArgument, "size %q overflows 64 bits", s)
		}
		v <<= shift
	}
	return v, nil
}

func isHexPrefixed(s string) bool {
	return len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

// FormatSize renders v with the largest suffix that divides it exactly,
// or in hex when no suffix fits.
func FormatSize(v uint64) string {
	if v == 0 {
		return "0"
	}
	suffixes := []struct {
		shift  uint
		suffix string
	}{{60, "E"}, {50, "P"}, {40, "T"}, {30, "G"}, {20, "M"}, {10, "K"}}
	tz := uint(bits.TrailingZeros64(v))
	for _, sfx := range suffixes {
		if tz >= sfx.shift {
			return fmt.Sprintf("%d%s", v>>sfx.shift, sfx.suffix)
		}
	}
	return fmt.Sprintf("%#x", v)
}

// FormatRange renders a size@addr pair the way `cpec` and `memory=` show it.
func FormatRange(size, addr uint64) string {
	return fmt.Sprintf("%#x@%#x", size, addr)
}
