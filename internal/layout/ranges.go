package layout

import (
	"slices"
	"strings"

	"github.com/Iron-Ham/dysche/internal/errors"
	"github.com/Iron-Ham/dysche/internal/util"
)

// ReserveParam is the host kernel parameter that sets memory aside for
// partitions.
const ReserveParam = "dysche_reserve"

// ParseRange parses one size@addr pair with memparse suffixes.
func ParseRange(s string) (Range, error) {
	sz, ad, ok := strings.Cut(strings.TrimSpace(s), "@")
	if !ok || sz == "" || ad == "" {
		return Range{}, errors.Kindf(errors.ErrInvalidArgument, "range %q: expected size@addr", s)
	}
	size, err := util.ParseSize(sz)
	if err != nil {
		return Range{}, err
	}
	addr, err := util.ParseSize(ad)
	if err != nil {
		return Range{}, err
	}
	r := Range{Size: size, Addr: addr}
	if r.Empty() {
		return Range{}, errors.Kindf(errors.ErrInvalidArgument, "range %q is empty", s)
	}
	if r.End() < r.Addr {
		return Range{}, errors.Kindf(errors.ErrInvalidArgument, "range %q wraps the address space", s)
	}
	return r, nil
}

// ParseRangeList parses a comma-separated list of size@addr pairs. The
// ranges must not overlap.
func ParseRangeList(s string) ([]Range, error) {
	var out []Range
	for _, part := range strings.Split(s, ",") {
		r, err := ParseRange(part)
		if err != nil {
			return nil, err
		}
		for _, prev := range out {
			if Overlaps(prev, r) {
				return nil, errors.Kindf(errors.ErrInvalidArgument, "range %s overlaps %s", r, prev)
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// ParseReserveParam extracts every dysche_reserve= range from a kernel
// command line. Malformed entries are skipped and reported in bad, matching
// the kernel's own lenient handling of the parameter.
func ParseReserveParam(cmdline string) (ranges []Range, bad []string) {
	prefix := ReserveParam + "="
	for _, field := range strings.Fields(cmdline) {
		value, ok := strings.CutPrefix(field, prefix)
		if !ok {
			continue
		}
		for _, part := range strings.Split(value, ",") {
			r, err := ParseRange(part)
			if err != nil {
				bad = append(bad, part)
				continue
			}
			ranges = append(ranges, r)
		}
	}
	return ranges, bad
}

// Overlaps reports whether a and b share at least one byte.
func Overlaps(a, b Range) bool {
	return !a.Empty() && !b.Empty() && a.Addr < b.End() && b.Addr < a.End()
}

// Within reports whether r lies entirely inside one of outer.
func Within(r Range, outer []Range) bool {
	return slices.ContainsFunc(outer, func(o Range) bool {
		return r.Addr >= o.Addr && r.End() <= o.End()
	})
}
