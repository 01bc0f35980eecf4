package util

import (
	"slices"
	"strconv"
	"strings"

	"github.com/Iron-Ham/dysche/internal/errors"
)

// maxCPUs bounds list expansion so a typo like 0-4000000000 cannot exhaust memory.
const maxCPUs = 1 << 16

// ParseCPUList parses a Linux cpulist ("0-3,5", "0-15:2/4") into a sorted,
// de-duplicated slice. In the a-b:used/group form only the first used cores
// of every group are selected.
func ParseCPUList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.Kindf(errors.ErrInvalidArgument, "empty cpu list")
	}

	seen := make(map[int]struct{})
	for _, chunk := range strings.Split(s, ",") {
		if chunk == "" {
			return nil, errors.Kindf(errors.ErrInvalidArgument, "empty element in cpu list %q", s)
		}
		lo, hi, used, group, err := parseCPUChunk(chunk)
		if err != nil {
			return nil, err
		}
		for cpu := lo; cpu <= hi; cpu++ {
			if (cpu-lo)%group < used {
				seen[cpu] = struct{}{}
			}
		}
	}

	cpus := make([]int, 0, len(seen))
	for cpu := range seen {
		cpus = append(cpus, cpu)
	}
	slices.Sort(cpus)
	return cpus, nil
}

func parseCPUChunk(chunk string) (lo, hi, used, group int, err error) {
	bad := func() (int, int, int, int, error) {
		return 0, 0, 0, 0, errors.Kindf(errors.ErrInvalidArgument, "malformed cpu list element %q", chunk)
	}

	rng, stride, hasStride := strings.Cut(chunk, ":")
	first, last, isRange := strings.Cut(rng, "-")

	if lo, err = atoiCPU(first); err != nil {
		return bad()
	}
	hi = lo
	if isRange {
		if hi, err = atoiCPU(last); err != nil || hi < lo {
			return bad()
		}
	}

	used, group = 1, 1
	if hasStride {
		if !isRange {
			return bad()
		}
		u, g, ok := strings.Cut(stride, "/")
		if !ok {
			return bad()
		}
		if used, err = strconv.Atoi(u); err != nil {
			return bad()
		}
		if group, err = strconv.Atoi(g); err != nil {
			return bad()
		}
		if used <= 0 || group <= 0 || used > group {
			return bad()
		}
	}
	return lo, hi, used, group, nil
}

func atoiCPU(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if v < 0 || v >= maxCPUs {
		return 0, strconv.ErrRange
	}
	return v, nil
}

// FormatCPUList renders cpus (any order) as a compact cpulist, e.g. "2-3,5".
func FormatCPUList(cpus []int) string {
	if len(cpus) == 0 {
		return ""
	}
	sorted := slices.Clone(cpus)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	var parts []string
	start := sorted[0]
	prev := start
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, strconv.Itoa(start)+"-"+strconv.Itoa(prev))
		}
	}
	for _, cpu := range sorted[1:] {
		if cpu == prev+1 {
			prev = cpu
			continue
		}
		flush()
		start, prev = cpu, cpu
	}
	flush()
	return strings.Join(parts, ",")
}
