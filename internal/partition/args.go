package partition

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/dysche/internal/errors"
	"github.com/Iron-Ham/dysche/internal/layout"
	"github.com/Iron-Ham/dysche/internal/util"
)

// Request limits.
const (
	MaxNameLen    = 64
	MaxCmdlineLen = 512
)

// Marker is appended to every effective command line so the guest knows it
// was booted as a partition.
const Marker = " dysche_mode "

// OSType tags the guest operating system.
type OSType int

const (
	OSLinux OSType = iota
	OSOther
)

// String returns the ostype value as accepted by ParseArgs.
func (o OSType) String() string {
	if o == OSLinux {
		return "linux"
	}
	return "other"
}

// Config is a parsed creation request.
type Config struct {
	Name   string
	OSType OSType
	// CPUs is sorted ascending; the first entry is the boot core.
	CPUs []int
	// Ranges holds the declared memory ranges; the first is the primary.
	Ranges []layout.Range
	// Cmdline is the command line as requested, without the marker.
	Cmdline string
	Kernel  string
	Rootfs  string
	FDT     string
}

// EffectiveCmdline returns the command line the guest boots with.
func (c Config) EffectiveCmdline() string {
	return c.Cmdline + Marker
}

// Primary returns the primary range, or an empty range.
func (c Config) Primary() layout.Range {
	if len(c.Ranges) == 0 {
		return layout.Range{}
	}
	return c.Ranges[0]
}

// ParseArgs parses a whitespace separated key=value request. possible is
// the number of cores on the host; every cpu_ids member must be below it.
// Values may be double-quoted to carry spaces.
func ParseArgs(request string, possible int) (Config, error) {
	tokens, err := tokenize(request)
	if err != nil {
		return Config{}, err
	}

	var (
		cfg  Config
		seen = make(map[string]bool)
	)
	for _, tok := range tokens {
		key, value, ok := strings.Cut(tok, "=")
		if !ok {
			return Config{}, errors.Kindf(errors.ErrInvalidArgument, "expected key=value, got %q", tok)
		}
		if seen[key] {
			return Config{}, errors.Kindf(errors.ErrInvalidArgument, "duplicate key %q", key)
		}
		seen[key] = true
		if value == "" && key != "cmdline" {
			return Config{}, errors.Kindf(errors.ErrInvalidArgument, "empty value for %q", key)
		}

		switch key {
		case "slave_name":
			if len(value) > MaxNameLen {
				return Config{}, errors.Kindf(errors.ErrInvalidArgument, "slave_name longer than %d bytes", MaxNameLen)
			}
			cfg.Name = value
		case "memory":
			ranges, err := layout.ParseRangeList(value)
			if err != nil {
				return Config{}, err
			}
			if len(ranges) > layout.MaxRanges {
				return Config{}, errors.Kindf(errors.ErrInvalidArgument, "%d memory ranges, at most %d allowed", len(ranges), layout.MaxRanges)
			}
			cfg.Ranges = ranges
		case "cpu_ids":
			cpus, err := util.ParseCPUList(value)
			if err != nil {
				return Config{}, err
			}
			for _, cpu := range cpus {
				if cpu >= possible {
					return Config{}, fmt.Errorf("%w: %w", errors.ErrInvalidArgument,
						errors.Kindf(errors.ErrOverflow, "cpu %d is not possible on this host (%d cores)", cpu, possible))
				}
			}
			cfg.CPUs = cpus
		case "cmdline":
			if len(value) > MaxCmdlineLen {
				return Config{}, errors.Kindf(errors.ErrInvalidArgument, "cmdline longer than %d bytes", MaxCmdlineLen)
			}
			cfg.Cmdline = value
		case "kernel":
			cfg.Kernel = value
		case "rootfs":
			cfg.Rootfs = value
		case "fdt":
			cfg.FDT = value
		case "ostype":
			if value == "linux" {
				cfg.OSType = OSLinux
			} else {
				cfg.OSType = OSOther
			}
		default:
			return Config{}, errors.Kindf(errors.ErrInvalidArgument, "unknown key %q", key)
		}
	}

	if cfg.Name == "" {
		return Config{}, errors.Kindf(errors.ErrInvalidArgument, "slave_name is required")
	}
	if len(cfg.Ranges) == 0 {
		return Config{}, errors.Kindf(errors.ErrInvalidArgument, "memory is required")
	}
	if len(cfg.CPUs) == 0 {
		return Config{}, errors.Kindf(errors.ErrInvalidArgument, "cpu_ids is required")
	}
	return cfg, nil
}

// tokenize splits on unquoted whitespace. Double quotes group characters
// and are removed.
func tokenize(s string) ([]string, error) {
	var (
		tokens  []string
		cur     strings.Builder
		inQuote bool
		pending bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			pending = true
		case !inQuote && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			if pending {
				tokens = append(tokens, cur.String())
				cur.Reset()
				pending = false
			}
		default:
			cur.WriteRune(r)
			pending = true
		}
	}
	if inQuote {
		return nil, errors.Kindf(errors.ErrInvalidArgument, "unterminated quote")
	}
	if pending {
		tokens = append(tokens, cur.String())
	}
	if len(tokens) == 0 {
		return nil, errors.Kindf(errors.ErrInvalidArgument, "empty request")
	}
	return tokens, nil
}
