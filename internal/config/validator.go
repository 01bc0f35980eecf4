package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/dysche/internal/layout"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "registry.capacity")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// MaxRegistryCapacity bounds the identity pool.
const MaxRegistryCapacity = 64

// loaderPatchWidth is the width of each patch field in the loader stub.
const loaderPatchWidth = 8

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateRegistry()...)
	errors = append(errors, c.validatePaths()...)
	errors = append(errors, c.validateMemory()...)
	errors = append(errors, c.validateBoot()...)
	errors = append(errors, c.validateLoader()...)
	errors = append(errors, c.validateHost()...)
	errors = append(errors, c.validateSupervisor()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateRegistry() []ValidationError {
	if c.Registry.Capacity < 1 || c.Registry.Capacity > MaxRegistryCapacity {
		return []ValidationError{{
			Field:   "registry.capacity",
			Value:   c.Registry.Capacity,
			Message: fmt.Sprintf("must be between 1 and %d", MaxRegistryCapacity),
		}}
	}
	return nil
}

func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError
	for field, path := range map[string]string{
		"paths.state_dir": c.Paths.StateDir,
		"paths.run_dir":   c.Paths.RunDir,
	} {
		if strings.ContainsRune(path, '\x00') {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   path,
				Message: "path contains invalid null character",
			})
		}
	}
	slices.SortFunc(errors, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
	return errors
}

func (c *Config) validateMemory() []ValidationError {
	var errors []ValidationError

	if c.Memory.Device == "" {
		errors = append(errors, ValidationError{
			Field:   "memory.device",
			Value:   c.Memory.Device,
			Message: fmt.Sprintf("must be a device path or %q", MemorySim),
		})
	}

	if c.Memory.Device == MemorySim {
		if len(c.Memory.SimRanges) == 0 {
			errors = append(errors, ValidationError{
				Field:   "memory.sim_ranges",
				Value:   c.Memory.SimRanges,
				Message: "at least one range is required for the simulator",
			})
		}
		for i, r := range c.Memory.SimRanges {
			if _, _, err := ParseRange(r); err != nil {
				errors = append(errors, ValidationError{
					Field:   fmt.Sprintf("memory.sim_ranges[%d]", i),
					Value:   r,
					Message: err.Error(),
				})
			}
		}
	}

	return errors
}

// ParseRange parses a size@addr pair.
func ParseRange(s string) (size, addr uint64, err error) {
	r, err := layout.ParseRange(s)
	if err != nil {
		return 0, 0, err
	}
	return r.Size, r.Addr, nil
}

func (c *Config) validateBoot() []ValidationError {
	var errors []ValidationError

	if !slices.Contains([]string{FirmwareDevice, FirmwareSim}, c.Boot.Firmware) {
		errors = append(errors, ValidationError{
			Field:   "boot.firmware",
			Value:   c.Boot.Firmware,
			Message: fmt.Sprintf("must be one of: %s, %s", FirmwareDevice, FirmwareSim),
		})
	}
	if c.Boot.Firmware == FirmwareDevice && c.Boot.FirmwareDevice == "" {
		errors = append(errors, ValidationError{
			Field:   "boot.firmware_device",
			Value:   c.Boot.FirmwareDevice,
			Message: "required when boot.firmware is device",
		})
	}
	if !slices.Contains([]string{HartMapSysfs, HartMapIdentity}, c.Boot.HartMap) {
		errors = append(errors, ValidationError{
			Field:   "boot.hart_map",
			Value:   c.Boot.HartMap,
			Message: fmt.Sprintf("must be one of: %s, %s", HartMapSysfs, HartMapIdentity),
		})
	}

	return errors
}

func (c *Config) validateLoader() []ValidationError {
	var errors []ValidationError

	for field, off := range map[string]int{
		"loader.fdt_offset":    c.Loader.FDTOffset,
		"loader.kernel_offset": c.Loader.KernelOffset,
	} {
		if off < 0 || off%loaderPatchWidth != 0 {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   off,
				Message: fmt.Sprintf("must be a non-negative multiple of %d", loaderPatchWidth),
			})
		}
	}

	fdt, kern := c.Loader.FDTOffset, c.Loader.KernelOffset
	if fdt < kern+loaderPatchWidth && kern < fdt+loaderPatchWidth {
		errors = append(errors, ValidationError{
			Field:   "loader.kernel_offset",
			Value:   kern,
			Message: "patch fields overlap",
		})
	}

	slices.SortFunc(errors, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
	return errors
}

func (c *Config) validateHost() []ValidationError {
	if c.Host.CPUs < 0 {
		return []ValidationError{{
			Field:   "host.cpus",
			Value:   c.Host.CPUs,
			Message: "must be non-negative (0 detects)",
		}}
	}
	return nil
}

func (c *Config) validateSupervisor() []ValidationError {
	var errors []ValidationError

	if c.Supervisor.IntervalMS < 10 {
		errors = append(errors, ValidationError{
			Field:   "supervisor.interval_ms",
			Value:   c.Supervisor.IntervalMS,
			Message: "must be at least 10",
		})
	}
	if c.Supervisor.DefaultMaxLost < 1 {
		errors = append(errors, ValidationError{
			Field:   "supervisor.default_max_lost",
			Value:   c.Supervisor.DefaultMaxLost,
			Message: "must be positive",
		})
	}
	if c.Supervisor.DefaultRestart < -1 {
		errors = append(errors, ValidationError{
			Field:   "supervisor.default_restart",
			Value:   c.Supervisor.DefaultRestart,
			Message: "must be -1 (never), 0 (unlimited) or a positive count",
		})
	}
	if c.Supervisor.Parallel < 1 {
		errors = append(errors, ValidationError{
			Field:   "supervisor.parallel",
			Value:   c.Supervisor.Parallel,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB <= 0 || c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("must be between 1 and %d", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
