package bootcpu

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/dysche/internal/logging"
)

// HostInfo summarises the host for `dysche host` and for core checks.
type HostInfo struct {
	PossibleCores int    `json:"possible_cores" yaml:"possible_cores"`
	LogicalCores  int    `json:"logical_cores" yaml:"logical_cores"`
	TotalMemory   uint64 `json:"total_memory" yaml:"total_memory"`
}

// PossibleCores resolves the number of possible cores: the configured value
// when positive, else the sysfs possible list, else the logical core count.
func PossibleCores(configured int, fs afero.Fs, sysfsRoot string, logger *logging.Logger) int {
	if configured > 0 {
		return configured
	}
	if fs != nil && sysfsRoot != "" {
		n, err := PossibleFromSysfs(fs, sysfsRoot)
		if err == nil {
			return n
		}
		if logger != nil {
			logger.Debug("sysfs possible cpu list unavailable", "error", err)
		}
	}
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		if logger != nil {
			logger.Warn("could not count host cores, assuming 1", "error", err)
		}
		return 1
	}
	return n
}

// Host gathers HostInfo. possible is the already resolved possible count.
func Host(possible int) HostInfo {
	info := HostInfo{PossibleCores: possible}
	if n, err := cpu.Counts(true); err == nil {
		info.LogicalCores = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = vm.Total
	}
	return info
}
