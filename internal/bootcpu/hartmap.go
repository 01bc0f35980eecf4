package bootcpu

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/dysche/internal/errors"
	"github.com/Iron-Ham/dysche/internal/util"
)

// HartMap translates logical core indices to hardware hart ids.
type HartMap interface {
	Hart(core int) (uint64, error)
}

// IdentityMap maps core N to hart N.
type IdentityMap struct{}

// Hart implements HartMap.
func (IdentityMap) Hart(core int) (uint64, error) {
	if core < 0 {
		return 0, errors.Kindf(errors.ErrInvalidArgument, "core %d", core)
	}
	return uint64(core), nil
}

// SysfsMap reads hart ids from the device tree node linked under each cpu
// directory ({root}/cpuN/of_node/reg). Cores present in sysfs without a
// device tree node fall back to the identity mapping.
type SysfsMap struct {
	fs   afero.Fs
	root string
}

// NewSysfsMap creates a SysfsMap over root, normally /sys/devices/system/cpu.
func NewSysfsMap(fs afero.Fs, root string) *SysfsMap {
	return &SysfsMap{fs: fs, root: root}
}

// Hart implements HartMap.
func (m *SysfsMap) Hart(core int) (uint64, error) {
	if core < 0 {
		return 0, errors.Kindf(errors.ErrInvalidArgument, "core %d", core)
	}
	dir := filepath.Join(m.root, fmt.Sprintf("cpu%d", core))
	if _, err := m.fs.Stat(dir); err != nil {
		return 0, errors.Kindf(errors.ErrNotFound, "core %d not present under %s", core, m.root)
	}

	reg, err := afero.ReadFile(m.fs, filepath.Join(dir, "of_node", "reg"))
	if err != nil {
		if os.IsNotExist(err) {
			return uint64(core), nil
		}
		return 0, fmt.Errorf("%w: read hart id of core %d: %w", errors.ErrIOFailure, core, err)
	}
	switch len(reg) {
	case 4:
		return uint64(binary.BigEndian.Uint32(reg)), nil
	case 8:
		return binary.BigEndian.Uint64(reg), nil
	default:
		return 0, errors.Kindf(errors.ErrParseError, "core %d reg has %d bytes", core, len(reg))
	}
}

// PossibleFromSysfs returns the number of possible cores listed in
// {root}/possible.
func PossibleFromSysfs(fs afero.Fs, root string) (int, error) {
	data, err := afero.ReadFile(fs, filepath.Join(root, "possible"))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errors.ErrIOFailure, err)
	}
	cpus, err := util.ParseCPUList(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}
	if len(cpus) == 0 {
		return 0, errors.Kindf(errors.ErrParseError, "empty possible cpu list")
	}
	return cpus[len(cpus)-1] + 1, nil
}
