package config

import (
	"os"
	"path/filepath"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/dysche/internal/util"
)

// Config holds all dysche settings.
type Config struct {
	Registry   RegistryConfig   `mapstructure:"registry" yaml:"registry"`
	Paths      PathsConfig      `mapstructure:"paths" yaml:"paths"`
	Memory     MemoryConfig     `mapstructure:"memory" yaml:"memory"`
	Boot       BootConfig       `mapstructure:"boot" yaml:"boot"`
	Loader     LoaderConfig     `mapstructure:"loader" yaml:"loader"`
	FDT        FDTConfig        `mapstructure:"fdt" yaml:"fdt"`
	Firmware   FirmwareConfig   `mapstructure:"firmware" yaml:"firmware"`
	Host       HostConfig       `mapstructure:"host" yaml:"host"`
	CPEC       CPECConfig       `mapstructure:"cpec" yaml:"cpec"`
	Supervisor SupervisorConfig `mapstructure:"supervisor" yaml:"supervisor"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// RegistryConfig sizes the identity pool.
type RegistryConfig struct {
	// Capacity is the number of instances that may be live at once (identities 1..Capacity).
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

// PathsConfig controls where dysche keeps state.
type PathsConfig struct {
	// StateDir holds instance records, the process lock and dysche.log.
	// Empty means $XDG_STATE_HOME/dysche.
	StateDir string `mapstructure:"state_dir" yaml:"state_dir"`
	// RunDir holds the per-instance inspection tree. Empty means {StateDir}/run.
	RunDir string `mapstructure:"run_dir" yaml:"run_dir"`
}

// Memory backends
const (
	MemoryDevMem = "/dev/mem"
	MemorySim    = "sim"
)

// MemoryConfig selects how physical memory is reached.
type MemoryConfig struct {
	// Device is a memory device path (normally /dev/mem) or "sim".
	Device string `mapstructure:"device" yaml:"device"`
	// SimRanges lists the size@addr ranges backed by the simulator.
	SimRanges []string `mapstructure:"sim_ranges" yaml:"sim_ranges"`
}

// Firmware backends and hart map sources
const (
	FirmwareDevice = "device"
	FirmwareSim    = "sim"

	HartMapSysfs    = "sysfs"
	HartMapIdentity = "identity"
)

// BootConfig selects the cross-core start primitive.
type BootConfig struct {
	Firmware       string `mapstructure:"firmware" yaml:"firmware"`
	FirmwareDevice string `mapstructure:"firmware_device" yaml:"firmware_device"`
	HartMap        string `mapstructure:"hart_map" yaml:"hart_map"`
	SysfsCPURoot   string `mapstructure:"sysfs_cpu_root" yaml:"sysfs_cpu_root"`
}

// LoaderConfig overrides the builtin loader stub.
type LoaderConfig struct {
	// Path to a custom stub. Empty uses the builtin riscv64 stub.
	Path string `mapstructure:"path" yaml:"path"`
	// FDTOffset and KernelOffset locate the two 8-byte patch fields in the stub.
	FDTOffset    int `mapstructure:"fdt_offset" yaml:"fdt_offset"`
	KernelOffset int `mapstructure:"kernel_offset" yaml:"kernel_offset"`
}

// FDTConfig controls device tree generation.
type FDTConfig struct {
	// RequireUEFI fails generation when no UEFI parameters are configured.
	RequireUEFI bool `mapstructure:"require_uefi" yaml:"require_uefi"`
}

// FirmwareConfig carries boot firmware parameters forwarded to guests.
type FirmwareConfig struct {
	UEFI UEFIConfig `mapstructure:"uefi" yaml:"uefi"`
}

// UEFIConfig mirrors the host's EFI memory map location.
type UEFIConfig struct {
	SystemTable  util.Size `mapstructure:"system_table" yaml:"system_table"`
	MmapStart    util.Size `mapstructure:"mmap_start" yaml:"mmap_start"`
	MmapSize     util.Size `mapstructure:"mmap_size" yaml:"mmap_size"`
	MmapDescSize uint32    `mapstructure:"mmap_desc_size" yaml:"mmap_desc_size"`
	MmapDescVer  uint32    `mapstructure:"mmap_desc_ver" yaml:"mmap_desc_ver"`
}

// Available reports whether a UEFI memory map was configured.
func (u UEFIConfig) Available() bool {
	return u.SystemTable != 0 && u.MmapSize != 0
}

// HostConfig describes the host.
type HostConfig struct {
	// CPUs is the number of possible cores. 0 detects it.
	CPUs int `mapstructure:"cpus" yaml:"cpus"`
}

// CPECConfig is the reserved cross-partition memory region reported by `dysche cpec`.
type CPECConfig struct {
	Size util.Size `mapstructure:"size" yaml:"size"`
	Addr util.Size `mapstructure:"addr" yaml:"addr"`
}

// SupervisorConfig controls the heartbeat daemon.
type SupervisorConfig struct {
	IntervalMS int `mapstructure:"interval_ms" yaml:"interval_ms"`
	// DefaultMaxLost is the number of missed ticks before an instance is Lost.
	DefaultMaxLost int `mapstructure:"default_max_lost" yaml:"default_max_lost"`
	// DefaultRestart is the restart policy for new instances: -1 never, 0 unlimited, N times.
	DefaultRestart int `mapstructure:"default_restart" yaml:"default_restart"`
	// Parallel bounds concurrent instance checks per tick.
	Parallel int `mapstructure:"parallel" yaml:"parallel"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Level      string `mapstructure:"level" yaml:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Registry: RegistryConfig{Capacity: 4},
		Memory: MemoryConfig{
			Device:    MemoryDevMem,
			SimRanges: []string{"1G@0x80000000"},
		},
		Boot: BootConfig{
			Firmware:       FirmwareDevice,
			FirmwareDevice: "/dev/dysche",
			HartMap:        HartMapSysfs,
			SysfsCPURoot:   "/sys/devices/system/cpu",
		},
		Loader: LoaderConfig{
			FDTOffset:    24,
			KernelOffset: 32,
		},
		Supervisor: SupervisorConfig{
			IntervalMS:     1000,
			DefaultMaxLost: 5,
			DefaultRestart: -1,
			Parallel:       4,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with viper.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("registry.capacity", defaults.Registry.Capacity)

	viper.SetDefault("paths.state_dir", defaults.Paths.StateDir)
	viper.SetDefault("paths.run_dir", defaults.Paths.RunDir)

	viper.SetDefault("memory.device", defaults.Memory.Device)
	viper.SetDefault("memory.sim_ranges", defaults.Memory.SimRanges)

	viper.SetDefault("boot.firmware", defaults.Boot.Firmware)
	viper.SetDefault("boot.firmware_device", defaults.Boot.FirmwareDevice)
	viper.SetDefault("boot.hart_map", defaults.Boot.HartMap)
	viper.SetDefault("boot.sysfs_cpu_root", defaults.Boot.SysfsCPURoot)

	viper.SetDefault("loader.path", defaults.Loader.Path)
	viper.SetDefault("loader.fdt_offset", defaults.Loader.FDTOffset)
	viper.SetDefault("loader.kernel_offset", defaults.Loader.KernelOffset)

	viper.SetDefault("fdt.require_uefi", defaults.FDT.RequireUEFI)

	viper.SetDefault("firmware.uefi.system_table", "0")
	viper.SetDefault("firmware.uefi.mmap_start", "0")
	viper.SetDefault("firmware.uefi.mmap_size", "0")
	viper.SetDefault("firmware.uefi.mmap_desc_size", 0)
	viper.SetDefault("firmware.uefi.mmap_desc_ver", 0)

	viper.SetDefault("host.cpus", defaults.Host.CPUs)

	viper.SetDefault("cpec.size", "0")
	viper.SetDefault("cpec.addr", "0")

	viper.SetDefault("supervisor.interval_ms", defaults.Supervisor.IntervalMS)
	viper.SetDefault("supervisor.default_max_lost", defaults.Supervisor.DefaultMaxLost)
	viper.SetDefault("supervisor.default_restart", defaults.Supervisor.DefaultRestart)
	viper.SetDefault("supervisor.parallel", defaults.Supervisor.Parallel)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// SizeDecodeHook converts memparse strings ("64M", "0x80000000") and plain
// integers into util.Size fields.
func SizeDecodeHook() mapstructure.DecodeHookFuncType {
	sizeType := reflect.TypeOf(util.Size(0))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != sizeType {
			return data, nil
		}
		switch from.Kind() {
		case reflect.String:
			s := data.(string)
			if s == "" {
				return util.Size(0), nil
			}
			v, err := util.ParseSize(s)
			if err != nil {
				return nil, err
			}
			return util.Size(v), nil
		default:
			return data, nil
		}
	}
}

// DecoderOptions returns the viper decode options used by Load.
func DecoderOptions() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		SizeDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg, DecoderOptions()); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults if it
// cannot be loaded.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dysche")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dysche"
	}
	return filepath.Join(home, ".config", "dysche")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ResolveStateDir returns the configured state directory or the XDG default.
func (p PathsConfig) ResolveStateDir() string {
	if p.StateDir != "" {
		return p.StateDir
	}
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "dysche")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dysche"
	}
	return filepath.Join(home, ".local", "state", "dysche")
}

// ResolveRunDir returns the inspection tree root.
func (p PathsConfig) ResolveRunDir() string {
	if p.RunDir != "" {
		return p.RunDir
	}
	return filepath.Join(p.ResolveStateDir(), "run")
}
