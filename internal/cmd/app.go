package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/dysche/internal/bootcpu"
	"github.com/Iron-Ham/dysche/internal/config"
	"github.com/Iron-Ham/dysche/internal/errors"
	"github.com/Iron-Ham/dysche/internal/event"
	"github.com/Iron-Ham/dysche/internal/fdt"
	"github.com/Iron-Ham/dysche/internal/inspect"
	"github.com/Iron-Ham/dysche/internal/layout"
	"github.com/Iron-Ham/dysche/internal/loader"
	"github.com/Iron-Ham/dysche/internal/logging"
	"github.com/Iron-Ham/dysche/internal/partition"
	"github.com/Iron-Ham/dysche/internal/physmem"
	"github.com/Iron-Ham/dysche/internal/registry"
	"github.com/Iron-Ham/dysche/internal/state"
	"github.com/Iron-Ham/dysche/internal/util"
)

// lockPoll is how often a blocked command retries the state lock.
const lockPoll = 100 * time.Millisecond

// app is the fully wired runtime shared by every command.
type app struct {
	cfg      *config.Config
	stateDir string
	logger   *logging.Logger
	fs       afero.Fs
	mapper   physmem.Mapper
	lay      *layout.Layout
	reg      *registry.Registry
	firmware bootcpu.Firmware
	starter  *bootcpu.CoreStarter
	tree     *inspect.Tree
	store    *state.Store
	bus      *event.Bus
	mgr      *partition.Manager
	possible int
}

// newApp loads configuration and wires every component. No lock is taken.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return newAppFromConfig(cfg)
}

func newAppFromConfig(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, stateDir: cfg.Paths.ResolveStateDir(), fs: afero.NewOsFs()}
	if err := os.MkdirAll(a.stateDir, 0o755); err != nil {
		return nil, errors.Wrap(fmt.Errorf("%w: %w", errors.ErrIOFailure, err), "failed to create state directory")
	}

	if cfg.Logging.Enabled {
		logger, err := logging.NewLogger(a.stateDir, cfg.Logging.Level, logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		})
		if err != nil {
			return nil, err
		}
		a.logger = logger
	} else {
		a.logger = logging.NopLogger()
	}

	reservations, err := a.openMemory()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.lay = layout.New(a.mapper, layout.WithLogger(a.logger))

	a.reg, err = registry.New(cfg.Registry.Capacity, registry.WithLogger(a.logger))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.possible = bootcpu.PossibleCores(cfg.Host.CPUs, a.fs, cfg.Boot.SysfsCPURoot, a.logger)
	var harts bootcpu.HartMap = bootcpu.IdentityMap{}
	if cfg.Boot.HartMap == config.HartMapSysfs {
		harts = bootcpu.NewSysfsMap(a.fs, cfg.Boot.SysfsCPURoot)
	}
	if cfg.Boot.Firmware == config.FirmwareSim {
		a.firmware = bootcpu.NewSimFirmware(a.fs, filepath.Join(a.stateDir, "sim", "harts.json"))
	} else {
		a.firmware = bootcpu.NewDeviceFirmware(cfg.Boot.FirmwareDevice)
	}
	a.starter = bootcpu.NewCoreStarter(harts, a.firmware, a.possible, bootcpu.WithLogger(a.logger))

	a.tree = inspect.New(a.fs, cfg.Paths.ResolveRunDir())
	a.store, err = state.NewStore(a.fs, a.stateDir)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.bus = event.NewBus(event.WithLogger(a.logger))
	a.bus.SubscribeAll(func(e event.Event) {
		a.logger.Debug("event", "type", e.EventType())
	})

	loaderOpts := []loader.Option{loader.WithLogger(a.logger)}
	if cfg.Loader.Path != "" {
		loaderOpts = append(loaderOpts, loader.WithCustomStub(a.fs, cfg.Loader.Path, cfg.Loader.FDTOffset, cfg.Loader.KernelOffset))
	}

	mcfg := partition.ManagerConfig{
		Possible:       a.possible,
		DefaultMaxLost: cfg.Supervisor.DefaultMaxLost,
		DefaultRestart: cfg.Supervisor.DefaultRestart,
		RequireUEFI:    cfg.FDT.RequireUEFI,
		Reservations:   reservations,
	}
	if u := cfg.Firmware.UEFI; u.Available() {
		mcfg.UEFI = &fdt.UEFI{
			SystemTable: uint64(u.SystemTable),
			MmapStart:   uint64(u.MmapStart),
			MmapSize:    uint64(u.MmapSize),
			DescSize:    u.MmapDescSize,
			DescVer:     u.MmapDescVer,
		}
	}

	a.mgr = partition.NewManager(a.reg, a.lay, a.starter,
		partition.WithConfig(mcfg),
		partition.WithFs(a.fs),
		partition.WithLoader(loader.NewPreparer(loaderOpts...)),
		partition.WithInspect(a.tree),
		partition.WithStore(a.store),
		partition.WithBus(a.bus),
		partition.WithLogger(a.logger),
	)

	if err := a.writeCPEC(); err != nil {
		a.logger.Warn("failed to publish cpec_mem", "error", err)
	}
	return a, nil
}

// openMemory selects the physical memory backend and returns the ranges
// partitions may use.
func (a *app) openMemory() ([]layout.Range, error) {
	if a.cfg.Memory.Device == config.MemorySim {
		sim := physmem.NewSim(physmem.WithBackingDir(filepath.Join(a.stateDir, "sim")))
		var ranges []layout.Range
		for _, s := range a.cfg.Memory.SimRanges {
			r, err := layout.ParseRange(s)
			if err != nil {
				return nil, err
			}
			if err := sim.Register(r.Addr, r.Size); err != nil {
				return nil, err
			}
			ranges = append(ranges, r)
		}
		a.mapper = sim
		return ranges, nil
	}

	dev, err := physmem.OpenDevMem(a.cfg.Memory.Device)
	if err != nil {
		return nil, err
	}
	a.mapper = dev

	cmdline, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		a.logger.Warn("cannot read host command line, memory reservations unchecked", "error", err)
		return nil, nil
	}
	ranges, bad := layout.ParseReserveParam(string(cmdline))
	for _, b := range bad {
		a.logger.Warn("ignoring malformed reservation", "param", layout.ReserveParam, "value", b)
	}
	return ranges, nil
}

func (a *app) writeCPEC() error {
	return a.tree.WriteRoot(inspect.FileCPEC,
		util.FormatRange(uint64(a.cfg.CPEC.Size), uint64(a.cfg.CPEC.Addr))+"\n")
}

// locked runs fn under the state lock after re-attaching to every
// persisted instance.
func (a *app) locked(ctx context.Context, command string, fn func(context.Context) error) error {
	lock, err := state.AcquireLockWait(ctx, a.stateDir, command, lockPoll, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			a.logger.Warn("failed to release state lock", "error", err)
		}
	}()

	_, skipped, err := a.mgr.Attach(ctx)
	if err != nil {
		return err
	}
	for _, s := range skipped {
		a.logger.Report("skipped instance record", s)
	}
	return fn(ctx)
}

// Close detaches instances and releases the memory backend and log file.
// Running partitions are not affected.
func (a *app) Close() {
	if a.mgr != nil {
		a.mgr.Close()
	}
	if a.mapper != nil {
		if err := a.mapper.Close(); err != nil {
			a.logger.Warn("failed to close memory backend", "error", err)
		}
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

// withApp is the common RunE wrapper: build the app, take the lock, run fn.
func withApp(cmd string, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := context.Background()
	return a.locked(ctx, cmd, func(ctx context.Context) error {
		return fn(ctx, a)
	})
}

func formatRange(r layout.Range) string {
	return util.FormatRange(r.Size, r.Addr)
}
