// Package partition implements the partition lifecycle: creating an
// instance from a request string, loading and starting it on its boot
// core, and tearing it down again.
//
// A Manager owns every live Instance of the process. State that must
// outlive the process (identity, request, policies) is written to a
// state.Store so a later Manager can Attach to instances it did not create.
package partition

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nrednav/cuid2"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/dysche/internal/bootcpu"
	"github.com/Iron-Ham/dysche/internal/errors"
	"github.com/Iron-Ham/dysche/internal/event"
	"github.com/Iron-Ham/dysche/internal/fdt"
	"github.com/Iron-Ham/dysche/internal/inspect"
	"github.com/Iron-Ham/dysche/internal/layout"
	"github.com/Iron-Ham/dysche/internal/loader"
	"github.com/Iron-Ham/dysche/internal/logging"
	"github.com/Iron-Ham/dysche/internal/registry"
	"github.com/Iron-Ham/dysche/internal/resource"
	"github.com/Iron-Ham/dysche/internal/state"
)

// Stopper is implemented by starters that can return a core to the
// stopped state.
type Stopper interface {
	Stop(core int) error
}

// ManagerConfig holds lifecycle defaults.
type ManagerConfig struct {
	// Possible is the number of cores on the host.
	Possible int
	// DefaultMaxLost is the initial heartbeat threshold of new instances.
	DefaultMaxLost int
	// DefaultRestart is the initial restart policy of new instances.
	DefaultRestart int
	// UEFI is forwarded to generated device trees when non-nil.
	UEFI        *fdt.UEFI
	RequireUEFI bool
	// Reservations, when non-empty, bound every declared memory range.
	Reservations []layout.Range
}

// DefaultManagerConfig returns the defaults for a single-core host.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Possible:       1,
		DefaultMaxLost: 5,
		DefaultRestart: -1,
	}
}

// Manager creates, runs and destroys instances.
type Manager struct {
	mu        sync.RWMutex
	instances map[string]*Instance

	cfg      ManagerConfig
	registry *registry.Registry
	layout   *layout.Layout
	starter  bootcpu.Starter
	loader   *loader.Preparer
	fs       afero.Fs
	tree     *inspect.Tree
	store    *state.Store
	bus      *event.Bus
	logger   *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithFs sets the filesystem resources are read from. Defaults to the OS.
func WithFs(fs afero.Fs) Option {
	return func(m *Manager) { m.fs = fs }
}

// WithLoader overrides the loader preparer.
func WithLoader(p *loader.Preparer) Option {
	return func(m *Manager) { m.loader = p }
}

// WithInspect publishes instances in the inspection tree.
func WithInspect(t *inspect.Tree) Option {
	return func(m *Manager) { m.tree = t }
}

// WithStore persists instance records.
func WithStore(s *state.Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithBus publishes lifecycle events.
func WithBus(b *event.Bus) Option {
	return func(m *Manager) { m.bus = b }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithConfig replaces the lifecycle defaults.
func WithConfig(cfg ManagerConfig) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// NewManager creates a Manager over an identity pool, a memory layout and a
// core starter.
func NewManager(reg *registry.Registry, lay *layout.Layout, starter bootcpu.Starter, opts ...Option) *Manager {
	m := &Manager{
		instances: make(map[string]*Instance),
		cfg:       DefaultManagerConfig(),
		registry:  reg,
		layout:    lay,
		starter:   starter,
		fs:        afero.NewOsFs(),
		logger:    logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.loader == nil {
		m.loader = loader.NewPreparer(loader.WithLogger(m.logger))
	}
	return m
}

// Bus returns the event bus, which may be nil.
func (m *Manager) Bus() *event.Bus { return m.bus }

// Get returns the live instance called name.
func (m *Manager) Get(name string) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[name]
	if !ok {
		return nil, errors.Kindf(errors.ErrNotFound, "no instance %q", name)
	}
	return inst, nil
}

// List returns every live instance ordered by identity.
func (m *Manager) List() []*Instance {
	m.mu.RLock()
	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool { return out[a].identity < out[b].identity })
	return out
}

// rollback runs undo steps in reverse order.
type rollback []func()

func (r *rollback) push(fn func()) { *r = append(*r, fn) }

func (r rollback) run() {
	for i := len(r) - 1; i >= 0; i-- {
		r[i]()
	}
}

// Create builds an instance from a request string and leaves it in
// StatusCreated. Nothing is loaded into partition memory yet. On failure
// every completed step is undone, so the identity pool is unchanged.
func (m *Manager) Create(ctx context.Context, request string) (*Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var undo rollback
	fail := func(step string, inst *Instance, err error) (*Instance, error) {
		undo.run()
		ierr := errors.NewInstanceError("create failed", err).WithStep(step)
		if inst != nil {
			ierr = ierr.WithIdentity(inst.identity).WithName(inst.cfg.Name)
		}
		m.logger.Warn("create failed", "step", step, "error", err)
		return nil, ierr
	}

	// 1. identity
	id, err := m.registry.Claim("")
	if err != nil {
		return fail("identity", nil, err)
	}
	undo.push(func() { _ = m.registry.Release(id) })

	// 2. every slot starts disabled
	inst := newInstance(id, request)
	inst.maxLost = m.cfg.DefaultMaxLost
	inst.restart = m.cfg.DefaultRestart

	// 3. parse
	cfg, err := ParseArgs(request, m.cfg.Possible)
	if err != nil {
		return fail("parse", inst, err)
	}
	if err := m.checkReservations(cfg.Ranges); err != nil {
		return fail("parse", inst, err)
	}
	if err := m.registry.Bind(id, cfg.Name); err != nil {
		return fail("parse", inst, err)
	}
	inst.cfg = cfg
	log := m.logger.WithInstance(cfg.Name).WithPhase("create")

	// 4-7. layout and resources
	if err := m.assemble(inst, &undo, log); err != nil {
		return fail(stepOf(err), inst, err)
	}

	// 8. inspection, registered with the status the instance is published in
	inst.status = StatusCreated
	if m.tree != nil {
		if err := m.tree.Register(cfg.Name, m.values(inst)); err != nil {
			return fail("inspect", inst, err)
		}
		undo.push(func() { _ = m.tree.Deregister(cfg.Name) })
	}

	// 9. publish
	m.mu.Lock()
	if _, dup := m.instances[cfg.Name]; dup {
		m.mu.Unlock()
		return fail("publish", inst, errors.Kindf(errors.ErrInvalidArgument, "instance %q already exists", cfg.Name))
	}
	m.instances[cfg.Name] = inst
	m.mu.Unlock()

	m.persist(ctx, inst)
	m.bus.Publish(event.NewInstanceCreatedEvent(id, cfg.Name))
	log.Info("instance created", "identity", id, "primary", cfg.Primary().String(), "cpus", inst.Info().CPUs)
	return inst, nil
}

// stepError tags an assemble failure with the step it came from.
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

func stepOf(err error) string {
	var se *stepError
	if errors.As(err, &se) {
		return se.step
	}
	return "assemble"
}

// assemble claims the layout and fills every resource slot. It is shared
// by Create and Attach; undo receives the matching cleanup steps.
func (m *Manager) assemble(inst *Instance, undo *rollback, log *logging.Logger) error {
	cfg := inst.cfg
	primary := cfg.Primary()

	// 4. layout
	window, err := m.layout.Claim(primary)
	if err != nil {
		return &stepError{"layout", err}
	}
	undo.push(func() {
		m.layout.Release(window)
		inst.window, inst.shared = nil, nil
	})
	// Runs before the layout undo: resources, then layout, then identity.
	undo.push(func() { m.releaseSlots(inst) })
	shared, err := NewSharedBlock(window.Bytes())
	if err != nil {
		return &stepError{"layout", err}
	}
	inst.window, inst.shared = window, shared

	// 5. kernel
	if cfg.Kernel == "" {
		return &stepError{"kernel", errors.NewResourceError("no kernel image", errors.ErrMissingKernel).
			WithSlot(resource.SlotKernel.String())}
	}
	inst.slots[resource.SlotKernel] = resource.NewFile(m.fs, cfg.Kernel)
	if cfg.Rootfs != "" {
		if _, disabled := inst.disabled[resource.SlotRootfs]; !disabled {
			inst.slots[resource.SlotRootfs] = resource.NewFile(m.fs, cfg.Rootfs)
		}
	}

	// 6. loader
	ldr, err := m.loader.Prepare(primary)
	if err != nil {
		return &stepError{"loader", err}
	}
	inst.slots[resource.SlotLoader] = ldr

	// 7. device tree
	if _, disabled := inst.disabled[resource.SlotFDT]; !disabled {
		blob, err := m.deviceTree(inst, log)
		if err != nil {
			return &stepError{"fdt", err}
		}
		inst.slots[resource.SlotFDT] = blob
	}
	return nil
}

func (m *Manager) deviceTree(inst *Instance, log *logging.Logger) (resource.Resource, error) {
	cfg := inst.cfg
	params := fdt.Params{
		Cmdline:     cfg.EffectiveCmdline(),
		Ranges:      cfg.Ranges,
		UEFI:        m.cfg.UEFI,
		RequireUEFI: m.cfg.RequireUEFI,
	}
	if rootfs := inst.slots[resource.SlotRootfs]; resource.IsEnabled(rootfs) {
		size, err := rootfs.Size()
		if err != nil {
			log.Warn("rootfs size unknown, device tree carries no initrd", "error", err)
		} else {
			params.RootfsSize = uint64(size)
		}
	}

	if cfg.FDT == "" {
		blob, err := fdt.Generate(params)
		if err != nil {
			return nil, err
		}
		log.Debug("generated device tree", "size", len(blob))
		return resource.Owned(blob, resource.WithLabel("generated")), nil
	}

	src, err := afero.ReadFile(m.fs, cfg.FDT)
	if err != nil {
		return nil, errors.NewResourceError("read device tree", fmt.Errorf("%w: %w", errors.ErrIOFailure, err)).
			WithSlot(resource.SlotFDT.String()).WithPath(cfg.FDT)
	}
	blob, err := fdt.Patch(src, params)
	if err != nil {
		return nil, errors.NewResourceError("patch device tree", err).
			WithSlot(resource.SlotFDT.String()).WithPath(cfg.FDT)
	}
	log.Debug("patched device tree", "path", cfg.FDT, "size", len(blob))
	return resource.Owned(blob, resource.WithLabel("patched "+cfg.FDT)), nil
}

func (m *Manager) checkReservations(ranges []layout.Range) error {
	if len(m.cfg.Reservations) == 0 {
		return nil
	}
	for _, r := range ranges {
		if !layout.Within(r, m.cfg.Reservations) {
			return errors.Kindf(errors.ErrInvalidArgument, "range %s is outside the reserved memory", r)
		}
	}
	return nil
}

func (m *Manager) releaseSlots(inst *Instance) {
	// kernel, loader, rootfs, device tree
	for _, slot := range []resource.Slot{resource.SlotKernel, resource.SlotLoader, resource.SlotRootfs, resource.SlotFDT} {
		if err := inst.slots[slot].Release(); err != nil {
			m.logger.Warn("release failed", "instance", inst.cfg.Name, "slot", slot.String(), "error", err)
		}
		inst.slots[slot] = resource.Disabled()
	}
}

func (m *Manager) values(inst *Instance) inspect.Values {
	return inspect.Values{
		Status:    inst.status.String(),
		CPU:       inst.Info().CPUs,
		Desc:      inst.Describe(),
		Heartbeat: inst.maxLost,
		Partep:    inst.partep,
		Restart:   inst.restart,
		Cmdline:   inst.cfg.EffectiveCmdline(),
	}
}

// Run loads the instance into partition memory and starts its boot core at
// the loader. Loader and kernel load failures are fatal and leave the status
// unchanged. Device tree and rootfs failures only disable that resource.
func (m *Manager) Run(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	inst, err := m.Get(name)
	if err != nil {
		return err
	}
	inst.Lock()
	defer inst.Unlock()
	return m.runLocked(ctx, inst)
}

func (m *Manager) runLocked(ctx context.Context, inst *Instance) error {
	log := m.logger.WithInstance(inst.cfg.Name).WithPhase("run")
	prev := inst.status
	if !prev.Runnable() {
		return errors.NewInstanceError(fmt.Sprintf("cannot run from status %s", prev), errors.ErrInvalidState).
			WithIdentity(inst.identity).WithName(inst.cfg.Name).WithStep("run")
	}
	if inst.shared == nil {
		return errors.NewInstanceError("shared config not mapped", errors.ErrNotReady).
			WithIdentity(inst.identity).WithName(inst.cfg.Name).WithStep("run")
	}

	m.setStatusLocked(ctx, inst, StatusBooting)
	inst.shared.Stamp(inst.identity)
	primary := inst.cfg.Primary()

	fatal := func(step string, err error) error {
		m.setStatusLocked(ctx, inst, prev)
		log.Error("run failed", "step", step, "error", err)
		return errors.NewInstanceError("run failed", fmt.Errorf("%w: %w", errors.ErrBootFailure, err)).
			WithIdentity(inst.identity).WithName(inst.cfg.Name).WithStep(step)
	}

	for _, l := range []struct {
		slot   resource.Slot
		region layout.Region
	}{
		{resource.SlotLoader, layout.Loader},
		{resource.SlotKernel, layout.Kernel},
	} {
		if err := m.layout.LoadRegion(primary, l.region, 0, inst.slots[l.slot]); err != nil {
			return fatal(l.slot.String(), err)
		}
	}

	for _, l := range []struct {
		slot   resource.Slot
		region layout.Region
	}{
		{resource.SlotFDT, layout.FDT},
		{resource.SlotRootfs, layout.Rootfs},
	} {
		res := inst.slots[l.slot]
		if !res.Enabled() {
			continue
		}
		if err := m.layout.LoadRegion(primary, l.region, 0, res); err != nil {
			log.Report("optional resource disabled", errors.NewResourceError("load", err).
				WithSlot(l.slot.String()).WithSeverity(errors.SeverityWarning))
			if rerr := res.Release(); rerr != nil {
				log.Warn("release failed", "slot", l.slot.String(), "error", rerr)
			}
			inst.slots[l.slot] = resource.Disabled()
			inst.disabled[l.slot] = err.Error()
			m.bus.Publish(event.NewResourceDisabledEvent(inst.cfg.Name, l.slot.String(), err.Error()))
		}
	}

	entry, err := layout.PhysAddr(primary, layout.Loader)
	if err != nil {
		return fatal("entry", err)
	}
	core := inst.BootCore()
	if err := m.starter.Start(core, entry); err != nil {
		next := StatusCreated
		if errors.IsUnrecoverable(err) {
			next = StatusLost
		}
		m.setStatusLocked(ctx, inst, next)
		log.Error("core start failed", "core", core, "entry", fmt.Sprintf("%#x", entry), "status", next.String(), "error", err)
		return errors.NewInstanceError("start boot core", err).
			WithIdentity(inst.identity).WithName(inst.cfg.Name).WithStep("start")
	}

	inst.bootID = cuid2.Generate()
	inst.resetHeartbeatLocked()
	m.setStatusLocked(ctx, inst, StatusRunning)
	m.bus.Publish(event.NewInstanceStartedEvent(inst.cfg.Name, inst.bootID, core, entry))
	log.Info("instance running", "core", core, "entry", fmt.Sprintf("%#x", entry), "boot_id", inst.bootID)
	return nil
}

// CreateAndRun creates an instance and runs it, destroying it again when
// Run fails.
func (m *Manager) CreateAndRun(ctx context.Context, request string) (*Instance, error) {
	inst, err := m.Create(ctx, request)
	if err != nil {
		return nil, err
	}
	if err := m.Run(ctx, inst.Name()); err != nil {
		if derr := m.Destroy(ctx, inst.Name()); derr != nil {
			m.logger.Warn("destroy after failed run", "instance", inst.Name(), "error", derr)
		}
		return nil, err
	}
	return inst, nil
}

// Reboot stops the boot core when the starter supports it and runs the
// instance again. Allowed from Running and Lost.
func (m *Manager) Reboot(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	inst, err := m.Get(name)
	if err != nil {
		return err
	}
	inst.Lock()
	defer inst.Unlock()

	if inst.status != StatusRunning && inst.status != StatusLost {
		return errors.NewInstanceError(fmt.Sprintf("cannot reboot from status %s", inst.status), errors.ErrInvalidState).
			WithIdentity(inst.identity).WithName(name).WithStep("reboot")
	}
	return m.rebootLocked(ctx, inst)
}

// Restart is Reboot for an instance whose previous run or reboot may have
// failed. It also accepts Created and Rebooting, where the boot core was
// never started, and skips stopping the core in that case.
func (m *Manager) Restart(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	inst, err := m.Get(name)
	if err != nil {
		return err
	}
	inst.Lock()
	defer inst.Unlock()

	switch inst.status {
	case StatusRunning, StatusLost, StatusCreated, StatusRebooting:
	default:
		return errors.NewInstanceError(fmt.Sprintf("cannot restart from status %s", inst.status), errors.ErrInvalidState).
			WithIdentity(inst.identity).WithName(name).WithStep("restart")
	}
	return m.rebootLocked(ctx, inst)
}

func (m *Manager) rebootLocked(ctx context.Context, inst *Instance) error {
	if inst.status == StatusRunning || inst.status == StatusLost {
		m.stopCore(inst)
	}
	inst.restarts++
	m.setStatusLocked(ctx, inst, StatusRebooting)
	return m.runLocked(ctx, inst)
}

func (m *Manager) stopCore(inst *Instance) {
	stopper, ok := m.starter.(Stopper)
	if !ok {
		return
	}
	if err := stopper.Stop(inst.BootCore()); err != nil && !errors.Is(err, errors.ErrNotSupported) {
		m.logger.Warn("stop boot core", "instance", inst.cfg.Name, "core", inst.BootCore(), "error", err)
	}
}

// Destroy tears an instance down: the shared config window is unmapped,
// the inspection entry removed, every resource released and the identity
// returned to the pool. Release failures are logged, never returned.
func (m *Manager) Destroy(ctx context.Context, name string) error {
	inst, err := m.Get(name)
	if err != nil {
		return err
	}
	inst.Lock()
	defer inst.Unlock()

	log := m.logger.WithInstance(name).WithPhase("destroy")
	if inst.status == StatusRunning || inst.status == StatusLost || inst.status == StatusBooting {
		m.stopCore(inst)
	}
	m.setStatusLocked(ctx, inst, StatusShuttingDown)

	m.layout.Release(inst.window)
	inst.window, inst.shared = nil, nil
	if m.tree != nil {
		if err := m.tree.Deregister(name); err != nil {
			log.Warn("deregister failed", "error", err)
		}
	}
	m.releaseSlots(inst)
	if err := m.registry.Release(inst.identity); err != nil {
		log.Warn("identity release failed", "identity", inst.identity, "error", err)
	}
	if m.store != nil {
		if err := m.store.Delete(context.WithoutCancel(ctx), name); err != nil {
			log.Warn("record delete failed", "error", err)
		}
	}

	m.mu.Lock()
	delete(m.instances, name)
	m.mu.Unlock()

	inst.status = StatusNone
	m.bus.Publish(event.NewInstanceDestroyedEvent(inst.identity, name))
	log.Info("instance destroyed", "identity", inst.identity)
	return nil
}

// SetHeartbeat sets the number of missed beats before an instance is Lost.
func (m *Manager) SetHeartbeat(ctx context.Context, name string, maxLost int) error {
	if maxLost < 1 {
		return errors.Kindf(errors.ErrInvalidArgument, "heartbeat threshold must be at least 1, got %d", maxLost)
	}
	return m.update(ctx, name, inspect.AttrHeartbeat, maxLost, func(inst *Instance) error {
		inst.maxLost = maxLost
		return nil
	})
}

// SetRestart sets the restart policy: -1 never, 0 unlimited, N times.
func (m *Manager) SetRestart(ctx context.Context, name string, policy int) error {
	if policy < -1 {
		return errors.Kindf(errors.ErrInvalidArgument, "restart policy must be -1, 0 or positive, got %d", policy)
	}
	return m.update(ctx, name, inspect.AttrRestart, policy, func(inst *Instance) error {
		inst.restart = policy
		inst.restarts = 0
		return nil
	})
}

// SetPartep toggles the partition endpoint. Enabling it clears the
// endpoint region.
func (m *Manager) SetPartep(ctx context.Context, name string, on bool) error {
	return m.update(ctx, name, inspect.AttrPartep, on, func(inst *Instance) error {
		if on && !inst.partep {
			if err := m.layout.ZeroRegion(inst.cfg.Primary(), layout.PartEP); err != nil {
				return err
			}
		}
		inst.partep = on
		return nil
	})
}

func (m *Manager) update(ctx context.Context, name, attr string, value any, apply func(*Instance) error) error {
	inst, err := m.Get(name)
	if err != nil {
		return err
	}
	inst.Lock()
	defer inst.Unlock()
	if err := apply(inst); err != nil {
		return err
	}
	if m.tree != nil {
		if err := m.tree.Update(name, attr, value); err != nil {
			m.logger.Warn("inspect update failed", "instance", name, "attr", attr, "error", err)
		}
	}
	m.persist(ctx, inst)
	return nil
}

// MarkLost moves a running instance to StatusLost.
func (m *Manager) MarkLost(ctx context.Context, name, reason string) error {
	inst, err := m.Get(name)
	if err != nil {
		return err
	}
	inst.Lock()
	defer inst.Unlock()
	if inst.status == StatusLost {
		return nil
	}
	if inst.status != StatusRunning && inst.status != StatusBooting {
		return errors.NewInstanceError(fmt.Sprintf("cannot mark %s instance lost", inst.status), errors.ErrInvalidState).
			WithIdentity(inst.identity).WithName(name)
	}
	m.logger.WithInstance(name).Warn("instance lost", "reason", reason)
	m.setStatusLocked(ctx, inst, StatusLost)
	return nil
}

// RestartDue reports whether the restart policy allows another restart of
// inst and returns the attempt number it would be.
func (m *Manager) RestartDue(inst *Instance) (attempt int, ok bool) {
	inst.Lock()
	defer inst.Unlock()
	switch {
	case inst.restart < 0:
		return 0, false
	case inst.restart == 0:
		return inst.restarts + 1, true
	default:
		return inst.restarts + 1, inst.restarts < inst.restart
	}
}

func (m *Manager) setStatusLocked(ctx context.Context, inst *Instance, next Status) {
	prev := inst.status
	if prev == next {
		return
	}
	inst.status = next
	if m.tree != nil && m.tree.Registered(inst.cfg.Name) {
		if err := m.tree.Update(inst.cfg.Name, inspect.AttrStatus, next.String()); err != nil {
			m.logger.Warn("inspect update failed", "instance", inst.cfg.Name, "error", err)
		}
	}
	if next != StatusShuttingDown && next != StatusBooting {
		m.persist(ctx, inst)
	}
	m.bus.Publish(event.NewStatusChangedEvent(inst.cfg.Name, prev.String(), next.String()))
}

func (m *Manager) persist(ctx context.Context, inst *Instance) {
	if m.store == nil || inst.cfg.Name == "" {
		return
	}
	disabled := make([]string, 0, len(inst.disabled))
	for slot := range inst.disabled {
		disabled = append(disabled, slot.String())
	}
	sort.Strings(disabled)
	rec := state.Record{
		Name:      inst.cfg.Name,
		Identity:  inst.identity,
		Request:   inst.request,
		Status:    inst.status.String(),
		BootID:    inst.bootID,
		Disabled:  disabled,
		MaxLost:   inst.maxLost,
		Restart:   inst.restart,
		Restarts:  inst.restarts,
		Partep:    inst.partep,
		CreatedAt: inst.created,
	}
	if err := m.store.Save(context.WithoutCancel(ctx), rec); err != nil {
		m.logger.Warn("record save failed", "instance", inst.cfg.Name, "error", err)
	}
}
