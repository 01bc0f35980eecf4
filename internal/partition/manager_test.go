package partition

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/dysche/internal/bootcpu"
	"github.com/Iron-Ham/dysche/internal/errors"
	"github.com/Iron-Ham/dysche/internal/event"
	"github.com/Iron-Ham/dysche/internal/fdt"
	"github.com/Iron-Ham/dysche/internal/inspect"
	"github.com/Iron-Ham/dysche/internal/layout"
	"github.com/Iron-Ham/dysche/internal/physmem"
	"github.com/Iron-Ham/dysche/internal/registry"
	"github.com/Iron-Ham/dysche/internal/resource"
	"github.com/Iron-Ham/dysche/internal/state"
)

const (
	mib      = 1 << 20
	base     = 0x80000000
	vm0      = "slave_name=vm0 memory=64M@0x80000000 cpu_ids=2 kernel=/img/k cmdline=console=ttyS0"
	stateDir = "/var/lib/dysche"
)

var kernelImage = []byte("riscv64 kernel image")

type fixture struct {
	fs     afero.Fs
	sim    *physmem.Sim
	fw     *bootcpu.SimFirmware
	reg    *registry.Registry
	lay    *layout.Layout
	tree   *inspect.Tree
	store  *state.Store
	bus    *event.Bus
	mgr    *Manager
	events []event.Event
	mu     sync.Mutex
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{fs: afero.NewMemMapFs()}

	f.sim = physmem.NewSim()
	if err := f.sim.Register(base, 1<<30); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = f.sim.Close() })

	if err := afero.WriteFile(f.fs, "/img/k", kernelImage, 0o644); err != nil {
		t.Fatal(err)
	}

	f.fw = bootcpu.NewSimFirmware(f.fs, "")
	reg, err := registry.New(registry.DefaultCapacity)
	if err != nil {
		t.Fatal(err)
	}
	f.reg = reg
	f.lay = layout.New(f.sim)
	f.tree = inspect.New(f.fs, "/run/dysche")
	f.store, err = state.NewStore(f.fs, stateDir)
	if err != nil {
		t.Fatal(err)
	}
	f.bus = event.NewBus()
	f.bus.SubscribeAll(func(e event.Event) {
		f.mu.Lock()
		f.events = append(f.events, e)
		f.mu.Unlock()
	})

	f.mgr = f.newManager(f.reg, opts...)
	return f
}

func (f *fixture) newManager(reg *registry.Registry, opts ...Option) *Manager {
	cfg := DefaultManagerConfig()
	cfg.Possible = 4
	starter := bootcpu.NewCoreStarter(bootcpu.IdentityMap{}, f.fw, 4)
	all := append([]Option{
		WithConfig(cfg),
		WithFs(f.fs),
		WithInspect(f.tree),
		WithStore(f.store),
		WithBus(f.bus),
	}, opts...)
	return NewManager(reg, f.lay, starter, all...)
}

func (f *fixture) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.EventType())
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestCreateRun_VM0(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inst, err := f.mgr.Create(ctx, vm0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id := inst.Identity(); id < 1 || id > 4 {
		t.Errorf("identity %d outside [1,4]", id)
	}
	if inst.Status() != StatusCreated {
		t.Errorf("status = %v", inst.Status())
	}

	ldr := inst.Resource(resource.SlotLoader)
	if ldr.Kind() != resource.KindBorrowed {
		t.Errorf("loader kind = %v, want builtin borrowed", ldr.Kind())
	}
	blob := inst.Resource(resource.SlotFDT).(*resource.Buffer).Bytes()
	tree, err := fdt.Parse(blob)
	if err != nil {
		t.Fatalf("generated tree: %v", err)
	}
	chosen, ok := tree.Lookup("/chosen")
	if !ok {
		t.Fatal("no /chosen")
	}
	bootargs, _ := chosen.Prop("bootargs")
	if s, _ := bootargs.AsString(); s != "console=ttyS0 dysche_mode " {
		t.Errorf("bootargs = %q", s)
	}
	usable, _ := chosen.Prop("linux,usable-memory-range")
	if cells, _ := usable.Cells(2); len(cells) != 2 {
		t.Errorf("usable-memory-range entries = %v", cells)
	}

	if got, _ := f.tree.Read("vm0", inspect.AttrStatus); got != "created" {
		t.Errorf("inspect status = %q", got)
	}
	if got, _ := f.tree.Read("vm0", inspect.AttrCPU); got != "2" {
		t.Errorf("inspect cpu = %q", got)
	}

	if err := f.mgr.Run(ctx, "vm0"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if inst.Status() != StatusRunning {
		t.Errorf("status = %v", inst.Status())
	}
	loaderAddr, _ := layout.PhysAddr(inst.Primary(), layout.Loader)
	hart, ok := f.fw.Running(2)
	if !ok {
		t.Fatal("boot core 2 not started")
	}
	if hart.Entry != loaderAddr || loaderAddr != base+6*mib {
		t.Errorf("entry = %#x, loader = %#x", hart.Entry, loaderAddr)
	}

	// The 64M primary leaves no room for the device tree region.
	info := inst.Info()
	if _, disabled := info.Disabled["fdt"]; !disabled {
		t.Errorf("fdt not disabled: %+v", info.Disabled)
	}
	if info.BootID == "" {
		t.Error("no boot id")
	}

	kernel, _ := f.sim.Peek(base+8*mib, uint64(len(kernelImage)))
	if string(kernel) != string(kernelImage) {
		t.Errorf("kernel region = %q", kernel)
	}
	hdr, _ := f.sim.Peek(base, SharedBlockSize)
	if binary.LittleEndian.Uint32(hdr) != MagicBegin || binary.LittleEndian.Uint32(hdr[4:]) != uint32(inst.Identity()) {
		t.Errorf("shared block not stamped: % x", hdr[:8])
	}

	rec, err := f.store.Load(ctx, "vm0")
	if err != nil || rec.Status != "running" || rec.Identity != inst.Identity() {
		t.Errorf("record = %+v, %v", rec, err)
	}

	types := f.eventTypes()
	for _, want := range []string{event.TypeInstanceCreated, event.TypeInstanceStarted, event.TypeResourceDisabled} {
		if !contains(types, want) {
			t.Errorf("missing %s event in %v", want, types)
		}
	}
}

func TestCreate_CPUNotPossible(t *testing.T) {
	f := newFixture(t)
	before := f.reg.Free()

	_, err := f.mgr.Create(context.Background(),
		"slave_name=vm0 memory=64M@0x80000000 cpu_ids=99 kernel=/img/k cmdline=console=ttyS0")
	if !errors.Is(err, errors.ErrInvalidArgument) || !errors.Is(err, errors.ErrOverflow) {
		t.Fatalf("err = %v", err)
	}
	if f.reg.Free() != before {
		t.Errorf("free identities %d, want %d", f.reg.Free(), before)
	}
}

func TestCreate_MissingKernel(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Create(context.Background(), "slave_name=vm0 memory=64M@0x80000000 cpu_ids=2")
	if !errors.Is(err, errors.ErrMissingKernel) {
		t.Fatalf("err = %v", err)
	}
	if f.reg.Free() != registry.DefaultCapacity {
		t.Errorf("identity leaked: free = %d", f.reg.Free())
	}
	if n := f.sim.OpenWindows(); n != 0 {
		t.Errorf("%d windows left open", n)
	}
	if f.tree.Registered("vm0") {
		t.Error("inspection entry left behind")
	}
	if _, err := f.mgr.Get("vm0"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Get = %v", err)
	}
}

func TestCreate_RollbackOnBadDeviceTree(t *testing.T) {
	f := newFixture(t)
	_ = afero.WriteFile(f.fs, "/img/bad.dtb", []byte("not a tree"), 0o644)

	_, err := f.mgr.Create(context.Background(), vm0+" fdt=/img/bad.dtb")
	if !errors.Is(err, errors.ErrParseError) {
		t.Fatalf("err = %v", err)
	}
	if f.reg.Free() != registry.DefaultCapacity || f.sim.OpenWindows() != 0 {
		t.Errorf("rollback incomplete: free=%d windows=%d", f.reg.Free(), f.sim.OpenWindows())
	}
}

func TestCreate_InspectStatusMatchesInstance(t *testing.T) {
	f := newFixture(t)
	inst, err := f.mgr.Create(context.Background(), vm0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := f.tree.Read("vm0", inspect.AttrStatus)
	if err != nil {
		t.Fatal(err)
	}
	if got != inst.Status().String() || got != "created" {
		t.Errorf("inspect status = %q, instance status = %v", got, inst.Status())
	}
}

func TestCreate_RollbackReleasesResourcesBeforeLayout(t *testing.T) {
	f := newFixture(t)
	cfg, err := ParseArgs(vm0, 4)
	if err != nil {
		t.Fatal(err)
	}
	inst := newInstance(1, vm0)
	inst.cfg = cfg

	var undo rollback
	if err := f.mgr.assemble(inst, &undo, f.mgr.logger); err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if !inst.slots[resource.SlotKernel].Enabled() || inst.window == nil {
		t.Fatal("assemble left the kernel or layout unset")
	}

	// The most recently pushed step runs first.
	undo[len(undo)-1]()
	for _, slot := range resource.Slots {
		if inst.slots[slot].Enabled() {
			t.Errorf("slot %s still enabled after the first undo step", slot)
		}
	}
	if inst.window == nil || f.sim.OpenWindows() != 1 {
		t.Errorf("layout released before resources: window=%v open=%d", inst.window, f.sim.OpenWindows())
	}

	undo[:len(undo)-1].run()
	if inst.window != nil || f.sim.OpenWindows() != 0 {
		t.Errorf("layout still claimed: open=%d", f.sim.OpenWindows())
	}
}

func TestCreate_SuppliedDeviceTreeIsPatched(t *testing.T) {
	f := newFixture(t)
	src, err := fdt.Generate(fdt.Params{Cmdline: "x", Ranges: []layout.Range{{Size: 256 * mib, Addr: base}}})
	if err != nil {
		t.Fatal(err)
	}
	_ = afero.WriteFile(f.fs, "/img/d.dtb", src, 0o644)

	inst, err := f.mgr.Create(context.Background(),
		"slave_name=vm0 memory=256M@0x80000000 cpu_ids=1 kernel=/img/k fdt=/img/d.dtb")
	if err != nil {
		t.Fatal(err)
	}
	res := inst.Resource(resource.SlotFDT)
	if res.Kind() != resource.KindOwned {
		t.Fatalf("fdt kind = %v", res.Kind())
	}
	tree, err := fdt.Parse(res.(*resource.Buffer).Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tree.Lookup("/memory"); !ok {
		t.Error("patched tree has no /memory node")
	}
}

func TestCreate_PoolExhaustedAndDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	names := []string{"a", "b", "c", "d"}
	for _, n := range names {
		if _, err := f.mgr.Create(ctx, "slave_name="+n+" memory=64M@0x80000000 cpu_ids=0 kernel=/img/k"); err != nil {
			t.Fatalf("Create %s: %v", n, err)
		}
	}
	_, err := f.mgr.Create(ctx, "slave_name=e memory=64M@0x80000000 cpu_ids=0 kernel=/img/k")
	if !errors.Is(err, errors.ErrResourceExhausted) {
		t.Errorf("fifth Create = %v", err)
	}

	if err := f.mgr.Destroy(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	_, err = f.mgr.Create(ctx, "slave_name=a memory=64M@0x80000000 cpu_ids=0 kernel=/img/k")
	if !errors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("duplicate name Create = %v", err)
	}
	if f.reg.Free() != 1 {
		t.Errorf("free = %d after failed duplicate", f.reg.Free())
	}
	list := f.mgr.List()
	if len(list) != 3 || list[0].Name() != "a" {
		t.Errorf("List = %d instances", len(list))
	}
}

func TestCreate_ConcurrentIdentities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan int, 8)
	for _, n := range []string{"a", "b", "c", "d", "e", "f"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			inst, err := f.mgr.Create(ctx, "slave_name="+name+" memory=64M@0x80000000 cpu_ids=0 kernel=/img/k")
			if err == nil {
				ids <- inst.Identity()
			}
		}(n)
	}
	wg.Wait()
	close(ids)

	seen := make(map[int]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("identity %d handed out twice", id)
		}
		seen[id] = true
	}
	if len(seen) != registry.DefaultCapacity {
		t.Errorf("%d creates succeeded, want %d", len(seen), registry.DefaultCapacity)
	}
}

func TestCreate_Reservations(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.Possible = 4
	cfg.Reservations = []layout.Range{{Size: 128 * mib, Addr: base}}
	f := newFixture(t)
	f.mgr = f.newManager(f.reg, WithConfig(cfg))

	if _, err := f.mgr.Create(context.Background(), vm0); err != nil {
		t.Fatalf("Create inside reservation: %v", err)
	}
	_, err := f.mgr.Create(context.Background(), "slave_name=vm1 memory=64M@0x90000000 cpu_ids=1 kernel=/img/k")
	if !errors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("Create outside reservation = %v", err)
	}
}

func TestRun_KernelUnreadable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.mgr.Create(ctx, "slave_name=vm0 memory=64M@0x80000000 cpu_ids=2 kernel=/img/missing"); err != nil {
		t.Fatal(err)
	}
	err := f.mgr.Run(ctx, "vm0")
	if !errors.Is(err, errors.ErrBootFailure) || !errors.Is(err, errors.ErrIOFailure) {
		t.Fatalf("Run = %v", err)
	}
	inst, _ := f.mgr.Get("vm0")
	if inst.Status() != StatusCreated {
		t.Errorf("status = %v, want created", inst.Status())
	}
	if _, ok := f.fw.Running(2); ok {
		t.Error("core started despite fatal load failure")
	}
}

func TestRun_StartFailures(t *testing.T) {
	tests := []struct {
		name string
		code int64
		want Status
	}{
		{"failed", bootcpu.SBIErrFailed, StatusCreated},
		{"invalid address", bootcpu.SBIErrInvalidAddr, StatusCreated},
		{"already available", bootcpu.SBIErrAlreadyAvail, StatusLost},
		{"already started", bootcpu.SBIErrAlreadyStart, StatusLost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			if _, err := f.mgr.Create(ctx, vm0); err != nil {
				t.Fatal(err)
			}
			f.fw.Inject(2, tt.code)
			err := f.mgr.Run(ctx, "vm0")
			if !errors.Is(err, errors.ErrBootFailure) {
				t.Fatalf("Run = %v", err)
			}
			inst, _ := f.mgr.Get("vm0")
			if inst.Status() != tt.want {
				t.Errorf("status = %v, want %v", inst.Status(), tt.want)
			}
		})
	}
}

func TestRun_InvalidState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.mgr.Create(ctx, vm0)
	f.fw.Inject(2, bootcpu.SBIErrAlreadyAvail)
	_ = f.mgr.Run(ctx, "vm0")

	if err := f.mgr.Run(ctx, "vm0"); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("Run from lost = %v", err)
	}
	if err := f.mgr.Run(ctx, "ghost"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Run unknown = %v", err)
	}
}

func TestCreateAndRun_DestroysOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fw.Inject(2, bootcpu.SBIErrFailed)

	if _, err := f.mgr.CreateAndRun(ctx, vm0); !errors.Is(err, errors.ErrBootFailure) {
		t.Fatalf("CreateAndRun = %v", err)
	}
	if f.reg.Free() != registry.DefaultCapacity {
		t.Errorf("free = %d", f.reg.Free())
	}
	if _, err := f.store.Load(ctx, "vm0"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("record left behind: %v", err)
	}
}

func TestDestroy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst, err := f.mgr.CreateAndRun(ctx, vm0)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.mgr.Destroy(ctx, "vm0"); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if f.reg.Free() != registry.DefaultCapacity {
		t.Errorf("free = %d", f.reg.Free())
	}
	if f.sim.OpenWindows() != 0 {
		t.Errorf("%d windows open", f.sim.OpenWindows())
	}
	if f.tree.Registered("vm0") {
		t.Error("inspection entry left")
	}
	if _, ok := f.fw.Running(2); ok {
		t.Error("boot core still running")
	}
	for _, slot := range resource.Slots {
		if inst.Resource(slot).Enabled() {
			t.Errorf("slot %s still enabled", slot)
		}
	}
	// The block is unmapped, not wiped.
	hdr, _ := f.sim.Peek(base, 4)
	if binary.LittleEndian.Uint32(hdr) != MagicBegin {
		t.Error("shared block wiped on destroy")
	}
	if err := f.mgr.Destroy(ctx, "vm0"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("second Destroy = %v", err)
	}
	if !contains(f.eventTypes(), event.TypeInstanceDestroyed) {
		t.Error("no destroyed event")
	}
}

func TestReboot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst, err := f.mgr.CreateAndRun(ctx, vm0)
	if err != nil {
		t.Fatal(err)
	}
	first := inst.Info().BootID

	if err := f.mgr.Reboot(ctx, "vm0"); err != nil {
		t.Fatalf("Reboot: %v", err)
	}
	info := inst.Info()
	if info.Status != StatusRunning || info.Restarts != 1 {
		t.Errorf("after reboot status=%v restarts=%d", info.Status, info.Restarts)
	}
	if info.BootID == first {
		t.Error("boot id unchanged")
	}

	if err := f.mgr.Destroy(ctx, "vm0"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.mgr.Create(ctx, vm0); err != nil {
		t.Fatal(err)
	}
	if err := f.mgr.Reboot(ctx, "vm0"); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("Reboot of created instance = %v", err)
	}
}

func TestRestart_AfterFailedStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst, err := f.mgr.Create(ctx, vm0)
	if err != nil {
		t.Fatal(err)
	}

	f.fw.Inject(2, bootcpu.SBIErrFailed)
	err = f.mgr.Run(ctx, "vm0")
	if !errors.IsRetryable(err) {
		t.Fatalf("Run = %v, want retryable failure", err)
	}
	if inst.Status() != StatusCreated {
		t.Fatalf("status = %v, want created", inst.Status())
	}
	if err := f.mgr.Reboot(ctx, "vm0"); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("Reboot after failed start = %v", err)
	}

	f.fw.Inject(2, bootcpu.SBIErrFailed)
	if err := f.mgr.Restart(ctx, "vm0"); !errors.IsRetryable(err) {
		t.Fatalf("Restart = %v, want retryable failure", err)
	}
	if err := f.mgr.Restart(ctx, "vm0"); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	info := inst.Info()
	if info.Status != StatusRunning || info.Restarts != 2 {
		t.Errorf("status=%v restarts=%d, want running after 2 restarts", info.Status, info.Restarts)
	}
}

func TestRestart_LostCoreIsNotRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst, _ := f.mgr.Create(ctx, vm0)

	f.fw.Inject(2, bootcpu.SBIErrAlreadyAvail)
	err := f.mgr.Run(ctx, "vm0")
	if errors.IsRetryable(err) || errors.GetSeverity(err) != errors.SeverityCritical {
		t.Errorf("Run = %v retryable=%v severity=%v", err, errors.IsRetryable(err), errors.GetSeverity(err))
	}
	if inst.Status() != StatusLost {
		t.Fatalf("status = %v, want lost", inst.Status())
	}
	if err := f.mgr.Restart(ctx, "ghost"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Restart unknown = %v", err)
	}
}

func TestSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.mgr.Create(ctx, vm0); err != nil {
		t.Fatal(err)
	}

	if err := f.mgr.SetHeartbeat(ctx, "vm0", 9); err != nil {
		t.Fatal(err)
	}
	if err := f.mgr.SetHeartbeat(ctx, "vm0", 0); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("SetHeartbeat(0) = %v", err)
	}
	if err := f.mgr.SetRestart(ctx, "vm0", 3); err != nil {
		t.Fatal(err)
	}
	if err := f.mgr.SetRestart(ctx, "vm0", -2); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("SetRestart(-2) = %v", err)
	}

	// Dirty the endpoint region so enabling partep has something to clear.
	w, _ := f.sim.Map(base+2*mib, 16)
	copy(w.Bytes(), "endpoint garbage")
	_ = w.Close()
	if err := f.mgr.SetPartep(ctx, "vm0", true); err != nil {
		t.Fatal(err)
	}
	got, _ := f.sim.Peek(base+2*mib, 16)
	for _, b := range got {
		if b != 0 {
			t.Fatalf("partep region not cleared: %q", got)
		}
	}

	if n, _ := f.tree.ReadInt("vm0", inspect.AttrHeartbeat); n != 9 {
		t.Errorf("inspect heartbeat = %d", n)
	}
	if on, _ := f.tree.ReadBool("vm0", inspect.AttrPartep); !on {
		t.Error("inspect partep off")
	}
	rec, _ := f.store.Load(ctx, "vm0")
	if rec.MaxLost != 9 || rec.Restart != 3 || !rec.Partep {
		t.Errorf("record = %+v", rec)
	}
}

func TestRestartDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst, _ := f.mgr.Create(ctx, vm0)

	tests := []struct {
		policy, restarts int
		ok               bool
	}{
		{-1, 0, false},
		{0, 10, true},
		{2, 1, true},
		{2, 2, false},
	}
	for _, tt := range tests {
		inst.Lock()
		inst.restart, inst.restarts = tt.policy, tt.restarts
		inst.Unlock()
		if _, ok := f.mgr.RestartDue(inst); ok != tt.ok {
			t.Errorf("policy %d restarts %d: due = %v", tt.policy, tt.restarts, ok)
		}
	}
}

func TestMarkLostAndBeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst, err := f.mgr.CreateAndRun(ctx, vm0)
	if err != nil {
		t.Fatal(err)
	}

	if missed := inst.Beat(); missed != 1 {
		t.Errorf("first beat without guest progress = %d", missed)
	}
	w, _ := f.sim.Map(base+12, 4)
	binary.LittleEndian.PutUint32(w.Bytes(), 1)
	_ = w.Close()
	if missed := inst.Beat(); missed != 0 {
		t.Errorf("beat after guest progress = %d", missed)
	}
	if inst.Info().MasterCnt != 2 {
		t.Errorf("master count = %d", inst.Info().MasterCnt)
	}

	if err := f.mgr.MarkLost(ctx, "vm0", "test"); err != nil {
		t.Fatal(err)
	}
	if inst.Status() != StatusLost {
		t.Errorf("status = %v", inst.Status())
	}
	if err := f.mgr.MarkLost(ctx, "vm0", "again"); err != nil {
		t.Errorf("MarkLost twice = %v", err)
	}
}

func TestAttach(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst, err := f.mgr.CreateAndRun(ctx, vm0)
	if err != nil {
		t.Fatal(err)
	}
	_ = f.mgr.SetHeartbeat(ctx, "vm0", 7)

	// A second process sees the same memory, firmware and state directory.
	reg, _ := registry.New(registry.DefaultCapacity)
	other := f.newManager(reg)
	n, skipped, err := other.Attach(ctx)
	if err != nil || n != 1 || len(skipped) != 0 {
		t.Fatalf("Attach = %d, %v, %v", n, skipped, err)
	}
	got, err := other.Get("vm0")
	if err != nil {
		t.Fatal(err)
	}
	info := got.Info()
	if info.Identity != inst.Identity() || info.Status != StatusRunning || info.MaxLost != 7 {
		t.Errorf("attached info = %+v", info)
	}
	if !info.SharedValid {
		t.Error("attached shared block invalid")
	}
	if id, ok := reg.Lookup("vm0"); !ok || id != inst.Identity() {
		t.Errorf("identity not reserved: %d %v", id, ok)
	}

	if n, _, _ := other.Attach(ctx); n != 0 {
		t.Errorf("second Attach attached %d", n)
	}

	if err := f.mgr.Destroy(ctx, "vm0"); err != nil {
		t.Fatal(err)
	}
	_, _, _ = other.Attach(ctx)
	if _, err := other.Get("vm0"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("destroyed instance still attached: %v", err)
	}
	if reg.Free() != registry.DefaultCapacity {
		t.Errorf("free = %d", reg.Free())
	}
}

func TestAttach_SkipsBadRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.store.Save(ctx, state.Record{Name: "junk", Identity: 1, Request: "slave_name=junk", Status: "running"})

	n, skipped, err := f.mgr.Attach(ctx)
	if err != nil || n != 0 || len(skipped) != 1 {
		t.Fatalf("Attach = %d, %v, %v", n, skipped, err)
	}
	var ie *errors.InstanceError
	if !errors.As(skipped[0], &ie) || ie.Name != "junk" || ie.Step != "attach" {
		t.Errorf("skipped = %v, want instance error for junk", skipped[0])
	}
	if errors.GetSeverity(skipped[0]) != errors.SeverityWarning {
		t.Errorf("skipped severity = %v, want warning", errors.GetSeverity(skipped[0]))
	}
	if f.reg.Free() != registry.DefaultCapacity {
		t.Errorf("free = %d", f.reg.Free())
	}
}
