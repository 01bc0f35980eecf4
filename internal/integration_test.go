// Package internal contains integration tests that exercise the partition
// manager, inspection tree, state store and supervisor together, the way
// the CLI and daemon wire them.
package internal

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/dysche/internal/bootcpu"
	"github.com/Iron-Ham/dysche/internal/errors"
	"github.com/Iron-Ham/dysche/internal/event"
	"github.com/Iron-Ham/dysche/internal/inspect"
	"github.com/Iron-Ham/dysche/internal/layout"
	"github.com/Iron-Ham/dysche/internal/partition"
	"github.com/Iron-Ham/dysche/internal/physmem"
	"github.com/Iron-Ham/dysche/internal/registry"
	"github.com/Iron-Ham/dysche/internal/state"
	"github.com/Iron-Ham/dysche/internal/supervisor"
)

const simBase = 0x80000000

// host is one process worth of wiring over a shared state directory.
type host struct {
	sim  *physmem.Sim
	tree *inspect.Tree
	mgr  *partition.Manager
	bus  *event.Bus

	mu     sync.Mutex
	events []string
}

func newHost(t *testing.T, dir string) *host {
	t.Helper()
	fs := afero.NewOsFs()

	sim := physmem.NewSim(physmem.WithBackingDir(filepath.Join(dir, "sim")))
	if err := sim.Register(simBase, 256<<20); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	t.Cleanup(func() { _ = sim.Close() })

	reg, err := registry.New(registry.DefaultCapacity)
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	store, err := state.NewStore(fs, filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	fw := bootcpu.NewSimFirmware(fs, filepath.Join(dir, "sim", "harts.json"))

	h := &host{sim: sim, tree: inspect.New(fs, filepath.Join(dir, "run")), bus: event.NewBus()}
	h.bus.SubscribeAll(func(e event.Event) {
		h.mu.Lock()
		h.events = append(h.events, e.EventType())
		h.mu.Unlock()
	})

	cfg := partition.DefaultManagerConfig()
	cfg.Possible = 4
	cfg.DefaultMaxLost = 2
	h.mgr = partition.NewManager(reg, layout.New(sim), bootcpu.NewCoreStarter(bootcpu.IdentityMap{}, fw, 4),
		partition.WithFs(fs),
		partition.WithConfig(cfg),
		partition.WithInspect(h.tree),
		partition.WithStore(store),
		partition.WithBus(h.bus),
	)
	t.Cleanup(h.mgr.Close)
	return h
}

func (h *host) saw(eventType string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.events {
		if e == eventType {
			return true
		}
	}
	return false
}

// TestCreateRequestAcrossProcesses drives a creation request through the
// inspection tree, then attaches a second host to the persisted state and
// supervises and destroys the instance from there.
func TestCreateRequestAcrossProcesses(t *testing.T) {
	dir := t.TempDir()
	kernel := filepath.Join(dir, "Image")
	if err := os.WriteFile(kernel, []byte("kernel image"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	first := newHost(t, dir)
	results := make(chan string, 1)
	w, err := inspect.NewWatcher(first.tree.Root(),
		inspect.WithDebounce(10*time.Millisecond),
		inspect.OnRequest(func(req string) {
			result := "ok"
			if inst, err := first.mgr.CreateAndRun(ctx, strings.TrimSpace(req)); err != nil {
				result = "error " + err.Error()
			} else {
				result += " " + inst.Name()
			}
			_ = first.tree.WriteRoot(inspect.FileCreateResult, result+"\n")
			results <- result
		}),
	)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.Start()
	defer w.Stop()

	request := "slave_name=vm0 memory=64M@0x80000000 cpu_ids=1 kernel=" + kernel + " cmdline=console=ttyS0"
	if err := os.WriteFile(filepath.Join(first.tree.Root(), inspect.FileCreate), []byte(request+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-results:
		if got != "ok vm0" {
			t.Fatalf("creation result = %q, want %q", got, "ok vm0")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the creation request")
	}

	if got, _ := first.tree.ReadRoot(inspect.FileCreateResult); got != "ok vm0\n" {
		t.Errorf("create.result = %q", got)
	}
	if got, _ := first.tree.Read("vm0", inspect.AttrStatus); got != "running" {
		t.Errorf("tree status = %q, want running", got)
	}
	if got, _ := first.tree.Read("vm0", inspect.AttrCmdline); got != "console=ttyS0 dysche_mode " {
		t.Errorf("tree cmdline = %q", got)
	}
	if !first.saw(event.TypeInstanceCreated) || !first.saw(event.TypeInstanceStarted) {
		t.Errorf("first host events = %v", first.events)
	}

	second := newHost(t, dir)
	attached, skipped, err := second.mgr.Attach(ctx)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if attached != 1 || len(skipped) != 0 {
		t.Fatalf("Attach() = %d attached, skipped %v", attached, skipped)
	}
	inst, err := second.mgr.Get("vm0")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if inst.Status() != partition.StatusRunning {
		t.Errorf("attached status = %v, want running", inst.Status())
	}
	if !inst.Info().SharedValid {
		t.Error("shared block stamped by the first host is not visible to the second")
	}

	// The guest bumps its counter between sweeps.
	sup := supervisor.New(second.mgr, supervisor.Config{Interval: time.Millisecond, Parallel: 1})
	for i := uint32(1); i <= 3; i++ {
		win, err := second.sim.Map(simBase+12, 4)
		if err != nil {
			t.Fatal(err)
		}
		binary.LittleEndian.PutUint32(win.Bytes(), i)
		_ = win.Close()
		if err := sup.Tick(ctx); err != nil {
			t.Fatalf("Tick() error = %v", err)
		}
	}
	if info := inst.Info(); info.Status != partition.StatusRunning || info.Missed != 0 {
		t.Errorf("after healthy sweeps status = %v missed = %d", info.Status, info.Missed)
	}

	if err := second.mgr.Destroy(ctx, "vm0"); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if first.tree.Registered("vm0") {
		t.Error("vm0 still in the inspection tree after destroy")
	}

	// The first host notices the record is gone on its next attach.
	if _, _, err := first.mgr.Attach(ctx); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if _, err := first.mgr.Get("vm0"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Get() after remote destroy error = %v, want not found", err)
	}
}
