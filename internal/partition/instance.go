package partition

import (
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/dysche/internal/layout"
	"github.com/Iron-Ham/dysche/internal/physmem"
	"github.com/Iron-Ham/dysche/internal/resource"
	"github.com/Iron-Ham/dysche/internal/util"
)

// Instance is one partition. Fields are guarded by the instance lock; the
// exported accessors take it themselves, so callers holding Lock must use
// the *Locked variants or read fields through Info.
type Instance struct {
	mu sync.Mutex

	identity int
	request  string
	cfg      Config

	slots   [resource.NumSlots]resource.Resource
	window  *physmem.Window
	shared  *SharedBlock
	status  Status
	bootID  string
	created time.Time

	maxLost  int
	restart  int
	restarts int
	partep   bool

	// disabled records optional slots that failed to load and why.
	disabled map[resource.Slot]string

	// heartbeat bookkeeping
	lastSlave uint32
	missed    int
}

func newInstance(identity int, request string) *Instance {
	inst := &Instance{
		identity: identity,
		request:  request,
		created:  time.Now(),
		disabled: make(map[resource.Slot]string),
	}
	for i := range inst.slots {
		inst.slots[i] = resource.Disabled()
	}
	return inst
}

// Lock serialises readers against Run and Destroy.
func (i *Instance) Lock() { i.mu.Lock() }

// Unlock releases the instance lock.
func (i *Instance) Unlock() { i.mu.Unlock() }

// Identity returns the registry identity.
func (i *Instance) Identity() int { return i.identity }

// Name returns the instance name.
func (i *Instance) Name() string { return i.cfg.Name }

// Config returns the parsed request.
func (i *Instance) Config() Config { return i.cfg }

// Status returns the lifecycle status.
func (i *Instance) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// BootCore returns the lowest core in the affinity set, or -1.
func (i *Instance) BootCore() int {
	if len(i.cfg.CPUs) == 0 {
		return -1
	}
	return i.cfg.CPUs[0]
}

// Primary returns the primary memory range.
func (i *Instance) Primary() layout.Range { return i.cfg.Primary() }

// Cmdline returns the effective boot command line.
func (i *Instance) Cmdline() string { return i.cfg.EffectiveCmdline() }

// Shared returns the shared block view, or nil before the layout is claimed.
// Callers must hold the instance lock while using it.
func (i *Instance) Shared() *SharedBlock { return i.shared }

// Describe renders the desc attribute.
func (i *Instance) Describe() string {
	return fmt.Sprintf("Description\n\tName: %s\n\tID: %d\n\tcmdline: %s\n",
		i.cfg.Name, i.identity, i.cfg.EffectiveCmdline())
}

// Resource returns the resource in slot.
func (i *Instance) Resource(slot resource.Slot) resource.Resource {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.slots[slot]
}

// Info is a point-in-time copy of an instance.
type Info struct {
	Identity    int
	Name        string
	OSType      string
	CPUs        string
	BootCore    int
	Ranges      []layout.Range
	Cmdline     string
	Status      Status
	SlaveStatus Status
	SharedValid bool
	SlaveCnt    uint32
	MasterCnt   uint32
	BootID      string
	MaxLost     int
	Missed      int
	Restart     int
	Restarts    int
	Partep      bool
	// Slots maps each slot name to its resource description.
	Slots map[string]string
	// Disabled maps optional slots that failed to load to the reason.
	Disabled  map[string]string
	CreatedAt time.Time
}

// Info returns a snapshot of the instance.
func (i *Instance) Info() Info {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.infoLocked()
}

func (i *Instance) infoLocked() Info {
	info := Info{
		Identity:    i.identity,
		Name:        i.cfg.Name,
		OSType:      i.cfg.OSType.String(),
		CPUs:        util.FormatCPUList(i.cfg.CPUs),
		BootCore:    i.BootCore(),
		Ranges:      append([]layout.Range(nil), i.cfg.Ranges...),
		Cmdline:     i.cfg.EffectiveCmdline(),
		Status:      i.status,
		SlaveStatus: StatusNone,
		BootID:      i.bootID,
		MaxLost:     i.maxLost,
		Missed:      i.missed,
		Restart:     i.restart,
		Restarts:    i.restarts,
		Partep:      i.partep,
		Slots:       make(map[string]string, len(i.slots)),
		Disabled:    make(map[string]string, len(i.disabled)),
		CreatedAt:   i.created,
	}
	if i.shared != nil {
		info.SharedValid = i.shared.Valid()
		if info.SharedValid {
			info.SlaveStatus = i.shared.SlaveStatus()
			info.SlaveCnt = i.shared.SlaveCount()
			info.MasterCnt = i.shared.MasterCount()
		}
	}
	for _, slot := range resource.Slots {
		info.Slots[slot.String()] = i.slots[slot].Describe()
	}
	for slot, reason := range i.disabled {
		info.Disabled[slot.String()] = reason
	}
	return info
}

// Beat advances the host heartbeat counter and compares the guest's
// counter with the value seen on the previous beat. It returns the number
// of consecutive beats without guest progress. An instance whose shared
// block fails validation counts as a miss.
func (i *Instance) Beat() (missed int) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.shared == nil || !i.shared.Valid() {
		i.missed++
		return i.missed
	}
	i.shared.IncMaster()
	slave := i.shared.SlaveCount()
	if slave != i.lastSlave {
		i.lastSlave = slave
		i.missed = 0
	} else {
		i.missed++
	}
	return i.missed
}

// resetHeartbeatLocked forgets heartbeat history after a (re)start.
func (i *Instance) resetHeartbeatLocked() {
	i.missed = 0
	i.lastSlave = 0
}
