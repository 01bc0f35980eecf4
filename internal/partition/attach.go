package partition

import (
	"context"

	"github.com/Iron-Ham/dysche/internal/errors"
	"github.com/Iron-Ham/dysche/internal/resource"
	"github.com/Iron-Ham/dysche/internal/state"
)

// Attach re-creates in-process instances from persisted records. The
// identity is reserved again and the shared config window mapped; nothing
// is loaded and no core is started. Records that are already attached are
// skipped, so Attach can be called repeatedly to pick up instances created
// by other processes. Records that cannot be restored are returned in
// skipped and left on disk.
func (m *Manager) Attach(ctx context.Context) (attached int, skipped []error, err error) {
	if m.store == nil {
		return 0, nil, nil
	}
	records, bad, err := m.store.List(ctx)
	if err != nil {
		return 0, nil, err
	}
	skipped = append(skipped, bad...)

	live := make(map[string]bool)
	for _, rec := range records {
		live[rec.Name] = true
		m.mu.RLock()
		_, known := m.instances[rec.Name]
		m.mu.RUnlock()
		if known {
			m.refresh(rec)
			continue
		}
		if err := m.attachOne(rec); err != nil {
			skipped = append(skipped, errors.NewInstanceError("attach failed", err).
				WithIdentity(rec.Identity).WithName(rec.Name).WithStep("attach").
				WithSeverity(errors.SeverityWarning))
			continue
		}
		attached++
	}

	// Instances destroyed by another process.
	for _, inst := range m.List() {
		if !live[inst.Name()] {
			m.detach(inst)
		}
	}
	return attached, skipped, nil
}

func (m *Manager) attachOne(rec state.Record) error {
	status, err := ParseStatus(rec.Status)
	if err != nil {
		return err
	}
	if status == StatusNone || status == StatusInvalid {
		return errors.Kindf(errors.ErrInvalidState, "record status %s", status)
	}
	cfg, err := ParseArgs(rec.Request, m.cfg.Possible)
	if err != nil {
		return err
	}
	if cfg.Name != rec.Name {
		return errors.Kindf(errors.ErrInvalidArgument, "record %q holds a request for %q", rec.Name, cfg.Name)
	}
	if err := m.registry.Reserve(rec.Identity, rec.Name); err != nil {
		return err
	}

	inst := newInstance(rec.Identity, rec.Request)
	inst.cfg = cfg
	inst.status = status
	inst.bootID = rec.BootID
	inst.maxLost = rec.MaxLost
	inst.restart = rec.Restart
	inst.restarts = rec.Restarts
	inst.partep = rec.Partep
	if !rec.CreatedAt.IsZero() {
		inst.created = rec.CreatedAt
	}
	for _, name := range rec.Disabled {
		for _, slot := range resource.Slots {
			if slot.String() == name {
				inst.disabled[slot] = "disabled before attach"
			}
		}
	}

	var undo rollback
	undo.push(func() { _ = m.registry.Release(rec.Identity) })
	log := m.logger.WithInstance(rec.Name).WithPhase("attach")
	if err := m.assemble(inst, &undo, log); err != nil {
		undo.run()
		return err
	}
	if inst.shared != nil && inst.shared.Valid() {
		inst.lastSlave = inst.shared.SlaveCount()
	}

	if m.tree != nil {
		if m.tree.Registered(rec.Name) {
			_ = m.tree.Deregister(rec.Name)
		}
		if err := m.tree.Register(rec.Name, m.values(inst)); err != nil {
			log.Warn("inspect register failed", "error", err)
		}
	}

	m.mu.Lock()
	m.instances[rec.Name] = inst
	m.mu.Unlock()
	log.Debug("attached", "identity", rec.Identity, "status", status.String())
	return nil
}

// refresh copies policy fields written by another process.
func (m *Manager) refresh(rec state.Record) {
	inst, err := m.Get(rec.Name)
	if err != nil {
		return
	}
	status, err := ParseStatus(rec.Status)
	if err != nil {
		return
	}
	inst.Lock()
	defer inst.Unlock()
	inst.maxLost = rec.MaxLost
	inst.restart = rec.Restart
	inst.restarts = rec.Restarts
	inst.partep = rec.Partep
	if status != inst.status {
		inst.status = status
		inst.bootID = rec.BootID
		inst.resetHeartbeatLocked()
	}
}

// detach forgets an instance without touching its partition: the window is
// unmapped and the identity returned, but no core is stopped.
func (m *Manager) detach(inst *Instance) {
	inst.Lock()
	defer inst.Unlock()
	m.layout.Release(inst.window)
	inst.window, inst.shared = nil, nil
	m.releaseSlots(inst)
	_ = m.registry.Release(inst.identity)
	m.mu.Lock()
	delete(m.instances, inst.cfg.Name)
	m.mu.Unlock()
}

// Close detaches every instance. Partitions keep running.
func (m *Manager) Close() {
	for _, inst := range m.List() {
		m.detach(inst)
	}
}
