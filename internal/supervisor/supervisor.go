// Package supervisor watches running partitions. Every tick it advances the
// host heartbeat counter of each running instance, checks whether the guest
// advanced its own counter since the previous tick and marks instances that
// stay silent for too long as lost, restarting them when their policy allows.
// A restart that fails with a retryable error is tried again on later ticks
// while the policy still allows it; any other failure abandons the instance.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/dysche/internal/errors"
	"github.com/Iron-Ham/dysche/internal/event"
	"github.com/Iron-Ham/dysche/internal/logging"
	"github.com/Iron-Ham/dysche/internal/partition"
)

// Config controls the sweep.
type Config struct {
	Interval time.Duration
	// Parallel bounds concurrent instance checks per tick.
	Parallel int
}

// DefaultConfig returns the defaults used by the daemon.
func DefaultConfig() Config {
	return Config{Interval: time.Second, Parallel: 4}
}

// Supervisor runs heartbeat sweeps over a partition.Manager.
type Supervisor struct {
	mgr    *partition.Manager
	cfg    Config
	bus    *event.Bus
	logger *logging.Logger

	// beforeTick runs at the start of every tick, under which the daemon
	// takes the state lock and re-attaches.
	beforeTick func(context.Context) error
	afterTick  func()

	mu        sync.Mutex
	lastGuest map[string]partition.Status
	// retry holds instances whose last restart failed with a retryable error.
	retry map[string]bool
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithTickHooks sets functions run around every tick. A before hook error
// skips the tick.
func WithTickHooks(before func(context.Context) error, after func()) Option {
	return func(s *Supervisor) {
		s.beforeTick = before
		s.afterTick = after
	}
}

// New creates a Supervisor. Events go to the manager's bus.
func New(mgr *partition.Manager, cfg Config, opts ...Option) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	s := &Supervisor{
		mgr:       mgr,
		cfg:       cfg,
		bus:       mgr.Bus(),
		logger:    logging.NopLogger(),
		lastGuest: make(map[string]partition.Status),
		retry:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("supervisor started", "interval", s.cfg.Interval.String(), "parallel", s.cfg.Parallel)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("supervisor stopped")
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Warn("supervisor tick failed", "error", err)
			}
		}
	}
}

// Tick performs one sweep over every running instance and retries the
// restarts left pending by earlier ticks.
func (s *Supervisor) Tick(ctx context.Context) error {
	if s.beforeTick != nil {
		if err := s.beforeTick(ctx); err != nil {
			return err
		}
	}
	if s.afterTick != nil {
		defer s.afterTick()
	}

	insts := s.mgr.List()
	s.prune(insts)

	p := pool.New().WithContext(ctx).WithMaxGoroutines(s.cfg.Parallel)
	for _, inst := range insts {
		switch {
		case inst.Status() == partition.StatusRunning:
			p.Go(func(ctx context.Context) error {
				return s.check(ctx, inst)
			})
		case s.pending(inst.Name()):
			p.Go(func(ctx context.Context) error {
				return s.restart(ctx, inst)
			})
		}
	}
	return p.Wait()
}

func (s *Supervisor) pending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retry[name]
}

func (s *Supervisor) setPending(name string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.retry[name] = true
	} else {
		delete(s.retry, name)
	}
}

// prune forgets instances that were destroyed since the last tick.
func (s *Supervisor) prune(insts []*partition.Instance) {
	live := make(map[string]bool, len(insts))
	for _, inst := range insts {
		live[inst.Name()] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.retry {
		if !live[name] {
			delete(s.retry, name)
		}
	}
	for name := range s.lastGuest {
		if !live[name] {
			delete(s.lastGuest, name)
		}
	}
}

func (s *Supervisor) check(ctx context.Context, inst *partition.Instance) error {
	name := inst.Name()
	log := s.logger.WithInstance(name)

	missed := inst.Beat()
	info := inst.Info()
	s.mirror(log, name, info)

	if missed == 0 {
		return nil
	}
	s.bus.Publish(event.NewHeartbeatMissedEvent(name, missed, info.MaxLost))
	if missed < info.MaxLost {
		log.Debug("heartbeat missed", "missed", missed, "limit", info.MaxLost)
		return nil
	}

	if err := s.mgr.MarkLost(ctx, name, "heartbeat"); err != nil {
		return err
	}
	return s.restart(ctx, inst)
}

func (s *Supervisor) restart(ctx context.Context, inst *partition.Instance) error {
	name := inst.Name()
	attempt, ok := s.mgr.RestartDue(inst)
	if !ok {
		s.setPending(name, false)
		return nil
	}
	log := s.logger.WithInstance(name)
	err := s.mgr.Restart(ctx, name)
	s.bus.Publish(event.NewRestartAttemptedEvent(name, attempt, err))
	if err == nil {
		s.setPending(name, false)
		log.Info("instance restarted", "attempt", attempt)
		return nil
	}
	if errors.IsRetryable(err) {
		s.setPending(name, true)
		log.Warn("restart failed, will retry", "attempt", attempt, "error", err)
		return nil
	}
	s.setPending(name, false)
	log.Report("restart abandoned", err, "attempt", attempt, "status", inst.Status().String())
	return nil
}

// mirror logs status changes reported by the guest.
func (s *Supervisor) mirror(log *logging.Logger, name string, info partition.Info) {
	if !info.SharedValid {
		return
	}
	s.mu.Lock()
	prev, seen := s.lastGuest[name]
	s.lastGuest[name] = info.SlaveStatus
	s.mu.Unlock()
	if seen && prev != info.SlaveStatus {
		log.Info("guest reported status", "from", prev.String(), "to", info.SlaveStatus.String())
	}
}
