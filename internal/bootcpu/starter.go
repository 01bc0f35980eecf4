package bootcpu

import (
	"fmt"

	"github.com/Iron-Ham/dysche/internal/errors"
	"github.com/Iron-Ham/dysche/internal/logging"
)

// Starter starts a core at a physical entry point.
type Starter interface {
	Start(core int, entry uint64) error
}

// CoreStarter is the Starter backed by a hart map and firmware.
type CoreStarter struct {
	harts    HartMap
	firmware Firmware
	possible int
	logger   *logging.Logger
}

// Option configures a CoreStarter.
type Option func(*CoreStarter)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *CoreStarter) { s.logger = l }
}

// NewCoreStarter creates a CoreStarter. Cores at or above possible are
// rejected before any firmware call.
func NewCoreStarter(harts HartMap, fw Firmware, possible int, opts ...Option) *CoreStarter {
	s := &CoreStarter{harts: harts, firmware: fw, possible: possible}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Possible returns the number of possible cores.
func (s *CoreStarter) Possible() int {
	return s.possible
}

func (s *CoreStarter) hart(core int) (uint64, error) {
	if core < 0 || core >= s.possible {
		return 0, errors.NewBootError(fmt.Sprintf("core %d is not possible on this host", core), errors.ErrInvalidArgument).
			WithCore(core)
	}
	return s.harts.Hart(core)
}

// Start implements Starter. The opaque argument passed to the firmware is
// the entry address, which the loader ignores.
func (s *CoreStarter) Start(core int, entry uint64) error {
	hart, err := s.hart(core)
	if err != nil {
		return err
	}

	code, err := s.firmware.HartStart(hart, entry, entry)
	if err != nil {
		return errors.NewBootError("hart start", fmt.Errorf("%w: %w", errors.ErrBootFailure, err)).
			WithCore(core).WithHart(hart).WithRetryable(true)
	}
	if err := codeError("hart start", core, hart, code); err != nil {
		if s.logger != nil {
			s.logger.Warn("hart start rejected", "core", core, "hart", hart, "code", code)
		}
		return err
	}
	if s.logger != nil {
		s.logger.Info("hart started", "core", core, "hart", hart, "entry", fmt.Sprintf("%#x", entry))
	}
	return nil
}

// Stop returns core to the stopped state when the firmware supports it.
// A hart that is already stopped is not an error.
func (s *CoreStarter) Stop(core int) error {
	stopper, ok := s.firmware.(Stopper)
	if !ok {
		return errors.Kindf(errors.ErrNotSupported, "firmware cannot stop harts")
	}
	hart, err := s.hart(core)
	if err != nil {
		return err
	}
	code, err := stopper.HartStop(hart)
	if err != nil {
		return errors.NewBootError("hart stop", fmt.Errorf("%w: %w", errors.ErrBootFailure, err)).
			WithCore(core).WithHart(hart)
	}
	if code == SBIErrAlreadyStopped {
		return nil
	}
	return codeError("hart stop", core, hart, code)
}
