package layout

import (
	"github.com/Iron-Ham/dysche/internal/errors"
	"github.com/Iron-Ham/dysche/internal/logging"
	"github.com/Iron-Ham/dysche/internal/physmem"
	"github.com/Iron-Ham/dysche/internal/resource"
)

// Layout gives region access through a physmem.Mapper.
type Layout struct {
	mapper physmem.Mapper
	logger *logging.Logger
}

// Option configures a Layout.
type Option func(*Layout)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(lay *Layout) {
		lay.logger = l
	}
}

// New returns a Layout over mapper.
func New(mapper physmem.Mapper, opts ...Option) *Layout {
	l := &Layout{mapper: mapper}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Claim maps the shared-config region of primary for the instance's
// lifetime. The returned window is released with Release.
func (l *Layout) Claim(primary Range) (*physmem.Window, error) {
	if primary.Empty() {
		return nil, errors.NewLayoutError("claim without a primary range", errors.ErrInvalidArgument).
			WithRegion(SharedConfig.String())
	}
	capacity := Capacity(primary, SharedConfig)
	w, err := l.mapper.Map(primary.Addr+Offset(SharedConfig), capacity)
	if err != nil {
		return nil, errors.NewLayoutError("map shared config", err).WithRegion(SharedConfig.String())
	}
	if l.logger != nil {
		l.logger.Debug("claimed shared config", "region", SharedConfig.String(), "addr", w.Addr(), "len", w.Len())
	}
	return w, nil
}

// Release unmaps a claimed shared-config window. A nil window is ignored.
func (l *Layout) Release(w *physmem.Window) {
	if w == nil {
		return
	}
	if err := w.Close(); err != nil && l.logger != nil {
		l.logger.Warn("failed to unmap shared config", "error", err)
	}
}

// WriteRegion copies data into region r at offset off.
func (l *Layout) WriteRegion(primary Range, r Region, off uint64, data []byte) error {
	length := uint64(len(data))
	if err := l.check(primary, r, off, length); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}

	w, err := l.mapper.Map(primary.Addr+Offset(r)+off, length)
	if err != nil {
		return errors.NewLayoutError("map region", err).WithRegion(r.String()).WithBounds(off, length, Capacity(primary, r))
	}
	defer w.Close()

	copy(w.Bytes(), data)
	return nil
}

// ReadRegion copies length bytes of region r at offset off.
func (l *Layout) ReadRegion(primary Range, r Region, off, length uint64) ([]byte, error) {
	if err := l.check(primary, r, off, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	if length == 0 {
		return out, nil
	}

	w, err := l.mapper.Map(primary.Addr+Offset(r)+off, length)
	if err != nil {
		return nil, errors.NewLayoutError("map region", err).WithRegion(r.String()).WithBounds(off, length, Capacity(primary, r))
	}
	defer w.Close()

	copy(out, w.Bytes())
	return out, nil
}

// ZeroRegion clears the whole usable part of region r.
func (l *Layout) ZeroRegion(primary Range, r Region) error {
	capacity := Capacity(primary, r)
	if capacity == 0 {
		return l.check(primary, r, 0, 1)
	}
	w, err := l.mapper.Map(primary.Addr+Offset(r), capacity)
	if err != nil {
		return errors.NewLayoutError("map region", err).WithRegion(r.String())
	}
	defer w.Close()

	clear(w.Bytes())
	return nil
}

// LoadRegion copies res into region r at offset off. The destination window
// covers exactly the resource's size, and nothing is mapped when the
// resource does not fit.
func (l *Layout) LoadRegion(primary Range, r Region, off uint64, res resource.Resource) error {
	size, err := res.Size()
	if err != nil {
		return err
	}
	length := uint64(size)
	if err := l.check(primary, r, off, length); err != nil {
		return err
	}
	if length == 0 {
		return res.Load(nil)
	}

	w, err := l.mapper.Map(primary.Addr+Offset(r)+off, length)
	if err != nil {
		return errors.NewLayoutError("map region", err).WithRegion(r.String()).WithBounds(off, length, Capacity(primary, r))
	}
	defer w.Close()

	if err := res.Load(w.Bytes()); err != nil {
		return err
	}
	if l.logger != nil {
		l.logger.Debug("loaded region", "region", r.String(), "addr", w.Addr(), "len", length, "source", res.Describe())
	}
	return nil
}

func (l *Layout) check(primary Range, r Region, off, length uint64) error {
	if primary.Empty() {
		return errors.NewLayoutError("no primary memory range bound", errors.ErrInvalidArgument).WithRegion(r.String())
	}
	capacity := Capacity(primary, r)
	if off > capacity || length > capacity-off {
		return errors.NewLayoutError("write past region end", errors.ErrOverflow).
			WithRegion(r.String()).WithBounds(off, length, capacity)
	}
	return nil
}
