// Package registry hands out partition identities from a bounded pool.
//
// Identities run from 1 to the pool capacity. Claim returns the lowest free
// identity; Release returns it to the pool. Reserve marks a specific identity
// as taken, which is how identities of instances persisted by an earlier
// process are kept out of circulation.
package registry

import (
	"slices"
	"sync"

	"github.com/Iron-Ham/dysche/internal/errors"
	"github.com/Iron-Ham/dysche/internal/logging"
)

// DefaultCapacity is the pool size when none is configured.
const DefaultCapacity = 4

// Entry is a claimed identity.
type Entry struct {
	Identity int
	Name     string
}

// Registry is a mutex-protected identity pool, safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	owners []string // index identity-1; "" means free
	used   []bool
	logger *logging.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger for claim and release tracing.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates a Registry of the given capacity.
func New(capacity int, opts ...Option) (*Registry, error) {
	if capacity < 1 {
		return nil, errors.Kindf(errors.ErrInvalidArgument, "registry capacity %d must be positive", capacity)
	}
	r := &Registry{
		owners: make([]string, capacity),
		used:   make([]bool, capacity),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Capacity returns the pool size.
func (r *Registry) Capacity() int {
	return len(r.used)
}

// Claim takes the lowest free identity for name. name may be empty and
// bound later with Bind.
// Returns ErrResourceExhausted when every identity is in use and
// ErrInvalidArgument when name already holds one.
func (r *Registry) Claim(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id := r.lookupLocked(name); name != "" && id != 0 {
		return 0, errors.Kindf(errors.ErrInvalidArgument, "name %q already holds identity %d", name, id)
	}
	for i, used := range r.used {
		if !used {
			r.used[i] = true
			r.owners[i] = name
			if r.logger != nil {
				r.logger.Debug("identity claimed", "identity", i+1, "name", name)
			}
			return i + 1, nil
		}
	}
	return 0, errors.Kindf(errors.ErrResourceExhausted, "all %d identities in use", len(r.used))
}

// Reserve marks identity id as held by name.
// Reserving an identity already held by the same name is a no-op.
func (r *Registry) Reserve(id int, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id < 1 || id > len(r.used) {
		return errors.Kindf(errors.ErrInvalidArgument, "identity %d outside 1..%d", id, len(r.used))
	}
	i := id - 1
	if r.used[i] {
		if r.owners[i] == name {
			return nil
		}
		return errors.Kindf(errors.ErrResourceExhausted, "identity %d held by %q", id, r.owners[i])
	}
	if other := r.lookupLocked(name); other != 0 {
		return errors.Kindf(errors.ErrInvalidArgument, "name %q already holds identity %d", name, other)
	}
	r.used[i] = true
	r.owners[i] = name
	return nil
}

// Bind names a claimed identity. It fails with ErrInvalidArgument when
// another identity already carries name.
func (r *Registry) Bind(id int, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id < 1 || id > len(r.used) || !r.used[id-1] {
		return errors.Kindf(errors.ErrInvalidState, "identity %d is not in use", id)
	}
	if other := r.lookupLocked(name); other != 0 && other != id {
		return errors.Kindf(errors.ErrInvalidArgument, "name %q already holds identity %d", name, other)
	}
	r.owners[id-1] = name
	return nil
}

// Release returns id to the pool. Releasing a free identity returns
// ErrInvalidState and changes nothing.
func (r *Registry) Release(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id < 1 || id > len(r.used) {
		return errors.Kindf(errors.ErrInvalidArgument, "identity %d outside 1..%d", id, len(r.used))
	}
	i := id - 1
	if !r.used[i] {
		return errors.Kindf(errors.ErrInvalidState, "identity %d is not in use", id)
	}
	if r.logger != nil {
		r.logger.Debug("identity released", "identity", id, "name", r.owners[i])
	}
	r.used[i] = false
	r.owners[i] = ""
	return nil
}

// Lookup returns the identity held by name.
func (r *Registry) Lookup(name string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.lookupLocked(name)
	return id, id != 0
}

func (r *Registry) lookupLocked(name string) int {
	if name == "" {
		return 0
	}
	for i, owner := range r.owners {
		if r.used[i] && owner == name {
			return i + 1
		}
	}
	return 0
}

// InUse reports whether id is claimed.
func (r *Registry) InUse(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return id >= 1 && id <= len(r.used) && r.used[id-1]
}

// Live returns the claimed identities in ascending order.
func (r *Registry) Live() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Entry
	for i, used := range r.used {
		if used {
			out = append(out, Entry{Identity: i + 1, Name: r.owners[i]})
		}
	}
	return slices.Clip(out)
}

// Free returns the number of unclaimed identities.
func (r *Registry) Free() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, used := range r.used {
		if !used {
			n++
		}
	}
	return n
}
