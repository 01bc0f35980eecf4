package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a "category.action" identifier, e.g. "instance.created".
	EventType() string
	Timestamp() time.Time
}

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Event types.
const (
	TypeInstanceCreated   = "instance.created"
	TypeInstanceStarted   = "instance.started"
	TypeInstanceDestroyed = "instance.destroyed"
	TypeStatusChanged     = "instance.status_changed"
	TypeResourceDisabled  = "resource.disabled"
	TypeHeartbeatMissed   = "heartbeat.missed"
	TypeRestartAttempted  = "restart.attempted"
)

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// InstanceCreatedEvent is emitted when Create completes.
type InstanceCreatedEvent struct {
	baseEvent
	Identity int
	Name     string
}

// NewInstanceCreatedEvent creates an InstanceCreatedEvent.
func NewInstanceCreatedEvent(identity int, name string) InstanceCreatedEvent {
	return InstanceCreatedEvent{
		baseEvent: newBaseEvent(TypeInstanceCreated),
		Identity:  identity,
		Name:      name,
	}
}

// InstanceStartedEvent is emitted when the boot core accepted the start request.
type InstanceStartedEvent struct {
	baseEvent
	Name   string
	BootID string
	Core   int
	Entry  uint64
}

// NewInstanceStartedEvent creates an InstanceStartedEvent.
func NewInstanceStartedEvent(name, bootID string, core int, entry uint64) InstanceStartedEvent {
	return InstanceStartedEvent{
		baseEvent: newBaseEvent(TypeInstanceStarted),
		Name:      name,
		BootID:    bootID,
		Core:      core,
		Entry:     entry,
	}
}

// InstanceDestroyedEvent is emitted after Destroy freed the identity.
type InstanceDestroyedEvent struct {
	baseEvent
	Identity int
	Name     string
}

// NewInstanceDestroyedEvent creates an InstanceDestroyedEvent.
func NewInstanceDestroyedEvent(identity int, name string) InstanceDestroyedEvent {
	return InstanceDestroyedEvent{
		baseEvent: newBaseEvent(TypeInstanceDestroyed),
		Identity:  identity,
		Name:      name,
	}
}

// StatusChangedEvent is emitted on every lifecycle transition.
type StatusChangedEvent struct {
	baseEvent
	Name string
	From string
	To   string
}

// NewStatusChangedEvent creates a StatusChangedEvent.
func NewStatusChangedEvent(name, from, to string) StatusChangedEvent {
	return StatusChangedEvent{
		baseEvent: newBaseEvent(TypeStatusChanged),
		Name:      name,
		From:      from,
		To:        to,
	}
}

// ResourceDisabledEvent is emitted when an optional resource failed to load
// and was disabled for the rest of the instance's life.
type ResourceDisabledEvent struct {
	baseEvent
	Name   string
	Slot   string
	Reason string
}

// NewResourceDisabledEvent creates a ResourceDisabledEvent.
func NewResourceDisabledEvent(name, slot, reason string) ResourceDisabledEvent {
	return ResourceDisabledEvent{
		baseEvent: newBaseEvent(TypeResourceDisabled),
		Name:      name,
		Slot:      slot,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Supervision
// -----------------------------------------------------------------------------

// HeartbeatMissedEvent is emitted when the slave counter did not advance
// during a supervisor tick.
type HeartbeatMissedEvent struct {
	baseEvent
	Name   string
	Missed int
	Limit  int
}

// NewHeartbeatMissedEvent creates a HeartbeatMissedEvent.
func NewHeartbeatMissedEvent(name string, missed, limit int) HeartbeatMissedEvent {
	return HeartbeatMissedEvent{
		baseEvent: newBaseEvent(TypeHeartbeatMissed),
		Name:      name,
		Missed:    missed,
		Limit:     limit,
	}
}

// RestartAttemptedEvent is emitted when the supervisor reboots a lost instance.
type RestartAttemptedEvent struct {
	baseEvent
	Name    string
	Attempt int
	Err     error
}

// NewRestartAttemptedEvent creates a RestartAttemptedEvent.
func NewRestartAttemptedEvent(name string, attempt int, err error) RestartAttemptedEvent {
	return RestartAttemptedEvent{
		baseEvent: newBaseEvent(TypeRestartAttempted),
		Name:      name,
		Attempt:   attempt,
		Err:       err,
	}
}
