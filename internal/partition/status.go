package partition

import (
	"strings"

	"github.com/Iron-Ham/dysche/internal/errors"
)

// Status is the coarse lifecycle state of an instance. The numeric values
// are shared with guests through the shared configuration block.
type Status uint32

const (
	StatusNone Status = iota
	StatusCreated
	StatusBooting
	StatusRunning
	StatusShuttingDown
	StatusRebooting
	StatusLost
	StatusInvalid
)

var statusNames = [...]string{
	StatusNone:         "none",
	StatusCreated:      "created",
	StatusBooting:      "booting",
	StatusRunning:      "running",
	StatusShuttingDown: "shutting_down",
	StatusRebooting:    "rebooting",
	StatusLost:         "lost",
	StatusInvalid:      "invalid",
}

// String returns the status as shown in the inspection tree.
func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return statusNames[StatusInvalid]
}

// Runnable reports whether Run may be called in this state.
func (s Status) Runnable() bool {
	return s == StatusCreated || s == StatusRunning || s == StatusRebooting
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range statusNames {
		if name == s {
			return Status(i), nil
		}
	}
	return StatusInvalid, errors.Kindf(errors.ErrInvalidArgument, "unknown status %q", s)
}

// StatusFromWire converts a value read from the shared block. Values
// outside the enum map to StatusInvalid.
func StatusFromWire(v uint32) Status {
	if v >= uint32(len(statusNames)) {
		return StatusInvalid
	}
	return Status(v)
}
