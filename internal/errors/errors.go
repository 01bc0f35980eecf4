// Package errors provides the error taxonomy shared by every dysche component.
// It defines sentinel errors for each failure kind, domain error types that
// carry partition context, and classification helpers.
//
// # Error Kinds
//
// Every failure the launcher reports wraps exactly one kind sentinel:
//   - ErrInvalidArgument: bad configuration syntax or semantics
//   - ErrResourceExhausted: identity pool full or a fixed buffer too small
//   - ErrOverflow: a size exceeded its destination (is-a ErrResourceExhausted)
//   - ErrMissingKernel: no kernel resource at finalize time
//   - ErrNotReady / ErrNotSupported: disabled resource or unset behaviour
//   - ErrIOFailure: file or physical mapping operation failed
//   - ErrParseError: malformed device-tree blob
//   - ErrOutOfMemory: working buffer could not be allocated
//   - ErrBootFailure: core start rejected or a mandatory load failed
//
// # Domain Types
//
// Domain errors add context to a kind:
//   - InstanceError: lifecycle step failures (identity, name, step)
//   - ResourceError: resource slot failures (slot, path)
//   - LayoutError: region bounds failures (region, offset, length, capacity)
//   - BootError: cross-core start failures (core, hart, firmware code)
//
// # Usage
//
//	err := errors.NewLayoutError("kernel image too large", errors.ErrOverflow).
//		WithRegion("kernel").WithBounds(0, 200<<20, 128<<20)
//
//	if errors.Is(err, errors.ErrResourceExhausted) { ... }
//
//	var layoutErr *errors.LayoutError
//	if errors.As(err, &layoutErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is   = errors.Is
	As   = errors.As
	New  = errors.New
	Join = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors on optional steps that the caller survives.
	SeverityWarning
	// SeverityError is for errors that abort an operation.
	SeverityError
	// SeverityCritical is for errors that leave an instance unrecoverable.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Kind sentinels. Every error produced by dysche wraps one of these.
var (
	// ErrInvalidArgument indicates bad configuration syntax or semantics.
	ErrInvalidArgument = New("invalid argument")
	// ErrResourceExhausted indicates a bounded pool or fixed buffer is full.
	ErrResourceExhausted = New("resource exhausted")
	// ErrOverflow indicates content larger than its destination.
	ErrOverflow = fmt.Errorf("%w: overflow", ErrResourceExhausted)
	// ErrMissingKernel indicates no kernel resource was supplied.
	ErrMissingKernel = New("missing kernel")
	// ErrNotReady indicates an operation on a disabled resource.
	ErrNotReady = New("not ready")
	// ErrNotSupported indicates an unset behaviour or unsupported request.
	ErrNotSupported = New("not supported")
	// ErrIOFailure indicates a file or mapping operation failed.
	ErrIOFailure = New("i/o failure")
	// ErrParseError indicates a malformed device-tree blob.
	ErrParseError = New("parse error")
	// ErrOutOfMemory indicates a working buffer could not be allocated.
	ErrOutOfMemory = New("out of memory")
	// ErrBootFailure indicates the core start or a mandatory load failed.
	ErrBootFailure = New("boot failure")
	// ErrNotFound indicates required data (firmware params, instance) is absent.
	ErrNotFound = New("not found")
	// ErrInvalidState indicates an operation not allowed in the current status.
	ErrInvalidState = New("invalid state")
)

// kinds lists the kind sentinels in the order KindOf checks them.
// ErrOverflow precedes ErrResourceExhausted because it wraps it.
var kinds = []error{
	ErrOverflow,
	ErrResourceExhausted,
	ErrInvalidArgument,
	ErrMissingKernel,
	ErrNotReady,
	ErrNotSupported,
	ErrIOFailure,
	ErrParseError,
	ErrOutOfMemory,
	ErrBootFailure,
	ErrNotFound,
	ErrInvalidState,
}

// KindOf returns the first kind sentinel err wraps, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if Is(err, k) {
			return k
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// DyscheError is the base interface for all dysche domain errors.
type DyscheError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the operation may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the message is safe to show administrators.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

func newBase(message string, cause error) baseError {
	return baseError{
		message:    message,
		cause:      cause,
		severity:   SeverityError,
		userFacing: true,
	}
}

func format(prefix string, parts []string, e *baseError) string {
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// InstanceError represents a failure in an instance lifecycle step.
//
// Example:
//
//	err := errors.NewInstanceError("claim memory layout", errors.ErrInvalidArgument)
//	err = err.WithIdentity(2).WithName("vm0").WithStep("claim")
//	fmt.Println(err) // "instance error [id=2, name=vm0, step=claim]: claim memory layout: invalid argument"
type InstanceError struct {
	baseError
	Identity int
	Name     string
	Step     string
}

// NewInstanceError creates a new InstanceError.
func NewInstanceError(message string, cause error) *InstanceError {
	return &InstanceError{baseError: newBase(message, cause)}
}

// WithIdentity adds the instance identity to the error context.
func (e *InstanceError) WithIdentity(id int) *InstanceError {
	e.Identity = id
	return e
}

// WithName adds the instance name to the error context.
func (e *InstanceError) WithName(name string) *InstanceError {
	e.Name = name
	return e
}

// WithStep adds the lifecycle step to the error context.
func (e *InstanceError) WithStep(step string) *InstanceError {
	e.Step = step
	return e
}

// WithSeverity sets the error severity.
func (e *InstanceError) WithSeverity(s Severity) *InstanceError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *InstanceError) Error() string {
	var parts []string
	if e.Identity > 0 {
		parts = append(parts, fmt.Sprintf("id=%d", e.Identity))
	}
	if e.Name != "" {
		parts = append(parts, fmt.Sprintf("name=%s", e.Name))
	}
	if e.Step != "" {
		parts = append(parts, fmt.Sprintf("step=%s", e.Step))
	}
	return format("instance error", parts, &e.baseError)
}

// Is checks if this error matches the target.
func (e *InstanceError) Is(target error) bool {
	if _, ok := target.(*InstanceError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ResourceError represents a failure on one resource slot.
//
// Example:
//
//	err := errors.NewResourceError("open image", errors.ErrIOFailure).
//		WithSlot("kernel").WithPath("/img/k")
type ResourceError struct {
	baseError
	Slot string
	Path string
}

// NewResourceError creates a new ResourceError.
func NewResourceError(message string, cause error) *ResourceError {
	return &ResourceError{baseError: newBase(message, cause)}
}

// WithSlot adds the resource slot name to the error context.
func (e *ResourceError) WithSlot(slot string) *ResourceError {
	e.Slot = slot
	return e
}

// WithPath adds the backing file path to the error context.
func (e *ResourceError) WithPath(path string) *ResourceError {
	e.Path = path
	return e
}

// WithSeverity sets the error severity.
func (e *ResourceError) WithSeverity(s Severity) *ResourceError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *ResourceError) Error() string {
	var parts []string
	if e.Slot != "" {
		parts = append(parts, fmt.Sprintf("slot=%s", e.Slot))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return format("resource error", parts, &e.baseError)
}

// Is checks if this error matches the target.
func (e *ResourceError) Is(target error) bool {
	if _, ok := target.(*ResourceError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// LayoutError represents a bounds or mapping failure on a memory region.
//
// Example:
//
//	err := errors.NewLayoutError("write region", errors.ErrOverflow).
//		WithRegion("fdt").WithBounds(0, 9<<20, 8<<20)
type LayoutError struct {
	baseError
	Region   string
	Offset   uint64
	Length   uint64
	Capacity uint64
	bounded  bool
}

// NewLayoutError creates a new LayoutError.
func NewLayoutError(message string, cause error) *LayoutError {
	return &LayoutError{baseError: newBase(message, cause)}
}

// WithRegion adds the region name to the error context.
func (e *LayoutError) WithRegion(region string) *LayoutError {
	e.Region = region
	return e
}

// WithBounds adds the attempted offset, length and region capacity.
func (e *LayoutError) WithBounds(offset, length, capacity uint64) *LayoutError {
	e.Offset = offset
	e.Length = length
	e.Capacity = capacity
	e.bounded = true
	return e
}

// Error returns the formatted error message.
func (e *LayoutError) Error() string {
	var parts []string
	if e.Region != "" {
		parts = append(parts, fmt.Sprintf("region=%s", e.Region))
	}
	if e.bounded {
		parts = append(parts, fmt.Sprintf("off=%#x len=%#x cap=%#x", e.Offset, e.Length, e.Capacity))
	}
	return format("layout error", parts, &e.baseError)
}

// Is checks if this error matches the target.
func (e *LayoutError) Is(target error) bool {
	if _, ok := target.(*LayoutError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// BootError represents a failed cross-core start.
//
// Example:
//
//	err := errors.NewBootError("hart start rejected", errors.ErrBootFailure).
//		WithCore(2).WithHart(2).WithFirmwareCode(-6)
type BootError struct {
	baseError
	Core         int
	Hart         uint64
	FirmwareCode int64
	// Unrecoverable is set when the firmware reports the core already
	// running or permanently unavailable.
	Unrecoverable bool
}

// NewBootError creates a new BootError.
func NewBootError(message string, cause error) *BootError {
	return &BootError{baseError: newBase(message, cause), Core: -1}
}

// WithCore adds the logical core index to the error context.
func (e *BootError) WithCore(core int) *BootError {
	e.Core = core
	return e
}

// WithHart adds the hardware core identifier to the error context.
func (e *BootError) WithHart(hart uint64) *BootError {
	e.Hart = hart
	return e
}

// WithFirmwareCode adds the raw firmware return code.
func (e *BootError) WithFirmwareCode(code int64) *BootError {
	e.FirmwareCode = code
	return e
}

// WithUnrecoverable marks the target core as lost.
func (e *BootError) WithUnrecoverable(u bool) *BootError {
	e.Unrecoverable = u
	if u {
		e.severity = SeverityCritical
	}
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *BootError) WithRetryable(r bool) *BootError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *BootError) Error() string {
	var parts []string
	if e.Core >= 0 {
		parts = append(parts, fmt.Sprintf("core=%d", e.Core), fmt.Sprintf("hart=%d", e.Hart))
	}
	if e.FirmwareCode != 0 {
		parts = append(parts, fmt.Sprintf("fw=%d", e.FirmwareCode))
	}
	return format("boot error", parts, &e.baseError)
}

// Is checks if this error matches the target.
func (e *BootError) Is(target error) bool {
	if _, ok := target.(*BootError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable reports whether any domain error in err's chain marks the
// failure as transient. Wrapping an error in an InstanceError keeps the
// classification of its cause.
func IsRetryable(err error) bool {
	return walk(err, func(e error) bool {
		de, ok := e.(DyscheError)
		return ok && de.IsRetryable()
	})
}

// walk calls fn on err and everything it wraps, depth first, and stops at
// the first error for which fn returns true.
func walk(err error, fn func(error) bool) bool {
	for err != nil {
		if fn(err) {
			return true
		}
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				if walk(inner, fn) {
					return true
				}
			}
			return false
		case interface{ Unwrap() error }:
			err = u.Unwrap()
		default:
			return false
		}
	}
	return false
}

// IsUserFacing returns true if the error message is safe to display to
// administrators. Plain errors are treated as internal.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var dyscheErr DyscheError
	if As(err, &dyscheErr) {
		return dyscheErr.IsUserFacing()
	}
	return KindOf(err) != nil
}

// IsUnrecoverable reports whether err is a BootError marking its core lost.
func IsUnrecoverable(err error) bool {
	var bootErr *BootError
	return As(err, &bootErr) && bootErr.Unrecoverable
}

// GetSeverity returns the severity of the outermost domain error in err's
// chain, raised to SeverityCritical when anything it wraps is critical.
// Errors without one are SeverityError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	sev := SeverityError
	found := false
	walk(err, func(e error) bool {
		de, ok := e.(DyscheError)
		if !ok {
			return false
		}
		if !found {
			sev, found = de.Severity(), true
		}
		if de.Severity() == SeverityCritical {
			sev = SeverityCritical
			return true
		}
		return false
	})
	return sev
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Kindf returns an error wrapping kind with a formatted message.
//
// Example:
//
//	return errors.Kindf(errors.ErrInvalidArgument, "unknown key %q", key)
func Kindf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
