// Package bootcpu starts a partition's boot core at a physical entry point.
//
// A Starter maps a logical core index to its hardware hart id and asks the
// firmware (the SBI hart state management extension, reached through a
// device node) to start it. Firmware return codes are mapped onto the
// dysche error taxonomy; codes that mean the hart is already running are
// reported as unrecoverable so the caller can mark the instance Lost.
package bootcpu

import (
	"fmt"

	"github.com/Iron-Ham/dysche/internal/errors"
)

// SBI return codes.
const (
	SBISuccess           int64 = 0
	SBIErrFailed         int64 = -1
	SBIErrNotSupported   int64 = -2
	SBIErrInvalidParam   int64 = -3
	SBIErrDenied         int64 = -4
	SBIErrInvalidAddr    int64 = -5
	SBIErrAlreadyAvail   int64 = -6
	SBIErrAlreadyStart   int64 = -7
	SBIErrAlreadyStopped int64 = -8
)

var sbiNames = map[int64]string{
	SBISuccess:           "success",
	SBIErrFailed:         "failed",
	SBIErrNotSupported:   "not supported",
	SBIErrInvalidParam:   "invalid parameter",
	SBIErrDenied:         "denied",
	SBIErrInvalidAddr:    "invalid address",
	SBIErrAlreadyAvail:   "already available",
	SBIErrAlreadyStart:   "already started",
	SBIErrAlreadyStopped: "already stopped",
}

// SBICodeString names a firmware return code.
func SBICodeString(code int64) string {
	if s, ok := sbiNames[code]; ok {
		return s
	}
	return fmt.Sprintf("unknown (%d)", code)
}

// sbiKind returns the error kind for a non-zero firmware code and whether the
// hart must be considered lost.
func sbiKind(code int64) (kind error, lost bool) {
	switch code {
	case SBIErrNotSupported:
		return errors.ErrNotSupported, false
	case SBIErrInvalidParam, SBIErrInvalidAddr:
		return errors.ErrInvalidArgument, false
	case SBIErrAlreadyAvail, SBIErrAlreadyStart:
		return errors.ErrBootFailure, true
	default:
		return errors.ErrBootFailure, false
	}
}

// codeError converts a firmware code into a BootError. It returns nil for
// SBISuccess. Every non-zero code wraps ErrBootFailure; the finer kind is
// joined in when it differs. Only the generic failure code is retryable.
func codeError(op string, core int, hart uint64, code int64) error {
	if code == SBISuccess {
		return nil
	}
	kind, lost := sbiKind(code)
	cause := errors.ErrBootFailure
	if kind != errors.ErrBootFailure {
		cause = fmt.Errorf("%w: %w", errors.ErrBootFailure, kind)
	}
	return errors.NewBootError(op+": "+SBICodeString(code), cause).
		WithCore(core).
		WithHart(hart).
		WithFirmwareCode(code).
		WithUnrecoverable(lost).
		WithRetryable(code == SBIErrFailed)
}
