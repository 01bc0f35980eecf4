package errors

import (
	"errors"
	"fmt"
	"testing"
)

// -----------------------------------------------------------------------------
// Severity Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Sentinel Tests
// -----------------------------------------------------------------------------

func TestErrOverflow_IsResourceExhausted(t *testing.T) {
	if !errors.Is(ErrOverflow, ErrResourceExhausted) {
		t.Error("ErrOverflow should match ErrResourceExhausted")
	}
	if errors.Is(ErrResourceExhausted, ErrOverflow) {
		t.Error("ErrResourceExhausted should not match ErrOverflow")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"plain", errors.New("boom"), nil},
		{"overflow before exhausted", fmt.Errorf("x: %w", ErrOverflow), ErrOverflow},
		{"exhausted", Kindf(ErrResourceExhausted, "pool full"), ErrResourceExhausted},
		{"domain wrapped", NewInstanceError("parse", ErrInvalidArgument), ErrInvalidArgument},
		{"multi wrap", fmt.Errorf("%w: cpu 99: %w", ErrInvalidArgument, ErrOverflow), ErrOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindf(t *testing.T) {
	err := Kindf(ErrInvalidArgument, "unknown key %q", "foo")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Error("Kindf result should wrap the kind")
	}
	if got, want := err.Error(), `invalid argument: unknown key "foo"`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

// -----------------------------------------------------------------------------
// InstanceError Tests
// -----------------------------------------------------------------------------

func TestNewInstanceError(t *testing.T) {
	err := NewInstanceError("claim layout", ErrInvalidArgument)

	if err.Severity() != SeverityError {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityError)
	}
	if err.IsRetryable() {
		t.Error("IsRetryable() = true, want false")
	}
	if !err.IsUserFacing() {
		t.Error("IsUserFacing() = false, want true")
	}
	if !errors.Is(err, ErrInvalidArgument) {
		t.Error("InstanceError should unwrap to its cause")
	}
}

func TestInstanceError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *InstanceError
		want string
	}{
		{
			name: "no context",
			err:  NewInstanceError("parse", nil),
			want: "instance error: parse",
		},
		{
			name: "full context",
			err:  NewInstanceError("claim", ErrInvalidArgument).WithIdentity(2).WithName("vm0").WithStep("claim"),
			want: "instance error [id=2, name=vm0, step=claim]: claim: invalid argument",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInstanceError_IsType(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewInstanceError("x", nil))
	var target *InstanceError
	if !errors.As(err, &target) {
		t.Fatal("errors.As should find InstanceError")
	}
	if !errors.Is(err, &InstanceError{}) {
		t.Error("errors.Is should match any InstanceError")
	}
}

// -----------------------------------------------------------------------------
// ResourceError / LayoutError Tests
// -----------------------------------------------------------------------------

func TestResourceError_Error(t *testing.T) {
	err := NewResourceError("open", ErrIOFailure).WithSlot("kernel").WithPath("/img/k")
	want := "resource error [slot=kernel, path=/img/k]: open: i/o failure"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrIOFailure) {
		t.Error("ResourceError should match ErrIOFailure")
	}
}

func TestLayoutError_Error(t *testing.T) {
	err := NewLayoutError("write region", ErrOverflow).WithRegion("fdt").WithBounds(0, 0x900000, 0x800000)
	want := "layout error [region=fdt, off=0x0 len=0x900000 cap=0x800000]: write region: resource exhausted: overflow"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrResourceExhausted) {
		t.Error("LayoutError wrapping overflow should match ErrResourceExhausted")
	}
}

// -----------------------------------------------------------------------------
// BootError Tests
// -----------------------------------------------------------------------------

func TestBootError(t *testing.T) {
	err := NewBootError("hart start", ErrBootFailure).WithCore(2).WithHart(3).WithFirmwareCode(-6).WithUnrecoverable(true)

	if got, want := err.Error(), "boot error [core=2, hart=3, fw=-6]: hart start: boot failure"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if err.Severity() != SeverityCritical {
		t.Errorf("Severity() = %v, want critical", err.Severity())
	}
	if !IsUnrecoverable(fmt.Errorf("run: %w", err)) {
		t.Error("IsUnrecoverable() = false, want true")
	}
	if IsUnrecoverable(ErrBootFailure) {
		t.Error("plain sentinel should not be unrecoverable")
	}
}

// -----------------------------------------------------------------------------
// Classification Tests
// -----------------------------------------------------------------------------

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), false},
		{"boot retryable", NewBootError("x", ErrBootFailure).WithRetryable(true), true},
		{"instance default", NewInstanceError("x", nil), false},
		{"instance wrapping retryable boot",
			NewInstanceError("run failed", NewBootError("start", ErrBootFailure).WithRetryable(true)), true},
		{"multi wrap", fmt.Errorf("%w: %w", ErrBootFailure, NewBootError("start", nil).WithRetryable(true)), true},
		{"instance wrapping lost boot",
			NewInstanceError("run failed", NewBootError("start", ErrBootFailure).WithUnrecoverable(true)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("nil should not be user facing")
	}
	if IsUserFacing(errors.New("internal")) {
		t.Error("plain errors should not be user facing")
	}
	if !IsUserFacing(Kindf(ErrMissingKernel, "kernel= omitted")) {
		t.Error("kind-wrapped errors should be user facing")
	}
}

func TestGetSeverity(t *testing.T) {
	if got := GetSeverity(nil); got != SeverityDebug {
		t.Errorf("GetSeverity(nil) = %v, want debug", got)
	}
	if got := GetSeverity(errors.New("x")); got != SeverityError {
		t.Errorf("GetSeverity(plain) = %v, want error", got)
	}
	warn := NewResourceError("fdt", ErrParseError).WithSeverity(SeverityWarning)
	if got := GetSeverity(warn); got != SeverityWarning {
		t.Errorf("GetSeverity(warn) = %v, want warning", got)
	}
	lost := NewInstanceError("run failed", NewBootError("start", ErrBootFailure).WithUnrecoverable(true))
	if got := GetSeverity(lost); got != SeverityCritical {
		t.Errorf("GetSeverity(instance wrapping lost boot) = %v, want critical", got)
	}
	downgraded := NewInstanceError("attach failed", NewInstanceError("parse", ErrInvalidArgument)).
		WithSeverity(SeverityWarning)
	if got := GetSeverity(downgraded); got != SeverityWarning {
		t.Errorf("GetSeverity(downgraded) = %v, want warning", got)
	}
	joined := fmt.Errorf("%w: %w", warn, errors.New("plain"))
	if got := GetSeverity(joined); got != SeverityWarning {
		t.Errorf("GetSeverity(joined) = %v, want warning", got)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	err := Wrapf(ErrNotFound, "instance %s", "vm0")
	if !errors.Is(err, ErrNotFound) {
		t.Error("Wrapf should preserve the chain")
	}
	if got, want := err.Error(), "instance vm0: not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
