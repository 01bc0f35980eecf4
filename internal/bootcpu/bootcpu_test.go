package bootcpu

import (
	"testing"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/dysche/internal/errors"
)

func TestCodeError(t *testing.T) {
	tests := []struct {
		code      int64
		kind      error
		lost      bool
		retryable bool
		wantNil   bool
	}{
		{code: SBISuccess, wantNil: true},
		{code: SBIErrFailed, kind: errors.ErrBootFailure, retryable: true},
		{code: SBIErrNotSupported, kind: errors.ErrNotSupported},
		{code: SBIErrInvalidParam, kind: errors.ErrInvalidArgument},
		{code: SBIErrDenied, kind: errors.ErrBootFailure},
		{code: SBIErrInvalidAddr, kind: errors.ErrInvalidArgument},
		{code: SBIErrAlreadyAvail, kind: errors.ErrBootFailure, lost: true},
		{code: SBIErrAlreadyStart, kind: errors.ErrBootFailure, lost: true},
		{code: -42, kind: errors.ErrBootFailure},
	}
	for _, tt := range tests {
		t.Run(SBICodeString(tt.code), func(t *testing.T) {
			err := codeError("hart start", 1, 3, tt.code)
			if tt.wantNil {
				if err != nil {
					t.Fatalf("codeError(0) = %v", err)
				}
				return
			}
			if !errors.Is(err, errors.ErrBootFailure) {
				t.Errorf("%v does not wrap boot failure", err)
			}
			if !errors.Is(err, tt.kind) {
				t.Errorf("%v does not wrap %v", err, tt.kind)
			}
			if errors.IsUnrecoverable(err) != tt.lost {
				t.Errorf("IsUnrecoverable = %v, want %v", !tt.lost, tt.lost)
			}
			if errors.IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", !tt.retryable, tt.retryable)
			}
			var be *errors.BootError
			if !errors.As(err, &be) || be.Core != 1 || be.Hart != 3 || be.FirmwareCode != tt.code {
				t.Errorf("boot error context = %+v", be)
			}
		})
	}
}

func TestSysfsMap(t *testing.T) {
	fs := afero.NewMemMapFs()
	root := "/sys/devices/system/cpu"
	_ = fs.MkdirAll(root+"/cpu0/of_node", 0o755)
	_ = afero.WriteFile(fs, root+"/cpu0/of_node/reg", []byte{0, 0, 0, 4}, 0o444)
	_ = fs.MkdirAll(root+"/cpu1/of_node", 0o755)
	_ = afero.WriteFile(fs, root+"/cpu1/of_node/reg", []byte{0, 0, 0, 0, 0, 0, 0, 7}, 0o444)
	_ = fs.MkdirAll(root+"/cpu2", 0o755)
	_ = fs.MkdirAll(root+"/cpu3/of_node", 0o755)
	_ = afero.WriteFile(fs, root+"/cpu3/of_node/reg", []byte{1, 2}, 0o444)

	m := NewSysfsMap(fs, root)
	tests := []struct {
		core int
		want uint64
		err  error
	}{
		{core: 0, want: 4},
		{core: 1, want: 7},
		{core: 2, want: 2},
		{core: 3, err: errors.ErrParseError},
		{core: 9, err: errors.ErrNotFound},
		{core: -1, err: errors.ErrInvalidArgument},
	}
	for _, tt := range tests {
		got, err := m.Hart(tt.core)
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Errorf("Hart(%d) error = %v, want %v", tt.core, err, tt.err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("Hart(%d) = %d, %v; want %d", tt.core, got, err, tt.want)
		}
	}
}

func TestPossibleCores(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/cpu/possible", []byte("0-7\n"), 0o444)

	if n := PossibleCores(3, fs, "/cpu", nil); n != 3 {
		t.Errorf("configured = %d, want 3", n)
	}
	if n := PossibleCores(0, fs, "/cpu", nil); n != 8 {
		t.Errorf("sysfs = %d, want 8", n)
	}
	if n := PossibleCores(0, fs, "/missing", nil); n < 1 {
		t.Errorf("fallback = %d, want at least 1", n)
	}
}

func TestCoreStarter_Start(t *testing.T) {
	fw := NewSimFirmware(afero.NewMemMapFs(), "")
	s := NewCoreStarter(IdentityMap{}, fw, 4)

	if err := s.Start(1, 0x80600000); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h, ok := fw.Running(1)
	if !ok || h.Entry != 0x80600000 {
		t.Errorf("hart 1 = %+v, %v", h, ok)
	}

	err := s.Start(1, 0x80600000)
	if !errors.Is(err, errors.ErrBootFailure) || !errors.IsUnrecoverable(err) {
		t.Errorf("second Start = %v, want unrecoverable boot failure", err)
	}

	if err := s.Start(4, 0x80600000); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("Start on impossible core = %v", err)
	}

	fw.Inject(2, SBIErrInvalidAddr)
	err = s.Start(2, 0x1)
	if !errors.Is(err, errors.ErrInvalidArgument) || errors.IsUnrecoverable(err) {
		t.Errorf("injected invalid address = %v", err)
	}
	if _, ok := fw.Running(2); ok {
		t.Error("hart 2 should not be running after a rejected start")
	}
}

func TestCoreStarter_Stop(t *testing.T) {
	fw := NewSimFirmware(afero.NewMemMapFs(), "")
	s := NewCoreStarter(IdentityMap{}, fw, 2)

	if err := s.Stop(0); err != nil {
		t.Errorf("Stop of stopped hart = %v", err)
	}
	_ = s.Start(0, 0x1000)
	if err := s.Stop(0); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Start(0, 0x2000); err != nil {
		t.Errorf("Start after Stop = %v", err)
	}

	noStop := NewCoreStarter(IdentityMap{}, startOnly{}, 2)
	if err := noStop.Stop(0); !errors.Is(err, errors.ErrNotSupported) {
		t.Errorf("Stop without Stopper = %v", err)
	}
}

type startOnly struct{}

func (startOnly) HartStart(hart, entry, opaque uint64) (int64, error) { return SBISuccess, nil }

func TestSimFirmware_Persists(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/run/firmware.json"

	a := NewSimFirmware(fs, path)
	if code, err := a.HartStart(5, 0x9000, 0); err != nil || code != SBISuccess {
		t.Fatalf("HartStart = %d, %v", code, err)
	}

	b := NewSimFirmware(fs, path)
	if code, _ := b.HartStart(5, 0x9000, 0); code != SBIErrAlreadyAvail {
		t.Errorf("second process HartStart = %s, want already available", SBICodeString(code))
	}
	if code, _ := b.HartStop(5); code != SBISuccess {
		t.Errorf("HartStop = %s", SBICodeString(code))
	}
	if _, ok := a.Running(5); ok {
		t.Error("first process still sees hart 5 running")
	}
}
