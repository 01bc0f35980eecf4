package bootcpu

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unsafe"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/dysche/internal/errors"
)

// Firmware issues hart state management calls. A call that reached the
// firmware returns its code and a nil error; err is reserved for transport
// failures.
type Firmware interface {
	HartStart(hart, entry, opaque uint64) (code int64, err error)
}

// Stopper is implemented by firmware that can return a hart to the stopped
// state from another core.
type Stopper interface {
	HartStop(hart uint64) (code int64, err error)
}

// hartRequest is the argument block of the firmware device ioctls.
type hartRequest struct {
	Hart   uint64
	Entry  uint64
	Opaque uint64
	Ret    int64
}

// _IOWR('D', n, struct hartRequest)
const (
	ioctlHartStart = 0xC0204401
	ioctlHartStop  = 0xC0204402
)

// DeviceFirmware forwards calls to the dysche firmware device.
type DeviceFirmware struct {
	path string
}

// NewDeviceFirmware returns a DeviceFirmware for path. The device is opened
// per call.
func NewDeviceFirmware(path string) *DeviceFirmware {
	return &DeviceFirmware{path: path}
}

// HartStart implements Firmware.
func (d *DeviceFirmware) HartStart(hart, entry, opaque uint64) (int64, error) {
	req := hartRequest{Hart: hart, Entry: entry, Opaque: opaque}
	if err := d.ioctl(ioctlHartStart, &req); err != nil {
		return 0, err
	}
	return req.Ret, nil
}

// HartStop implements Stopper.
func (d *DeviceFirmware) HartStop(hart uint64) (int64, error) {
	req := hartRequest{Hart: hart}
	if err := d.ioctl(ioctlHartStop, &req); err != nil {
		return 0, err
	}
	return req.Ret, nil
}

func (d *DeviceFirmware) ioctl(op uintptr, req *hartRequest) error {
	fd, err := unix.Open(d.path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", errors.ErrIOFailure, d.path, err)
	}
	defer unix.Close(fd)

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), op, uintptr(unsafe.Pointer(req)))
	if errno != 0 {
		if errno == unix.ENOTTY || errno == unix.EINVAL {
			return fmt.Errorf("%w: %s: %w", errors.ErrNotSupported, d.path, errno)
		}
		return fmt.Errorf("%w: ioctl %s: %w", errors.ErrIOFailure, d.path, errno)
	}
	return nil
}

// SimHart is the simulator's record of a started hart.
type SimHart struct {
	Entry     uint64    `json:"entry"`
	Opaque    uint64    `json:"opaque"`
	StartedAt time.Time `json:"started_at"`
}

// SimFirmware is an in-process firmware that records started harts. With a
// state path the records are kept in a JSON file so that separate processes
// agree on which harts run.
type SimFirmware struct {
	mu     sync.Mutex
	fs     afero.Fs
	path   string
	harts  map[uint64]SimHart
	inject map[uint64]int64
}

// NewSimFirmware creates a simulator. path may be empty for a purely
// in-memory simulator.
func NewSimFirmware(fs afero.Fs, path string) *SimFirmware {
	return &SimFirmware{
		fs:     fs,
		path:   path,
		harts:  make(map[uint64]SimHart),
		inject: make(map[uint64]int64),
	}
}

// Inject makes the next start or stop of hart return code.
func (s *SimFirmware) Inject(hart uint64, code int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inject[hart] = code
}

// HartStart implements Firmware.
func (s *SimFirmware) HartStart(hart, entry, opaque uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return 0, err
	}
	if code, ok := s.takeInjectedLocked(hart); ok {
		return code, nil
	}
	if _, running := s.harts[hart]; running {
		return SBIErrAlreadyAvail, nil
	}
	s.harts[hart] = SimHart{Entry: entry, Opaque: opaque, StartedAt: time.Now()}
	return SBISuccess, s.saveLocked()
}

// HartStop implements Stopper.
func (s *SimFirmware) HartStop(hart uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return 0, err
	}
	if code, ok := s.takeInjectedLocked(hart); ok {
		return code, nil
	}
	if _, running := s.harts[hart]; !running {
		return SBIErrAlreadyStopped, nil
	}
	delete(s.harts, hart)
	return SBISuccess, s.saveLocked()
}

// Running returns the record of a started hart.
func (s *SimFirmware) Running(hart uint64) (SimHart, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked()
	h, ok := s.harts[hart]
	return h, ok
}

func (s *SimFirmware) takeInjectedLocked(hart uint64) (int64, bool) {
	code, ok := s.inject[hart]
	if ok {
		delete(s.inject, hart)
	}
	return code, ok
}

func (s *SimFirmware) loadLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: read firmware state: %w", errors.ErrIOFailure, err)
	}
	harts := make(map[uint64]SimHart)
	if err := json.Unmarshal(data, &harts); err != nil {
		return fmt.Errorf("%w: parse firmware state: %w", errors.ErrIOFailure, err)
	}
	s.harts = harts
	return nil
}

func (s *SimFirmware) saveLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.harts, "", "  ")
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrIOFailure, err)
	}
	if err := afero.WriteFile(s.fs, s.path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write firmware state: %w", errors.ErrIOFailure, err)
	}
	return nil
}
