// Package inspect maintains the per-instance inspection tree: one directory
// per live partition under the run directory, with one small text file per
// attribute, plus root files for creation requests and the cross-partition
// memory window.
//
//	{run}/cpec_mem          0x<size>@0x<addr>
//	{run}/create            write a configuration string to request an instance
//	{run}/<name>/status     coarse lifecycle status
//	{run}/<name>/cpu        affinity as a cpu list
//	{run}/<name>/desc       name, identity and command line
//	{run}/<name>/heartbeat  missed-tick threshold
//	{run}/<name>/partep     1 when the partition endpoint is enabled
//	{run}/<name>/restart    restart policy (-1 never, 0 unlimited, N)
//	{run}/<name>/cmdline    effective boot command line
package inspect

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"github.com/spf13/cast"

	"github.com/Iron-Ham/dysche/internal/errors"
)

// Attribute names.
const (
	AttrStatus    = "status"
	AttrCPU       = "cpu"
	AttrDesc      = "desc"
	AttrHeartbeat = "heartbeat"
	AttrPartep    = "partep"
	AttrRestart   = "restart"
	AttrCmdline   = "cmdline"
)

// Root file names.
const (
	FileCPEC         = "cpec_mem"
	FileCreate       = "create"
	FileCreateResult = "create.result"
)

// Attributes lists every attribute of an instance directory, in the order
// they are written.
var Attributes = []string{AttrStatus, AttrCPU, AttrDesc, AttrHeartbeat, AttrPartep, AttrRestart, AttrCmdline}

// Values is the full attribute set written at registration.
type Values struct {
	Status    string
	CPU       string
	Desc      string
	Heartbeat int
	Partep    bool
	Restart   int
	Cmdline   string
}

func (v Values) byAttr() map[string]any {
	return map[string]any{
		AttrStatus:    v.Status,
		AttrCPU:       v.CPU,
		AttrDesc:      v.Desc,
		AttrHeartbeat: v.Heartbeat,
		AttrPartep:    v.Partep,
		AttrRestart:   v.Restart,
		AttrCmdline:   v.Cmdline,
	}
}

// Tree is the inspection tree rooted at a run directory.
type Tree struct {
	fs   afero.Fs
	root string
	mu   sync.Mutex
}

// New returns a Tree over root.
func New(fs afero.Fs, root string) *Tree {
	return &Tree{fs: fs, root: root}
}

// Root returns the run directory.
func (t *Tree) Root() string {
	return t.root
}

func (t *Tree) dir(name string) string {
	return filepath.Join(t.root, name)
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errors.Kindf(errors.ErrInvalidArgument, "name %q cannot be an inspection directory", name)
	}
	if name == FileCPEC || name == FileCreate || name == FileCreateResult {
		return errors.Kindf(errors.ErrInvalidArgument, "name %q is reserved", name)
	}
	return nil
}

// Register creates the directory for name. It fails with ErrInvalidArgument
// when name is already registered.
func (t *Tree) Register(name string, v Values) error {
	if err := validName(name); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	dir := t.dir(name)
	if _, err := t.fs.Stat(dir); err == nil {
		return errors.Kindf(errors.ErrInvalidArgument, "%q already registered", name)
	}
	if err := t.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %w", errors.ErrIOFailure, dir, err)
	}
	values := v.byAttr()
	for _, attr := range Attributes {
		if err := t.writeLocked(name, attr, values[attr]); err != nil {
			_ = t.fs.RemoveAll(dir)
			return err
		}
	}
	return nil
}

// Deregister removes the directory for name. Missing directories are ignored.
func (t *Tree) Deregister(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fs.RemoveAll(t.dir(name)); err != nil {
		return fmt.Errorf("%w: remove %s: %w", errors.ErrIOFailure, name, err)
	}
	return nil
}

// Registered reports whether name has a directory.
func (t *Tree) Registered(name string) bool {
	if validName(name) != nil {
		return false
	}
	info, err := t.fs.Stat(t.dir(name))
	return err == nil && info.IsDir()
}

// Update rewrites one attribute of a registered instance.
func (t *Tree) Update(name, attr string, value any) error {
	if err := validName(name); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.fs.Stat(t.dir(name)); err != nil {
		return errors.Kindf(errors.ErrNotFound, "%q is not registered", name)
	}
	return t.writeLocked(name, attr, value)
}

func (t *Tree) writeLocked(name, attr string, value any) error {
	s, err := format(value)
	if err != nil {
		return errors.Kindf(errors.ErrInvalidArgument, "%s/%s: %v", name, attr, err)
	}
	path := filepath.Join(t.dir(name), attr)
	if err := afero.WriteFile(t.fs, path, []byte(s+"\n"), 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %w", errors.ErrIOFailure, path, err)
	}
	return nil
}

func format(value any) (string, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return "1", nil
		}
		return "0", nil
	default:
		return cast.ToStringE(value)
	}
}

// Read returns an attribute without its trailing newline.
func (t *Tree) Read(name, attr string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	data, err := afero.ReadFile(t.fs, filepath.Join(t.dir(name), attr))
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Kindf(errors.ErrNotFound, "%s/%s", name, attr)
		}
		return "", fmt.Errorf("%w: read %s/%s: %w", errors.ErrIOFailure, name, attr, err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// ReadInt reads an integer attribute.
func (t *Tree) ReadInt(name, attr string) (int, error) {
	s, err := t.Read(name, attr)
	if err != nil {
		return 0, err
	}
	v, err := cast.ToIntE(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Kindf(errors.ErrInvalidArgument, "%s/%s: %v", name, attr, err)
	}
	return v, nil
}

// ReadBool reads a boolean attribute. 1/0, true/false and on/off are
// accepted.
func (t *Tree) ReadBool(name, attr string) (bool, error) {
	s, err := t.Read(name, attr)
	if err != nil {
		return false, err
	}
	return ParseBool(s)
}

// ParseBool accepts the spellings the partep toggle takes.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "y", "yes":
		return true, nil
	case "off", "n", "no":
		return false, nil
	}
	v, err := cast.ToBoolE(strings.TrimSpace(s))
	if err != nil {
		return false, errors.Kindf(errors.ErrInvalidArgument, "%q is not a boolean", s)
	}
	return v, nil
}

// Names lists the registered instance directories.
func (t *Tree) Names() ([]string, error) {
	entries, err := afero.ReadDir(t.fs, t.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: list %s: %w", errors.ErrIOFailure, t.root, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Snapshot reads every attribute of name.
func (t *Tree) Snapshot(name string) (map[string]string, error) {
	out := make(map[string]string, len(Attributes))
	for _, attr := range Attributes {
		v, err := t.Read(name, attr)
		if err != nil {
			return nil, err
		}
		out[attr] = v
	}
	return out, nil
}

// WriteRoot writes a root file such as cpec_mem.
func (t *Tree) WriteRoot(file, content string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fs.MkdirAll(t.root, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %w", errors.ErrIOFailure, t.root, err)
	}
	if err := afero.WriteFile(t.fs, filepath.Join(t.root, file), []byte(content), 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %w", errors.ErrIOFailure, file, err)
	}
	return nil
}

// ReadRoot reads a root file.
func (t *Tree) ReadRoot(file string) (string, error) {
	data, err := afero.ReadFile(t.fs, filepath.Join(t.root, file))
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Kindf(errors.ErrNotFound, "%s", file)
		}
		return "", fmt.Errorf("%w: read %s: %w", errors.ErrIOFailure, file, err)
	}
	return string(data), nil
}
