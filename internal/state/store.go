// Package state persists partition records between dysche invocations.
//
// Each live instance has one JSON record under {stateDir}/instances. The
// records let a later process re-attach to instances it did not create:
// the identity is reserved again, the request is re-parsed and the shared
// configuration window is mapped, without reloading any image.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/dysche/internal/errors"
)

// InstancesDir is the record directory inside the state directory.
const InstancesDir = "instances"

// Record is the persisted form of one instance.
type Record struct {
	Name     string `json:"name"`
	Identity int    `json:"identity"`
	// Request is the configuration string the instance was created from.
	Request string `json:"request"`
	Status  string `json:"status"`
	BootID  string `json:"boot_id,omitempty"`
	// Disabled lists optional slots that failed to load.
	Disabled  []string  `json:"disabled,omitempty"`
	MaxLost   int       `json:"max_lost"`
	Restart   int       `json:"restart"`
	Restarts  int       `json:"restarts"`
	Partep    bool      `json:"partep"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps records as files on an afero filesystem.
type Store struct {
	fs  afero.Fs
	dir string
	mu  sync.RWMutex
}

// NewStore creates a Store rooted at {stateDir}/instances.
func NewStore(fs afero.Fs, stateDir string) (*Store, error) {
	dir := filepath.Join(stateDir, InstancesDir)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create state directory: %w", errors.ErrIOFailure, err)
	}
	return &Store{fs: fs, dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Save writes rec atomically, stamping UpdatedAt.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Name == "" {
		return errors.Kindf(errors.ErrInvalidArgument, "record without a name")
	}
	rec.UpdatedAt = time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return atomicWriteFile(s.fs, s.path(rec.Name), data, 0o644)
}

// Load reads the record for name. Returns ErrNotFound when absent.
func (s *Store) Load(ctx context.Context, name string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadLocked(name)
}

func (s *Store) loadLocked(name string) (Record, error) {
	data, err := afero.ReadFile(s.fs, s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, errors.Kindf(errors.ErrNotFound, "no record for %q", name)
		}
		return Record{}, fmt.Errorf("%w: read record %s: %w", errors.ErrIOFailure, name, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: parse record %s: %w", errors.ErrIOFailure, name, err)
	}
	return rec, nil
}

// Delete removes the record for name. Deleting a missing record is not an
// error.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: delete record %s: %w", errors.ErrIOFailure, name, err)
	}
	return nil
}

// List returns every record ordered by identity. Unreadable records are
// skipped and reported through skipped.
func (s *Store) List(ctx context.Context) (records []Record, skipped []error, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("%w: list records: %w", errors.ErrIOFailure, err)
	}
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".json")
		if e.IsDir() || !ok || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		rec, err := s.loadLocked(name)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Identity < records[j].Identity })
	return records, skipped, nil
}

// atomicWriteFile writes to a temp file in the same directory and renames
// it over path.
func atomicWriteFile(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create directory: %w", errors.ErrIOFailure, err)
	}

	tmp, err := afero.TempFile(fs, dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", errors.ErrIOFailure, err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = fs.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write temp file: %w", errors.ErrIOFailure, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: sync temp file: %w", errors.ErrIOFailure, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %w", errors.ErrIOFailure, err)
	}
	if err := fs.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("%w: set permissions: %w", errors.ErrIOFailure, err)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: rename temp file: %w", errors.ErrIOFailure, err)
	}
	success = true
	return nil
}
