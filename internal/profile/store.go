package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/browserfleet/internal/errors"
	"github.com/Iron-Ham/browserfleet/internal/event"
	"github.com/Iron-Ham/browserfleet/internal/logging"
)

// RunningChecker reports whether an instance is currently registered for a profile id.
type RunningChecker interface {
	Has(id string) bool
}

// Store is the durable profile list. It is safe for concurrent use.
type Store struct {
	mu           sync.RWMutex
	fs           afero.Fs
	path         string
	instancesDir string
	profiles     []Profile
	lastWritten  []byte

	running RunningChecker
	bus     *event.Bus
	logger  *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithBus publishes profile events on bus.
func WithBus(bus *event.Bus) Option {
	return func(s *Store) { s.bus = bus }
}

// WithRunningChecker makes Delete refuse ids that checker reports as running.
func WithRunningChecker(checker RunningChecker) Option {
	return func(s *Store) { s.running = checker }
}

// Open loads the profile list at path. instancesDir is the parent of the
// per-profile browser directories removed by Delete.
func Open(fs afero.Fs, path, instancesDir string, opts ...Option) (*Store, error) {
	s := &Store{
		fs:           fs,
		path:         filepath.Clean(path),
		instancesDir: instancesDir,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}

	s.mu.Lock()
	s.profiles, _ = s.load()
	s.mu.Unlock()
	return s, nil
}

// SetRunningChecker sets the checker after construction. The lifecycle
// controller is usually built after the store it reads from.
func (s *Store) SetRunningChecker(checker RunningChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = checker
}

// Path returns the profiles file location.
func (s *Store) Path() string {
	return s.path
}

// Dir returns the browser profile directory for id.
func (s *Store) Dir(id string) string {
	return filepath.Join(s.instancesDir, id)
}

// List returns a copy of all profiles in persisted order.
func (s *Store) List() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Profile(nil), s.profiles...)
}

// Get returns the profile with the given id.
func (s *Store) Get(id string) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.profiles[i], true
	}
	return Profile{}, false
}

// Save inserts p or, if its id exists, renames it. Names must be unique
// across profiles, so renaming onto another profile's name fails with
// ErrDuplicateName.
func (s *Store) Save(p Profile) error {
	if err := Validate(p); err != nil {
		return err
	}
	p = p.Normalize()

	s.mu.Lock()
	for _, existing := range s.profiles {
		if existing.ID != p.ID && existing.Name == p.Name {
			s.mu.Unlock()
			return fmt.Errorf("%w: %q is used by profile %s", errors.ErrDuplicateName, p.Name, existing.ID)
		}
	}

	next := append([]Profile(nil), s.profiles...)
	created := false
	if i := s.indexOf(p.ID); i >= 0 {
		next[i] = p
	} else {
		next = append(next, p)
		created = true
	}

	if err := s.persist(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.profiles = next
	s.mu.Unlock()

	s.logger.Info("profile saved", "profile_id", p.ID, "name", p.Name, "created", created)
	s.publish(event.NewProfileSavedEvent(p.ID, p.Name, created))
	return nil
}

// Delete removes a profile and its browser directory. It fails with
// ErrNotFound for unknown ids and ErrInstanceRunning while the profile's
// instance is registered.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", errors.ErrNotFound, id)
	}
	if s.running != nil && s.running.Has(id) {
		s.mu.Unlock()
		return fmt.Errorf("%w: stop profile %s before deleting it", errors.ErrInstanceRunning, id)
	}

	next := make([]Profile, 0, len(s.profiles)-1)
	next = append(next, s.profiles[:i]...)
	next = append(next, s.profiles[i+1:]...)
	if err := s.persist(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.profiles = next
	s.mu.Unlock()

	dir := s.Dir(id)
	if err := s.fs.RemoveAll(dir); err != nil {
		s.logger.Warn("failed to remove profile directory", "profile_id", id, "dir", dir, "error", err)
		return fmt.Errorf("profile %s deleted but its directory remains: %w", id, err)
	}

	s.logger.Info("profile deleted", "profile_id", id)
	s.publish(event.NewProfileDeletedEvent(id))
	return nil
}

// Reload re-reads the profiles file. Content identical to the store's own
// last write is ignored, so a watcher does not echo local saves. Profiles
// whose instance is running survive a reload that drops them.
func (s *Store) Reload() error {
	s.mu.Lock()
	data, err := afero.ReadFile(s.fs, s.path)
	if err == nil && bytes.Equal(data, s.lastWritten) {
		s.mu.Unlock()
		return nil
	}
	profiles, loadErr := s.load()
	profiles = s.keepRunning(profiles)
	s.profiles = profiles
	count := len(profiles)
	s.mu.Unlock()

	s.logger.Info("profiles reloaded", "count", count)
	s.publish(event.NewProfileReloadedEvent(count))
	return loadErr
}

// keepRunning appends every current profile that is missing from next but
// still has a running instance. The caller must hold the write lock.
func (s *Store) keepRunning(next []Profile) []Profile {
	if s.running == nil {
		return next
	}
	present := make(map[string]bool, len(next))
	for _, p := range next {
		present[p.ID] = true
	}
	for _, p := range s.profiles {
		if present[p.ID] || !s.running.Has(p.ID) {
			continue
		}
		s.logger.Warn("profile removed from file while running, keeping it", "profile_id", p.ID, "name", p.Name)
		next = append(next, p)
	}
	return next
}

// load reads and parses the profiles file. The caller must hold the write lock.
// Any failure yields an empty list; invalid or duplicate entries are dropped.
func (s *Store) load() ([]Profile, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		s.logger.Warn("failed to read profiles file, starting empty", "path", s.path, "error", err)
		return nil, errors.Wrap(err, "failed to read profiles")
	}
	s.lastWritten = data

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var raw []Profile
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("profiles file is corrupt, starting empty", "path", s.path, "error", err)
		return nil, errors.Wrap(err, "failed to parse profiles")
	}

	profiles := make([]Profile, 0, len(raw))
	seenIDs := make(map[string]bool, len(raw))
	seenNames := make(map[string]bool, len(raw))
	for _, p := range raw {
		if err := Validate(p); err != nil {
			s.logger.Warn("skipping invalid profile", "profile_id", p.ID, "error", err)
			continue
		}
		p = p.Normalize()
		if seenIDs[p.ID] || seenNames[p.Name] {
			s.logger.Warn("skipping duplicate profile", "profile_id", p.ID, "name", p.Name)
			continue
		}
		seenIDs[p.ID] = true
		seenNames[p.Name] = true
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// persist writes the full list. The caller must hold the write lock.
func (s *Store) persist(profiles []Profile) error {
	if profiles == nil {
		profiles = []Profile{}
	}
	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal profiles")
	}
	data = append(data, '\n')

	if err := atomicWriteFile(s.fs, s.path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to save profiles")
	}
	s.lastWritten = data
	return nil
}

func (s *Store) indexOf(id string) int {
	for i, p := range s.profiles {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) publish(e event.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

// atomicWriteFile writes data to a temp file in the target's directory,
// syncs it and renames it over path, so readers never see a partial file.
func atomicWriteFile(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmpFile, err := afero.TempFile(fs, dir, "."+strings.TrimPrefix(filepath.Base(path), ".")+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = fs.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := fs.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
