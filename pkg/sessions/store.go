// Package sessions persists agent session records, one JSON file per
// session, and applies lifecycle events to them.
package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/agentwatch/errors"
	"github.com/grovetools/agentwatch/pkg/process"
	"github.com/grovetools/agentwatch/schema"
)

const recordExt = ".json"

var (
	idRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// Store reads and writes session records under a directory. Writers in
// other processes are tolerated: every write is a temp file plus rename.
type Store struct {
	dir       string
	linksPath string
	logger    *logrus.Entry
	now       func() time.Time
	alive     func(pid int) bool

	// mu serializes read-modify-write cycles within this process.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithProcessChecker replaces the liveness probe used by CleanupStale.
func WithProcessChecker(alive func(pid int) bool) Option {
	return func(s *Store) { s.alive = alive }
}

// WithLinksFile overrides the links file location.
func WithLinksFile(path string) Option {
	return func(s *Store) { s.linksPath = path }
}

// NewStore creates a store rooted at dir. The links file defaults to
// links.json next to dir.
func NewStore(dir string, logger *logrus.Entry, opts ...Option) *Store {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Store{
		dir:       dir,
		linksPath: filepath.Join(filepath.Dir(dir), "links.json"),
		logger:    logger,
		now:       time.Now,
		alive:     process.IsProcessAlive,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the sessions directory.
func (s *Store) Dir() string {
	return s.dir
}

// Get returns the record for id, or nil when it is absent or malformed.
func (s *Store) Get(id string) (*Record, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	rec, err := s.read(s.path(id))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WithError(err).WithField("session", id).Debug("Ignoring unreadable session record")
		}
		return nil, nil
	}
	return rec, nil
}

// Upsert creates the record if absent, otherwise merges the set fields of
// in over it. LastUpdate is always refreshed.
func (s *Store) Upsert(in Input) error {
	if err := validateID(in.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.upsertLocked(in)
	return err
}

// Update merges p into an existing record. Absent records are left absent.
func (s *Store) Update(id string, p Patch) error {
	if err := validateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.read(s.path(id))
	if err != nil {
		return nil
	}
	p.applyTo(existing)
	return s.writeLocked(existing)
}

// Delete removes the record. Deleting an absent record is not an error.
func (s *Store) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete session record").
			WithDetail("session", id)
	}
	return nil
}

// ListAll returns every readable record sorted by ID.
func (s *Store) ListAll() ([]*Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Record{}, nil
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read sessions directory").
			WithDetail("dir", s.dir)
	}

	records := make([]*Record, 0, len(entries))
	for _, entry := range entries {
		if !isRecordFile(entry) {
			continue
		}
		rec, err := s.read(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// CleanupStale deletes records whose owning process is gone, plus any
// malformed record files. Placeholder records (pid 0) are never removed.
// It returns the number of files removed.
func (s *Store) CleanupStale() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to read sessions directory").
			WithDetail("dir", s.dir)
	}

	removed := 0
	for _, entry := range entries {
		if !isRecordFile(entry) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		rec, err := s.read(path)
		switch {
		case os.IsNotExist(err):
			continue
		case err != nil:
			s.logger.WithError(err).WithField("file", entry.Name()).Info("Removing malformed session record")
		case rec.PID > 0 && !s.alive(rec.PID):
			s.logger.WithFields(logrus.Fields{"session": rec.ID, "pid": rec.PID}).Info("Removing stale session")
		default:
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.WithError(err).WithField("file", entry.Name()).Warn("Failed to remove session record")
			continue
		}
		removed++
	}
	return removed, nil
}

// Apply runs a lifecycle event through the state table and returns the
// resulting record (nil after session-end).
func (s *Store) Apply(ev HookEvent) (*Record, error) {
	if err := validateID(ev.SessionID); err != nil {
		return nil, err
	}
	if ev.Event == EventSessionEnd {
		return nil, s.Delete(ev.SessionID)
	}

	now := s.now()
	patch, err := transition(ev, now)
	if err != nil {
		return nil, errors.InvalidInput(err.Error())
	}
	if ev.PID > 0 {
		patch.PID = intPtr(ev.PID)
	}
	if ev.Cwd != "" {
		patch.Cwd = strPtr(ev.Cwd)
	}
	if ev.GitRoot != "" {
		patch.GitRoot = strPtr(ev.GitRoot)
	}
	if ev.TmuxTarget != "" {
		patch.TmuxTarget = strPtr(ev.TmuxTarget)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, _ := s.read(s.path(ev.SessionID))
	if ev.TmuxTarget != "" && (existing == nil || ev.Event == EventSessionStart) {
		if inherited := s.evictPaneLocked(ev.SessionID, ev.TmuxTarget); inherited != "" {
			if existing == nil || existing.LinkedTo == nil {
				patch.LinkedTo = strPtr(inherited)
			}
		}
	}

	return s.upsertLocked(Input{ID: ev.SessionID, Patch: patch})
}

// evictPaneLocked deletes other records bound to target and returns the
// first linked_to value found among them.
func (s *Store) evictPaneLocked(id, target string) string {
	records, err := s.ListAll()
	if err != nil {
		return ""
	}
	var inherited string
	for _, rec := range records {
		if rec.ID == id || rec.Target() != target {
			continue
		}
		if inherited == "" && rec.LinkedTo != nil {
			inherited = *rec.LinkedTo
		}
		s.logger.WithFields(logrus.Fields{"session": rec.ID, "target": target, "replacement": id}).
			Debug("Removing stale record for reused pane")
		if err := os.Remove(s.path(rec.ID)); err != nil && !os.IsNotExist(err) {
			s.logger.WithError(err).WithField("session", rec.ID).Warn("Failed to remove stale pane record")
		}
	}
	return inherited
}

func (s *Store) upsertLocked(in Input) (*Record, error) {
	rec, err := s.read(s.path(in.ID))
	if err != nil {
		rec = &Record{
			ID:            in.ID,
			State:         StateIdle,
			SchemaVersion: SchemaVersion,
		}
		if link := s.links()[in.ID]; link != "" {
			rec.LinkedTo = strPtr(link)
		}
	}
	in.Patch.applyTo(rec)
	if err := s.writeLocked(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// writeLocked stamps LastUpdate and writes the record atomically.
func (s *Store) writeLocked(rec *Record) error {
	now := s.now().UTC()
	if !now.After(rec.LastUpdate) {
		now = rec.LastUpdate.Add(time.Nanosecond)
	}
	rec.LastUpdate = now
	rec.SchemaVersion = SchemaVersion

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal session record")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create sessions directory").
			WithDetail("dir", s.dir)
	}
	if err := WriteFileAtomic(s.path(rec.ID), data); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to write session record").
			WithDetail("session", rec.ID)
	}
	return nil
}

// read decodes and validates one record file.
func (s *Store) read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if v, err := recordValidator(); err == nil {
		if err := v.ValidateJSON(data); err != nil {
			return nil, err
		}
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("invalid session record: %w", err)
	}
	if rec.ID+recordExt != filepath.Base(path) {
		return nil, fmt.Errorf("session record id %q does not match file name", rec.ID)
	}
	return &rec, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+recordExt)
}

// WriteFileAtomic writes data to a temp file in the target's directory and
// renames it over path, so readers see either the old or the new contents.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

func isRecordFile(entry os.DirEntry) bool {
	name := entry.Name()
	return !entry.IsDir() && !strings.HasPrefix(name, ".") && strings.HasSuffix(name, recordExt)
}

func validateID(id string) error {
	if !idRe.MatchString(id) {
		return errors.InvalidInput(fmt.Sprintf("invalid session id %q", id)).
			WithDetail("session", id)
	}
	return nil
}

// ValidateRecordJSON checks raw bytes against the record schema.
func ValidateRecordJSON(data []byte) error {
	v, err := recordValidator()
	if err != nil {
		return err
	}
	return v.ValidateJSON(data)
}

// RecordSchema returns the JSON schema of a session record file.
func RecordSchema() ([]byte, error) {
	return schema.Generate(&Record{}, "agentwatch session record", schema.AllowAdditional())
}

func recordValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		validator, validatorErr = schema.NewValidator("agentwatch-session", &Record{}, schema.AllowAdditional())
	})
	return validator, validatorErr
}
