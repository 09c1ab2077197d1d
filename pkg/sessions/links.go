package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/grovetools/agentwatch/errors"
)

// Links returns the session id -> linked session id map.
func (s *Store) Links() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links()
}

// Link records that id is linked to other. An empty other removes the link.
// The record, if present, is updated too; a record created later picks the
// link up from the links file.
func (s *Store) Link(id, other string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if other != "" {
		if err := validateID(other); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	links := s.links()
	if other == "" {
		delete(links, id)
	} else {
		links[id] = other
	}
	data, err := json.MarshalIndent(links, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal links")
	}
	if err := os.MkdirAll(filepath.Dir(s.linksPath), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create state directory")
	}
	if err := WriteFileAtomic(s.linksPath, data); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to write links file").
			WithDetail("path", s.linksPath)
	}

	rec, err := s.read(s.path(id))
	if err != nil {
		return nil
	}
	if other == "" {
		Patch{Clear: []Field{FieldLinkedTo}}.applyTo(rec)
	} else {
		Patch{LinkedTo: &other}.applyTo(rec)
	}
	return s.writeLocked(rec)
}

func (s *Store) links() map[string]string {
	links := make(map[string]string)
	data, err := os.ReadFile(s.linksPath)
	if err != nil {
		return links
	}
	if err := json.Unmarshal(data, &links); err != nil {
		s.logger.WithError(err).Debug("Ignoring malformed links file")
		return make(map[string]string)
	}
	return links
}
