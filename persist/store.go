// Package persist implements the durable key-value state backing the chat
// store: one entry for the full session collection, one for the last-active
// session id.
package persist

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ragchat/server/chat"
)

// envelopeVersion is bumped when the serialized session format changes.
const envelopeVersion = 1

// envelope wraps the session collection so the stored format can evolve.
type envelope struct {
	Version  int            `json:"version"`
	Sessions []chat.Session `json:"sessions"`
}

// Store persists chat state under a data directory.
// Every save fully overwrites the stored collection; there are no delta
// writes, so a crash cannot leave a stale subset behind.
type Store struct {
	dir string
}

// NewStore creates the data directory if needed.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	return &Store{dir: dataDir}, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

// SessionsPath returns the path of the serialized session collection.
func (s *Store) SessionsPath() string {
	return filepath.Join(s.dir, "sessions.json")
}

func (s *Store) lastActivePath() string {
	return filepath.Join(s.dir, "last_active")
}

// LoadSessions reads the stored session collection.
// Missing, malformed, or wrong-version data fails closed to an empty
// collection so chat stays usable.
func (s *Store) LoadSessions() ([]chat.Session, error) {
	data, err := os.ReadFile(s.SessionsPath())
	if errors.Is(err, os.ErrNotExist) {
		return []chat.Session{}, nil
	}
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("stored sessions are malformed, starting empty", "error", err)
		return []chat.Session{}, nil
	}
	if env.Version != envelopeVersion {
		slog.Warn("stored sessions have unknown version, starting empty", "version", env.Version)
		return []chat.Session{}, nil
	}
	if env.Sessions == nil {
		return []chat.Session{}, nil
	}
	return env.Sessions, nil
}

// SaveSessions overwrites the stored collection with the given sessions.
func (s *Store) SaveSessions(sessions []chat.Session) error {
	data, err := json.MarshalIndent(envelope{Version: envelopeVersion, Sessions: sessions}, "", "  ")
	if err != nil {
		return err
	}
	return s.atomicWrite(s.SessionsPath(), data)
}

// LoadLastActiveID returns the persisted last-active session id, if any.
func (s *Store) LoadLastActiveID() (string, bool, error) {
	data, err := os.ReadFile(s.lastActivePath())
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", false, nil
	}
	return id, true, nil
}

// SaveLastActiveID persists the active session id.
func (s *Store) SaveLastActiveID(id string) error {
	return os.WriteFile(s.lastActivePath(), []byte(id), 0644)
}

// atomicWrite writes to a temp file then renames over the target, so a
// partial write never corrupts the stored state.
func (s *Store) atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}
