package chat

import (
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Persister is the durable store behind the session collection.
// Implementations fail closed on malformed data; IO errors are reported but
// never allowed to break in-memory chat.
type Persister interface {
	LoadSessions() ([]Session, error)
	SaveSessions(sessions []Session) error
	LoadLastActiveID() (id string, found bool, err error)
	SaveLastActiveID(id string) error
}

// Store owns the canonical session collection and the active-session pointer.
// Every mutation writes through to the persister before returning, so
// in-memory and persistent state agree whenever an operation completes.
type Store struct {
	mu       sync.Mutex
	persist  Persister
	sessions []Session
	activeID string
	listener OnChangeListener
}

func NewStore(p Persister) *Store {
	return &Store{persist: p}
}

// SetOnChangeListener registers the listener notified on every mutation.
// Must be called before Initialize.
func (s *Store) SetOnChangeListener(l OnChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// Initialize loads persisted state, or synthesizes a single default session
// when the store is empty. Runs once at startup. Exactly one session is
// active afterwards.
func (s *Store) Initialize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.persist.LoadSessions()
	if err != nil {
		slog.Error("failed to load sessions, starting empty", "error", err)
		sessions = []Session{}
	}
	s.sessions = sessions

	if len(s.sessions) == 0 {
		sess := s.createLocked()
		slog.Info("initialized with fresh session", "sessionId", sess.ID)
		return
	}

	lastID, found, err := s.persist.LoadLastActiveID()
	if err != nil {
		slog.Error("failed to load last active id", "error", err)
		found = false
	}
	if found && s.indexOf(lastID) >= 0 {
		s.activeID = lastID
	} else {
		// Persisted pointer is stale or absent: fall back to the first
		// session and correct the stored value.
		s.activeID = s.sessions[0].ID
		s.saveLastActiveLocked()
	}
	slog.Info("initialized", "sessions", len(s.sessions), "activeId", s.activeID)
}

// CreateNewChat synthesizes a new empty session, prepends it, makes it
// active, and persists both the collection and the active id.
func (s *Store) CreateNewChat() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked()
}

func (s *Store) createLocked() Session {
	now := time.Now().UnixMilli()
	sess := Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Prepend: newest first.
	s.sessions = append([]Session{sess}, s.sessions...)
	s.activeID = sess.ID

	s.saveSessionsLocked()
	s.saveLastActiveLocked()
	s.notifyLocked(ChangeEvent{Op: OperationCreate, Session: sess.clone()})
	return sess.clone()
}

// SelectChat sets the active pointer. The collection is not mutated; only
// the active id is persisted.
func (s *Store) SelectChat(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return ErrSessionNotFound
	}

	s.activeID = id
	s.saveLastActiveLocked()
	s.notifyLocked(ChangeEvent{Op: OperationSelect, Session: s.sessions[i].clone()})
	return nil
}

// DeleteChat removes the session with the given id. If it was active, the
// first remaining session becomes active; deleting the last session
// synthesizes a fresh default session so exactly one session is always
// active. The resulting collection is persisted unconditionally.
func (s *Store) DeleteChat(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return
	}
	s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
	wasActive := s.activeID == id

	s.notifyLocked(ChangeEvent{Op: OperationDelete, Session: Session{ID: id}})

	if len(s.sessions) == 0 {
		// createLocked persists the collection and the new active id.
		s.createLocked()
		return
	}

	s.saveSessionsLocked()
	if wasActive {
		s.activeID = s.sessions[0].ID
		s.saveLastActiveLocked()
		s.notifyLocked(ChangeEvent{Op: OperationSelect, Session: s.sessions[0].clone()})
	}
}

// AppendMessage appends to the named session, refreshing its updated
// timestamp. The session's title is derived from the first message. A
// session deleted mid-flight is a guarded no-op: ErrSessionNotFound is
// returned and nothing is mutated.
func (s *Store) AppendMessage(sessionID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(sessionID)
	if i < 0 {
		return ErrSessionNotFound
	}

	sess := &s.sessions[i]
	first := len(sess.Messages) == 0
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = time.Now().UnixMilli()
	if first {
		if title := DeriveTitle(msg.Content); title != "" {
			sess.Title = title
		}
	}

	s.saveSessionsLocked()
	s.notifyLocked(ChangeEvent{Op: OperationUpdate, Session: sess.clone()})
	return nil
}

// Reload re-reads the collection from the persister, keeping the active
// pointer when its session survived and re-resolving it otherwise. Used when
// the state file changes under the process (an external writer).
func (s *Store) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.persist.LoadSessions()
	if err != nil {
		slog.Error("failed to reload sessions, keeping current state", "error", err)
		return
	}
	// The watcher also fires on this store's own writes; those leave the
	// file identical to memory and need no refresh.
	if reflect.DeepEqual(sessions, s.sessions) {
		return
	}
	s.sessions = sessions

	if len(s.sessions) == 0 {
		s.createLocked()
		return
	}
	if s.indexOf(s.activeID) < 0 {
		s.activeID = s.sessions[0].ID
		s.saveLastActiveLocked()
	}

	s.notifyLocked(ChangeEvent{Op: OperationRefresh})
}

// List returns a copy of the session collection, newest first.
func (s *Store) List() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = sess.clone()
	}
	return out
}

// Current returns the active session.
func (s *Store) Current() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(s.activeID)
	if i < 0 {
		return Session{}, false
	}
	return s.sessions[i].clone(), true
}

// CurrentID returns the active session id, or "" before initialization.
func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Get returns the session with the given id.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return Session{}, false
	}
	return s.sessions[i].clone(), true
}

func (s *Store) indexOf(id string) int {
	for i, sess := range s.sessions {
		if sess.ID == id {
			return i
		}
	}
	return -1
}

// saveSessionsLocked writes the collection through to the persister.
// Failures degrade to in-memory-only operation for this mutation.
func (s *Store) saveSessionsLocked() {
	if err := s.persist.SaveSessions(s.sessions); err != nil {
		slog.Error("failed to persist sessions", "error", err)
	}
}

func (s *Store) saveLastActiveLocked() {
	if err := s.persist.SaveLastActiveID(s.activeID); err != nil {
		slog.Error("failed to persist active session id", "error", err)
	}
}

func (s *Store) notifyLocked(event ChangeEvent) {
	if s.listener != nil {
		s.listener.OnSessionChange(event)
	}
}
