package chat

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("session not found")

// DefaultTitle is the title of a session before its first message.
const DefaultTitle = "New Chat"

// Greeting is the placeholder shown by clients in an empty session.
const Greeting = "How can I help you today?"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat message. Immutable once created.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // epoch millis
}

// NewMessage creates a message with a fresh ID and the current timestamp.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Session is one conversation thread.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt int64     `json:"created_at"` // epoch millis
	UpdatedAt int64     `json:"updated_at"` // epoch millis
}

// clone returns a copy whose message slice is independent of the original.
func (s Session) clone() Session {
	msgs := make([]Message, len(s.Messages))
	copy(msgs, s.Messages)
	s.Messages = msgs
	return s
}

// Operation represents the type of change to the session collection.
type Operation string

const (
	OperationCreate  Operation = "create"
	OperationUpdate  Operation = "update"
	OperationDelete  Operation = "delete"
	OperationSelect  Operation = "select"
	OperationRefresh Operation = "refresh" // whole collection reloaded from disk
)

// ChangeEvent represents a change to the session collection or active pointer.
// For create/update/select: Session is fully populated.
// For delete: only Session.ID is valid.
// For refresh: Session is zero; subscribers should re-read the full snapshot.
type ChangeEvent struct {
	Op      Operation
	Session Session
}

// OnChangeListener receives notifications when the session collection changes.
// Callbacks run under the store's mutex and must not block.
type OnChangeListener interface {
	OnSessionChange(event ChangeEvent)
}

// AskState is the loading/error state of the ask flow.
type AskState struct {
	SessionID string
	Loading   bool
	Error     string
}

// AskStateListener receives notifications when the ask state changes.
// Callbacks must not block.
type AskStateListener interface {
	OnAskStateChange(state AskState)
}
