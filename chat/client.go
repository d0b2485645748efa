package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// fallbackError is shown when a failure carries no message of its own.
const fallbackError = "Something went wrong"

// Asker answers a raw query. Implemented by the ask package.
type Asker interface {
	Ask(ctx context.Context, query string) (string, error)
}

// Client coordinates the ask-question flow across the session store and the
// answer service. It is the single entry point for programmatic asks.
type Client struct {
	store *Store
	asker Asker

	mu       sync.Mutex
	state    AskState
	locks    map[string]*sync.Mutex
	listener AskStateListener
}

func NewClient(store *Store, asker Asker) *Client {
	return &Client{
		store: store,
		asker: asker,
		locks: make(map[string]*sync.Mutex),
	}
}

// SetAskStateListener registers the listener notified on loading/error
// transitions.
func (c *Client) SetAskStateListener(l AskStateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// State returns the current loading/error state.
func (c *Client) State() AskState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AskQuestion runs one user turn: append the user message optimistically,
// call the answer service, and append the assistant reply. A failed request
// leaves the user message in place; the error is surfaced through the ask
// state. A per-session lock keeps concurrent asks against the same session
// from interleaving, so each question stays adjacent to its answer. The
// query travels unmodified; only the emptiness check ignores whitespace.
func (c *Client) AskQuestion(ctx context.Context, query string) error {
	if strings.TrimSpace(query) == "" {
		return nil
	}

	sess, ok := c.store.Current()
	if !ok {
		sess = c.store.CreateNewChat()
	}

	lockID := sess.ID
	lock := c.sessionLock(lockID)
	lock.Lock()
	defer func() {
		lock.Unlock()
		c.pruneSessionLock(lockID)
	}()

	userMsg := NewMessage(RoleUser, query)
	if err := c.store.AppendMessage(sess.ID, userMsg); errors.Is(err, ErrSessionNotFound) {
		// The session was deleted between resolution and append; recreate.
		sess = c.store.CreateNewChat()
		if err := c.store.AppendMessage(sess.ID, userMsg); err != nil {
			return err
		}
	}

	c.setState(AskState{SessionID: sess.ID, Loading: true})

	var askErr error
	defer func() {
		// Loading always clears, whatever the outcome.
		c.setState(AskState{SessionID: sess.ID, Error: errorMessage(askErr)})
	}()

	answer, askErr := c.asker.Ask(ctx, query)
	if askErr != nil {
		slog.Error("ask failed", "sessionId", sess.ID, "error", askErr)
		return askErr
	}

	assistantMsg := NewMessage(RoleAssistant, answer)
	if err := c.store.AppendMessage(sess.ID, assistantMsg); errors.Is(err, ErrSessionNotFound) {
		// Deleted mid-flight: drop the reply rather than resurrect the session.
		slog.Warn("session deleted mid-ask, dropping answer", "sessionId", sess.ID)
	}

	return nil
}

func (c *Client) sessionLock(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.locks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	c.locks[id] = l
	return l
}

// pruneSessionLock drops the lock entry once its session is gone. Deleted
// session ids are never resolved again, so the entry would otherwise live
// for the rest of the process.
func (c *Client) pruneSessionLock(id string) {
	if _, ok := c.store.Get(id); ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, id)
}

func (c *Client) setState(state AskState) {
	c.mu.Lock()
	c.state = state
	listener := c.listener
	c.mu.Unlock()

	if listener != nil {
		listener.OnAskStateChange(state)
	}
}

// errorMessage renders an ask failure for display.
func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallbackError
}
