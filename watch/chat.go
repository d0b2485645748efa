package watch

import (
	"log/slog"

	"github.com/ragchat/server/chat"
	"github.com/ragchat/server/rpc"
)

// chatEvent is the union carried on the watcher's channel: exactly one of
// session or state is set.
type chatEvent struct {
	session *chat.ChangeEvent
	state   *chat.AskState
}

// ChatWatcher notifies subscribers when the session collection or the ask
// state changes, and hands out the full snapshot on subscribe. Events are
// queued to a channel so the store's mutex is never held during network I/O.
type ChatWatcher struct {
	*BaseWatcher
	store   *chat.Store
	client  *chat.Client
	eventCh chan chatEvent
}

var _ chat.OnChangeListener = (*ChatWatcher)(nil)
var _ chat.AskStateListener = (*ChatWatcher)(nil)
var _ Watcher = (*ChatWatcher)(nil)

func NewChatWatcher(store *chat.Store, client *chat.Client) *ChatWatcher {
	w := &ChatWatcher{
		BaseWatcher: NewBaseWatcher("ch"),
		store:       store,
		client:      client,
		eventCh:     make(chan chatEvent, 64), // Buffer to avoid blocking
	}
	store.SetOnChangeListener(w)
	client.SetAskStateListener(w)
	return w
}

func (w *ChatWatcher) Start() error {
	go w.eventLoop()
	slog.Info("ChatWatcher started")
	return nil
}

func (w *ChatWatcher) Stop() {
	w.Cancel()
	slog.Info("ChatWatcher stopped")
}

// OnSessionChange implements chat.OnChangeListener.
// Called under the store's mutex, so it must not block: events are queued
// for async processing, and dropped with a warning if the buffer overflows.
func (w *ChatWatcher) OnSessionChange(event chat.ChangeEvent) {
	if w.Context().Err() != nil {
		return
	}

	select {
	case w.eventCh <- chatEvent{session: &event}:
	default:
		slog.Warn("session change event dropped (buffer full)", "operation", event.Op)
	}
}

// OnAskStateChange implements chat.AskStateListener.
func (w *ChatWatcher) OnAskStateChange(state chat.AskState) {
	if w.Context().Err() != nil {
		return
	}

	select {
	case w.eventCh <- chatEvent{state: &state}:
	default:
		slog.Warn("ask state event dropped (buffer full)", "sessionId", state.SessionID)
	}
}

func (w *ChatWatcher) eventLoop() {
	for {
		select {
		case <-w.Context().Done():
			return
		case ev := <-w.eventCh:
			switch {
			case ev.session != nil:
				w.notifySessionChange(*ev.session)
			case ev.state != nil:
				w.notifyStateChange(*ev.state)
			}
		}
	}
}

func (w *ChatWatcher) notifySessionChange(event chat.ChangeEvent) {
	if !w.HasSubscriptions() {
		return
	}

	currentID := w.store.CurrentID()

	w.NotifyAll("chat.session.changed", func(sub *Subscription) any {
		params := rpc.SessionChangedParams{
			ID:        sub.ID,
			Operation: string(event.Op),
			CurrentID: currentID,
		}
		switch event.Op {
		case chat.OperationDelete:
			params.SessionID = event.Session.ID
		case chat.OperationRefresh:
			// Snapshot must be re-fetched; no per-session payload.
		default:
			sess := event.Session
			params.Session = &sess
		}
		return params
	})

	slog.Debug("notified session change", "operation", event.Op)
}

func (w *ChatWatcher) notifyStateChange(state chat.AskState) {
	if !w.HasSubscriptions() {
		return
	}

	w.NotifyAll("chat.state.changed", func(sub *Subscription) any {
		return rpc.AskStateChangedParams{
			ID:        sub.ID,
			SessionID: state.SessionID,
			Loading:   state.Loading,
			Error:     state.Error,
		}
	})

	slog.Debug("notified ask state change", "loading", state.Loading)
}

// Subscribe registers a subscriber and returns the current chat snapshot.
// The subscription is added before reading the snapshot so no event that
// lands in between is missed.
func (w *ChatWatcher) Subscribe(notifier Notifier) (string, rpc.ChatSnapshot, error) {
	id := w.GenerateID()
	w.AddSubscription(&Subscription{ID: id, Notifier: notifier})

	state := w.client.State()
	snapshot := rpc.ChatSnapshot{
		ID:        id,
		Sessions:  w.store.List(),
		CurrentID: w.store.CurrentID(),
		Loading:   state.Loading,
		Error:     state.Error,
		Greeting:  chat.Greeting,
	}
	return id, snapshot, nil
}
