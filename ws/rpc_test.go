package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/ragchat/server/chat"
	"github.com/ragchat/server/persist"
	"github.com/ragchat/server/rpc"
	"github.com/ragchat/server/watch"
	"github.com/sourcegraph/jsonrpc2"
)

// wireMessage is a raw JSON-RPC 2.0 frame as seen on the wire. Responses
// carry an id; notifications carry a method and no id.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

type stubAsker struct {
	answer string
	err    error
}

func (a *stubAsker) Ask(ctx context.Context, query string) (string, error) {
	return a.answer, a.err
}

type testEnv struct {
	t       *testing.T
	store   *chat.Store
	client  *chat.Client
	watcher *watch.ChatWatcher
	conn    *websocket.Conn
	ctx     context.Context

	nextID    int64
	responses chan wireMessage
	notifs    chan wireMessage
}

func newTestEnv(t *testing.T, asker chat.Asker) *testEnv {
	ps, err := persist.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create persist store: %v", err)
	}

	store := chat.NewStore(ps)
	client := chat.NewClient(store, asker)
	watcher := watch.NewChatWatcher(store, client)
	if err := watcher.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	store.Initialize()
	// Let the watcher drain the initialization event before any subscriber
	// attaches; dispatch checks for subscribers at processing time.
	time.Sleep(50 * time.Millisecond)

	h := NewRPCHandler("test", true, store, client, watcher)
	server := httptest.NewServer(h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		cancel()
		server.Close()
		t.Fatalf("failed to connect: %v", err)
	}

	env := &testEnv{
		t:         t,
		store:     store,
		client:    client,
		watcher:   watcher,
		conn:      conn,
		ctx:       ctx,
		responses: make(chan wireMessage, 16),
		notifs:    make(chan wireMessage, 64),
	}
	go env.readLoop()

	t.Cleanup(func() {
		conn.Close(websocket.StatusNormalClosure, "")
		cancel()
		server.Close()
		watcher.Stop()
	})

	return env
}

func (e *testEnv) readLoop() {
	for {
		_, data, err := e.conn.Read(e.ctx)
		if err != nil {
			return
		}
		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.ID != nil {
			e.responses <- msg
		} else {
			e.notifs <- msg
		}
	}
}

func (e *testEnv) call(method string, params any) wireMessage {
	e.t.Helper()

	e.nextID++
	id := e.nextID
	frame := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if params != nil {
		frame["params"] = params
	}
	data, err := json.Marshal(frame)
	if err != nil {
		e.t.Fatalf("failed to marshal request: %v", err)
	}
	if err := e.conn.Write(e.ctx, websocket.MessageText, data); err != nil {
		e.t.Fatalf("failed to send request: %v", err)
	}

	for {
		select {
		case msg := <-e.responses:
			if *msg.ID == id {
				return msg
			}
		case <-time.After(3 * time.Second):
			e.t.Fatalf("timed out waiting for response to %s", method)
		}
	}
}

func (e *testEnv) waitNotification(method string) wireMessage {
	e.t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-e.notifs:
			if msg.Method == method {
				return msg
			}
		case <-deadline:
			e.t.Fatalf("timed out waiting for %s notification", method)
		}
	}
}

func (e *testEnv) subscribe() rpc.ChatSnapshot {
	e.t.Helper()
	resp := e.call("chat.subscribe", nil)
	if resp.Error != nil {
		e.t.Fatalf("subscribe failed: %s", resp.Error.Message)
	}
	var snapshot rpc.ChatSnapshot
	if err := json.Unmarshal(resp.Result, &snapshot); err != nil {
		e.t.Fatalf("failed to unmarshal snapshot: %v", err)
	}
	return snapshot
}

func TestRPC_ChatSubscribe_ReturnsSnapshot(t *testing.T) {
	env := newTestEnv(t, &stubAsker{answer: "hi"})

	snapshot := env.subscribe()

	if snapshot.ID == "" {
		t.Error("expected subscription id in snapshot")
	}
	if len(snapshot.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(snapshot.Sessions))
	}
	if snapshot.Sessions[0].Title != chat.DefaultTitle {
		t.Errorf("expected default title, got %q", snapshot.Sessions[0].Title)
	}
	if snapshot.CurrentID != snapshot.Sessions[0].ID {
		t.Errorf("expected current id %s, got %s", snapshot.Sessions[0].ID, snapshot.CurrentID)
	}
	if snapshot.Greeting != chat.Greeting {
		t.Errorf("expected greeting %q, got %q", chat.Greeting, snapshot.Greeting)
	}
	if snapshot.Loading {
		t.Error("expected idle snapshot")
	}
}

func TestRPC_SessionCreate_NotifiesSubscriber(t *testing.T) {
	env := newTestEnv(t, &stubAsker{answer: "hi"})
	env.subscribe()

	resp := env.call("session.create", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %s", resp.Error.Message)
	}

	var sess chat.Session
	if err := json.Unmarshal(resp.Result, &sess); err != nil {
		t.Fatalf("failed to unmarshal session: %v", err)
	}
	if sess.ID == "" {
		t.Error("expected non-empty session id")
	}
	if sess.Title != chat.DefaultTitle {
		t.Errorf("expected default title, got %q", sess.Title)
	}

	notif := env.waitNotification("chat.session.changed")
	var params rpc.SessionChangedParams
	if err := json.Unmarshal(notif.Params, &params); err != nil {
		t.Fatalf("failed to unmarshal notification: %v", err)
	}
	if params.Operation != string(chat.OperationCreate) {
		t.Errorf("expected create operation, got %s", params.Operation)
	}
	if params.Session == nil || params.Session.ID != sess.ID {
		t.Errorf("expected session payload for %s", sess.ID)
	}
	if params.CurrentID != sess.ID {
		t.Errorf("expected new session active, got %s", params.CurrentID)
	}
}

func TestRPC_SessionSelect(t *testing.T) {
	env := newTestEnv(t, &stubAsker{answer: "hi"})
	snapshot := env.subscribe()
	original := snapshot.Sessions[0].ID

	createResp := env.call("session.create", nil)
	var created chat.Session
	json.Unmarshal(createResp.Result, &created)

	resp := env.call("session.select", rpc.SessionSelectParams{SessionID: original})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %s", resp.Error.Message)
	}
	if env.store.CurrentID() != original {
		t.Errorf("expected %s active, got %s", original, env.store.CurrentID())
	}
}

func TestRPC_SessionSelect_NotFound(t *testing.T) {
	env := newTestEnv(t, &stubAsker{answer: "hi"})
	env.subscribe()

	resp := env.call("session.select", rpc.SessionSelectParams{SessionID: "missing"})
	if resp.Error == nil {
		t.Fatal("expected error for unknown session")
	}
	if resp.Error.Code != int64(jsonrpc2.CodeInvalidParams) {
		t.Errorf("expected invalid params code, got %d", resp.Error.Code)
	}
}

func TestRPC_SessionDelete_LastRecreates(t *testing.T) {
	env := newTestEnv(t, &stubAsker{answer: "hi"})
	snapshot := env.subscribe()
	only := snapshot.Sessions[0].ID

	resp := env.call("session.delete", rpc.SessionDeleteParams{SessionID: only})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %s", resp.Error.Message)
	}

	sessions := env.store.List()
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session after deleting the last, got %d", len(sessions))
	}
	if sessions[0].ID == only {
		t.Error("expected a fresh session, got the deleted one")
	}
}

func TestRPC_ChatAsk_Success(t *testing.T) {
	env := newTestEnv(t, &stubAsker{answer: "hi there"})
	env.subscribe()

	resp := env.call("chat.ask", rpc.AskParams{Query: "hello"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %s", resp.Error.Message)
	}
	var result rpc.AskResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result.Error != "" {
		t.Errorf("expected empty error, got %q", result.Error)
	}

	sess, _ := env.store.Current()
	if len(sess.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(sess.Messages))
	}
	if sess.Messages[1].Content != "hi there" {
		t.Errorf("expected assistant reply, got %q", sess.Messages[1].Content)
	}
}

func TestRPC_ChatAsk_ErrorKeepsUserMessage(t *testing.T) {
	env := newTestEnv(t, &stubAsker{err: errors.New("Error 500")})
	env.subscribe()

	resp := env.call("chat.ask", rpc.AskParams{Query: "hello"})
	if resp.Error != nil {
		t.Fatalf("ask failures travel in the result, got rpc error: %s", resp.Error.Message)
	}
	var result rpc.AskResult
	json.Unmarshal(resp.Result, &result)
	if result.Error != "Error 500" {
		t.Errorf("expected %q, got %q", "Error 500", result.Error)
	}

	sess, _ := env.store.Current()
	if len(sess.Messages) != 1 || sess.Messages[0].Role != chat.RoleUser {
		t.Errorf("expected only the user message kept, got %+v", sess.Messages)
	}
}

func TestRPC_ChatAsk_NotifiesState(t *testing.T) {
	env := newTestEnv(t, &stubAsker{answer: "hi"})
	env.subscribe()

	env.call("chat.ask", rpc.AskParams{Query: "hello"})

	notif := env.waitNotification("chat.state.changed")
	var params rpc.AskStateChangedParams
	if err := json.Unmarshal(notif.Params, &params); err != nil {
		t.Fatalf("failed to unmarshal notification: %v", err)
	}
	if params.SessionID == "" {
		t.Error("expected session id in state notification")
	}
}

func TestRPC_ChatUnsubscribe(t *testing.T) {
	env := newTestEnv(t, &stubAsker{answer: "hi"})
	snapshot := env.subscribe()

	resp := env.call("chat.unsubscribe", rpc.ChatUnsubscribeParams{ID: snapshot.ID})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %s", resp.Error.Message)
	}

	env.call("session.create", nil)

	select {
	case notif := <-env.notifs:
		t.Errorf("unexpected notification after unsubscribe: %s", notif.Method)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRPC_MethodNotFound(t *testing.T) {
	env := newTestEnv(t, &stubAsker{answer: "hi"})

	resp := env.call("nope.nothing", nil)
	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != int64(jsonrpc2.CodeMethodNotFound) {
		t.Errorf("expected method-not-found code, got %d", resp.Error.Code)
	}
}

func TestRPC_InvalidParams(t *testing.T) {
	env := newTestEnv(t, &stubAsker{answer: "hi"})

	resp := env.call("session.select", nil)
	if resp.Error == nil {
		t.Fatal("expected error for missing params")
	}
	if resp.Error.Code != int64(jsonrpc2.CodeInvalidParams) {
		t.Errorf("expected invalid params code, got %d", resp.Error.Code)
	}
}
