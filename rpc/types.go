// Package rpc defines JSON-RPC 2.0 wire format types for WebSocket
// communication. These types represent the params and result structures for
// all RPC methods and notifications.
package rpc

import (
	"github.com/ragchat/server/chat"
)

// Client → Server

type AskParams struct {
	Query string `json:"query"`
}

// AskResult reports the outcome of one ask. Error is empty on success; the
// appended messages arrive through chat.session.changed notifications.
type AskResult struct {
	Error string `json:"error,omitempty"`
}

type SessionSelectParams struct {
	SessionID string `json:"session_id"`
}

type SessionDeleteParams struct {
	SessionID string `json:"session_id"`
}

type ChatUnsubscribeParams struct {
	ID string `json:"id"`
}

// Server → Client

// ChatSnapshot is the read-only state handed to a subscriber: the full
// session collection, the active session, and the ask flow's loading/error
// flags. Consumers mutate only through the session.* and chat.ask methods.
type ChatSnapshot struct {
	ID        string         `json:"id"`
	Sessions  []chat.Session `json:"sessions"`
	CurrentID string         `json:"current_id,omitempty"`
	Loading   bool           `json:"loading"`
	Error     string         `json:"error,omitempty"`
	Greeting  string         `json:"greeting"`
}

// SessionChangedParams notifies one change to the session collection or the
// active pointer. For delete only SessionID is set; for refresh both Session
// and SessionID are empty and the client should re-fetch via chat.subscribe.
type SessionChangedParams struct {
	ID        string        `json:"id"`
	Operation string        `json:"operation"`
	Session   *chat.Session `json:"session,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	CurrentID string        `json:"current_id,omitempty"`
}

// AskStateChangedParams notifies a loading/error transition of the ask flow.
type AskStateChangedParams struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id,omitempty"`
	Loading   bool   `json:"loading"`
	Error     string `json:"error,omitempty"`
}
