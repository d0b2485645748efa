package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/ragchat/server/chat"
)

type sessionsListResult struct {
	Sessions  []sessionSummary `json:"sessions"`
	CurrentID string           `json:"current_id"`
}

// sessionSummary is a session without its message bodies; history is fetched
// per session.
type sessionSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Messages  int    `json:"messages"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

func (s *Server) handleSessionsList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions := s.store.List()

	summaries := make([]sessionSummary, len(sessions))
	for i, sess := range sessions {
		summaries[i] = sessionSummary{
			ID:        sess.ID,
			Title:     sess.Title,
			Messages:  len(sess.Messages),
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
		}
	}

	return jsonResult(sessionsListResult{Sessions: summaries, CurrentID: s.store.CurrentID()})
}

func (s *Server) handleHistoryGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return validationError("session_id is required"), nil
	}

	sess, found := s.store.Get(id)
	if !found {
		return notFound("session", id), nil
	}
	return jsonResult(sess)
}

func (s *Server) handleAsk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return validationError("query is required"), nil
	}

	if err := s.client.AskQuestion(ctx, query); err != nil {
		return internalError(err), nil
	}

	// The answer is the last assistant message of the session the ask
	// landed in.
	state := s.client.State()
	sess, found := s.store.Get(state.SessionID)
	if !found {
		return notFound("session", state.SessionID), nil
	}
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if sess.Messages[i].Role == chat.RoleAssistant {
			return mcp.NewToolResultText(sess.Messages[i].Content), nil
		}
	}
	return validationError("no answer recorded"), nil
}
