// Package mcp implements a stdio MCP server so AI agents can browse chat
// sessions and ask questions through the same core the browser client uses.
package mcp

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ragchat/server/chat"
)

type Server struct {
	store  *chat.Store
	client *chat.Client
}

func NewServer(store *chat.Store, client *chat.Client) *Server {
	return &Server{store: store, client: client}
}

// Run serves MCP over stdio until stdin closes.
func (s *Server) Run(version string) error {
	srv := server.NewMCPServer("ragchat", version)

	srv.AddTool(mcp.NewTool("chat_sessions_list",
		mcp.WithDescription("List all chat sessions, newest first, with the active session id."),
	), s.handleSessionsList)

	srv.AddTool(mcp.NewTool("chat_history_get",
		mcp.WithDescription("Get the full message history of one chat session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	), s.handleHistoryGet)

	srv.AddTool(mcp.NewTool("chat_ask",
		mcp.WithDescription("Ask a question in the active chat session and return the answer."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The question to ask")),
	), s.handleAsk)

	return server.ServeStdio(srv)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return internalError(err), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
