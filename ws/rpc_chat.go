package ws

import (
	"context"

	"github.com/ragchat/server/logger"
	"github.com/ragchat/server/rpc"
	"github.com/sourcegraph/jsonrpc2"
)

const (
	// queryLogMaxLen limits query length in logs for privacy.
	queryLogMaxLen = 50
)

func (h *rpcMethodHandler) handleChatSubscribe(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	id, snapshot, err := h.watcher.Subscribe(h.state.getNotifier())
	if err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, err.Error())
		return
	}
	h.state.trackSubscription(id)

	if err := conn.Reply(ctx, req.ID, snapshot); err != nil {
		h.log.Error("failed to send subscribe response", "error", err)
		return
	}

	h.log.Info("subscribed to chat", "subscriptionId", id, "sessions", len(snapshot.Sessions))
}

func (h *rpcMethodHandler) handleChatUnsubscribe(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.ChatUnsubscribeParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	h.watcher.Unsubscribe(params.ID)
	h.state.untrackSubscription(params.ID)

	if err := conn.Reply(ctx, req.ID, struct{}{}); err != nil {
		h.log.Error("failed to send unsubscribe response", "error", err)
	}
}

func (h *rpcMethodHandler) handleAsk(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.AskParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	h.log.Info("received ask", "query", logger.Truncate(params.Query, queryLogMaxLen))

	result := rpc.AskResult{}
	if err := h.client.AskQuestion(ctx, params.Query); err != nil {
		// The failure is part of normal chat flow: the user message stays,
		// the error travels in the result and the ask state notification.
		result.Error = err.Error()
	}

	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send ask response", "error", err)
	}
}
