package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/mdp/qrterminal/v3"
	"github.com/ragchat/server/ask"
	"github.com/ragchat/server/chat"
	"github.com/ragchat/server/logger"
	"github.com/ragchat/server/mcp"
	"github.com/ragchat/server/persist"
	"github.com/ragchat/server/watch"
	"github.com/ragchat/server/ws"
	"golang.org/x/term"
)

// version is set via -ldflags at release build time.
var version = "dev"

func newHandler(rpcHandler *ws.RPCHandler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"pong"}`))
	})

	mux.Handle("GET /ws", rpcHandler)

	return mux
}

func buildCore(dataDir, baseURL string) (*chat.Store, *chat.Client, *persist.Store, error) {
	ps, err := persist.NewStore(dataDir)
	if err != nil {
		return nil, nil, nil, err
	}
	store := chat.NewStore(ps)
	client := chat.NewClient(store, ask.NewClient(baseURL))
	return store, client, ps, nil
}

func main() {
	devMode := os.Getenv("DEV") == "1"

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}

	logger.Init(logger.Config{DataDir: dataDir, DevMode: devMode})

	baseURL := os.Getenv("ASK_BASE_URL")
	if baseURL == "" {
		slog.Error("ASK_BASE_URL environment variable is required")
		os.Exit(1)
	}

	store, client, ps, err := buildCore(dataDir, baseURL)
	if err != nil {
		slog.Error("failed to open data directory", "dataDir", dataDir, "error", err)
		os.Exit(1)
	}

	// `ragchat mcp` serves the chat core to AI agents over stdio instead of
	// starting the web server.
	if len(os.Args) > 1 && os.Args[1] == "mcp" {
		store.Initialize()
		if err := mcp.NewServer(store, client).Run(version); err != nil {
			slog.Error("mcp server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	watcher := watch.NewChatWatcher(store, client)
	watcher.Start()
	defer watcher.Stop()

	// Listeners are registered before Initialize so subscribers connected
	// during startup never miss the synthesized first session.
	store.Initialize()

	stateWatcher := watch.NewStateFileWatcher(ps.SessionsPath(), store)
	if err := stateWatcher.Start(); err != nil {
		slog.Warn("state file watching disabled", "error", err)
	} else {
		defer stateWatcher.Stop()
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	rpcHandler := ws.NewRPCHandler(version, devMode, store, client, watcher)
	handler := newHandler(rpcHandler)

	printClientURL(port)

	slog.Info("server starting", "port", port, "dataDir", dataDir, "askBaseUrl", baseURL)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// printClientURL shows the URL a phone or browser can open, as a QR code when
// running in a terminal.
func printClientURL(port string) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return
	}

	url := fmt.Sprintf("http://localhost:%s", port)
	fmt.Printf("Open %s\n", url)
	qrterminal.GenerateWithConfig(url, qrterminal.Config{
		Level:      qrterminal.L,
		Writer:     os.Stdout,
		HalfBlocks: true,
		QuietZone:  1,
	})
}
