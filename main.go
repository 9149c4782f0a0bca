package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/splitpot/splitpot-server/agent"
	"github.com/splitpot/splitpot-server/room"
	"github.com/splitpot/splitpot-server/rpc"
	"github.com/splitpot/splitpot-server/wallet"
	"github.com/splitpot/splitpot-server/ws"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	setupLogger()

	cfg := LoadConfig()
	if len(cfg.Identities) == 0 {
		slog.Warn("no identities configured, agent mentions will be rejected")
	}

	hub := ws.NewHub()
	rooms := room.NewStore()
	router := rpc.NewRouter(hub, rooms, cfg.Identities)

	walletClient := wallet.New(cfg.WalletAPIURL)
	dispatcher := agent.NewDispatcher(router, cfg.AgentTimeout)
	for _, tag := range identityTags(cfg.Identities) {
		dispatcher.RegisterIdentity(tag, newClaude(cfg, walletClient))
		slog.Info("agent registered", "identity", tag)
	}
	router.Dispatcher = dispatcher

	hub.Handler = router.Handle
	hub.OnDisconnect = router.HandleDisconnect

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("upgrade failed", "err", err)
			return
		}
		client := ws.NewClient(hub, conn)
		hub.Register(client)
		go client.WritePump()
		go client.ReadPump()
	})

	// Health check
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	slog.Info("splitpot-server starting", "addr", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, nil); err != nil {
		slog.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func newClaude(cfg Config, walletClient *wallet.Client) *agent.Claude {
	return agent.NewClaude(func(o *agent.ClaudeOptions) {
		o.APIKey = cfg.AnthropicAPIKey
		if cfg.AnthropicModel != "" {
			o.Model = anthropic.Model(cfg.AnthropicModel)
		}
		o.Tools = walletTools(walletClient)
	})
}

// walletTools exposes the wallet service to the agent as opaque tools.
func walletTools(c *wallet.Client) []agent.Tool {
	addressSchema := map[string]interface{}{
		"address": map[string]interface{}{"type": "string", "description": "Wallet address"},
	}
	type addressArgs struct {
		Address string `json:"address"`
	}

	return []agent.Tool{
		{
			Name:        "get_wallet_balance",
			Description: "Look up the current balance of a wallet address.",
			Properties:  addressSchema,
			Required:    []string{"address"},
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args addressArgs
				if err := json.Unmarshal(input, &args); err != nil {
					return "", err
				}
				return c.Balance(ctx, args.Address)
			},
		},
		{
			Name:        "get_wallet_transactions",
			Description: "Look up recent transactions for a wallet address.",
			Properties:  addressSchema,
			Required:    []string{"address"},
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args addressArgs
				if err := json.Unmarshal(input, &args); err != nil {
					return "", err
				}
				return c.Transactions(ctx, args.Address)
			},
		},
	}
}

func identityTags(identities map[string]string) []string {
	seen := make(map[string]bool)
	var tags []string
	for _, tag := range identities {
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

func setupLogger() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}
