package main

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr      string
	AgentTimeout    time.Duration
	AnthropicAPIKey string
	AnthropicModel  string
	WalletAPIURL    string

	// Identities maps api key -> identity tag.
	Identities map[string]string
}

func LoadConfig() Config {
	cfg := Config{}

	var identities string
	var timeoutSec int
	flag.StringVar(&cfg.ListenAddr, "addr", defaultAddr(), "Listen address")
	flag.StringVar(&identities, "identities", envOrDefault("SPLITPOT_IDENTITIES", ""), "Comma-separated tag:apiKey pairs")
	flag.IntVar(&timeoutSec, "agent-timeout", envInt("SPLITPOT_AGENT_TIMEOUT", 120), "Agent invocation deadline in seconds")
	flag.StringVar(&cfg.AnthropicModel, "model", envOrDefault("SPLITPOT_MODEL", ""), "Anthropic model id (empty for default)")
	flag.StringVar(&cfg.WalletAPIURL, "wallet-api", envOrDefault("SPLITPOT_WALLET_API", ""), "Wallet lookup API base URL")
	flag.Parse()

	cfg.AgentTimeout = time.Duration(timeoutSec) * time.Second
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.Identities = parseIdentities(identities)

	return cfg
}

// parseIdentities turns "alice:key1,bob:key2" into apiKey -> tag.
func parseIdentities(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		tag, key, ok := strings.Cut(pair, ":")
		if !ok || tag == "" || key == "" {
			continue
		}
		out[key] = tag
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func defaultAddr() string {
	if v := os.Getenv("SPLITPOT_ADDR"); v != "" {
		return v
	}
	// Railway, Render, etc. set PORT
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":8090"
}
