// Package wallet is a thin client for the external wallet lookup
// service. Results are passed through to the agent opaquely; the server
// never interprets them.
package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const unavailable = "Wallet lookups are not configured on this server."

// Client queries a JSON wallet API. A nil or unconfigured client
// answers every lookup with a polite unavailable message.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Configured reports whether a lookup endpoint is set.
func (c *Client) Configured() bool { return c != nil && c.baseURL != "" }

// Balance returns the balance payload for an address as compact JSON.
func (c *Client) Balance(ctx context.Context, address string) (string, error) {
	if !c.Configured() {
		return unavailable, nil
	}
	return c.get(ctx, "/address/"+url.PathEscape(address)+"/balance")
}

// Transactions returns recent transactions for an address as compact JSON.
func (c *Client) Transactions(ctx context.Context, address string) (string, error) {
	if !c.Configured() {
		return unavailable, nil
	}
	return c.get(ctx, "/address/"+url.PathEscape(address)+"/transactions")
}

func (c *Client) get(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("wallet api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("wallet api read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("wallet api: status %d", resp.StatusCode)
	}

	// Re-encode compactly so the payload stays a single tool-result line.
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body), nil
	}
	compact, err := json.Marshal(v)
	if err != nil {
		return string(body), nil
	}
	return string(compact), nil
}
