// Package ollama is an HTTP client for a local or remote Ollama server,
// covering the embedding and chat endpoints the engine needs.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Options configures the client.
type Options struct {
	// BaseURL is the server root, e.g. http://localhost:11434.
	BaseURL string
	// Model is the embedding model, e.g. all-minilm.
	Model string
	// ChatModel is the conversational model, e.g. llama3.2.
	ChatModel string
	// Token enables bearer auth for hosted Ollama. Empty means no auth.
	Token string
	// Timeout bounds a single non-streaming request.
	Timeout time.Duration
	// RPS throttles outbound requests. Zero disables throttling.
	RPS   float64
	Burst int
}

// DefaultOptions returns settings for a local Ollama install.
func DefaultOptions() Options {
	return Options{
		BaseURL:   "http://localhost:11434",
		Model:     "all-minilm",
		ChatModel: "llama3.2",
		Timeout:   30 * time.Second,
	}
}

// Client talks to one Ollama server.
type Client struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
}

// New creates a Client. Zero-valued options fall back to DefaultOptions.
func New(opts Options) *Client {
	def := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = def.BaseURL
	}
	if opts.Model == "" {
		opts.Model = def.Model
	}
	if opts.ChatModel == "" {
		opts.ChatModel = def.ChatModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}

	c := &Client{
		opts: opts,
		http: &http.Client{},
	}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return c
}

// Model returns the configured embedding model name.
func (c *Client) Model() string { return c.opts.Model }

// post sends a JSON payload and returns the raw response body.
func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama %s: status %d: %s", path, resp.StatusCode, string(msg))
	}
	return io.ReadAll(resp.Body)
}
