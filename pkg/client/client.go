// Package client is a typed HTTP client for the chamberd gateway.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client communicates with a running chamberd gateway.
type Client struct {
	baseURL string
	client  *http.Client
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig targets a gateway on the default local port.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:7654",
		Timeout: 10 * time.Second,
	}
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Health is the gateway's status report.
type Health struct {
	Status          string `json:"status"`
	ServerPort      int    `json:"serverPort"`
	OpencodePort    int    `json:"opencodePort"`
	APIPrefix       string `json:"apiPrefix"`
	IsOpencodeReady bool   `json:"isOpencodeReady"`
	CLIAvailable    bool   `json:"cliAvailable"`
	Directory       string `json:"directory"`
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.get(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DirectoryResult reports the outcome of a working-directory change.
type DirectoryResult struct {
	Success   bool   `json:"success"`
	Restarted bool   `json:"restarted"`
	Path      string `json:"path"`
}

func (c *Client) ChangeDirectory(ctx context.Context, path string) (*DirectoryResult, error) {
	var out DirectoryResult
	if err := c.post(ctx, "/api/opencode/directory", map[string]string{"path": path}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Event is one lifecycle transition of the supervised process, as
// reported by the gateway's history endpoint.
type Event struct {
	OccurredAt time.Time `json:"occurredAt"`
	Kind       string    `json:"kind"`
	PID        int       `json:"pid"`
	Port       int       `json:"port"`
	Detail     string    `json:"detail,omitempty"`
}

// History returns recent supervisor lifecycle events.
func (c *Client) History(ctx context.Context, limit int) ([]Event, error) {
	path := "/openchamber/history"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var out struct {
		Events []Event `json:"events"`
	}
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("chamberd: %s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("chamberd: unexpected status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
