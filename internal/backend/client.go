// Package backend is the HTTP client for a remote Seven backend: chat,
// session, health and long-term memory endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"seven/internal/logging"
)

// Client talks to the backend's REST API.
type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
}

// Config holds backend client settings.
type Config struct {
	BaseURL string
	UserID  string
	Timeout time.Duration
}

// NewClient creates a backend client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserID == "" {
		cfg.UserID = "seven_user"
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userID:     cfg.UserID,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// File is one attachment sent with a chat message. Data holds base64 bytes
// for images and plain text for documents.
type File struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Size    int    `json:"size"`
	Data    string `json:"data"`
	Preview string `json:"preview,omitempty"`
}

type chatRequest struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	Provider  string `json:"provider,omitempty"`
	Files     []File `json:"files,omitempty"`
}

// Action is one backend-executed action echoed in a chat response.
type Action struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	Result json.RawMessage `json:"result"`
}

// ChatResponse is the backend's reply to a chat message.
type ChatResponse struct {
	Message   string   `json:"message"`
	UserID    string   `json:"user_id"`
	SessionID string   `json:"session_id"`
	Provider  string   `json:"provider"`
	Model     string   `json:"model"`
	Actions   []Action `json:"actions"`
}

// Chat posts one message. An empty sessionID lets the backend open a new
// session; the response carries the session to reuse.
func (c *Client) Chat(ctx context.Context, sessionID, message string, files []File) (*ChatResponse, error) {
	req := chatRequest{
		UserID:    c.userID,
		SessionID: sessionID,
		Message:   message,
		Files:     files,
	}

	var resp ChatResponse
	if err := c.post(ctx, "/chat", req, &resp); err != nil {
		return nil, err
	}
	logging.Backend("chat ok: session=%s provider=%s model=%s actions=%d",
		resp.SessionID, resp.Provider, resp.Model, len(resp.Actions))
	return &resp, nil
}

// NewChat opens a fresh session and returns its ID.
func (c *Client) NewChat(ctx context.Context) (string, error) {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	req := map[string]string{"user_id": c.userID}
	if err := c.post(ctx, "/new_chat", req, &resp); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

// Health reports whether the backend answers its health endpoint.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Memory fetches the stored long-term facts for the configured user.
func (c *Client) Memory(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/memory/"+c.userID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend: status %d: %s", resp.StatusCode, clip(body))
	}

	var payload struct {
		Facts []string `json:"facts"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("backend: parse memory: %w", err)
	}
	return payload.Facts, nil
}

// ClearMemory deletes all long-term facts for the configured user.
func (c *Client) ClearMemory(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "DELETE", c.baseURL+"/memory/"+c.userID, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend: status %d", resp.StatusCode)
	}
	logging.Backend("cleared memory for %s", c.userID)
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("backend: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend: status %d: %s", resp.StatusCode, clip(body))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("backend: parse %s: %w", path, err)
		}
	}
	return nil
}

func clip(b []byte) string {
	s := string(b)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
