// Package client is a thin HTTP client for a running switchyard daemon.
// Used by the CLI and the dashboard.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/switchyard-ai/switchyard/internal/api"
	"github.com/switchyard-ai/switchyard/internal/router"
	"github.com/switchyard-ai/switchyard/internal/store"
)

// Client talks to the daemon's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the daemon at baseURL (e.g. http://127.0.0.1:8920).
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	var envelope api.Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if !envelope.Success {
		if envelope.Error != nil {
			return envelope.Error
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	if out != nil && envelope.Data != nil {
		raw, err := json.Marshal(envelope.Data)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, out)
	}
	return nil
}

// Health checks the daemon is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// Resolved is the identity behind a handle.
type Resolved struct {
	Kind      string `json:"kind"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProjectID string `json:"project_id"`
}

// Resolve maps a handle to an identity.
func (c *Client) Resolve(ctx context.Context, handle string) (Resolved, error) {
	var out Resolved
	err := c.do(ctx, http.MethodGet, "/api/v1/resolve/"+url.PathEscape(handle), nil, &out)
	return out, err
}

// SendMessage routes a message as the session behind handle. The result is
// the mode-specific routing payload.
func (c *Client) SendMessage(ctx context.Context, handle string, params router.Params) (json.RawMessage, error) {
	body := struct {
		Handle string `json:"handle"`
		router.Params
	}{Handle: handle, Params: params}
	var out json.RawMessage
	err := c.do(ctx, http.MethodPost, "/api/v1/messages", body, &out)
	return out, err
}

// Sessions lists active sessions.
func (c *Client) Sessions(ctx context.Context) ([]store.Session, error) {
	var out struct {
		Sessions []store.Session `json:"sessions"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/sessions", nil, &out)
	return out.Sessions, err
}

// Guests lists guests, optionally scoped to a project.
func (c *Client) Guests(ctx context.Context, projectID string) ([]store.Guest, error) {
	path := "/api/v1/guests"
	if projectID != "" {
		path += "?project_id=" + url.QueryEscape(projectID)
	}
	var out struct {
		Guests []store.Guest `json:"guests"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Guests, err
}

// RegisterGuest registers a guest terminal.
func (c *Client) RegisterGuest(ctx context.Context, projectID, name, description, tmuxSession string) (store.Guest, error) {
	body := map[string]string{
		"project_id":   projectID,
		"name":         name,
		"description":  description,
		"tmux_session": tmuxSession,
	}
	var out store.Guest
	err := c.do(ctx, http.MethodPost, "/api/v1/guests", body, &out)
	return out, err
}

// Ack marks a thread message read on behalf of the session behind handle.
func (c *Client) Ack(ctx context.Context, handle, threadID, messageID string) error {
	body := map[string]string{
		"handle":     handle,
		"thread_id":  threadID,
		"message_id": messageID,
	}
	return c.do(ctx, http.MethodPost, "/api/v1/ack", body, nil)
}
