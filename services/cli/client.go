// Package cli implements the HTTP and WebSocket client used by the
// scoutctl command to talk to a modelscout API server.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client calls the modelscout API on behalf of a single user.
type Client struct {
	baseURL string
	userID  string
	role    string
	http    *http.Client
}

// NewClient builds a Client. baseURL and userID are required; role may
// be empty.
func NewClient(baseURL, userID, role string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("api base url is required")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	return &Client{
		baseURL: baseURL,
		userID:  userID,
		role:    role,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// SubmitImport posts a generation payload and returns the initial job
// snapshot as returned by the server.
func (c *Client) SubmitImport(ctx context.Context, payload map[string]any, format string) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]any{
		"payload": payload,
		"format":  format,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/v1/imports", bytes.NewReader(body))
}

// GetImport fetches the current snapshot of a job.
func (c *Client) GetImport(ctx context.Context, jobID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/imports/"+url.PathEscape(jobID), nil)
}

// ListImports lists the caller's jobs.
func (c *Client) ListImports(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/imports", nil)
}

// ListCatalog lists known models for a kind.
func (c *Client) ListCatalog(ctx context.Context, kind string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v1/catalog/"+url.PathEscape(kind), nil)
}

// WatchImport subscribes to a job's status stream and invokes onFrame
// for every snapshot until the server closes the stream or ctx ends.
func (c *Client) WatchImport(ctx context.Context, jobID string, onFrame func(json.RawMessage)) error {
	wsURL, err := url.Parse(c.baseURL + "/v1/imports/events")
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	switch wsURL.Scheme {
	case "http":
		wsURL.Scheme = "ws"
	case "https":
		wsURL.Scheme = "wss"
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), c.headers())
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", wsURL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"subscribe_job": jobID}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read frame: %w", err)
		}

		var errFrame struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(frame, &errFrame) == nil && errFrame.Error != "" {
			return errors.New(errFrame.Error)
		}

		onFrame(frame)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	for key, values := range c.headers() {
		for _, v := range values {
			req.Header.Set(key, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	return data, nil
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("X-User-Id", c.userID)
	if c.role != "" {
		h.Set("X-User-Role", c.role)
	}
	return h
}

// Indent pretty-prints a JSON document for terminal output.
func Indent(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
