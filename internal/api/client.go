// Package api is the REST client for the BotNexa backend. It covers the
// bot CRUD surface and the user profile; the real-time pairing channel
// lives in internal/socket.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const requestTimeout = 10 * time.Second

// Client talks to the backend over HTTP with bearer-token auth.
type Client struct {
	baseURL    string
	token      string
	userID     string
	httpClient *http.Client
}

// NewClient returns a client for the given base URL. The user id scopes
// list requests to the authenticated user's bots.
func NewClient(baseURL, token, userID string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		userID:     userID,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("backend returned status %d", e.status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.status, e.body)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var se *httpStatusError
	return errors.As(err, &se) && se.status == http.StatusNotFound
}

// ListBots fetches all bots owned by the configured user.
func (c *Client) ListBots(ctx context.Context) ([]BotInfo, error) {
	var bots []BotInfo
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/users/%s/bots", c.userID), nil, &bots)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	return bots, nil
}

// CreateBot registers a new bot and returns the stored record.
func (c *Client) CreateBot(ctx context.Context, req BotRequest) (*BotInfo, error) {
	var bot BotInfo
	if err := c.do(ctx, http.MethodPost, "/bots", req, &bot); err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &bot, nil
}

// UpdateBot overwrites an existing bot's editable fields.
func (c *Client) UpdateBot(ctx context.Context, id int64, req BotRequest) (*BotInfo, error) {
	var bot BotInfo
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/bots/%d", id), req, &bot); err != nil {
		return nil, fmt.Errorf("update bot %d: %w", id, err)
	}
	return &bot, nil
}

// DeleteBot removes a bot permanently.
func (c *Client) DeleteBot(ctx context.Context, id int64) error {
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/bots/%d", id), nil, nil); err != nil {
		return fmt.Errorf("delete bot %d: %w", id, err)
	}
	return nil
}

// ToggleBotStatus flips a bot between enabled and disabled on the backend.
func (c *Client) ToggleBotStatus(ctx context.Context, id int64) (*BotInfo, error) {
	var bot BotInfo
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/bots/%d/status", id), nil, &bot); err != nil {
		return nil, fmt.Errorf("toggle bot %d: %w", id, err)
	}
	return &bot, nil
}

// Profile fetches the authenticated user's profile.
func (c *Client) Profile(ctx context.Context) (*UserProfile, error) {
	var profile UserProfile
	if err := c.do(ctx, http.MethodGet, "/user/profile", nil, &profile); err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return &profile, nil
}

// do runs one request and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &httpStatusError{status: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
