// Package calclient is the HTTP client for the external calendar provider.
// Authentication uses a service-account JWT bearer grant with a cached
// access token.
package calclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Client struct {
	cfg    Config
	http   *http.Client
	tokens *tokenSource
}

func NewFromEnv() *Client {
	return New(LoadFromEnv())
}

// New builds a client without touching the credentials; an unconfigured or
// malformed key surfaces as an error from the first request instead.
func New(cfg Config) *Client {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Client{cfg: cfg, http: httpClient, tokens: newTokenSource(cfg, httpClient)}
}

// Event is the provider's calendar entry shape.
type Event struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
	Attendees   []string  `json:"attendees,omitempty"`
}

// CreateEvent inserts an event and returns the provider's event ID.
func (c *Client) CreateEvent(ctx context.Context, ev Event) (string, error) {
	path := fmt.Sprintf("/api/calendars/%s/events", c.cfg.CalendarID)
	var created Event
	if err := c.doRequest(ctx, http.MethodPost, path, ev, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("calendar create returned no event id")
	}
	return created.ID, nil
}

// UpdateEvent replaces an existing event's details.
func (c *Client) UpdateEvent(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		return fmt.Errorf("calendar update requires an event id")
	}
	path := fmt.Sprintf("/api/calendars/%s/events/%s", c.cfg.CalendarID, ev.ID)
	return c.doRequest(ctx, http.MethodPut, path, ev, nil)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("calendar api error: %s: %s", resp.Status, string(bodyBytes))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return err
		}
	}
	return nil
}
