package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type ResponseWrapper[T any] struct {
	Data T `json:"data"`
}

// doRequest runs one HTTP exchange through the rate limiter and circuit
// breaker. Sends are not retried here: the outbox owns retry semantics, and
// a blind client-side retry could double-send a message.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.breaker.Execute(func() error {
		return c.exchange(ctx, method, path, body, out)
	})
}

// doRequestIdempotent is doRequest plus client-side retries, for reads and
// other operations safe to repeat.
func (c *Client) doRequestIdempotent(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	return c.retry.Do(ctx, true, func() error {
		return c.doRequest(ctx, method, path, body, out)
	})
}

func (c *Client) exchange(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	url := c.cfg.BaseURL + path

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("relay api error: %s (failed to read body: %v)", resp.Status, err)
		}
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(bodyBytes, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = string(bodyBytes)
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return err
		}
	}

	return nil
}
