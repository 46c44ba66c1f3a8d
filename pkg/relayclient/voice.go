package relayclient

import (
	"context"
	"net/http"
)

// PlaceCallRequest asks the relay to bridge an outbound call.
type PlaceCallRequest struct {
	To   string            `json:"to"`
	From string            `json:"from,omitempty"`
	Meta map[string]string `json:"meta,omitempty"`
}

// PlaceCallResponse acknowledges a call the relay started dialing.
type PlaceCallResponse struct {
	CallID   string `json:"call_id"`
	Status   string `json:"status"`
	Provider string `json:"provider"`
}

// PlaceCall starts an outbound voice call via the relay.
func (c *Client) PlaceCall(ctx context.Context, to string, meta map[string]string) (*PlaceCallResponse, error) {
	req := PlaceCallRequest{
		To:   to,
		From: c.cfg.FromNumber,
		Meta: meta,
	}
	var resp ResponseWrapper[PlaceCallResponse]
	if err := c.doRequest(ctx, http.MethodPost, "/api/calls", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}
