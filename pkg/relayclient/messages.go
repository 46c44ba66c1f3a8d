package relayclient

import (
	"context"
	"net/http"
)

// SendMessageRequest is the relay's channel-agnostic send payload.
type SendMessageRequest struct {
	Channel string            `json:"channel"`
	To      string            `json:"to"`
	From    string            `json:"from,omitempty"`
	Body    string            `json:"body"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// SendMessageResponse is the relay's acknowledgement of an accepted send.
type SendMessageResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Provider string `json:"provider"`
	Detail   string `json:"detail,omitempty"`
}

// SendSMS submits an SMS through the relay.
func (c *Client) SendSMS(ctx context.Context, to, body string, meta map[string]string) (*SendMessageResponse, error) {
	return c.sendMessage(ctx, SendMessageRequest{
		Channel: "sms",
		To:      to,
		From:    c.cfg.FromNumber,
		Body:    body,
		Meta:    meta,
	})
}

// SendEmail submits an email through the relay. The body is the rendered
// text; the relay applies the account's email template around it.
func (c *Client) SendEmail(ctx context.Context, to, body string, meta map[string]string) (*SendMessageResponse, error) {
	return c.sendMessage(ctx, SendMessageRequest{
		Channel: "email",
		To:      to,
		From:    c.cfg.FromEmail,
		Body:    body,
		Meta:    meta,
	})
}

// SendDM submits a social direct message through the relay. The recipient
// is the platform-scoped participant handle from the conversation thread.
func (c *Client) SendDM(ctx context.Context, to, body string, meta map[string]string) (*SendMessageResponse, error) {
	return c.sendMessage(ctx, SendMessageRequest{
		Channel: "dm",
		To:      to,
		Body:    body,
		Meta:    meta,
	})
}

func (c *Client) sendMessage(ctx context.Context, req SendMessageRequest) (*SendMessageResponse, error) {
	var resp ResponseWrapper[SendMessageResponse]
	if err := c.doRequest(ctx, http.MethodPost, "/api/messages", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

type typingRequest struct {
	To string `json:"to"`
	On bool   `json:"on"`
}

// SetTyping toggles the DM typing indicator. Best effort: the caller
// treats failures as cosmetic.
func (c *Client) SetTyping(ctx context.Context, to string, on bool) error {
	return c.doRequest(ctx, http.MethodPost, "/api/messages/typing", typingRequest{To: to, On: on}, nil)
}
