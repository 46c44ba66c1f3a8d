package relayclient

import (
	"context"
	"net/http"
)

// ChannelStatus describes one channel the relay account has configured.
type ChannelStatus struct {
	Channel  string `json:"channel"`
	Provider string `json:"provider"`
	Enabled  bool   `json:"enabled"`
}

// ListChannels returns the account's configured channels. Responses are
// cached; channel configuration changes rarely.
func (c *Client) ListChannels(ctx context.Context) ([]ChannelStatus, error) {
	const cacheKey = "channels"
	if v, ok := c.cache.Get(cacheKey); ok {
		if statuses, ok := v.([]ChannelStatus); ok {
			return statuses, nil
		}
	}

	var resp ResponseWrapper[[]ChannelStatus]
	if err := c.doRequestIdempotent(ctx, http.MethodGet, "/api/channels", nil, &resp); err != nil {
		return nil, err
	}
	c.cache.Set(cacheKey, resp.Data)
	return resp.Data, nil
}
