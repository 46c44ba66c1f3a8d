// Package relayclient is the HTTP client for the messaging relay: the
// hosted gateway that fronts the SMS, email, DM and voice providers.
package relayclient

import (
	"net/http"
)

type Client struct {
	cfg     Config
	http    *http.Client
	retry   RetryPolicy
	cache   *Cache
	limiter *RateLimiter
	breaker CircuitBreaker
}

func NewFromEnv() *Client {
	return New(LoadFromEnv())
}

// Configured reports whether a relay URL is set for this deployment.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != ""
}

func New(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		retry: RetryPolicy{
			MaxRetries: cfg.RetryCount,
			BaseDelay:  cfg.RetryDelay,
		},
		cache:   NewCache(cfg.CacheSize, cfg.CacheTTL),
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		breaker: NewCircuitBreaker(cfg),
	}
}
