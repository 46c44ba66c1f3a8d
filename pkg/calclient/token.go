package calclient

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotConfigured marks a deployment without calendar credentials. Callers
// treat it as terminal rather than retryable.
var ErrNotConfigured = errors.New("calendar client not configured")

// tokenSource exchanges a signed service-account assertion for a bearer
// token and caches it until shortly before expiry. The signing key is
// parsed on first use so a deployment without credentials still starts.
type tokenSource struct {
	cfg  Config
	http *http.Client

	mu      sync.Mutex
	key     *rsa.PrivateKey
	token   string
	expires time.Time
}

func newTokenSource(cfg Config, httpClient *http.Client) *tokenSource {
	return &tokenSource{cfg: cfg, http: httpClient}
}

// Token returns a valid bearer token, refreshing when the cached one is
// within a minute of expiry.
func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	if ts.cfg.BaseURL == "" || ts.cfg.PrivateKeyPEM == "" {
		return "", ErrNotConfigured
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && time.Now().Before(ts.expires.Add(-time.Minute)) {
		return ts.token, nil
	}

	assertion, err := ts.signAssertion()
	if err != nil {
		return "", err
	}

	token, expiresIn, err := ts.exchange(ctx, assertion)
	if err != nil {
		return "", err
	}

	ts.token = token
	ts.expires = time.Now().Add(expiresIn)
	return ts.token, nil
}

func (ts *tokenSource) signAssertion() (string, error) {
	if ts.key == nil {
		key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(ts.cfg.PrivateKeyPEM))
		if err != nil {
			return "", fmt.Errorf("parse calendar private key: %w", err)
		}
		ts.key = key
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    ts.cfg.Issuer,
		Subject:   ts.cfg.Issuer,
		Audience:  jwt.ClaimStrings{ts.cfg.BaseURL + "/oauth/token"},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ts.cfg.TokenTTL)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(ts.key)
	if err != nil {
		return "", fmt.Errorf("sign calendar assertion: %w", err)
	}
	return signed, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (ts *tokenSource) exchange(ctx context.Context, assertion string) (string, time.Duration, error) {
	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		ts.cfg.BaseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.http.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", 0, fmt.Errorf("calendar token exchange failed: %s", resp.Status)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", 0, err
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("calendar token exchange returned empty token")
	}

	expiresIn := time.Duration(tr.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = ts.cfg.TokenTTL
	}
	return tr.AccessToken, expiresIn, nil
}
