// Package adsclient is the slim HTTP client for the ad platform's
// conversions API. Only lead events are sent; reporting stays in the
// platform's own dashboard.
package adsclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	BaseURL     string
	PixelID     string
	AccessToken string
	Timeout     time.Duration
}

func LoadFromEnv() Config {
	timeout := 15
	if v := os.Getenv("ADS_CLIENT_TIMEOUT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			timeout = i
		}
	}
	return Config{
		BaseURL:     os.Getenv("ADS_CLIENT_URL"),
		PixelID:     os.Getenv("ADS_PIXEL_ID"),
		AccessToken: os.Getenv("ADS_ACCESS_TOKEN"),
		Timeout:     time.Second * time.Duration(timeout),
	}
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewFromEnv() *Client {
	return New(LoadFromEnv())
}

func New(cfg Config) *Client {
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// ConversionEvent is one server-side conversion signal. Identifiers are
// hashed before leaving the process.
type ConversionEvent struct {
	EventName string   `json:"event_name"`
	EventTime int64    `json:"event_time"`
	EventID   string   `json:"event_id"`
	UserData  UserData `json:"user_data"`
}

type UserData struct {
	EmailHash string `json:"em,omitempty"`
	PhoneHash string `json:"ph,omitempty"`
}

// SendConversion posts a single conversion event. The eventID doubles as
// the platform-side dedupe key, so replays are safe.
func (c *Client) SendConversion(ctx context.Context, eventName, eventID, email, phone string, at time.Time) error {
	if c.cfg.BaseURL == "" || c.cfg.PixelID == "" {
		return fmt.Errorf("ads client not configured")
	}

	ev := ConversionEvent{
		EventName: eventName,
		EventTime: at.Unix(),
		EventID:   eventID,
		UserData: UserData{
			EmailHash: hashIdentifier(email),
			PhoneHash: hashIdentifier(phone),
		},
	}

	payload := map[string]any{"data": []ConversionEvent{ev}}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/v1/%s/events?access_token=%s", c.cfg.BaseURL, c.cfg.PixelID, c.cfg.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ads api error: %s: %s", resp.Status, string(bodyBytes))
	}
	return nil
}

func hashIdentifier(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
