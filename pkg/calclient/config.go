package calclient

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	BaseURL    string
	CalendarID string

	// Service-account credentials for the JWT bearer grant.
	Issuer        string
	PrivateKeyPEM string

	Timeout  time.Duration
	TokenTTL time.Duration
}

func LoadFromEnv() Config {
	return Config{
		BaseURL:    os.Getenv("CAL_CLIENT_URL"),
		CalendarID: os.Getenv("CAL_CALENDAR_ID"),

		Issuer:        os.Getenv("CAL_SERVICE_ACCOUNT"),
		PrivateKeyPEM: os.Getenv("CAL_PRIVATE_KEY"),

		Timeout:  time.Second * time.Duration(getInt("CAL_CLIENT_TIMEOUT", 15)),
		TokenTTL: time.Second * time.Duration(getInt("CAL_TOKEN_TTL", 3300)),
	}
}

func getInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
