package relayclient

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	BaseURL string
	APIKey  string

	// FromNumber and FromEmail identify the business on outbound sends.
	FromNumber string
	FromEmail  string

	Timeout time.Duration

	RetryCount int
	RetryDelay time.Duration

	RateLimit int
	RateBurst int

	CacheTTL  time.Duration
	CacheSize int

	CircuitBreakerEnabled bool
	CBFailureThreshold    int
	CBRecoveryTime        time.Duration
	CBMinRequests         int
	CBSamplingDuration    time.Duration
	CBHalfOpenMaxSuccess  int
}

func LoadFromEnv() Config {
	return Config{
		BaseURL: os.Getenv("RELAY_CLIENT_URL"),
		APIKey:  os.Getenv("RELAY_API_KEY"),

		FromNumber: os.Getenv("RELAY_FROM_NUMBER"),
		FromEmail:  os.Getenv("RELAY_FROM_EMAIL"),

		Timeout: time.Second * time.Duration(getInt("RELAY_CLIENT_TIMEOUT", 30)),

		RetryCount: getInt("RELAY_CLIENT_RETRY_COUNT", 2),
		RetryDelay: time.Second * time.Duration(getInt("RELAY_CLIENT_RETRY_DELAY", 1)),

		RateLimit: getInt("RELAY_CLIENT_RATE_LIMIT", 60),
		RateBurst: getInt("RELAY_CLIENT_RATE_BURST", 2),

		CacheTTL:  time.Second * time.Duration(getInt("RELAY_CLIENT_CACHE_TTL", 300)),
		CacheSize: getInt("RELAY_CLIENT_CACHE_SIZE", 500),

		CircuitBreakerEnabled: getBool("RELAY_CLIENT_ENABLE_CIRCUIT_BREAKER", true),
		CBFailureThreshold:    getInt("RELAY_CLIENT_CIRCUIT_BREAKER_FAILURE_THRESHOLD", 5),
		CBRecoveryTime:        time.Second * time.Duration(getInt("RELAY_CLIENT_CIRCUIT_BREAKER_RECOVERY_TIME", 60)),
		CBMinRequests:         getInt("RELAY_CLIENT_CIRCUIT_BREAKER_MIN_REQUESTS", 10),
		CBSamplingDuration:    time.Second * time.Duration(getInt("RELAY_CLIENT_CIRCUIT_BREAKER_SAMPLING_DURATION", 60)),
		CBHalfOpenMaxSuccess:  getInt("RELAY_CLIENT_CIRCUIT_BREAKER_HALF_OPEN_MAX_SUCCESS", 3),
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

func getBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		return v == "true"
	}
	return def
}
