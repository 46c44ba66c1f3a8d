package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffEscalatesAndCaps(t *testing.T) {
	assert.Equal(t, 1*time.Minute, Backoff(1))
	assert.Equal(t, 5*time.Minute, Backoff(2))
	assert.Equal(t, 15*time.Minute, Backoff(3))

	// Past the table the delay stays at the cap.
	assert.Equal(t, 15*time.Minute, Backoff(4))
	assert.Equal(t, 15*time.Minute, Backoff(99))

	// Out-of-range input clamps to the first entry.
	assert.Equal(t, 1*time.Minute, Backoff(0))
	assert.Equal(t, 1*time.Minute, Backoff(-5))
}

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		name      string
		detail    string
		retryable bool
	}{
		{"empty detail", "", true},
		{"whitespace only", "   ", true},
		{"generic provider error", "connection reset by peer", true},
		{"server error status", "provider rejected (status 503)", true},
		{"client error status", "provider rejected (status 422)", false},
		{"bare 4xx code", "400", false},
		{"bare 5xx code", "502", true},
		{"not configured", DetailNotConfigured, false},
		{"missing recipient", DetailMissingRecipient, false},
		{"unsupported channel", DetailUnsupportedChannel, false},
		{"terminal marker embedded", "send failed: missing_recipient for sms", false},
		{"mixed case marker", "Not_Configured", false},
		{"long number is not a status", "timeout after 1500 ms", true},
		{"429 is terminal by the 4xx rule", "rate limited (429)", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, Retryable(tt.detail))
		})
	}
}
