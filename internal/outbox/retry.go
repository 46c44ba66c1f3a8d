package outbox

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// MaxSendAttempts is the hard failure ceiling for the message-send handler.
// Beyond it a retryable failure is demoted to terminal.
const MaxSendAttempts = 3

// Failure details that are never worth retrying regardless of attempt count.
const (
	DetailNotConfigured      = "not_configured"
	DetailMissingRecipient   = "missing_recipient"
	DetailUnsupportedChannel = "unsupported_channel"
)

// backoffTable escalates per attempt and caps at the last entry.
var backoffTable = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// Backoff returns the delay before attempt n may run again (n is the
// post-increment attempt count, so the first failure gets index 0).
func Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if n > len(backoffTable) {
		n = len(backoffTable)
	}
	return backoffTable[n-1]
}

// Retryable classifies a failure detail string. Unknown or absent detail is
// retryable; the fixed terminal markers and HTTP-style 4xx client errors
// are not.
func Retryable(detail string) bool {
	detail = strings.ToLower(strings.TrimSpace(detail))
	if detail == "" {
		return true
	}
	for _, marker := range []string{DetailNotConfigured, DetailMissingRecipient, DetailUnsupportedChannel} {
		if strings.Contains(detail, marker) {
			return false
		}
	}
	if code, ok := statusCode(detail); ok && code >= 400 && code < 500 {
		return false
	}
	return true
}

// statusCode extracts the first standalone 3-digit number from a failure
// detail, e.g. "provider rejected (status 422)".
func statusCode(detail string) (int, bool) {
	fields := strings.FieldsFunc(detail, func(r rune) bool {
		return !unicode.IsDigit(r)
	})
	for _, f := range fields {
		if len(f) != 3 {
			continue
		}
		code, err := strconv.Atoi(f)
		if err == nil && code >= 100 && code < 600 {
			return code, true
		}
	}
	return 0, false
}
