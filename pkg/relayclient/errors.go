package relayclient

import (
	"errors"
	"fmt"
)

type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay api error (%d): %s", e.Status, e.Message)
}

// StatusOf extracts the HTTP status from an error chain, 0 when the error
// never reached the relay.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
