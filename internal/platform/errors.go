package platform

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx platform response with its decoded message, so
// callers can show the server's wording and distinguish benign races.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("platform: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("platform: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotInProgress reports whether err is the server rejecting a write
// because the attempt is no longer in_progress. Auto-save treats this
// as a benign race, not a failure.
func IsNotInProgress(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusConflict {
		return true
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "not in progress")
}
