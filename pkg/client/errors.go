package client

import "fmt"

// APIError wraps a non-2xx response from the control plane, preserving the
// HTTP status and the §7 error taxonomy code so callers can branch on it
// (e.g. with IsNotFound or IsConflict).
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("taskorch: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 NOT_FOUND APIError.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == 404
}

// IsConflict reports whether err is a 409 APIError, e.g. a reply sent to a
// task that is not AWAITING_RESPONSE.
func IsConflict(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == 409
}
