package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthNotReady is returned when a resource that requires auth is
	// cancelled while still waiting for a token.
	ErrAuthNotReady = errors.New("remote: auth token not ready")
	// ErrFetchFailed matches every transport or non-success response error.
	ErrFetchFailed = errors.New("remote: fetch failed")
	// ErrInvalidResource is returned for descriptors that cannot be fetched.
	ErrInvalidResource = errors.New("remote: invalid resource")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote: %s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("remote: %s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Unwrap makes every StatusError match ErrFetchFailed.
func (e *StatusError) Unwrap() error { return ErrFetchFailed }
