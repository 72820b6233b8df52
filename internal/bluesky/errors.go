package bluesky

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuth is returned when a login exchange fails.
	ErrAuth = errors.New("authentication failed")

	// ErrNotAuthenticated is returned when an authenticated call is made
	// without a token.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrHandleNotFound is returned when a handle does not resolve to a DID.
	ErrHandleNotFound = errors.New("handle not found")
)

// StatusError is a non-2xx response from the PDS.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// NetworkError is a transport failure before a response was received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsUnauthorized reports whether err is a 401 from the PDS, which usually
// means the access token expired before its announced lifetime.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}
