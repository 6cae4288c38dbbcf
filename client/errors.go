package client

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationExpired marks a terminal authentication failure: a
	// refresh was attempted (or was impossible) and the session has been
	// cleared. The caller should send the user back to the login screen.
	ErrAuthenticationExpired = errors.New("session expired, please log in again")

	// ErrNoRefreshToken means the stored session has no refresh credential,
	// so a refresh failed fast instead of calling the server.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrNotAuthenticated is returned when an operation needs a session and
	// none is stored.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// APIError carries a non-2xx response from the auth server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("auth server returned status %d", e.Status)
	}
	return fmt.Sprintf("auth server returned status %d: %s", e.Status, e.Message)
}

// IsAuthenticationExpired reports whether err is the terminal
// session-expired condition, however it was wrapped.
func IsAuthenticationExpired(err error) bool {
	return errors.Is(err, ErrAuthenticationExpired)
}
