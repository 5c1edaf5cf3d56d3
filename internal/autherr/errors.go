package autherr

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthExpired is returned when the refresh credential was rejected (401/403).
	ErrAuthExpired = errors.New("authentication expired")

	// ErrClaimDecode is returned when a credential's claims cannot be decoded or have expired.
	ErrClaimDecode = errors.New("claim decode failed")

	// ErrForbiddenRole is returned when the user's role does not grant access to a route.
	ErrForbiddenRole = errors.New("forbidden role")

	// ErrInvalidCredentials is returned when login is rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrLogoutInProgress is returned by refresh attempts made while logging out.
	ErrLogoutInProgress = errors.New("logout in progress")

	// ErrTransport matches every *TransportError via errors.Is.
	ErrTransport = errors.New("transport failure")
)

// TransportError describes a non-terminal failure talking to a remote endpoint:
// network errors, timeouts, 5xx and unexpected statuses. Session state is never
// changed because of it.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports ErrTransport as matching.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// APIError is returned by JSON helpers when a call completed with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Body)
}
