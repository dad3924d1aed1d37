package adapter

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when a requested item does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrNotConnected is returned when no usable token is available; the user must reconnect.
	ErrNotConnected = errors.New("not connected: reconnect required")

	// ErrAuthenticationExpired is returned after the provider rejected the token (HTTP 401).
	// The stored session has been cleared.
	ErrAuthenticationExpired = errors.New("authentication expired: reconnect required")
)

// RemoteAPIError is a non-success response other than 401.
type RemoteAPIError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteAPIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("remote api error: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("remote api error: %d %s: %s", e.Status, e.Code, e.Message)
}

// Is lets a 404 match ErrNotFound.
func (e *RemoteAPIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// TransportError is a network-level failure. It is safe to retry with backoff.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError is a response that failed shape validation.
type MalformedResponseError struct {
	What   string
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed %s: %s", e.What, e.Reason)
}

// IsRetryable reports whether err is a transport failure.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
