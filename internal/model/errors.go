package model

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated means the backend rejected the session. The session
	// has already been cleared when this is returned; callers must re-authenticate.
	ErrUnauthenticated = errors.New("unauthenticated: session expired or rejected")

	// ErrNoToken means an operation needing credentials ran without a session.
	ErrNoToken = errors.New("no auth token")
)

// APIError is a non-success REST response other than an authorization failure.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

// TransportError is a network-level failure on the REST or stream channel.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError is a payload that could not be decoded.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
