package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrParticipantNotFound is an expected condition: the payment control stays inert.
	ErrParticipantNotFound = errors.New("customer participant not found")
	// ErrInstanceNotFound is returned when an instance id is unknown.
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrStopped is returned when work arrives after the instance was stopped.
	ErrStopped = errors.New("instance stopped")
)

// ParseError reports a malformed parameter string or event payload.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// AuthError reports a rejected or abandoned identity flow.
// RedirectURL is set when the browser has to navigate to the identity provider;
// the flow cannot complete within this process.
type AuthError struct {
	Reason      string
	RedirectURL string
	Err         error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// RedirectRequired reports whether the caller must send the browser to RedirectURL.
func (e *AuthError) RedirectRequired() bool {
	return e.RedirectURL != ""
}

// APIError reports a failed platform call.
type APIError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: platform returned status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }
