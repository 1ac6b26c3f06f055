package models

import (
	"errors"
	"fmt"
)

// ErrPoolExhausted is returned by acquire when every configured proxy is
// quarantined or the pool is empty. Reported to the caller, never retried
// inside the pool.
var ErrPoolExhausted = errors.New("proxy pool exhausted")

// ErrSessionExpired signals that a cached session passed its inactivity
// window. Triggers transparent re-creation; never surfaced to the task.
var ErrSessionExpired = errors.New("session expired")

// ErrNoSession is returned by session storage when no record exists for a
// pool name. Corrupt records are reported the same way.
var ErrNoSession = errors.New("no session for pool")

// AuthErrorKind enumerates the terminal authentication failures
type AuthErrorKind string

const (
	AuthInvalidCookie       AuthErrorKind = "INVALID_COOKIE"
	AuthChallengeRequired   AuthErrorKind = "CHALLENGE_REQUIRED"
	AuthCredentialsRejected AuthErrorKind = "CREDENTIALS_REJECTED"
)

// AuthError is fatal for the session pool it occurred on; other pools may
// still proceed.
type AuthError struct {
	Kind AuthErrorKind
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("authentication failed (%s)", e.Kind)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NewAuthError wraps an underlying cause with an auth failure kind.
func NewAuthError(kind AuthErrorKind, err error) *AuthError {
	return &AuthError{Kind: kind, Err: err}
}

// ProxyConnectionError is a transient network failure attributable to the
// proxy in use: connection reset, timeout, tunnel refused.
type ProxyConnectionError struct {
	ProxyID string
	Err     error
}

func (e *ProxyConnectionError) Error() string {
	return fmt.Sprintf("proxy %s connection error: %v", e.ProxyID, e.Err)
}

func (e *ProxyConnectionError) Unwrap() error { return e.Err }

// RateLimitError signals the target site throttled the current egress IP.
// Rate limiting is IP-scoped, so it always forces proxy rotation.
type RateLimitError struct {
	ProxyID    string
	StatusCode int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on proxy %s (status %d)", e.ProxyID, e.StatusCode)
}
