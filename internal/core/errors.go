package core

import (
	"errors"
	"fmt"
)

const (
	AuthInvalidCredentials AuthErrorKind = "invalid_credentials"
	AuthEmailTaken         AuthErrorKind = "email_taken"
	AuthRefreshInvalid     AuthErrorKind = "refresh_invalid"
	AuthTokenExpired       AuthErrorKind = "token_expired"
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrQuotaExceeded    = errors.New("transaction quota exceeded")
	ErrFeatureLocked    = errors.New("feature requires a pro plan")
	ErrReloadSuppressed = errors.New("reload suppressed while creates are pending")
	ErrPending          = errors.New("transaction is still pending")
	ErrSessionChanged   = errors.New("session changed while request was in flight")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
)

type AuthErrorKind string

// AuthError is returned for credential and token failures.
type AuthError struct {
	Kind    AuthErrorKind
	Message string
	// Err is the underlying failure, if any.
	Err error
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("auth error (%s): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("auth error (%s)", e.Kind)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches another *AuthError of the same kind, so errors.Is(err, &AuthError{Kind: k}) works.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

// ForcesLogout reports whether the session can no longer be used.
func (e *AuthError) ForcesLogout() bool {
	return e.Kind == AuthRefreshInvalid
}

func NewAuthError(kind AuthErrorKind, msg string) *AuthError {
	return &AuthError{Kind: kind, Message: msg}
}

// IsAuthKind reports whether err carries an AuthError of the given kind.
func IsAuthKind(err error, kind AuthErrorKind) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Kind == kind
}

// NetworkError wraps transport failures and unexpected server responses.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("network error during %s (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetwork reports a transient transport failure. An AuthError wrapping one
// is fatal and does not count.
func IsNetwork(err error) bool {
	var ae *AuthError
	if errors.As(err, &ae) {
		return false
	}
	var ne *NetworkError
	return errors.As(err, &ne)
}

// ValidationError is raised before a request leaves the client.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
