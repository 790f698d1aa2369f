package authbridge

import (
	"errors"
	"fmt"
)

// AuthFailureKind enumerates the expected, user-facing ways a local login
// can fail.
type AuthFailureKind string

const (
	// EmailNotRegistered - no account exists for the email.
	EmailNotRegistered AuthFailureKind = "email_not_registered"

	// SocialLoginOnly - the account exists but has no password; the user
	// must sign in through a linked provider. Which providers are linked is
	// deliberately not disclosed.
	SocialLoginOnly AuthFailureKind = "social_login_only"

	// IncorrectPassword - the password did not match.
	IncorrectPassword AuthFailureKind = "incorrect_password"
)

// AuthFailure is an expected login failure. Callers branch on Kind to choose
// a user-facing message; these are never logged as server faults.
type AuthFailure struct {
	Kind AuthFailureKind
}

func (e *AuthFailure) Error() string {
	return "authentication failed: " + string(e.Kind)
}

// ValidationError reports malformed input on a specific field. Always
// recoverable by the caller re-prompting.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Store-level sentinel errors. Store implementations must return these (or
// wrap them) so the resolver can react to conflicts and absence uniformly.
var (
	// ErrDuplicateEmail - a create or update would give two accounts the
	// same email.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrDuplicateProviderLink - a create or update would give two accounts
	// the same (provider, externalID) pair.
	ErrDuplicateProviderLink = errors.New("provider identity already linked")

	// ErrAccountNotFound - no account matches the lookup.
	ErrAccountNotFound = errors.New("account not found")

	// ErrSessionNotFound - no live session record matches the session id.
	ErrSessionNotFound = errors.New("session not found")
)

// Session resolution errors.
var (
	// ErrSessionInvalid - the reference is malformed, revoked, or points at
	// an account that no longer exists.
	ErrSessionInvalid = errors.New("session invalid")

	// ErrSessionExpired - the reference was valid but has passed its expiry.
	ErrSessionExpired = errors.New("session expired")

	// ErrUnauthenticated - the gate rejected the request.
	ErrUnauthenticated = errors.New("not authenticated")
)

// InternalError wraps storage or hashing faults. It is logged with detail
// server-side and shown to end users as a generic retry-later message; the
// wrapped error never reaches the user.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error in %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

func internalErr(op string, err error) error {
	return &InternalError{Op: op, Err: err}
}
