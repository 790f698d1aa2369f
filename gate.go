package authbridge

import (
	"context"
	"errors"
)

// Gate is the request-time check that a session reference still resolves to
// a live account. Operations that must run as a known account compose it in
// front of their own logic.
type Gate struct {
	// Binder must be set.
	Binder *SessionBinder
}

// Require resolves the reference and returns the account, or
// ErrUnauthenticated when the reference is missing, invalid or expired.
// Internal faults pass through unchanged so callers do not mistake an outage
// for a logged-out user.
func (g *Gate) Require(ctx context.Context, ref string) (*Account, error) {
	if ref == "" {
		return nil, ErrUnauthenticated
	}
	acct, err := g.Binder.Resolve(ctx, ref)
	if err == nil {
		return acct, nil
	}
	if errors.Is(err, ErrSessionInvalid) || errors.Is(err, ErrSessionExpired) {
		return nil, ErrUnauthenticated
	}
	return nil, err
}
