package authbridge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// AccountStore is durable keyed storage of account records. It is the single
// source of truth and the only shared mutable state in this module.
//
// Implementations perform validation (via ValidateDraft plus their own
// uniqueness checks) and return the package sentinels for conflicts and
// absence. Uniqueness constraints act as the serialization point for
// concurrent first-time federated logins: at most one concurrent create or
// link may succeed for a given email or (provider, externalID) pair.
type AccountStore interface {
	// FindByEmail returns the account with the (normalized) email, or
	// ErrAccountNotFound.
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// FindByProviderID returns the account linked to (provider, externalID),
	// or ErrAccountNotFound.
	FindByProviderID(ctx context.Context, provider, externalID string) (*Account, error)

	// FindByID returns the account with the id, or ErrAccountNotFound.
	FindByID(ctx context.Context, id string) (*Account, error)

	// Create validates the draft, assigns an id, and persists a new account.
	// Returns ErrDuplicateEmail or ErrDuplicateProviderLink on conflict, or
	// a *ValidationError for malformed fields.
	Create(ctx context.Context, draft *AccountDraft) (*Account, error)

	// Update applies mutate to the stored account under the store's
	// serialization guarantees and persists the result. The mutation must
	// not change the id; everything else may change subject to the same
	// validation and uniqueness rules as Create. Returns ErrAccountNotFound
	// if the id is absent.
	Update(ctx context.Context, id string, mutate func(*Account) error) (*Account, error)
}

// Session is a live session record. The binder creates one per Issue and
// deletes it on Revoke; its absence is what makes a revoked reference
// invalid.
type Session struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the session has passed its expiry.
func (s *Session) IsExpired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// SessionStore persists live session records. Sessions are independent per
// caller: deleting one never affects others for the same account.
type SessionStore interface {
	// Put persists the session record (upsert by ID).
	Put(ctx context.Context, session *Session) error

	// Get returns the session with the id, or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Delete removes the session. Deleting an absent session is not an
	// error.
	Delete(ctx context.Context, id string) error
}

// NewAccountID generates a cryptographically random account id.
func NewAccountID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// NewSessionID generates a cryptographically random session id.
func NewSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
