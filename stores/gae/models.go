//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
)

// Kind constants for Datastore entities
const (
	KindAccount      = "Account"
	KindEmail        = "Email"
	KindProviderLink = "ProviderLink"
	KindSession      = "Session"
)

// AccountEntity is the Datastore entity for accounts, keyed by account id.
type AccountEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	DisplayName  string         `datastore:"display_name,noindex"`
	Email        string         `datastore:"email"`
	PasswordHash string         `datastore:"password_hash,noindex"`
	AgeInYears   int            `datastore:"age_in_years,noindex"`
	CreatedAt    time.Time      `datastore:"created_at,noindex"`
	UpdatedAt    time.Time      `datastore:"updated_at,noindex"`
}

// EmailEntity reserves a normalized email address, keyed by the address
// itself. Existence of the entity is the uniqueness guarantee.
type EmailEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	AccountID string         `datastore:"account_id"`
	CreatedAt time.Time      `datastore:"created_at,noindex"`
}

// ProviderLinkEntity reserves an external identity, keyed by
// "provider:externalID".
type ProviderLinkEntity struct {
	Key        *datastore.Key `datastore:"__key__"`
	Provider   string         `datastore:"provider"`
	ExternalID string         `datastore:"external_id"`
	AccountID  string         `datastore:"account_id"`
	CreatedAt  time.Time      `datastore:"created_at,noindex"`
}

// SessionEntity is the Datastore entity for live session records, keyed by
// session id.
type SessionEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	AccountID string         `datastore:"account_id"`
	CreatedAt time.Time      `datastore:"created_at,noindex"`
	ExpiresAt time.Time      `datastore:"expires_at"`
}
