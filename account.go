package authbridge

import (
	"regexp"
	"strings"
	"time"
)

// MinAge is the lower bound for AgeInYears, and also the default assigned to
// accounts created from a federated login since providers do not reliably
// disclose age.
const MinAge = 13

// MinPasswordLength is the minimum plaintext password length for local
// signup.
const MinPasswordLength = 6

// Account is the canonical identity record: one per human, regardless of how
// they signed in.
type Account struct {
	// ID is assigned by the store at creation and never changes.
	ID string `json:"id"`

	// DisplayName is the human-readable name. Mutable, not unique.
	DisplayName string `json:"display_name"`

	// Email is unique across all accounts and is the cross-provider linking
	// key. Stored normalized (lowercase, trimmed).
	Email string `json:"email"`

	// PasswordHash is empty for accounts that only support federated login.
	PasswordHash string `json:"password_hash,omitempty"`

	// AgeInYears is at least MinAge.
	AgeInYears int `json:"age_in_years"`

	// LinkedProviders maps a provider name to the external identifier that
	// provider uses for this account. At most one external id per provider;
	// no two accounts share a (provider, externalID) pair.
	LinkedProviders map[string]string `json:"linked_providers,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasPassword reports whether local login is supported for this account.
func (a *Account) HasPassword() bool { return a.PasswordHash != "" }

// ProviderID returns the external id linked for the provider, if any.
func (a *Account) ProviderID(provider string) (string, bool) {
	id, ok := a.LinkedProviders[provider]
	return id, ok
}

// Reachable reports whether the account has at least one authentication
// path. Stores must never persist an unreachable account.
func (a *Account) Reachable() bool {
	return a.PasswordHash != "" || len(a.LinkedProviders) > 0
}

// Clone returns a deep copy so callers can hand accounts across goroutines
// without sharing the provider map.
func (a *Account) Clone() *Account {
	out := *a
	if a.LinkedProviders != nil {
		out.LinkedProviders = make(map[string]string, len(a.LinkedProviders))
		for k, v := range a.LinkedProviders {
			out.LinkedProviders[k] = v
		}
	}
	return &out
}

// AccountDraft is the input to AccountStore.Create. The store assigns the ID
// and timestamps.
type AccountDraft struct {
	DisplayName     string
	Email           string
	PasswordHash    string
	AgeInYears      int
	LinkedProviders map[string]string
}

// NormalizeEmail lowercases and trims an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidEmail reports whether the email looks structurally valid.
func ValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// Accounts created from a provider that disclosed no email get a synthetic
// address of the form externalID@provider. The bare provider name as domain
// keeps these from ever colliding with a real address.
var placeholderEmailRegex = regexp.MustCompile(`^[a-z0-9._%+-]+@[a-z0-9-]+$`)

// StorableEmail reports whether an email may be persisted: either a
// structurally valid address or a synthetic provider placeholder.
func StorableEmail(email string) bool {
	return ValidEmail(email) || placeholderEmailRegex.MatchString(email)
}

// ValidateDraft applies the field-level rules every store implementation
// must enforce before persisting: structural email validity, the age floor,
// and reachability. Uniqueness is checked separately by each store since it
// depends on existing records.
func ValidateDraft(draft *AccountDraft) error {
	if strings.TrimSpace(draft.DisplayName) == "" {
		return NewValidationError("displayName", "required")
	}
	if !StorableEmail(NormalizeEmail(draft.Email)) {
		return NewValidationError("email", "malformed address")
	}
	if draft.AgeInYears < MinAge {
		return NewValidationError("age", "below minimum")
	}
	if draft.PasswordHash == "" && len(draft.LinkedProviders) == 0 {
		return NewValidationError("credentials", "account needs a password or a linked provider")
	}
	return nil
}
