package authbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Assertion is what a provider adapter hands back after its handshake
// completes: a stable external identifier plus whatever profile data the
// provider disclosed. The resolver never sees the handshake itself.
type Assertion struct {
	// Provider is the adapter's name, e.g. "google" or "facebook".
	Provider string

	// ExternalID is the provider's stable identifier for the user.
	ExternalID string

	// Email is optional; some providers disclose none.
	Email string

	// DisplayName is the provider-supplied human-readable name.
	DisplayName string

	// AgeHint is the provider-supplied age if any; zero means unknown.
	AgeHint int
}

// SignupRequest carries the local signup form fields.
type SignupRequest struct {
	DisplayName     string
	Email           string
	Password        string
	ConfirmPassword string
	AgeInYears      int
}

// Resolver decides, for a given login attempt, which account record is "the"
// authenticated identity - creating or linking accounts as needed. It is the
// only writer of accounts in this module.
type Resolver struct {
	// Store must be set.
	Store AccountStore

	// Hasher defaults to bcrypt at default cost.
	Hasher PasswordHasher

	// DefaultAge is assigned to provider-created accounts when the provider
	// discloses no age. Defaults to MinAge.
	DefaultAge int

	// StoreTimeout bounds each store call. Defaults to 5s.
	StoreTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// EnsureDefaults fills in zero-valued optional fields.
func (r *Resolver) EnsureDefaults() *Resolver {
	if r.Hasher == nil {
		r.Hasher = &BcryptHasher{}
	}
	if r.DefaultAge < MinAge {
		r.DefaultAge = MinAge
	}
	if r.StoreTimeout <= 0 {
		r.StoreTimeout = 5 * time.Second
	}
	if r.Logger == nil {
		r.Logger = slog.Default()
	}
	return r
}

func (r *Resolver) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.StoreTimeout)
}

// ResolveLocal authenticates an (email, password) pair. Expected failures
// are returned as *AuthFailure values; anything else is an internal fault.
func (r *Resolver) ResolveLocal(ctx context.Context, email, password string) (*Account, error) {
	r.EnsureDefaults()

	sctx, cancel := r.storeCtx(ctx)
	acct, err := r.Store.FindByEmail(sctx, NormalizeEmail(email))
	cancel()
	if errors.Is(err, ErrAccountNotFound) {
		return nil, &AuthFailure{Kind: EmailNotRegistered}
	}
	if err != nil {
		return nil, internalErr("resolve_local", err)
	}

	if !acct.HasPassword() {
		return nil, &AuthFailure{Kind: SocialLoginOnly}
	}
	if !r.Hasher.Verify(password, acct.PasswordHash) {
		return nil, &AuthFailure{Kind: IncorrectPassword}
	}
	return acct, nil
}

// ResolveFederated maps a provider assertion onto exactly one account. It
// never fails on "unknown identity": an unmatched assertion creates a fresh
// account. Match precedence is provider id, then email, then create - an
// already-linked identity is never re-merged on a possibly-stale email, and
// an email match always wins over creating a second account for the same
// person.
//
// Concurrent first-time logins for the same identity are arbitrated by the
// store's uniqueness constraints; the loser re-resolves instead of
// surfacing the conflict.
func (r *Resolver) ResolveFederated(ctx context.Context, assertion Assertion) (*Account, error) {
	r.EnsureDefaults()
	if assertion.Provider == "" || assertion.ExternalID == "" {
		return nil, NewValidationError("provider", "provider and external id required")
	}

	acct, err := r.resolveFederatedOnce(ctx, assertion)
	if err == nil {
		return acct, nil
	}

	// A duplicate-key loss means another login for the same new identity
	// won the race; the account exists now, so a second pass links or
	// returns it.
	if errors.Is(err, ErrDuplicateEmail) || errors.Is(err, ErrDuplicateProviderLink) {
		r.Logger.Info("federated resolve lost uniqueness race, retrying",
			"provider", assertion.Provider)
		acct, err = r.resolveFederatedOnce(ctx, assertion)
		if err == nil {
			return acct, nil
		}
	}
	return nil, internalErr("resolve_federated", err)
}

func (r *Resolver) resolveFederatedOnce(ctx context.Context, assertion Assertion) (*Account, error) {
	// Fast path: identity already linked, no writes.
	sctx, cancel := r.storeCtx(ctx)
	acct, err := r.Store.FindByProviderID(sctx, assertion.Provider, assertion.ExternalID)
	cancel()
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	// Merge point: same email means same person, so link the provider onto
	// the existing account.
	email := NormalizeEmail(assertion.Email)
	if email != "" {
		sctx, cancel = r.storeCtx(ctx)
		existing, err := r.Store.FindByEmail(sctx, email)
		cancel()
		if err == nil {
			return r.linkProvider(ctx, existing.ID, assertion)
		}
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
	}

	// No match anywhere: create a fresh account from the assertion.
	if email == "" {
		email = placeholderEmail(assertion.Provider, assertion.ExternalID)
	}
	age := assertion.AgeHint
	if age < MinAge {
		age = r.DefaultAge
	}
	draft := &AccountDraft{
		DisplayName: assertion.DisplayName,
		Email:       email,
		AgeInYears:  age,
		LinkedProviders: map[string]string{
			assertion.Provider: assertion.ExternalID,
		},
	}
	if strings.TrimSpace(draft.DisplayName) == "" {
		draft.DisplayName = assertion.Provider + " user"
	}

	sctx, cancel = r.storeCtx(ctx)
	defer cancel()
	created, err := r.Store.Create(sctx, draft)
	if err != nil {
		return nil, err
	}
	r.Logger.Info("created account from federated login",
		"provider", assertion.Provider, "account", created.ID)
	return created, nil
}

func (r *Resolver) linkProvider(ctx context.Context, id string, assertion Assertion) (*Account, error) {
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	updated, err := r.Store.Update(sctx, id, func(a *Account) error {
		if existing, ok := a.LinkedProviders[assertion.Provider]; ok {
			if existing != assertion.ExternalID {
				return fmt.Errorf("account %s already linked to a different %s identity", a.ID, assertion.Provider)
			}
			return nil
		}
		if a.LinkedProviders == nil {
			a.LinkedProviders = make(map[string]string)
		}
		a.LinkedProviders[assertion.Provider] = assertion.ExternalID
		if strings.TrimSpace(a.DisplayName) == "" && assertion.DisplayName != "" {
			a.DisplayName = assertion.DisplayName
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.Logger.Info("linked provider to existing account",
		"provider", assertion.Provider, "account", id)
	return updated, nil
}

// SignupLocal validates the signup form and creates a password-backed
// account. Validation failures come back as *ValidationError; a duplicate
// email as ErrDuplicateEmail.
func (r *Resolver) SignupLocal(ctx context.Context, req SignupRequest) (*Account, error) {
	r.EnsureDefaults()

	if err := validateSignup(req); err != nil {
		return nil, err
	}

	hash, err := r.Hasher.Hash(req.Password)
	if err != nil {
		// A hashing fault is never treated as "no password".
		return nil, internalErr("signup_hash", err)
	}

	draft := &AccountDraft{
		DisplayName:  req.DisplayName,
		Email:        NormalizeEmail(req.Email),
		PasswordHash: hash,
		AgeInYears:   req.AgeInYears,
	}

	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	acct, err := r.Store.Create(sctx, draft)
	if err != nil {
		return nil, err
	}
	r.Logger.Info("created local account", "account", acct.ID)
	return acct, nil
}

func validateSignup(req SignupRequest) error {
	if strings.TrimSpace(req.DisplayName) == "" {
		return NewValidationError("displayName", "required")
	}
	if !ValidEmail(NormalizeEmail(req.Email)) {
		return NewValidationError("email", "malformed address")
	}
	if len(req.Password) < MinPasswordLength {
		return NewValidationError("password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	if req.Password != req.ConfirmPassword {
		return NewValidationError("confirmPassword", "passwords do not match")
	}
	if req.AgeInYears < MinAge {
		return NewValidationError("age", "below minimum")
	}
	return nil
}

func placeholderEmail(provider, externalID string) string {
	return strings.ToLower(externalID + "@" + provider)
}
