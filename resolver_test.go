package authbridge_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	ab "github.com/authbridge/authbridge"
	fsstore "github.com/authbridge/authbridge/stores/fs"
)

// setupResolver creates a resolver over a fresh file-backed store. A low
// bcrypt cost keeps the tests fast.
func setupResolver(t *testing.T) (*ab.Resolver, *fsstore.AccountStore) {
	t.Helper()
	store := fsstore.NewAccountStore(t.TempDir())
	resolver := (&ab.Resolver{
		Store:  store,
		Hasher: &ab.BcryptHasher{Cost: 4},
	}).EnsureDefaults()
	return resolver, store
}

func mustSignup(t *testing.T, resolver *ab.Resolver, name, email, password string, age int) *ab.Account {
	t.Helper()
	acct, err := resolver.SignupLocal(context.Background(), ab.SignupRequest{
		DisplayName:     name,
		Email:           email,
		Password:        password,
		ConfirmPassword: password,
		AgeInYears:      age,
	})
	if err != nil {
		t.Fatalf("signup failed for %s: %v", email, err)
	}
	return acct
}

func TestSignupLocalValidation(t *testing.T) {
	resolver, _ := setupResolver(t)

	tests := []struct {
		name       string
		req        ab.SignupRequest
		wrongField string
	}{
		{
			name:       "missing display name",
			req:        ab.SignupRequest{Email: "a@example.com", Password: "secret1", ConfirmPassword: "secret1", AgeInYears: 30},
			wrongField: "displayName",
		},
		{
			name:       "malformed email",
			req:        ab.SignupRequest{DisplayName: "Alice", Email: "not-an-email", Password: "secret1", ConfirmPassword: "secret1", AgeInYears: 30},
			wrongField: "email",
		},
		{
			name:       "short password",
			req:        ab.SignupRequest{DisplayName: "Alice", Email: "a@example.com", Password: "abc", ConfirmPassword: "abc", AgeInYears: 30},
			wrongField: "password",
		},
		{
			name:       "mismatched confirmation",
			req:        ab.SignupRequest{DisplayName: "Alice", Email: "a@example.com", Password: "secret1", ConfirmPassword: "secret2", AgeInYears: 30},
			wrongField: "confirmPassword",
		},
		{
			name:       "too young",
			req:        ab.SignupRequest{DisplayName: "Kid", Email: "kid@example.com", Password: "secret1", ConfirmPassword: "secret1", AgeInYears: 10},
			wrongField: "age",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolver.SignupLocal(context.Background(), tt.req)
			var verr *ab.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.wrongField {
				t.Errorf("expected failure on field %q, got %q", tt.wrongField, verr.Field)
			}
		})
	}
}

func TestSignupLocal(t *testing.T) {
	resolver, _ := setupResolver(t)

	acct := mustSignup(t, resolver, "Alice", "Alice@Example.COM", "secret1", 30)
	if acct.Email != "alice@example.com" {
		t.Errorf("email not normalized: %q", acct.Email)
	}
	if !acct.HasPassword() {
		t.Error("expected a password hash on the account")
	}
	if acct.PasswordHash == "secret1" {
		t.Error("password stored in plaintext")
	}

	// Same email, different case: must conflict.
	_, err := resolver.SignupLocal(context.Background(), ab.SignupRequest{
		DisplayName:     "Other Alice",
		Email:           "ALICE@example.com",
		Password:        "secret2",
		ConfirmPassword: "secret2",
		AgeInYears:      25,
	})
	if !errors.Is(err, ab.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestResolveLocal(t *testing.T) {
	resolver, store := setupResolver(t)
	mustSignup(t, resolver, "Alice", "alice@example.com", "secret1", 30)

	// A federated-only account for the social-only case.
	if _, err := store.Create(context.Background(), &ab.AccountDraft{
		DisplayName:     "Bob",
		Email:           "bob@example.com",
		AgeInYears:      40,
		LinkedProviders: map[string]string{"google": "g-bob"},
	}); err != nil {
		t.Fatalf("create federated account: %v", err)
	}

	tests := []struct {
		name     string
		email    string
		password string
		wantKind ab.AuthFailureKind
	}{
		{"success", "alice@example.com", "secret1", ""},
		{"case insensitive email", "ALICE@Example.com", "secret1", ""},
		{"unknown email", "nobody@example.com", "secret1", ab.EmailNotRegistered},
		{"social login only", "bob@example.com", "anything", ab.SocialLoginOnly},
		{"wrong password", "alice@example.com", "wrong", ab.IncorrectPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acct, err := resolver.ResolveLocal(context.Background(), tt.email, tt.password)
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				if acct.Email != ab.NormalizeEmail(tt.email) {
					t.Errorf("resolved wrong account: %s", acct.Email)
				}
				return
			}
			var failure *ab.AuthFailure
			if !errors.As(err, &failure) {
				t.Fatalf("expected AuthFailure, got %v", err)
			}
			if failure.Kind != tt.wantKind {
				t.Errorf("expected kind %q, got %q", tt.wantKind, failure.Kind)
			}
		})
	}
}

func TestResolveFederatedCreatesAccount(t *testing.T) {
	resolver, _ := setupResolver(t)

	acct, err := resolver.ResolveFederated(context.Background(), ab.Assertion{
		Provider:    "google",
		ExternalID:  "g-123",
		Email:       "Carol@Example.com",
		DisplayName: "Carol",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if acct.Email != "carol@example.com" {
		t.Errorf("email not normalized: %q", acct.Email)
	}
	if id, ok := acct.ProviderID("google"); !ok || id != "g-123" {
		t.Errorf("provider not linked: %v", acct.LinkedProviders)
	}
	if acct.HasPassword() {
		t.Error("federated account should have no password")
	}
	if acct.AgeInYears < ab.MinAge {
		t.Errorf("age below floor: %d", acct.AgeInYears)
	}

	// Same assertion again must return the same account, not a new one.
	again, err := resolver.ResolveFederated(context.Background(), ab.Assertion{
		Provider: "google", ExternalID: "g-123", Email: "carol@example.com",
	})
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if again.ID != acct.ID {
		t.Errorf("second login created a new account: %s vs %s", again.ID, acct.ID)
	}
}

func TestResolveFederatedNoEmail(t *testing.T) {
	resolver, _ := setupResolver(t)

	acct, err := resolver.ResolveFederated(context.Background(), ab.Assertion{
		Provider:    "twitter",
		ExternalID:  "TW-99",
		DisplayName: "Dave",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	// Placeholder keeps the account reachable by email lookups.
	if acct.Email != "tw-99@twitter" {
		t.Errorf("expected placeholder email, got %q", acct.Email)
	}
}

func TestResolveFederatedLinksByEmail(t *testing.T) {
	resolver, _ := setupResolver(t)
	local := mustSignup(t, resolver, "Alice", "alice@example.com", "secret1", 30)

	acct, err := resolver.ResolveFederated(context.Background(), ab.Assertion{
		Provider:    "facebook",
		ExternalID:  "fb-1",
		Email:       "alice@example.com",
		DisplayName: "Alice FB",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if acct.ID != local.ID {
		t.Fatalf("expected link onto existing account %s, got %s", local.ID, acct.ID)
	}
	if id, _ := acct.ProviderID("facebook"); id != "fb-1" {
		t.Errorf("facebook not linked: %v", acct.LinkedProviders)
	}
	if !acct.HasPassword() {
		t.Error("linking must not drop the password")
	}
	if acct.DisplayName != "Alice" {
		t.Errorf("linking must not overwrite the display name, got %q", acct.DisplayName)
	}

	// Local login still works after linking.
	if _, err := resolver.ResolveLocal(context.Background(), "alice@example.com", "secret1"); err != nil {
		t.Errorf("local login broken after link: %v", err)
	}
}

func TestResolveFederatedProviderIDWinsOverEmail(t *testing.T) {
	resolver, _ := setupResolver(t)

	// Account A linked to google g-1. Account B owns b@example.com.
	a, err := resolver.ResolveFederated(context.Background(), ab.Assertion{
		Provider: "google", ExternalID: "g-1", Email: "a@example.com", DisplayName: "A",
	})
	if err != nil {
		t.Fatalf("seed A: %v", err)
	}
	b := mustSignup(t, resolver, "B", "b@example.com", "secret1", 30)

	// The provider now reports B's email for A's identity. The link match
	// must win; no re-merge onto B.
	got, err := resolver.ResolveFederated(context.Background(), ab.Assertion{
		Provider: "google", ExternalID: "g-1", Email: "b@example.com",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got.ID != a.ID {
		t.Errorf("expected account %s via provider id, got %s", a.ID, got.ID)
	}
	if got.ID == b.ID {
		t.Error("assertion was merged onto the email account")
	}
}

func TestResolveFederatedRejectsIncompleteAssertion(t *testing.T) {
	resolver, _ := setupResolver(t)

	for _, assertion := range []ab.Assertion{
		{Provider: "", ExternalID: "x"},
		{Provider: "google", ExternalID: ""},
	} {
		_, err := resolver.ResolveFederated(context.Background(), assertion)
		var verr *ab.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError for %+v, got %v", assertion, err)
		}
	}
}

// raceStore simulates losing the uniqueness race: the first Create fails
// with a duplicate-key error while inserting the winner's account behind the
// caller's back.
type raceStore struct {
	ab.AccountStore
	raced bool
	t     *testing.T
}

func (s *raceStore) Create(ctx context.Context, draft *ab.AccountDraft) (*ab.Account, error) {
	if !s.raced {
		s.raced = true
		if _, err := s.AccountStore.Create(ctx, draft); err != nil {
			s.t.Fatalf("winner create failed: %v", err)
		}
		return nil, ab.ErrDuplicateProviderLink
	}
	return s.AccountStore.Create(ctx, draft)
}

func TestResolveFederatedRetriesAfterLostRace(t *testing.T) {
	base := fsstore.NewAccountStore(t.TempDir())
	store := &raceStore{AccountStore: base, t: t}
	resolver := (&ab.Resolver{Store: store, Hasher: &ab.BcryptHasher{Cost: 4}}).EnsureDefaults()

	acct, err := resolver.ResolveFederated(context.Background(), ab.Assertion{
		Provider: "google", ExternalID: "g-race", Email: "race@example.com", DisplayName: "Racer",
	})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if id, _ := acct.ProviderID("google"); id != "g-race" {
		t.Errorf("wrong account after retry: %v", acct.LinkedProviders)
	}
	if !store.raced {
		t.Error("race was never exercised")
	}
}

func TestResolveFederatedDefaultDisplayName(t *testing.T) {
	resolver, _ := setupResolver(t)

	acct, err := resolver.ResolveFederated(context.Background(), ab.Assertion{
		Provider: "github", ExternalID: "gh-77",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !strings.Contains(acct.DisplayName, "github") {
		t.Errorf("expected a provider-derived display name, got %q", acct.DisplayName)
	}
}
