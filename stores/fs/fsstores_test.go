package fs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	ab "github.com/authbridge/authbridge"
	"github.com/authbridge/authbridge/stores/fs"
)

func draft(email string) *ab.AccountDraft {
	return &ab.AccountDraft{
		DisplayName:  "Test User",
		Email:        email,
		PasswordHash: "$2a$fakehash",
		AgeInYears:   30,
	}
}

func TestAccountStoreCreateAndFind(t *testing.T) {
	store := fs.NewAccountStore(t.TempDir())
	ctx := context.Background()

	acct, err := store.Create(ctx, draft("alice@example.com"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if acct.ID == "" {
		t.Fatal("no id assigned")
	}
	if acct.CreatedAt.IsZero() || acct.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}

	byEmail, err := store.FindByEmail(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if byEmail.ID != acct.ID {
		t.Errorf("wrong account: %s", byEmail.ID)
	}

	byID, err := store.FindByID(ctx, acct.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if byID.Email != "alice@example.com" {
		t.Errorf("wrong email: %s", byID.Email)
	}

	if _, err := store.FindByEmail(ctx, "nobody@example.com"); !errors.Is(err, ab.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
	if _, err := store.FindByID(ctx, "missing"); !errors.Is(err, ab.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAccountStoreDuplicates(t *testing.T) {
	store := fs.NewAccountStore(t.TempDir())
	ctx := context.Background()

	first := draft("alice@example.com")
	first.LinkedProviders = map[string]string{"google": "g-1"}
	if _, err := store.Create(ctx, first); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := store.Create(ctx, draft("Alice@Example.com")); !errors.Is(err, ab.ErrDuplicateEmail) {
		t.Errorf("expected ErrDuplicateEmail, got %v", err)
	}

	second := draft("other@example.com")
	second.LinkedProviders = map[string]string{"google": "g-1"}
	if _, err := store.Create(ctx, second); !errors.Is(err, ab.ErrDuplicateProviderLink) {
		t.Errorf("expected ErrDuplicateProviderLink, got %v", err)
	}
}

func TestAccountStoreFindByProviderID(t *testing.T) {
	store := fs.NewAccountStore(t.TempDir())
	ctx := context.Background()

	d := draft("alice@example.com")
	d.LinkedProviders = map[string]string{"github": "gh-9"}
	acct, err := store.Create(ctx, d)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := store.FindByProviderID(ctx, "github", "gh-9")
	if err != nil {
		t.Fatalf("find by provider: %v", err)
	}
	if got.ID != acct.ID {
		t.Errorf("wrong account: %s", got.ID)
	}

	if _, err := store.FindByProviderID(ctx, "github", "unknown"); !errors.Is(err, ab.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAccountStoreUpdate(t *testing.T) {
	store := fs.NewAccountStore(t.TempDir())
	ctx := context.Background()

	acct, err := store.Create(ctx, draft("alice@example.com"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	updated, err := store.Update(ctx, acct.ID, func(a *ab.Account) error {
		a.Email = "New-Alice@Example.com"
		a.LinkedProviders = map[string]string{"google": "g-1"}
		return nil
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Email != "new-alice@example.com" {
		t.Errorf("email not normalized on update: %q", updated.Email)
	}

	// Old email index must be gone, new one live.
	if _, err := store.FindByEmail(ctx, "alice@example.com"); !errors.Is(err, ab.ErrAccountNotFound) {
		t.Errorf("old email still resolves: %v", err)
	}
	if _, err := store.FindByEmail(ctx, "new-alice@example.com"); err != nil {
		t.Errorf("new email does not resolve: %v", err)
	}
	if _, err := store.FindByProviderID(ctx, "google", "g-1"); err != nil {
		t.Errorf("new link does not resolve: %v", err)
	}

	// Update must reject mutations that violate field rules.
	if _, err := store.Update(ctx, acct.ID, func(a *ab.Account) error {
		a.AgeInYears = 5
		return nil
	}); err == nil {
		t.Error("expected validation failure for under-age update")
	}
	if _, err := store.Update(ctx, acct.ID, func(a *ab.Account) error {
		a.PasswordHash = ""
		a.LinkedProviders = nil
		return nil
	}); err == nil {
		t.Error("expected validation failure for unreachable account")
	}

	// A mutation error aborts without persisting.
	boom := errors.New("boom")
	if _, err := store.Update(ctx, acct.ID, func(a *ab.Account) error {
		a.DisplayName = "should not persist"
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected mutation error, got %v", err)
	}
	current, _ := store.FindByID(ctx, acct.ID)
	if current.DisplayName == "should not persist" {
		t.Error("aborted mutation was persisted")
	}
}

func TestAccountStoreUpdateRemovesDroppedLinks(t *testing.T) {
	store := fs.NewAccountStore(t.TempDir())
	ctx := context.Background()

	d := draft("alice@example.com")
	d.LinkedProviders = map[string]string{"google": "g-1", "github": "gh-1"}
	acct, err := store.Create(ctx, d)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := store.Update(ctx, acct.ID, func(a *ab.Account) error {
		delete(a.LinkedProviders, "google")
		return nil
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	// The removed identity must no longer resolve to the account.
	if _, err := store.FindByProviderID(ctx, "google", "g-1"); !errors.Is(err, ab.ErrAccountNotFound) {
		t.Errorf("unlinked identity still resolves: %v", err)
	}
	// The surviving link is untouched.
	if _, err := store.FindByProviderID(ctx, "github", "gh-1"); err != nil {
		t.Errorf("remaining link broken: %v", err)
	}
	// The pair is free for another account to claim.
	other := draft("bob@example.com")
	other.LinkedProviders = map[string]string{"google": "g-1"}
	if _, err := store.Create(ctx, other); err != nil {
		t.Errorf("freed link not reusable: %v", err)
	}
}

func TestAccountStoreUpdateDuplicateGuards(t *testing.T) {
	store := fs.NewAccountStore(t.TempDir())
	ctx := context.Background()

	a, err := store.Create(ctx, draft("a@example.com"))
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	bDraft := draft("b@example.com")
	bDraft.LinkedProviders = map[string]string{"google": "g-b"}
	if _, err := store.Create(ctx, bDraft); err != nil {
		t.Fatalf("create b: %v", err)
	}

	if _, err := store.Update(ctx, a.ID, func(acct *ab.Account) error {
		acct.Email = "b@example.com"
		return nil
	}); !errors.Is(err, ab.ErrDuplicateEmail) {
		t.Errorf("expected ErrDuplicateEmail, got %v", err)
	}

	if _, err := store.Update(ctx, a.ID, func(acct *ab.Account) error {
		acct.LinkedProviders = map[string]string{"google": "g-b"}
		return nil
	}); !errors.Is(err, ab.ErrDuplicateProviderLink) {
		t.Errorf("expected ErrDuplicateProviderLink, got %v", err)
	}
}

func TestSessionStore(t *testing.T) {
	store := fs.NewSessionStore(t.TempDir())
	ctx := context.Background()

	session := &ab.Session{
		ID:        "sid-1",
		AccountID: "acct-1",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := store.Put(ctx, session); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := store.Get(ctx, "sid-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.AccountID != "acct-1" {
		t.Errorf("wrong account id: %s", got.AccountID)
	}

	if err := store.Delete(ctx, "sid-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "sid-1"); !errors.Is(err, ab.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	// Deleting an absent session is not an error.
	if err := store.Delete(ctx, "sid-1"); err != nil {
		t.Errorf("double delete errored: %v", err)
	}
}
