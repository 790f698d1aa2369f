package fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	ab "github.com/authbridge/authbridge"
)

// AccountStore stores accounts as JSON files under StoragePath, one file per
// account plus index files mapping normalized email and (provider,
// externalID) to account ids. Suitable for development and tests.
//
// A single mutex serializes writes, which is what makes the uniqueness
// checks race-free; racing federated logins therefore observe the same
// duplicate-key behavior as the SQL-backed store.
type AccountStore struct {
	StoragePath string

	mu sync.Mutex
}

func NewAccountStore(storagePath string) *AccountStore {
	return &AccountStore{StoragePath: storagePath}
}

func (s *AccountStore) accountPath(id string) string {
	return filepath.Join(s.StoragePath, "accounts", id+".json")
}

func (s *AccountStore) emailPath(email string) string {
	return filepath.Join(s.StoragePath, "emails", encodeKey(email)+".json")
}

func (s *AccountStore) linkPath(provider, externalID string) string {
	return filepath.Join(s.StoragePath, "links", encodeKey(provider+":"+externalID)+".json")
}

func (s *AccountStore) FindByEmail(ctx context.Context, email string) (*ab.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := readIndex(s.emailPath(ab.NormalizeEmail(email)))
	if err != nil {
		return nil, err
	}
	return s.readAccount(id)
}

func (s *AccountStore) FindByProviderID(ctx context.Context, provider, externalID string) (*ab.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := readIndex(s.linkPath(provider, externalID))
	if err != nil {
		return nil, err
	}
	return s.readAccount(id)
}

func (s *AccountStore) FindByID(ctx context.Context, id string) (*ab.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.readAccount(id)
}

func (s *AccountStore) Create(ctx context.Context, draft *ab.AccountDraft) (*ab.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ab.ValidateDraft(draft); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email := ab.NormalizeEmail(draft.Email)
	if _, err := readIndex(s.emailPath(email)); err == nil {
		return nil, ab.ErrDuplicateEmail
	}
	for provider, externalID := range draft.LinkedProviders {
		if _, err := readIndex(s.linkPath(provider, externalID)); err == nil {
			return nil, ab.ErrDuplicateProviderLink
		}
	}

	now := time.Now()
	acct := &ab.Account{
		ID:           ab.NewAccountID(),
		DisplayName:  draft.DisplayName,
		Email:        email,
		PasswordHash: draft.PasswordHash,
		AgeInYears:   draft.AgeInYears,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if len(draft.LinkedProviders) > 0 {
		acct.LinkedProviders = make(map[string]string, len(draft.LinkedProviders))
		for k, v := range draft.LinkedProviders {
			acct.LinkedProviders[k] = v
		}
	}

	if err := s.writeAccountLocked(acct, nil); err != nil {
		return nil, err
	}
	return acct.Clone(), nil
}

func (s *AccountStore) Update(ctx context.Context, id string, mutate func(*ab.Account) error) (*ab.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.readAccount(id)
	if err != nil {
		return nil, err
	}
	before := acct.Clone()

	if err := mutate(acct); err != nil {
		return nil, err
	}
	acct.ID = before.ID // id is immutable regardless of what the mutation did
	acct.Email = ab.NormalizeEmail(acct.Email)

	if !ab.StorableEmail(acct.Email) {
		return nil, ab.NewValidationError("email", "malformed address")
	}
	if acct.AgeInYears < ab.MinAge {
		return nil, ab.NewValidationError("age", "below minimum")
	}
	if !acct.Reachable() {
		return nil, ab.NewValidationError("credentials", "account needs a password or a linked provider")
	}

	if acct.Email != before.Email {
		if other, err := readIndex(s.emailPath(acct.Email)); err == nil && other != id {
			return nil, ab.ErrDuplicateEmail
		}
	}
	for provider, externalID := range acct.LinkedProviders {
		if before.LinkedProviders[provider] == externalID {
			continue
		}
		if other, err := readIndex(s.linkPath(provider, externalID)); err == nil && other != id {
			return nil, ab.ErrDuplicateProviderLink
		}
	}

	acct.UpdatedAt = time.Now()
	if err := s.writeAccountLocked(acct, before); err != nil {
		return nil, err
	}
	return acct.Clone(), nil
}

func (s *AccountStore) readAccount(id string) (*ab.Account, error) {
	data, err := os.ReadFile(s.accountPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ab.ErrAccountNotFound
		}
		return nil, err
	}
	var acct ab.Account
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// writeAccountLocked persists the account record and keeps the email and
// provider-link index files in step. Caller holds the mutex.
func (s *AccountStore) writeAccountLocked(acct, before *ab.Account) error {
	data, err := json.MarshalIndent(acct, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomicFile(s.accountPath(acct.ID), data); err != nil {
		return err
	}

	if before != nil && before.Email != acct.Email {
		os.Remove(s.emailPath(before.Email))
	}
	if err := writeAtomicFile(s.emailPath(acct.Email), []byte(acct.ID)); err != nil {
		return err
	}
	if before != nil {
		for provider, externalID := range before.LinkedProviders {
			if acct.LinkedProviders[provider] == externalID {
				continue
			}
			os.Remove(s.linkPath(provider, externalID))
		}
	}
	for provider, externalID := range acct.LinkedProviders {
		if before != nil && before.LinkedProviders[provider] == externalID {
			continue
		}
		if err := writeAtomicFile(s.linkPath(provider, externalID), []byte(acct.ID)); err != nil {
			return err
		}
	}
	return nil
}

func readIndex(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ab.ErrAccountNotFound
		}
		return "", err
	}
	return string(data), nil
}
