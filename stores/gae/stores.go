//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	ab "github.com/authbridge/authbridge"
)

// ============================================================================
// AccountStore
// ============================================================================

// AccountStore implements ab.AccountStore using Google Cloud Datastore.
// Email and provider-link uniqueness come from name-keyed reservation
// entities created inside the same transaction as the account entity.
type AccountStore struct {
	client    *datastore.Client
	namespace string
}

// NewAccountStore creates a new Datastore-backed AccountStore
func NewAccountStore(client *datastore.Client, namespace string) *AccountStore {
	return &AccountStore{client: client, namespace: namespace}
}

func (s *AccountStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *AccountStore) linkKeyName(provider, externalID string) string {
	return provider + ":" + externalID
}

// loadLinks builds the LinkedProviders map from the link entities pointing
// at the account.
func (s *AccountStore) loadLinks(ctx context.Context, accountID string) (map[string]string, error) {
	query := datastore.NewQuery(KindProviderLink).
		FilterField("account_id", "=", accountID)
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}

	var links map[string]string
	it := s.client.Run(ctx, query)
	for {
		var entity ProviderLinkEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		if links == nil {
			links = map[string]string{}
		}
		links[entity.Provider] = entity.ExternalID
	}
	return links, nil
}

func (s *AccountStore) getAccount(ctx context.Context, id string) (*ab.Account, error) {
	key := s.namespacedKey(KindAccount, id)
	var entity AccountEntity
	if err := s.client.Get(ctx, key, &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, ab.ErrAccountNotFound
		}
		return nil, err
	}

	links, err := s.loadLinks(ctx, id)
	if err != nil {
		return nil, err
	}

	return &ab.Account{
		ID:              id,
		DisplayName:     entity.DisplayName,
		Email:           entity.Email,
		PasswordHash:    entity.PasswordHash,
		AgeInYears:      entity.AgeInYears,
		LinkedProviders: links,
		CreatedAt:       entity.CreatedAt,
		UpdatedAt:       entity.UpdatedAt,
	}, nil
}

func (s *AccountStore) FindByEmail(ctx context.Context, email string) (*ab.Account, error) {
	key := s.namespacedKey(KindEmail, ab.NormalizeEmail(email))
	var entity EmailEntity
	if err := s.client.Get(ctx, key, &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, ab.ErrAccountNotFound
		}
		return nil, err
	}
	return s.getAccount(ctx, entity.AccountID)
}

func (s *AccountStore) FindByProviderID(ctx context.Context, provider, externalID string) (*ab.Account, error) {
	key := s.namespacedKey(KindProviderLink, s.linkKeyName(provider, externalID))
	var entity ProviderLinkEntity
	if err := s.client.Get(ctx, key, &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, ab.ErrAccountNotFound
		}
		return nil, err
	}
	return s.getAccount(ctx, entity.AccountID)
}

func (s *AccountStore) FindByID(ctx context.Context, id string) (*ab.Account, error) {
	return s.getAccount(ctx, id)
}

func (s *AccountStore) Create(ctx context.Context, draft *ab.AccountDraft) (*ab.Account, error) {
	if err := ab.ValidateDraft(draft); err != nil {
		return nil, err
	}

	now := time.Now()
	id := ab.NewAccountID()
	email := ab.NormalizeEmail(draft.Email)

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		emailKey := s.namespacedKey(KindEmail, email)
		var existing EmailEntity
		if err := tx.Get(emailKey, &existing); err == nil {
			return ab.ErrDuplicateEmail
		} else if err != datastore.ErrNoSuchEntity {
			return err
		}

		for provider, externalID := range draft.LinkedProviders {
			linkKey := s.namespacedKey(KindProviderLink, s.linkKeyName(provider, externalID))
			var link ProviderLinkEntity
			if err := tx.Get(linkKey, &link); err == nil {
				return ab.ErrDuplicateProviderLink
			} else if err != datastore.ErrNoSuchEntity {
				return err
			}
		}

		accountKey := s.namespacedKey(KindAccount, id)
		account := &AccountEntity{
			Key:          accountKey,
			DisplayName:  draft.DisplayName,
			Email:        email,
			PasswordHash: draft.PasswordHash,
			AgeInYears:   draft.AgeInYears,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if _, err := tx.Put(accountKey, account); err != nil {
			return err
		}

		if _, err := tx.Put(emailKey, &EmailEntity{
			Key: emailKey, AccountID: id, CreatedAt: now,
		}); err != nil {
			return err
		}
		for provider, externalID := range draft.LinkedProviders {
			linkKey := s.namespacedKey(KindProviderLink, s.linkKeyName(provider, externalID))
			if _, err := tx.Put(linkKey, &ProviderLinkEntity{
				Key: linkKey, Provider: provider, ExternalID: externalID,
				AccountID: id, CreatedAt: now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	acct := &ab.Account{
		ID:           id,
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
	return acct, nil
}

func (s *AccountStore) Update(ctx context.Context, id string, mutate func(*ab.Account) error) (*ab.Account, error) {
	acct, err := s.getAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	before := acct.Clone()

	if err := mutate(acct); err != nil {
		return nil, err
	}
	acct.ID = before.ID
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

	acct.UpdatedAt = time.Now()

	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		if acct.Email != before.Email {
			emailKey := s.namespacedKey(KindEmail, acct.Email)
			var existing EmailEntity
			if err := tx.Get(emailKey, &existing); err == nil {
				if existing.AccountID != id {
					return ab.ErrDuplicateEmail
				}
			} else if err != datastore.ErrNoSuchEntity {
				return err
			}
			if err := tx.Delete(s.namespacedKey(KindEmail, before.Email)); err != nil {
				return err
			}
			if _, err := tx.Put(emailKey, &EmailEntity{
				Key: emailKey, AccountID: id, CreatedAt: acct.UpdatedAt,
			}); err != nil {
				return err
			}
		}

		for provider, externalID := range before.LinkedProviders {
			if acct.LinkedProviders[provider] == externalID {
				continue
			}
			linkKey := s.namespacedKey(KindProviderLink, s.linkKeyName(provider, externalID))
			if err := tx.Delete(linkKey); err != nil {
				return err
			}
		}
		for provider, externalID := range acct.LinkedProviders {
			if before.LinkedProviders[provider] == externalID {
				continue
			}
			linkKey := s.namespacedKey(KindProviderLink, s.linkKeyName(provider, externalID))
			var existing ProviderLinkEntity
			if err := tx.Get(linkKey, &existing); err == nil {
				if existing.AccountID != id {
					return ab.ErrDuplicateProviderLink
				}
			} else if err != datastore.ErrNoSuchEntity {
				return err
			}
			if _, err := tx.Put(linkKey, &ProviderLinkEntity{
				Key: linkKey, Provider: provider, ExternalID: externalID,
				AccountID: id, CreatedAt: acct.UpdatedAt,
			}); err != nil {
				return err
			}
		}

		accountKey := s.namespacedKey(KindAccount, id)
		entity := &AccountEntity{
			Key:          accountKey,
			DisplayName:  acct.DisplayName,
			Email:        acct.Email,
			PasswordHash: acct.PasswordHash,
			AgeInYears:   acct.AgeInYears,
			CreatedAt:    acct.CreatedAt,
			UpdatedAt:    acct.UpdatedAt,
		}
		_, err := tx.Put(accountKey, entity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// ============================================================================
// SessionStore
// ============================================================================

// SessionStore implements ab.SessionStore using Google Cloud Datastore.
type SessionStore struct {
	client    *datastore.Client
	namespace string
}

// NewSessionStore creates a new Datastore-backed SessionStore
func NewSessionStore(client *datastore.Client, namespace string) *SessionStore {
	return &SessionStore{client: client, namespace: namespace}
}

func (s *SessionStore) sessionKey(id string) *datastore.Key {
	key := datastore.NameKey(KindSession, id, nil)
	key.Namespace = s.namespace
	return key
}

func (s *SessionStore) Put(ctx context.Context, session *ab.Session) error {
	key := s.sessionKey(session.ID)
	entity := &SessionEntity{
		Key:       key,
		AccountID: session.AccountID,
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
	}
	_, err := s.client.Put(ctx, key, entity)
	return err
}

func (s *SessionStore) Get(ctx context.Context, id string) (*ab.Session, error) {
	var entity SessionEntity
	if err := s.client.Get(ctx, s.sessionKey(id), &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, ab.ErrSessionNotFound
		}
		return nil, err
	}
	return &ab.Session{
		ID:        id,
		AccountID: entity.AccountID,
		CreatedAt: entity.CreatedAt,
		ExpiresAt: entity.ExpiresAt,
	}, nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	err := s.client.Delete(ctx, s.sessionKey(id))
	if err == datastore.ErrNoSuchEntity {
		return nil
	}
	return err
}

// CleanupExpiredSessions removes session records past their expiry.
func (s *SessionStore) CleanupExpiredSessions(ctx context.Context) error {
	query := datastore.NewQuery(KindSession).
		FilterField("expires_at", "<", time.Now()).
		KeysOnly()
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}

	keys, err := s.client.GetAll(ctx, query, nil)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.DeleteMulti(ctx, keys)
}
