//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	ab "github.com/authbridge/authbridge"
)

// AutoMigrate runs database migrations for all authbridge tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AccountModel{},
		&ProviderLinkModel{},
		&SessionModel{},
	)
}

// isDuplicateKey recognizes unique constraint violations. The check covers
// gorm's translated error plus the raw postgres and sqlite message forms,
// since TranslateError is opt-in on the gorm config.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint")
}

// =============================================================================
// AccountStore
// =============================================================================

// AccountStore implements ab.AccountStore using GORM.
type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) loadAccount(tx *gorm.DB, model *AccountModel) (*ab.Account, error) {
	var links []ProviderLinkModel
	if err := tx.Where("account_id = ?", model.ID).Find(&links).Error; err != nil {
		return nil, err
	}
	return model.toAccount(links), nil
}

func (s *AccountStore) FindByEmail(ctx context.Context, email string) (*ab.Account, error) {
	db := s.db.WithContext(ctx)
	var model AccountModel
	if err := db.First(&model, "email = ?", ab.NormalizeEmail(email)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ab.ErrAccountNotFound
		}
		return nil, err
	}
	return s.loadAccount(db, &model)
}

func (s *AccountStore) FindByProviderID(ctx context.Context, provider, externalID string) (*ab.Account, error) {
	db := s.db.WithContext(ctx)
	var link ProviderLinkModel
	err := db.First(&link, "provider = ? AND external_id = ?", provider, externalID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ab.ErrAccountNotFound
		}
		return nil, err
	}
	return s.FindByID(ctx, link.AccountID)
}

func (s *AccountStore) FindByID(ctx context.Context, id string) (*ab.Account, error) {
	db := s.db.WithContext(ctx)
	var model AccountModel
	if err := db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ab.ErrAccountNotFound
		}
		return nil, err
	}
	return s.loadAccount(db, &model)
}

func (s *AccountStore) Create(ctx context.Context, draft *ab.AccountDraft) (*ab.Account, error) {
	if err := ab.ValidateDraft(draft); err != nil {
		return nil, err
	}

	now := time.Now()
	model := &AccountModel{
		ID:           ab.NewAccountID(),
		DisplayName:  draft.DisplayName,
		Email:        ab.NormalizeEmail(draft.Email),
		PasswordHash: draft.PasswordHash,
		AgeInYears:   draft.AgeInYears,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			if isDuplicateKey(err) {
				return ab.ErrDuplicateEmail
			}
			return err
		}
		for provider, externalID := range draft.LinkedProviders {
			link := &ProviderLinkModel{
				Provider:   provider,
				ExternalID: externalID,
				AccountID:  model.ID,
				CreatedAt:  now,
			}
			if err := tx.Create(link).Error; err != nil {
				if isDuplicateKey(err) {
					return ab.ErrDuplicateProviderLink
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	acct := model.toAccount(nil)
	if len(draft.LinkedProviders) > 0 {
		acct.LinkedProviders = make(map[string]string, len(draft.LinkedProviders))
		for k, v := range draft.LinkedProviders {
			acct.LinkedProviders[k] = v
		}
	}
	return acct, nil
}

func (s *AccountStore) Update(ctx context.Context, id string, mutate func(*ab.Account) error) (*ab.Account, error) {
	var out *ab.Account

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model AccountModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ab.ErrAccountNotFound
			}
			return err
		}
		acct, err := s.loadAccount(tx, &model)
		if err != nil {
			return err
		}
		before := acct.Clone()

		if err := mutate(acct); err != nil {
			return err
		}
		acct.ID = before.ID
		acct.Email = ab.NormalizeEmail(acct.Email)

		if !ab.StorableEmail(acct.Email) {
			return ab.NewValidationError("email", "malformed address")
		}
		if acct.AgeInYears < ab.MinAge {
			return ab.NewValidationError("age", "below minimum")
		}
		if !acct.Reachable() {
			return ab.NewValidationError("credentials", "account needs a password or a linked provider")
		}

		acct.UpdatedAt = time.Now()
		if err := tx.Save(accountToModel(acct)).Error; err != nil {
			if isDuplicateKey(err) {
				return ab.ErrDuplicateEmail
			}
			return err
		}

		for provider, externalID := range before.LinkedProviders {
			if acct.LinkedProviders[provider] == externalID {
				continue
			}
			if err := tx.Delete(&ProviderLinkModel{},
				"provider = ? AND external_id = ?", provider, externalID).Error; err != nil {
				return err
			}
		}
		for provider, externalID := range acct.LinkedProviders {
			if before.LinkedProviders[provider] == externalID {
				continue
			}
			link := &ProviderLinkModel{
				Provider:   provider,
				ExternalID: externalID,
				AccountID:  acct.ID,
				CreatedAt:  acct.UpdatedAt,
			}
			if err := tx.Create(link).Error; err != nil {
				if isDuplicateKey(err) {
					return ab.ErrDuplicateProviderLink
				}
				return err
			}
		}

		out = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// SessionStore
// =============================================================================

// SessionStore implements ab.SessionStore using GORM.
type SessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Put(ctx context.Context, session *ab.Session) error {
	return s.db.WithContext(ctx).Save(SessionToModel(session)).Error
}

func (s *SessionStore) Get(ctx context.Context, id string) (*ab.Session, error) {
	var model SessionModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ab.ErrSessionNotFound
		}
		return nil, err
	}
	return model.ToSession(), nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&SessionModel{}, "id = ?", id).Error
}

// CleanupExpiredSessions removes session records past their expiry. Intended
// to run periodically from the host app.
func (s *SessionStore) CleanupExpiredSessions(ctx context.Context) error {
	return s.db.WithContext(ctx).Delete(&SessionModel{}, "expires_at < ?", time.Now()).Error
}
