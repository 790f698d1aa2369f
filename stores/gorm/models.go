//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	ab "github.com/authbridge/authbridge"
)

// AccountModel is the GORM model for accounts. The unique index on Email is
// what enforces one-account-per-email under concurrent writes.
type AccountModel struct {
	ID           string    `gorm:"primaryKey;size:64"`
	DisplayName  string    `gorm:"size:255"`
	Email        string    `gorm:"size:320;uniqueIndex"`
	PasswordHash string    `gorm:"size:128"`
	AgeInYears   int       `gorm:"default:0"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (AccountModel) TableName() string {
	return "accounts"
}

// ProviderLinkModel is the GORM model for provider links. The composite
// primary key (provider, external_id) enforces that an external identity
// belongs to at most one account.
type ProviderLinkModel struct {
	Provider   string    `gorm:"primaryKey;size:32"`
	ExternalID string    `gorm:"primaryKey;size:255"`
	AccountID  string    `gorm:"size:64;index"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (ProviderLinkModel) TableName() string {
	return "provider_links"
}

// SessionModel is the GORM model for live session records.
type SessionModel struct {
	ID        string    `gorm:"primaryKey;size:64"`
	AccountID string    `gorm:"size:64;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	ExpiresAt time.Time `gorm:"index"`
}

func (SessionModel) TableName() string {
	return "sessions"
}

func (m *SessionModel) ToSession() *ab.Session {
	return &ab.Session{
		ID:        m.ID,
		AccountID: m.AccountID,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
	}
}

func SessionToModel(s *ab.Session) *SessionModel {
	return &SessionModel{
		ID:        s.ID,
		AccountID: s.AccountID,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}

func (m *AccountModel) toAccount(links []ProviderLinkModel) *ab.Account {
	acct := &ab.Account{
		ID:           m.ID,
		DisplayName:  m.DisplayName,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		AgeInYears:   m.AgeInYears,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if len(links) > 0 {
		acct.LinkedProviders = make(map[string]string, len(links))
		for _, l := range links {
			acct.LinkedProviders[l.Provider] = l.ExternalID
		}
	}
	return acct
}

func accountToModel(a *ab.Account) *AccountModel {
	return &AccountModel{
		ID:           a.ID,
		DisplayName:  a.DisplayName,
		Email:        a.Email,
		PasswordHash: a.PasswordHash,
		AgeInYears:   a.AgeInYears,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}
