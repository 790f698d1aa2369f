package authbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionBinder converts a resolved account into an opaque session
// reference and reverses that mapping on later requests.
//
// A reference is a signed JWT carrying the account id (`sub`) and a random
// session id (`jti`). The session id names a server-side record in Sessions;
// Revoke deletes that record, which invalidates the reference immediately
// without touching other sessions of the same account. Resolve re-fetches
// the account from Accounts every time so revocation and account edits are
// observed on the very next request.
type SessionBinder struct {
	// Accounts must be set.
	Accounts AccountStore

	// Sessions must be set.
	Sessions SessionStore

	// SecretKey signs references. Falls back to the
	// AUTHBRIDGE_JWT_SECRET_KEY environment variable.
	SecretKey string

	// Issuer is the JWT `iss` claim. Defaults to "authbridge".
	Issuer string

	// TTL is how long a reference stays valid. Defaults to 24h.
	TTL time.Duration

	// StoreTimeout bounds each store call. Defaults to 5s.
	StoreTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// EnsureDefaults fills in zero-valued optional fields.
func (b *SessionBinder) EnsureDefaults() *SessionBinder {
	if b.SecretKey == "" {
		b.SecretKey = strings.TrimSpace(os.Getenv("AUTHBRIDGE_JWT_SECRET_KEY"))
	}
	if b.Issuer == "" {
		b.Issuer = "authbridge"
	}
	if b.TTL <= 0 {
		b.TTL = 24 * time.Hour
	}
	if b.StoreTimeout <= 0 {
		b.StoreTimeout = 5 * time.Second
	}
	if b.Logger == nil {
		b.Logger = slog.Default()
	}
	return b
}

// Issue creates a live session record for the account and returns the signed
// reference. The reference embeds no secrets - only the account id and the
// session id.
func (b *SessionBinder) Issue(ctx context.Context, acct *Account) (string, error) {
	b.EnsureDefaults()

	sid, err := NewSessionID()
	if err != nil {
		return "", internalErr("session_issue", err)
	}

	now := time.Now()
	session := &Session{
		ID:        sid,
		AccountID: acct.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(b.TTL),
	}
	sctx, cancel := context.WithTimeout(ctx, b.StoreTimeout)
	defer cancel()
	if err := b.Sessions.Put(sctx, session); err != nil {
		return "", internalErr("session_issue", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": acct.ID,
		"jti": sid,
		"iss": b.Issuer,
		"iat": now.Unix(),
		"exp": session.ExpiresAt.Unix(),
	})
	ref, err := token.SignedString([]byte(b.SecretKey))
	if err != nil {
		return "", internalErr("session_issue", err)
	}
	return ref, nil
}

// Resolve exchanges a reference back for its account. It fails with
// ErrSessionInvalid for malformed, revoked or orphaned references and
// ErrSessionExpired for timed-out ones; storage faults are internal errors.
func (b *SessionBinder) Resolve(ctx context.Context, ref string) (*Account, error) {
	b.EnsureDefaults()

	accountID, sid, err := b.parseRef(ref)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, ErrSessionInvalid
	}

	sctx, cancel := context.WithTimeout(ctx, b.StoreTimeout)
	session, err := b.Sessions.Get(sctx, sid)
	cancel()
	if errors.Is(err, ErrSessionNotFound) {
		return nil, ErrSessionInvalid
	}
	if err != nil {
		return nil, internalErr("session_resolve", err)
	}
	if session.IsExpired() {
		return nil, ErrSessionExpired
	}
	if session.AccountID != accountID {
		return nil, ErrSessionInvalid
	}

	// Never trust a cached snapshot: the account is re-read on every use.
	sctx, cancel = context.WithTimeout(ctx, b.StoreTimeout)
	defer cancel()
	acct, err := b.Accounts.FindByID(sctx, accountID)
	if errors.Is(err, ErrAccountNotFound) {
		// A NotFound here legitimately means "session no longer valid".
		return nil, ErrSessionInvalid
	}
	if err != nil {
		return nil, internalErr("session_resolve", err)
	}
	return acct, nil
}

// Revoke invalidates the reference; subsequent Resolve calls fail with
// ErrSessionInvalid. Revoking an already-invalid reference is a no-op.
func (b *SessionBinder) Revoke(ctx context.Context, ref string) error {
	b.EnsureDefaults()

	_, sid, err := b.parseRef(ref)
	if err != nil {
		// Expired references can still be revoked; anything else carries no
		// usable session id.
		if !errors.Is(err, jwt.ErrTokenExpired) || sid == "" {
			return nil
		}
	}

	sctx, cancel := context.WithTimeout(ctx, b.StoreTimeout)
	defer cancel()
	if err := b.Sessions.Delete(sctx, sid); err != nil {
		return internalErr("session_revoke", err)
	}
	return nil
}

func (b *SessionBinder) parseRef(ref string) (accountID, sid string, err error) {
	token, err := jwt.Parse(ref, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(b.SecretKey), nil
	})

	var claims jwt.MapClaims
	if token != nil {
		claims, _ = token.Claims.(jwt.MapClaims)
	}
	if claims != nil {
		accountID, _ = claims.GetSubject()
		if v, ok := claims["jti"].(string); ok {
			sid = v
		}
	}
	if err != nil {
		return accountID, sid, err
	}
	if !token.Valid || accountID == "" || sid == "" {
		return accountID, sid, fmt.Errorf("incomplete session reference")
	}
	return accountID, sid, nil
}
