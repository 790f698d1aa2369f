package authbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

type accountContextKey struct{}

// Middleware attaches the authenticated account to incoming HTTP requests.
// It is transport glue over the Gate: the session reference is read from a
// cookie or bearer header, resolved, and the account placed on the request
// context for downstream handlers.
type Middleware struct {
	// Gate must be set.
	Gate *Gate

	// CookieName is the cookie holding the session reference. Defaults to
	// "authbridgeSession".
	CookieName string

	// AuthHeaderName is the header checked for a bearer reference. Defaults
	// to "Authorization".
	AuthHeaderName string

	// LoginURL, when set, makes RequireAccount redirect unauthenticated
	// browsers there with the original path in CallbackURLParam; otherwise
	// a 401 is returned.
	LoginURL string

	// CallbackURLParam defaults to "callbackURL".
	CallbackURLParam string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// EnsureDefaults fills in zero-valued optional fields.
func (m *Middleware) EnsureDefaults() *Middleware {
	if m.CookieName == "" {
		m.CookieName = "authbridgeSession"
	}
	if m.AuthHeaderName == "" {
		m.AuthHeaderName = "Authorization"
	}
	if m.CallbackURLParam == "" {
		m.CallbackURLParam = "callbackURL"
	}
	if m.Logger == nil {
		m.Logger = slog.Default()
	}
	return m
}

// AccountFromContext returns the account attached by ExtractAccount or
// RequireAccount, or nil.
func AccountFromContext(ctx context.Context) *Account {
	acct, _ := ctx.Value(accountContextKey{}).(*Account)
	return acct
}

// ContextWithAccount returns a context carrying the account. Exposed for
// tests and for transports that resolve the account themselves.
func ContextWithAccount(ctx context.Context, acct *Account) context.Context {
	return context.WithValue(ctx, accountContextKey{}, acct)
}

// SessionRef extracts the raw session reference from the request: cookie
// first, then bearer header.
func (m *Middleware) SessionRef(r *http.Request) string {
	m.EnsureDefaults()
	if cookie, err := r.Cookie(m.CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	for _, value := range r.Header.Values(m.AuthHeaderName) {
		if !strings.HasPrefix(value, "Bearer ") {
			continue
		}
		ref := strings.TrimSpace(strings.TrimPrefix(value, "Bearer "))
		if ref != "" {
			return ref
		}
	}
	return ""
}

// ExtractAccount resolves the session reference if one is present and makes
// the account available to downstream handlers. It never rejects: handlers
// that merely want to know who is asking use this, handlers that must run
// authenticated use RequireAccount.
func (m *Middleware) ExtractAccount(next http.Handler) http.Handler {
	m.EnsureDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ref := m.SessionRef(r)
		if ref != "" {
			acct, err := m.Gate.Require(r.Context(), ref)
			if err == nil {
				r = r.WithContext(ContextWithAccount(r.Context(), acct))
			} else if !errors.Is(err, ErrUnauthenticated) {
				m.Logger.Error("session resolution failed", "err", err)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAccount rejects requests that do not resolve to a live account.
// Browsers are redirected to LoginURL when configured; API callers get 401.
func (m *Middleware) RequireAccount(next http.Handler) http.Handler {
	m.EnsureDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct, err := m.Gate.Require(r.Context(), m.SessionRef(r))
		if err != nil {
			if !errors.Is(err, ErrUnauthenticated) {
				m.Logger.Error("session resolution failed", "err", err)
				http.Error(w, "server error, please retry", http.StatusInternalServerError)
				return
			}
			if m.LoginURL != "" {
				encoded := url.QueryEscape(r.URL.Path)
				http.Redirect(w, r, fmt.Sprintf("%s?%s=%s", m.LoginURL, m.CallbackURLParam, encoded), http.StatusFound)
				return
			}
			http.Error(w, "not authenticated", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithAccount(r.Context(), acct)))
	})
}
