package oauth2

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"

	ab "github.com/authbridge/authbridge"
)

// BaseOAuth2 carries the pieces every OAuth2 provider adapter shares: the
// oauth2.Config, the redirect handler that starts the handshake, and the
// HandleAssertion callback fired once the callback leg has produced a
// normalized identity. Concrete adapters (Google, Github, Facebook) embed it
// and register their own callback handler.
type BaseOAuth2 struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string

	// AuthFailureURL is where the browser lands when the handshake fails.
	AuthFailureURL string

	// HandleAssertion receives the normalized identity. Usually
	// authbridge.Web.HandleAssertion.
	HandleAssertion ab.HandleAssertionFunc

	// HTTPClient is used for userinfo fetches and the token exchange.
	// Defaults to http.DefaultClient; tests inject their own.
	HTTPClient *http.Client

	oauthConfig oauth2.Config
	mux         *http.ServeMux
}

func NewBaseOAuth2(clientID string, clientSecret string, callbackURL string, handleAssertion ab.HandleAssertionFunc) *BaseOAuth2 {
	if clientID == "" {
		clientID = os.Getenv("OAUTH2_CLIENT_ID")
	}
	if clientSecret == "" {
		clientSecret = os.Getenv("OAUTH2_CLIENT_SECRET")
	}
	if callbackURL == "" {
		callbackURL = os.Getenv("OAUTH2_CALLBACK_URL")
	}
	out := &BaseOAuth2{
		ClientID:        clientID,
		ClientSecret:    clientSecret,
		CallbackURL:     callbackURL,
		AuthFailureURL:  "/login",
		HandleAssertion: handleAssertion,
		mux:             http.NewServeMux(),
		oauthConfig: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
		},
	}
	out.mux.HandleFunc("/", OauthRedirector(&out.oauthConfig))
	return out
}

// ServeHTTP dispatches to the redirect leg or the adapter's callback leg.
// Host apps mount adapters under a prefix, e.g.
// http.StripPrefix("/auth/google", adapter).
func (b *BaseOAuth2) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mux.ServeHTTP(w, r)
}

// Handler returns the adapter's http.Handler. Equivalent to using the
// adapter itself; kept for callers that want the mux without the adapter
// type.
func (b *BaseOAuth2) Handler() http.Handler {
	return b.mux
}

// SetHTTPClient overrides the HTTP client used for the token exchange and
// userinfo fetches. Intended for tests.
func (b *BaseOAuth2) SetHTTPClient(client *http.Client) {
	b.HTTPClient = client
}

// SetOAuthEndpoint overrides the provider endpoint. Intended for tests.
func (b *BaseOAuth2) SetOAuthEndpoint(endpoint oauth2.Endpoint) {
	b.oauthConfig.Endpoint = endpoint
}

func (b *BaseOAuth2) getHTTPClient() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	return http.DefaultClient
}

// ExchangeContext returns the context for the token exchange, carrying the
// injectable HTTP client.
func (b *BaseOAuth2) ExchangeContext() context.Context {
	return context.WithValue(context.Background(), oauth2.HTTPClient, b.getHTTPClient())
}

// checkState validates the anti-forgery state cookie set by the redirect
// leg. Returns false after writing the error response.
func (b *BaseOAuth2) checkState(w http.ResponseWriter, r *http.Request) bool {
	oauthState, _ := r.Cookie("oauthstate")
	if oauthState == nil {
		http.Error(w, "OauthState is nil", http.StatusBadRequest)
		return false
	}
	if r.FormValue("state") != oauthState.Value {
		http.SetCookie(w, &http.Cookie{
			Name:   "oauthstate",
			Value:  "",
			Path:   "/",
			MaxAge: -1,
		})
		http.Error(w, fmt.Sprintf("invalid oauth state: %s", r.FormValue("state")), http.StatusBadRequest)
		return false
	}
	return true
}

func generateStateOauthCookie(w http.ResponseWriter) string {
	var expiration = time.Now().Add(30 * 24 * time.Hour)
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		slog.Error("error generating oauth state", "err", err)
	}
	state := base64.URLEncoding.EncodeToString(b)
	cookie := http.Cookie{Name: "oauthstate", Value: state, Path: "/", Expires: expiration}
	http.SetCookie(w, &cookie)
	return state
}

// OauthRedirector starts the handshake: it remembers where to send the
// browser afterwards, sets the state cookie, and redirects to the provider's
// consent page.
func OauthRedirector(oauthConfig *oauth2.Config) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		callbackURL := r.URL.Query().Get("callbackURL")
		if callbackURL != "" {
			var expiration = time.Now().Add(24 * time.Hour)
			http.SetCookie(w, &http.Cookie{
				Name:    "oauthCallbackURL",
				Value:   callbackURL,
				Path:    "/",
				Expires: expiration,
				MaxAge:  120, // keep this short
			})
		}
		oauthState := generateStateOauthCookie(w)
		u := oauthConfig.AuthCodeURL(oauthState)
		http.Redirect(w, r, u, http.StatusFound)
	}
}
