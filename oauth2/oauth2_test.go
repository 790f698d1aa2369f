package oauth2_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	oauth2lib "golang.org/x/oauth2"

	ab "github.com/authbridge/authbridge"
	"github.com/authbridge/authbridge/oauth2"
)

// mockOAuthServer stands in for the provider: a token endpoint and a
// userinfo endpoint, each of which can be forced to fail.
type mockOAuthServer struct {
	server        *httptest.Server
	tokenEndpoint string

	tokenError    bool
	userInfoError bool
	userInfo      map[string]any
}

func newMockOAuthServer(t *testing.T) *mockOAuthServer {
	t.Helper()
	mock := &mockOAuthServer{
		userInfo: map[string]any{
			"id":    "google123",
			"email": "carol@example.com",
			"name":  "Carol",
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if mock.tokenError {
			http.Error(w, "exchange refused", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "mock-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if mock.userInfoError {
			http.Error(w, "userinfo refused", http.StatusInternalServerError)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer mock-access-token" {
			t.Errorf("userinfo fetch missing bearer token, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mock.userInfo)
	})

	mock.server = httptest.NewServer(mux)
	mock.tokenEndpoint = mock.server.URL + "/token"
	t.Cleanup(mock.server.Close)
	return mock
}

func TestOauthRedirector(t *testing.T) {
	auth := oauth2.NewGoogleOAuth2("client-id", "client-secret", "http://localhost/auth/google/callback/", nil)

	t.Run("redirects with oauth params", func(t *testing.T) {
		rr := httptest.NewRecorder()
		auth.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		if rr.Code != http.StatusFound {
			t.Fatalf("expected 302, got %d", rr.Code)
		}
		u, err := url.Parse(rr.Header().Get("Location"))
		if err != nil {
			t.Fatalf("bad redirect URL: %v", err)
		}
		q := u.Query()
		if q.Get("client_id") != "client-id" {
			t.Errorf("client_id = %q", q.Get("client_id"))
		}
		if q.Get("redirect_uri") != "http://localhost/auth/google/callback/" {
			t.Errorf("redirect_uri = %q", q.Get("redirect_uri"))
		}
		if q.Get("response_type") != "code" {
			t.Errorf("response_type = %q", q.Get("response_type"))
		}
		if q.Get("state") == "" {
			t.Error("no state param in redirect")
		}
	})

	t.Run("sets state cookie matching redirect", func(t *testing.T) {
		rr := httptest.NewRecorder()
		auth.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		var state *http.Cookie
		for _, c := range rr.Result().Cookies() {
			if c.Name == "oauthstate" {
				state = c
			}
		}
		if state == nil || state.Value == "" {
			t.Fatal("no oauthstate cookie set")
		}
		u, _ := url.Parse(rr.Header().Get("Location"))
		if u.Query().Get("state") != state.Value {
			t.Error("state param does not match cookie")
		}
	})

	t.Run("remembers callbackURL in a cookie", func(t *testing.T) {
		rr := httptest.NewRecorder()
		auth.ServeHTTP(rr, httptest.NewRequest("GET", "/?callbackURL=/dashboard", nil))
		found := false
		for _, c := range rr.Result().Cookies() {
			if c.Name == "oauthCallbackURL" && c.Value == "/dashboard" {
				found = true
			}
		}
		if !found {
			t.Error("callbackURL cookie not set")
		}
	})
}

func TestGoogleOAuth2Callback(t *testing.T) {
	setup := func(t *testing.T) (*mockOAuthServer, *oauth2.GoogleOAuth2) {
		mock := newMockOAuthServer(t)
		auth := oauth2.NewGoogleOAuth2("client-id", "client-secret", "http://localhost/callback/",
			func(assertion ab.Assertion, w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
		auth.UserInfoURL = mock.server.URL + "/userinfo"
		auth.SetHTTPClient(mock.server.Client())
		auth.SetOAuthEndpoint(oauth2lib.Endpoint{
			AuthURL:  mock.server.URL + "/auth",
			TokenURL: mock.tokenEndpoint,
		})
		return mock, auth
	}

	t.Run("rejects missing state cookie", func(t *testing.T) {
		_, auth := setup(t)
		rr := httptest.NewRecorder()
		auth.ServeHTTP(rr, httptest.NewRequest("GET", "/callback/?code=abc&state=xyz", nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("rejects mismatched state", func(t *testing.T) {
		_, auth := setup(t)
		req := httptest.NewRequest("GET", "/callback/?code=abc&state=wrong", nil)
		req.AddCookie(&http.Cookie{Name: "oauthstate", Value: "right"})
		rr := httptest.NewRecorder()
		auth.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "invalid oauth") {
			t.Errorf("unexpected body: %s", rr.Body.String())
		}
		cleared := false
		for _, c := range rr.Result().Cookies() {
			if c.Name == "oauthstate" && c.MaxAge < 0 {
				cleared = true
			}
		}
		if !cleared {
			t.Error("stale oauthstate cookie was not cleared")
		}
	})

	t.Run("successful callback maps the identity", func(t *testing.T) {
		mock := newMockOAuthServer(t)
		var got *ab.Assertion
		auth := oauth2.NewGoogleOAuth2("client-id", "client-secret", "http://localhost/callback/",
			func(assertion ab.Assertion, w http.ResponseWriter, r *http.Request) {
				got = &assertion
				w.WriteHeader(http.StatusOK)
			})
		auth.UserInfoURL = mock.server.URL + "/userinfo"
		auth.SetHTTPClient(mock.server.Client())
		auth.SetOAuthEndpoint(oauth2lib.Endpoint{
			AuthURL:  mock.server.URL + "/auth",
			TokenURL: mock.tokenEndpoint,
		})

		req := httptest.NewRequest("GET", "/callback/?code=abc&state=good", nil)
		req.AddCookie(&http.Cookie{Name: "oauthstate", Value: "good"})
		rr := httptest.NewRecorder()
		auth.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if got == nil {
			t.Fatal("assertion callback never fired")
		}
		if got.Provider != "google" || got.ExternalID != "google123" {
			t.Errorf("wrong identity: %+v", got)
		}
		if got.Email != "carol@example.com" || got.DisplayName != "Carol" {
			t.Errorf("profile fields not mapped: %+v", got)
		}
	})

	t.Run("redirects on token exchange failure", func(t *testing.T) {
		mock, auth := setup(t)
		mock.tokenError = true

		req := httptest.NewRequest("GET", "/callback/?code=abc&state=good", nil)
		req.AddCookie(&http.Cookie{Name: "oauthstate", Value: "good"})
		rr := httptest.NewRecorder()
		auth.ServeHTTP(rr, req)

		if rr.Code != http.StatusTemporaryRedirect {
			t.Errorf("expected 307, got %d", rr.Code)
		}
		if loc := rr.Header().Get("Location"); loc != auth.AuthFailureURL {
			t.Errorf("expected redirect to %q, got %q", auth.AuthFailureURL, loc)
		}
	})

	t.Run("redirects on user info failure", func(t *testing.T) {
		mock, auth := setup(t)
		mock.userInfoError = true

		req := httptest.NewRequest("GET", "/callback/?code=abc&state=good", nil)
		req.AddCookie(&http.Cookie{Name: "oauthstate", Value: "good"})
		rr := httptest.NewRecorder()
		auth.ServeHTTP(rr, req)

		if rr.Code != http.StatusTemporaryRedirect {
			t.Errorf("expected 307, got %d", rr.Code)
		}
	})
}

func TestGithubOAuth2Callback(t *testing.T) {
	mock := newMockOAuthServer(t)
	// Github reports a numeric id and may omit the display name.
	mock.userInfo = map[string]any{
		"id":    float64(424242),
		"email": "dev@example.com",
		"login": "devlogin",
	}

	var got *ab.Assertion
	auth := oauth2.NewGithubOAuth2("client-id", "client-secret", "http://localhost/callback/",
		func(assertion ab.Assertion, w http.ResponseWriter, r *http.Request) {
			got = &assertion
			w.WriteHeader(http.StatusOK)
		})
	auth.UserInfoURL = mock.server.URL + "/userinfo"
	auth.SetHTTPClient(mock.server.Client())
	auth.SetOAuthEndpoint(oauth2lib.Endpoint{
		AuthURL:  mock.server.URL + "/auth",
		TokenURL: mock.tokenEndpoint,
	})

	req := httptest.NewRequest("GET", "/callback/?code=abc&state=good", nil)
	req.AddCookie(&http.Cookie{Name: "oauthstate", Value: "good"})
	rr := httptest.NewRecorder()
	auth.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got == nil {
		t.Fatal("assertion callback never fired")
	}
	if got.Provider != "github" || got.ExternalID != "424242" {
		t.Errorf("wrong identity: %+v", got)
	}
	if got.DisplayName != "devlogin" {
		t.Errorf("login fallback not applied: %+v", got)
	}
}
