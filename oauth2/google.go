package oauth2

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	ab "github.com/authbridge/authbridge"
)

type GoogleOAuth2 struct {
	*BaseOAuth2

	// UserInfoURL is the URL to fetch user info from. Defaults to Google's
	// userinfo endpoint. Can be overridden for testing.
	UserInfoURL string
}

func NewGoogleOAuth2(clientID string, clientSecret string, callbackURL string, handleAssertion ab.HandleAssertionFunc) *GoogleOAuth2 {
	if clientID == "" {
		clientID = strings.TrimSpace(os.Getenv("OAUTH2_GOOGLE_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_GOOGLE_CLIENT_SECRET"))
	}
	if callbackURL == "" {
		callbackURL = strings.TrimSpace(os.Getenv("OAUTH2_GOOGLE_CALLBACK_URL"))
	}

	out := GoogleOAuth2{
		BaseOAuth2:  NewBaseOAuth2(clientID, clientSecret, callbackURL, handleAssertion),
		UserInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
	}
	out.BaseOAuth2.oauthConfig.Endpoint = google.Endpoint
	out.BaseOAuth2.oauthConfig.Scopes = []string{
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
	}

	out.mux.HandleFunc("/callback/", out.handleCallback)

	return &out
}

func (g *GoogleOAuth2) Name() string { return "google" }

func (g *GoogleOAuth2) handleCallback(w http.ResponseWriter, r *http.Request) {
	if !g.checkState(w, r) {
		return
	}

	code := r.FormValue("code")
	token, err := g.oauthConfig.Exchange(g.ExchangeContext(), code)
	if err != nil {
		slog.Info("invalid code exchange", "err", err)
	} else {
		var userInfo map[string]any
		userInfo, err = g.getUserData(token)
		if err == nil {
			g.HandleAssertion(googleAssertion(userInfo), w, r)
			return
		}
	}
	slog.Info("redirecting due to error", "err", err)
	http.Redirect(w, r, g.AuthFailureURL, http.StatusTemporaryRedirect)
}

func googleAssertion(userInfo map[string]any) ab.Assertion {
	out := ab.Assertion{Provider: "google"}
	out.ExternalID, _ = userInfo["id"].(string)
	out.Email, _ = userInfo["email"].(string)
	out.DisplayName, _ = userInfo["name"].(string)
	return out
}

func (g *GoogleOAuth2) getUserData(token *oauth2.Token) (map[string]any, error) {
	req, err := http.NewRequest("GET", g.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %s", err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	response, err := g.getHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed getting user info from google: %s", err.Error())
	}
	defer response.Body.Close()

	contents, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed read response: %s", err.Error())
	}

	var userInfo map[string]any
	if err := json.Unmarshal(contents, &userInfo); err != nil {
		return nil, fmt.Errorf("failed to parse user info: %s", err.Error())
	}
	return userInfo, nil
}
