package oauth2

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"

	ab "github.com/authbridge/authbridge"
)

type FacebookOAuth2 struct {
	*BaseOAuth2

	// UserInfoURL is the Graph API endpoint to fetch the profile from.
	// Can be overridden for testing.
	UserInfoURL string
}

func NewFacebookOAuth2(clientID string, clientSecret string, callbackURL string, handleAssertion ab.HandleAssertionFunc) *FacebookOAuth2 {
	if clientID == "" {
		clientID = strings.TrimSpace(os.Getenv("OAUTH2_FACEBOOK_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_FACEBOOK_CLIENT_SECRET"))
	}
	if callbackURL == "" {
		callbackURL = strings.TrimSpace(os.Getenv("OAUTH2_FACEBOOK_CALLBACK_URL"))
	}

	out := FacebookOAuth2{
		BaseOAuth2:  NewBaseOAuth2(clientID, clientSecret, callbackURL, handleAssertion),
		UserInfoURL: "https://graph.facebook.com/me",
	}
	out.BaseOAuth2.oauthConfig.Endpoint = facebook.Endpoint
	out.BaseOAuth2.oauthConfig.Scopes = []string{"email", "public_profile"}

	out.mux.HandleFunc("/callback/", out.handleCallback)

	return &out
}

func (f *FacebookOAuth2) Name() string { return "facebook" }

func (f *FacebookOAuth2) handleCallback(w http.ResponseWriter, r *http.Request) {
	if !f.checkState(w, r) {
		return
	}

	code := r.FormValue("code")
	token, err := f.oauthConfig.Exchange(f.ExchangeContext(), code)
	if err != nil {
		slog.Info("invalid code exchange", "err", err)
	} else {
		var userInfo map[string]any
		userInfo, err = f.getUserData(token)
		if err == nil {
			f.HandleAssertion(facebookAssertion(userInfo), w, r)
			return
		}
	}
	slog.Info("redirecting due to error", "err", err)
	http.Redirect(w, r, f.AuthFailureURL, http.StatusTemporaryRedirect)
}

func facebookAssertion(userInfo map[string]any) ab.Assertion {
	out := ab.Assertion{Provider: "facebook"}
	out.ExternalID, _ = userInfo["id"].(string)
	out.Email, _ = userInfo["email"].(string)
	out.DisplayName, _ = userInfo["name"].(string)
	return out
}

func (f *FacebookOAuth2) getUserData(token *oauth2.Token) (map[string]any, error) {
	u := f.UserInfoURL + "?fields=" + url.QueryEscape("id,name,email")
	req, err := http.NewRequest("GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %s", err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	response, err := f.getHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed getting user info from facebook: %s", err.Error())
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
