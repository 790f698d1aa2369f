package oauth2

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	ab "github.com/authbridge/authbridge"
)

type GithubOAuth2 struct {
	*BaseOAuth2

	// UserInfoURL is the URL to fetch user info from. Defaults to GitHub's API.
	// Can be overridden for testing.
	UserInfoURL string
}

func NewGithubOAuth2(clientID string, clientSecret string, callbackURL string, handleAssertion ab.HandleAssertionFunc) *GithubOAuth2 {
	if clientID == "" {
		clientID = strings.TrimSpace(os.Getenv("OAUTH2_GITHUB_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_GITHUB_CLIENT_SECRET"))
	}
	if callbackURL == "" {
		callbackURL = strings.TrimSpace(os.Getenv("OAUTH2_GITHUB_CALLBACK_URL"))
	}

	out := GithubOAuth2{
		BaseOAuth2:  NewBaseOAuth2(clientID, clientSecret, callbackURL, handleAssertion),
		UserInfoURL: "https://api.github.com/user",
	}
	out.BaseOAuth2.oauthConfig.Endpoint = github.Endpoint
	out.BaseOAuth2.oauthConfig.Scopes = []string{
		"read:user", "user:email",
	}

	out.mux.HandleFunc("/callback/", out.handleCallback)

	return &out
}

func (g *GithubOAuth2) Name() string { return "github" }

func (g *GithubOAuth2) handleCallback(w http.ResponseWriter, r *http.Request) {
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
			g.HandleAssertion(githubAssertion(userInfo), w, r)
			return
		}
	}
	slog.Info("redirecting due to error", "err", err)
	http.Redirect(w, r, g.AuthFailureURL, http.StatusTemporaryRedirect)
}

// githubAssertion normalizes the /user payload. The numeric id is the stable
// identifier; login and name can both be renamed.
func githubAssertion(userInfo map[string]any) ab.Assertion {
	out := ab.Assertion{Provider: "github"}
	if id, ok := userInfo["id"].(float64); ok {
		out.ExternalID = strconv.FormatInt(int64(id), 10)
	}
	out.Email, _ = userInfo["email"].(string)
	out.DisplayName, _ = userInfo["name"].(string)
	if out.DisplayName == "" {
		out.DisplayName, _ = userInfo["login"].(string)
	}
	return out
}

func (g *GithubOAuth2) getUserData(token *oauth2.Token) (map[string]any, error) {
	req, err := http.NewRequest("GET", g.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %s", err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	response, err := g.getHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed getting user info from github: %s", err.Error())
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
