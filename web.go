package authbridge

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
)

// Web is the HTTP surface over the core: signup, login, logout and the
// landing point for provider assertions. It is a collaborator of the core,
// not part of it - all identity decisions happen in the Resolver, all
// session decisions in the SessionBinder.
//
// Form posts get redirects (original server-rendered app behavior); JSON
// posts get JSON back.
type Web struct {
	// Resolver and Binder must be set.
	Resolver *Resolver
	Binder   *SessionBinder

	// SessionManager keeps the reference between browser requests. When nil
	// a cookie-only fallback is used.
	SessionManager *scs.SessionManager

	// Middleware guards protected routes and names the session cookie.
	Middleware *Middleware

	// Redirect targets after the respective outcomes.
	LoginURL   string // failed login / signup-done target; default "/login"
	SignupURL  string // failed signup target; default "/signup"
	SuccessURL string // post-login target; default "/"

	// SessionRefKey is the scs key holding the reference. Defaults to
	// "authbridgeSessionRef".
	SessionRefKey string

	Logger *slog.Logger
}

// EnsureDefaults fills in zero-valued optional fields.
func (web *Web) EnsureDefaults() *Web {
	if web.Middleware == nil {
		web.Middleware = &Middleware{Gate: &Gate{Binder: web.Binder}}
	}
	web.Middleware.EnsureDefaults()
	if web.LoginURL == "" {
		web.LoginURL = "/login"
	}
	if web.SignupURL == "" {
		web.SignupURL = "/signup"
	}
	if web.SuccessURL == "" {
		web.SuccessURL = "/"
	}
	if web.SessionRefKey == "" {
		web.SessionRefKey = "authbridgeSessionRef"
	}
	if web.Logger == nil {
		web.Logger = slog.Default()
	}
	return web
}

// Router returns the auth routes mounted on a fresh gorilla router:
//
//	POST /signup
//	POST /login
//	GET|POST /logout
//
// Provider adapters are mounted by the caller under their own prefixes and
// deliver their assertions to HandleAssertion.
func (web *Web) Router() *mux.Router {
	web.EnsureDefaults()
	rg := mux.NewRouter()
	rg.HandleFunc("/signup", web.HandleSignup).Methods(http.MethodPost)
	rg.HandleFunc("/login", web.HandleLogin).Methods(http.MethodPost)
	rg.HandleFunc("/logout", web.HandleLogout)
	return rg
}

// MountProvider mounts a provider adapter under prefix, e.g.
// MountProvider(rg, "/auth/google", googleAdapter). The adapter sees paths
// relative to the prefix ("/" for the redirect leg, "/callback/" for the
// callback leg) and delivers assertions to HandleAssertion.
func (web *Web) MountProvider(rg *mux.Router, prefix string, adapter ProviderAdapter) {
	prefix = strings.TrimSuffix(prefix, "/")
	rg.PathPrefix(prefix + "/").Handler(http.StripPrefix(prefix, adapter))
}

// HandleSignup processes local registration and, on success, sends the user
// to the login page (they registered, now they log in - original flow).
func (web *Web) HandleSignup(w http.ResponseWriter, r *http.Request) {
	web.EnsureDefaults()

	form, err := parseForm(r)
	if err != nil {
		web.fail(w, r, web.SignupURL, NewValidationError("form", "unparseable request"))
		return
	}
	age, _ := strconv.Atoi(form["age"])
	req := SignupRequest{
		DisplayName:     form["name"],
		Email:           form["email"],
		Password:        form["password"],
		ConfirmPassword: form["confirmPassword"],
		AgeInYears:      age,
	}

	if _, err := web.Resolver.SignupLocal(r.Context(), req); err != nil {
		web.fail(w, r, web.SignupURL, err)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "registered, you can now log in"})
		return
	}
	http.Redirect(w, r, web.LoginURL, http.StatusFound)
}

// HandleLogin processes a local email+password login.
func (web *Web) HandleLogin(w http.ResponseWriter, r *http.Request) {
	web.EnsureDefaults()

	form, err := parseForm(r)
	if err != nil {
		web.fail(w, r, web.LoginURL, NewValidationError("form", "unparseable request"))
		return
	}
	email, password := form["email"], form["password"]
	if email == "" || password == "" {
		web.fail(w, r, web.LoginURL, NewValidationError("email", "email and password required"))
		return
	}

	acct, err := web.Resolver.ResolveLocal(r.Context(), email, password)
	if err != nil {
		web.fail(w, r, web.LoginURL, err)
		return
	}
	web.establishSession(w, r, acct, web.SuccessURL)
}

// HandleAssertion is the landing point provider adapters call once their
// handshake has produced an identity. It resolves the assertion to an
// account, issues a session, and redirects to the callback target.
func (web *Web) HandleAssertion(assertion Assertion, w http.ResponseWriter, r *http.Request) {
	web.EnsureDefaults()

	acct, err := web.Resolver.ResolveFederated(r.Context(), assertion)
	if err != nil {
		web.fail(w, r, web.LoginURL, err)
		return
	}

	target := web.SuccessURL
	if cookie, _ := r.Cookie("oauthCallbackURL"); cookie != nil && cookie.Value != "" {
		if u, err := url.Parse(cookie.Value); err == nil && u.Scheme == "" {
			target = cookie.Value
		}
		http.SetCookie(w, &http.Cookie{Name: "oauthCallbackURL", Value: "", Path: "/", MaxAge: -1})
	}
	web.establishSession(w, r, acct, target)
}

// HandleLogout revokes the current session.
func (web *Web) HandleLogout(w http.ResponseWriter, r *http.Request) {
	web.EnsureDefaults()

	if ref := web.Middleware.SessionRef(r); ref != "" {
		if err := web.Binder.Revoke(r.Context(), ref); err != nil {
			web.Logger.Error("revoke failed", "err", err)
		}
	}
	if web.SessionManager != nil {
		if err := web.SessionManager.Clear(r.Context()); err != nil {
			web.Logger.Warn("error clearing session data", "err", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name: web.Middleware.CookieName, Value: "", Path: "/",
		MaxAge: -1, Expires: time.Now(),
	})

	if to := r.URL.Query().Get("to"); to != "" {
		http.Redirect(w, r, to, http.StatusFound)
		return
	}
	http.Redirect(w, r, web.LoginURL, http.StatusFound)
}

func (web *Web) establishSession(w http.ResponseWriter, r *http.Request, acct *Account, target string) {
	ref, err := web.Binder.Issue(r.Context(), acct)
	if err != nil {
		web.fail(w, r, web.LoginURL, err)
		return
	}

	if web.SessionManager != nil {
		web.SessionManager.Put(r.Context(), web.SessionRefKey, ref)
	}
	http.SetCookie(w, &http.Cookie{
		Name: web.Middleware.CookieName, Value: ref, Path: "/",
		Expires: time.Now().Add(web.Binder.TTL), MaxAge: int(web.Binder.TTL.Seconds()),
		HttpOnly: true,
	})

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "account_id": acct.ID})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// fail maps core error values onto transport responses. Expected failures
// become client errors or redirects; internal faults are logged in full and
// shown as a generic retry message.
func (web *Web) fail(w http.ResponseWriter, r *http.Request, redirectTo string, err error) {
	var validation *ValidationError
	var failure *AuthFailure

	status := http.StatusInternalServerError
	message := "server error, please try again"

	switch {
	case errors.As(err, &validation):
		status, message = http.StatusBadRequest, validation.Error()
	case errors.As(err, &failure):
		status, message = http.StatusUnauthorized, loginFailureMessage(failure.Kind)
	case errors.Is(err, ErrDuplicateEmail):
		status, message = http.StatusBadRequest, "email is already registered"
	default:
		web.Logger.Error("auth operation failed", "err", err)
	}

	if wantsJSON(r) {
		writeJSON(w, status, map[string]any{"error": message})
		return
	}
	http.Redirect(w, r, redirectTo+"?error="+url.QueryEscape(message), http.StatusFound)
}

func loginFailureMessage(kind AuthFailureKind) string {
	switch kind {
	case EmailNotRegistered:
		return "email not registered"
	case SocialLoginOnly:
		return "please log in with your social account"
	case IncorrectPassword:
		return "incorrect password"
	}
	return "authentication failed"
}

func parseForm(r *http.Request) (map[string]string, error) {
	out := map[string]string{}
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var data map[string]any
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil || data == nil {
			return nil, errors.New("invalid post body")
		}
		for k, v := range data {
			switch t := v.(type) {
			case string:
				out[k] = t
			case float64:
				out[k] = strconv.Itoa(int(t))
			}
		}
		return out, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	for k := range r.PostForm {
		out[k] = r.PostFormValue(k)
	}
	return out, nil
}

func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
