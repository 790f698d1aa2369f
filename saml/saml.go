// Package saml mounts a SAML service-provider login flow backed by
// crewjam/saml and delivers the resulting identity as an authbridge
// Assertion.
package saml

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/crewjam/saml"
	"github.com/crewjam/saml/samlsp"
	"github.com/gorilla/mux"

	ab "github.com/authbridge/authbridge"
)

var samlMiddleware *samlsp.Middleware

var SAML_ISSUER = strings.TrimSpace(os.Getenv("SAML_ISSUER"))
var SAML_LOGIN_URL = strings.TrimSpace(os.Getenv("SAML_LOGIN_URL"))
var SAML_METADATA_URL = strings.TrimSpace(os.Getenv("SAML_METADATA_URL"))
var SAML_BASE_URL = strings.TrimSpace(os.Getenv("SAML_BASE_URL"))

const SAML_CERT_FILE = "saml_service.cert"
const SAML_KEY_FILE = "saml_service.key"

func logout(w http.ResponseWriter, r *http.Request) {
	nameID := samlsp.AttributeFromContext(r.Context(), "urn:oasis:names:tc:SAML:attribute:subject-id")
	logoutURL, err := samlMiddleware.ServiceProvider.MakeRedirectLogoutRequest(nameID, "")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := samlMiddleware.Session.DeleteSession(w, r); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Add("Location", logoutURL.String())
	w.WriteHeader(http.StatusFound)
}

// assertionFromSAML maps the attribute statements onto the normalized
// identity. The subject-id (falling back to the email claim) becomes the
// external id.
func assertionFromSAML(a *saml.Assertion) ab.Assertion {
	out := ab.Assertion{Provider: "saml"}
	if SAML_ISSUER != "" {
		out.Provider = SAML_ISSUER
	}
	for _, stmt := range a.AttributeStatements {
		for _, attr := range stmt.Attributes {
			if len(attr.Values) == 0 {
				continue
			}
			value := attr.Values[0].Value
			switch {
			case strings.HasSuffix(attr.Name, "/claims/emailaddress"):
				out.Email = value
			case strings.HasSuffix(attr.Name, "/claims/name"):
				out.DisplayName = value
			case strings.HasSuffix(attr.Name, "subject-id"):
				out.ExternalID = value
			}
		}
	}
	if out.ExternalID == "" && a.Subject != nil && a.Subject.NameID != nil {
		out.ExternalID = a.Subject.NameID.Value
	}
	if out.ExternalID == "" {
		out.ExternalID = out.Email
	}
	return out
}

// RegisterSamlAuth mounts /saml/login, /saml/acs and /saml/logout on the
// given router. Completed logins land in handleAssertion.
func RegisterSamlAuth(rg *mux.Router, callbackURL string, handleAssertion ab.HandleAssertionFunc) (err error) {
	keyPair, err := tls.LoadX509KeyPair(SAML_CERT_FILE, SAML_KEY_FILE)
	if err != nil {
		slog.Error("error loading key pair", "err", err)
		return err
	}
	keyPair.Leaf, err = x509.ParseCertificate(keyPair.Certificate[0])
	if err != nil {
		slog.Error("error parsing key pair", "err", err)
		return
	}

	idpMetadataURL, err := url.Parse(SAML_METADATA_URL)
	if err != nil {
		slog.Error("error parsing metadata url", "url", SAML_METADATA_URL, "err", err)
		return
	}
	idpMetadata, err := samlsp.FetchMetadata(context.Background(), http.DefaultClient, *idpMetadataURL)
	if err != nil {
		slog.Error("error loading metadata", "url", SAML_METADATA_URL, "err", err)
		return
	}

	rootURL, err := url.Parse(fmt.Sprintf("%s/auth/", SAML_BASE_URL))
	if err != nil {
		slog.Error("error parsing base url", "url", SAML_BASE_URL, "err", err)
		return
	}

	samlMiddleware, _ = samlsp.New(samlsp.Options{
		URL:                *rootURL,
		DefaultRedirectURI: callbackURL,
		Key:                keyPair.PrivateKey.(*rsa.PrivateKey),
		Certificate:        keyPair.Leaf,
		IDPMetadata:        idpMetadata,
		SignRequest:        true, // some IdP require the SLO request to be signed
	})

	// The stock RequireAccount middleware wants to own the whole login flow.
	// We only want SAML as one choice on a shared login page, so the login
	// and ACS legs are driven by hand.
	rg.HandleFunc("/saml/login", func(w http.ResponseWriter, r *http.Request) {
		authReq, err := samlMiddleware.ServiceProvider.MakeAuthenticationRequest(SAML_LOGIN_URL, saml.HTTPRedirectBinding, samlMiddleware.ResponseBinding)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		returnTo := r.URL.Query().Get("returnTo")
		returnToURL, err := url.Parse(returnTo)
		if err != nil || returnTo == "" {
			returnToURL, _ = url.Parse(SAML_BASE_URL)
		}
		trackedReq := &http.Request{URL: returnToURL}
		relayState, err := samlMiddleware.RequestTracker.TrackRequest(w, trackedReq, authReq.ID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		redirectURL, err := authReq.Redirect(relayState, &samlMiddleware.ServiceProvider)
		if err != nil {
			slog.Error("error creating redirect URI", "err", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, redirectURL.String(), http.StatusFound)
	})
	rg.Handle("/saml/logout", http.HandlerFunc(logout))
	rg.HandleFunc("/saml/acs", func(w http.ResponseWriter, r *http.Request) {
		m := samlMiddleware
		if err := r.ParseForm(); err != nil {
			slog.Error("error parsing ACS form", "err", err)
			m.OnError(w, r, err)
			return
		}

		possibleRequestIDs := []string{}
		if m.ServiceProvider.AllowIDPInitiated {
			possibleRequestIDs = append(possibleRequestIDs, "")
		}
		for _, tr := range m.RequestTracker.GetTrackedRequests(r) {
			possibleRequestIDs = append(possibleRequestIDs, tr.SAMLRequestID)
		}

		assertion, err := m.ServiceProvider.ParseResponse(r, possibleRequestIDs)
		if err != nil {
			slog.Error("error parsing ACS response", "err", err)
			m.OnError(w, r, err)
			return
		}

		if err = m.Session.CreateSession(w, r, assertion); err != nil {
			slog.Error("error creating session", "err", err)
			m.OnError(w, r, err)
			return
		}

		handleAssertion(assertionFromSAML(assertion), w, r)
	})
	rg.Handle("/saml/", samlMiddleware)
	return
}
