package authbridge

import "net/http"

// HandleAssertionFunc receives the normalized identity a provider adapter
// produced at the end of its handshake. Web.HandleAssertion is the usual
// implementation.
type HandleAssertionFunc func(assertion Assertion, w http.ResponseWriter, r *http.Request)

// ProviderAdapter is implemented once per external identity provider. The
// adapter owns the handshake (redirects, token exchange, metadata) and hands
// a normalized Assertion to its HandleAssertionFunc; the core never sees
// provider wire formats. Concrete adapters live in the oauth2 and saml
// subpackages.
type ProviderAdapter interface {
	http.Handler

	// Name is the stable provider key used in Account.LinkedProviders.
	Name() string
}
