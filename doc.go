// Package authbridge resolves login attempts - local password or federated
// provider assertions - onto a single canonical account per person, and binds
// resolved accounts to revocable session references.
//
// # Architecture
//
// Account: the canonical stored identity record. An account always has at
// least one authentication path: a password hash, one or more linked
// providers, or both. Email is the cross-provider linking key and is unique
// across all accounts.
//
// Resolver: the central algorithm. ResolveLocal verifies an (email, password)
// pair against the store; ResolveFederated takes a provider assertion and
// either returns the already-linked account, links the provider onto an
// existing account with the same email, or creates a fresh account. A user
// who signed up locally and later arrives via Google with the same email is
// recognized as the same person.
//
// SessionBinder: converts a resolved account into an opaque session
// reference (a signed JWT naming the account and a server-side session
// record) and reverses that mapping on each request. The account is
// re-fetched from the store on every Resolve so revocation and edits are
// observed immediately.
//
// Gate: request-time check that a session reference still resolves to a live
// account. Available as a plain value API, as HTTP middleware and as a gRPC
// interceptor.
//
// # Basic Usage
//
// Set up a store, the resolver and the binder:
//
//	import (
//	    "github.com/authbridge/authbridge"
//	    "github.com/authbridge/authbridge/stores/fs"
//	)
//
//	accounts := fs.NewAccountStore(storagePath)
//	sessions := fs.NewSessionStore(storagePath)
//
//	resolver := &authbridge.Resolver{Store: accounts}
//	binder := &authbridge.SessionBinder{
//	    Accounts:  accounts,
//	    Sessions:  sessions,
//	    SecretKey: os.Getenv("AUTHBRIDGE_JWT_SECRET_KEY"),
//	}
//
// Authenticate and issue a session:
//
//	acct, err := resolver.ResolveLocal(ctx, email, password)
//	if err != nil {
//	    var failure *authbridge.AuthFailure
//	    if errors.As(err, &failure) {
//	        // expected, user-facing: pick a message per failure.Kind
//	    }
//	    // anything else is an internal fault
//	}
//	ref, err := binder.Issue(ctx, acct)
//
// Guard later requests:
//
//	gate := &authbridge.Gate{Binder: binder}
//	acct, err := gate.Require(ctx, ref)
//
// # Store Implementations
//
// stores/fs is a file-backed store suitable for development and tests.
// stores/gorm targets SQL databases via GORM and relies on unique indexes to
// arbitrate concurrent first-time federated logins. stores/gae targets
// Google Cloud Datastore. All implementations enforce the same validation
// and uniqueness rules; the resolver treats a duplicate-key loss as a signal
// to re-resolve, so racing logins for the same new identity converge on a
// single account.
//
// # Security
//
// Passwords are hashed with bcrypt at default cost and never appear in
// errors, logs or session references. A session reference carries only the
// account id and a random session id; revoking one session never affects
// other sessions issued for the same account.
package authbridge
