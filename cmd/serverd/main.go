// Command serverd runs a standalone authbridge server: local signup and
// login, Google/Github/Facebook federated login, and cookie-backed sessions.
//
// With DATABASE_URL set it stores accounts in postgres via gorm; otherwise
// it falls back to a file-backed store under -storage.
package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/alexedwards/scs/v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	ab "github.com/authbridge/authbridge"
	oa2 "github.com/authbridge/authbridge/oauth2"
	fsstore "github.com/authbridge/authbridge/stores/fs"
	gormstore "github.com/authbridge/authbridge/stores/gorm"
)

func main() {
	addr := flag.String("addr", ":8080", "address to listen on")
	storagePath := flag.String("storage", "/tmp/authbridge", "storage dir for the file-backed store fallback")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	var accounts ab.AccountStore
	var sessions ab.SessionStore
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
		if err != nil {
			logger.Error("failed to open database", "err", err)
			os.Exit(1)
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			logger.Error("failed to migrate database", "err", err)
			os.Exit(1)
		}
		accounts = gormstore.NewAccountStore(db)
		sessions = gormstore.NewSessionStore(db)
		logger.Info("using postgres store")
	} else {
		accounts = fsstore.NewAccountStore(*storagePath)
		sessions = fsstore.NewSessionStore(*storagePath)
		logger.Info("using file store", "path", *storagePath)
	}

	resolver := (&ab.Resolver{
		Store:  accounts,
		Hasher: &ab.BcryptHasher{},
		Logger: logger,
	}).EnsureDefaults()

	binder := (&ab.SessionBinder{
		Accounts: accounts,
		Sessions: sessions,
		TTL:      24 * time.Hour,
		Logger:   logger,
	}).EnsureDefaults()

	sessionManager := scs.New()
	sessionManager.Lifetime = binder.TTL

	web := (&ab.Web{
		Resolver:       resolver,
		Binder:         binder,
		SessionManager: sessionManager,
		Logger:         logger,
	}).EnsureDefaults()

	rg := web.Router()
	web.MountProvider(rg, "/auth/google", oa2.NewGoogleOAuth2("", "", "", web.HandleAssertion))
	web.MountProvider(rg, "/auth/github", oa2.NewGithubOAuth2("", "", "", web.HandleAssertion))
	web.MountProvider(rg, "/auth/facebook", oa2.NewFacebookOAuth2("", "", "", web.HandleAssertion))

	rg.Handle("/profile", web.Middleware.RequireAccount(http.HandlerFunc(profileHandler)))

	logger.Info("listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, sessionManager.LoadAndSave(rg)); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func profileHandler(w http.ResponseWriter, r *http.Request) {
	acct := ab.AccountFromContext(r.Context())
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("hello " + acct.DisplayName + " <" + acct.Email + ">\n"))
}
