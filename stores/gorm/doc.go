//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based implementations of authbridge store
// interfaces. It supports any database that GORM supports (PostgreSQL,
// MySQL, SQLite, etc.) and is suitable for production deployments requiring
// relational database storage.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - accounts: Account records with a unique email index
//   - provider_links: (provider, external_id) pairs linked to accounts
//   - sessions: Live session records backing issued session references
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
//	gormstore.AutoMigrate(db)
//	accountStore := gormstore.NewAccountStore(db)
//	sessionStore := gormstore.NewSessionStore(db)
package gorm
