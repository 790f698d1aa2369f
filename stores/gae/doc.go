//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of authbridge
// store interfaces. It is designed for deployment on Google Cloud Platform
// and supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
// The package uses the following Datastore kinds:
//   - Account: Account records
//   - Email: Name-keyed reservations enforcing email uniqueness
//   - ProviderLink: Name-keyed reservations enforcing external-identity uniqueness
//   - Session: Live session records backing issued session references
//
// # Namespacing
//
// All stores support Datastore namespaces for multi-tenant applications.
// Pass a namespace when creating stores to isolate data between tenants:
//
//	accountStore := gae.NewAccountStore(client, "tenant-123")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	accountStore := gae.NewAccountStore(client, "")  // default namespace
//	sessionStore := gae.NewSessionStore(client, "")
package gae
