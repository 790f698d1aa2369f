// Package grpc carries session references over gRPC metadata and provides
// server interceptors that resolve them to accounts through the
// authentication gate.
package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"
)

// Default metadata keys for authentication context.
// These can be customized via Config if needed.
const (
	// DefaultMetadataKeySessionRef is the default gRPC metadata key carrying
	// the caller's session reference.
	DefaultMetadataKeySessionRef = "x-session-ref"

	// DefaultMetadataKeyAccountID is the default gRPC metadata key the
	// interceptor fills in with the resolved account id.
	DefaultMetadataKeyAccountID = "x-account-id"
)

// Config holds the metadata key configuration for auth context.
type Config struct {
	// MetadataKeySessionRef is the gRPC metadata key for the session
	// reference. Defaults to "x-session-ref".
	MetadataKeySessionRef string

	// MetadataKeyAccountID is the gRPC metadata key for the resolved account
	// id. Defaults to "x-account-id".
	MetadataKeyAccountID string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeySessionRef: DefaultMetadataKeySessionRef,
		MetadataKeyAccountID:  DefaultMetadataKeyAccountID,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeySessionRef == "" {
		c.MetadataKeySessionRef = DefaultMetadataKeySessionRef
	}
	if c.MetadataKeyAccountID == "" {
		c.MetadataKeyAccountID = DefaultMetadataKeyAccountID
	}
}

// SessionRefFromContext extracts the session reference from the incoming
// gRPC metadata. Returns empty string when absent.
func SessionRefFromContext(ctx context.Context) string {
	return SessionRefFromContextWithConfig(ctx, nil)
}

// SessionRefFromContextWithConfig extracts the session reference using the
// specified config.
func SessionRefFromContextWithConfig(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(config.MetadataKeySessionRef); len(values) > 0 {
		return values[0]
	}
	return ""
}

// SessionRefToOutgoingContext adds the session reference to outgoing gRPC
// metadata, for clients calling an interceptor-guarded service.
func SessionRefToOutgoingContext(ctx context.Context, ref string) context.Context {
	return SessionRefToOutgoingContextWithKey(ctx, ref, DefaultMetadataKeySessionRef)
}

// SessionRefToOutgoingContextWithKey adds the session reference with a
// custom metadata key.
func SessionRefToOutgoingContextWithKey(ctx context.Context, ref string, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, key, ref)
}

// AccountIDFromContext extracts the resolved account id that the auth
// interceptor stamped onto the incoming metadata. Returns empty string for
// unauthenticated calls.
func AccountIDFromContext(ctx context.Context) string {
	return AccountIDFromContextWithConfig(ctx, nil)
}

// AccountIDFromContextWithConfig extracts the account id using the specified
// config.
func AccountIDFromContextWithConfig(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(config.MetadataKeyAccountID); len(values) > 0 {
		return values[0]
	}
	return ""
}

// IsAuthenticated returns true if the interceptor resolved an account for
// this call.
func IsAuthenticated(ctx context.Context) bool {
	return AccountIDFromContext(ctx) != ""
}
