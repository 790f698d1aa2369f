package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	ab "github.com/authbridge/authbridge"
)

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// Gate resolves session references to accounts. Must be set.
	Gate *ab.Gate

	// RequireAuth when true rejects calls without a resolvable session.
	// When false, calls proceed but AccountIDFromContext returns empty.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Only used when RequireAuth is true.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig(gate *ab.Gate) *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		Gate:          gate,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(gate *ab.Gate, publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig(gate)
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig(gate *ab.Gate) *InterceptorConfig {
	config := DefaultInterceptorConfig(gate)
	config.RequireAuth = false
	return config
}

func (config *InterceptorConfig) ensureDefaults() {
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	config.Config.EnsureDefaults()
	if config.PublicMethods == nil {
		config.PublicMethods = make(map[string]bool)
	}
}

// authenticate resolves the call's session reference and returns a context
// with the account id stamped onto the incoming metadata. Unresolvable
// sessions return the original context and a nil account.
func (config *InterceptorConfig) authenticate(ctx context.Context) (context.Context, *ab.Account, error) {
	ref := SessionRefFromContextWithConfig(ctx, config.Config)
	if ref == "" {
		return ctx, nil, nil
	}

	acct, err := config.Gate.Require(ctx, ref)
	if err != nil {
		if errors.Is(err, ab.ErrUnauthenticated) {
			return ctx, nil, nil
		}
		return ctx, nil, status.Error(codes.Internal, "session resolution failed")
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		md = metadata.MD{}
	} else {
		md = md.Copy()
	}
	md.Set(config.Config.MetadataKeyAccountID, acct.ID)
	return metadata.NewIncomingContext(ctx, md), acct, nil
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that resolves the
// session reference carried in metadata and rejects calls per the config.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config.ensureDefaults()

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, acct, err := config.authenticate(ctx)
		if err != nil {
			return nil, err
		}

		if config.RequireAuth && !config.PublicMethods[info.FullMethod] {
			if acct == nil {
				return nil, status.Error(codes.Unauthenticated, "authentication required")
			}
		}

		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a gRPC stream interceptor that resolves the
// session reference carried in metadata.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config.ensureDefaults()

	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, acct, err := config.authenticate(ss.Context())
		if err != nil {
			return err
		}

		if config.RequireAuth && !config.PublicMethods[info.FullMethod] {
			if acct == nil {
				return status.Error(codes.Unauthenticated, "authentication required")
			}
		}

		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

// wrappedStream overrides the stream context so handlers see the stamped
// metadata.
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}
