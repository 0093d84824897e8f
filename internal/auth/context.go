// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating identity via context

package auth

import (
	"context"
)

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return nil
	}
	identity, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return identity
}

// MustFromContext retrieves the Identity from the context, panicking if not present.
// Only for handlers that sit behind the auth middleware.
func MustFromContext(ctx context.Context) *Identity {
	identity := FromContext(ctx)
	if identity == nil {
		panic("auth: Identity not found in context")
	}
	return identity
}
