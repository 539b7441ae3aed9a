// Package auth carries the caller identity established by the bearer-token
// middleware.
package auth

import (
	"context"

	"github.com/google/uuid"
)

// Identity is an authenticated caller.
type Identity struct {
	UserID uuid.UUID
	Admin  bool
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored in ctx, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
