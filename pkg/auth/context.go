package auth

import "context"

// DefaultProperty is the context slot used when Options.AssignProperty is empty.
const DefaultProperty = "user"

// identityKey is a private type for the identity context keys, one per slot.
type identityKey struct{ property string }

// SetIdentity stores the authenticated identity in the default slot.
func SetIdentity(ctx context.Context, id *Identity) context.Context {
	return SetIdentityAt(ctx, DefaultProperty, id)
}

// SetIdentityAt stores the identity under the named slot.
func SetIdentityAt(ctx context.Context, property string, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{property}, id)
}

// IdentityFromContext retrieves the identity from the default slot.
// Returns nil if no identity is set.
func IdentityFromContext(ctx context.Context) *Identity {
	return IdentityAt(ctx, DefaultProperty)
}

// IdentityAt retrieves the identity stored under the named slot.
func IdentityAt(ctx context.Context, property string) *Identity {
	if v, ok := ctx.Value(identityKey{property}).(*Identity); ok {
		return v
	}
	return nil
}
