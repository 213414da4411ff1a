package domain

import "context"

// Identity is the signed-in user as reported by the external identity
// provider. The zero value means nobody is signed in.
type Identity struct {
	UserID string
}

// LocalIdentity is the single implicit user of the local-only store.
var LocalIdentity = Identity{UserID: "local"}

// SignedIn reports whether the identity carries a user.
func (i Identity) SignedIn() bool {
	return i.UserID != ""
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored in ctx, or the zero Identity.
func IdentityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}
