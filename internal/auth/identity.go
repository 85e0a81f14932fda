package auth

import (
	"context"
	"fmt"
)

// Role is a user role. The set is closed.
type Role string

// Known roles.
const (
	RoleSpeaker  Role = "SPEAKER"
	RoleAttendee Role = "ATTENDEE"
)

// ParseRole converts a stored value into a Role. Matching is exact.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSpeaker, RoleAttendee:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// String returns the role name.
func (r Role) String() string {
	return string(r)
}

// Identity is the verified caller of one call. It is built once by the
// Authenticator and never modified afterwards.
type Identity struct {
	UserID   string
	Role     Role
	RawToken string
	Email    string
}

// Attributes returns the identity as a map for predicate evaluation and
// message payloads. The raw token is never included.
func (i *Identity) Attributes() map[string]any {
	return map[string]any{
		"userId": i.UserID,
		"role":   string(i.Role),
		"email":  i.Email,
	}
}

type identityContextKey struct{}

// ContextWithIdentity adds an identity to the context.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext extracts the identity from the context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	return identity, ok && identity != nil
}
