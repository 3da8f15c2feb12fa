package auth

import (
	"context"
	"fmt"
)

type Role string

const (
	RoleSuperadmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleEngineer   Role = "engineer"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleSuperadmin, RoleAdmin, RoleEngineer:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// IsReviewer reports whether the role may be assigned to review signed reports.
func (r Role) IsReviewer() bool {
	return r == RoleAdmin || r == RoleSuperadmin
}

// Identity is the verified caller attached to each request.
type Identity struct {
	UserID int64
	Role   Role
}

func (id Identity) IsSuperadmin() bool { return id.Role == RoleSuperadmin }

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller set by the auth middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
