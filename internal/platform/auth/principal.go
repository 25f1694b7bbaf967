package auth

import (
	"context"

	"github.com/google/uuid"
)

// Role is the coarse role the Identity Provider assigns to a user.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStaff   Role = "staff"
	RolePatient Role = "patient"
	// RoleNone marks an authenticated caller whose token carries no role
	// this service recognises.
	RoleNone Role = ""
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string
	Role   Role
	// PatientID is the patient record the Identity Provider linked to this
	// user, if any. The access resolver still checks it against the store.
	PatientID *uuid.UUID
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// IsStaff reports whether the principal may read across all patients.
// Administrators are staff.
func (p Principal) IsStaff() bool { return p.Role == RoleStaff || p.Role == RoleAdmin }

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// roleFromClaims picks the strongest recognised role.
func roleFromClaims(roles []string) Role {
	best := RoleNone
	for _, r := range roles {
		switch Role(r) {
		case RoleAdmin:
			return RoleAdmin
		case RoleStaff:
			best = RoleStaff
		case RolePatient:
			if best == RoleNone {
				best = RolePatient
			}
		}
	}
	return best
}
