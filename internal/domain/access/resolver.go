package access

import (
	"context"

	"github.com/google/uuid"

	"github.com/hrmonitor/hrmonitor/internal/platform/apperr"
	"github.com/hrmonitor/hrmonitor/internal/platform/auth"
)

// Patients is the part of the patient store the resolver reads.
type Patients interface {
	// PatientIDForUser returns the patient profile linked to userID, or an
	// apperr.ErrNotFound error when the user has none.
	PatientIDForUser(ctx context.Context, userID string) (uuid.UUID, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type Resolver struct {
	patients Patients
}

func NewResolver(patients Patients) *Resolver {
	return &Resolver{patients: patients}
}

// Resolve maps the principal onto a Scope. A linked patient profile wins
// over the role for visibility, so a staff member who is also a patient
// reads as that patient; the role bits still ride on the Scope. A patient id
// carried in the token is only trusted once the store confirms it exists.
func (r *Resolver) Resolve(ctx context.Context, p auth.Principal) (Scope, error) {
	if p.PatientID != nil {
		ok, err := r.patients.Exists(ctx, *p.PatientID)
		if err != nil {
			return DeniedScope(), apperr.Internal("resolve patient claim", err)
		}
		if ok {
			return SelfScope(*p.PatientID).WithRole(p.IsStaff(), p.IsAdmin()), nil
		}
	}

	if p.UserID != "" {
		id, err := r.patients.PatientIDForUser(ctx, p.UserID)
		switch {
		case err == nil:
			return SelfScope(id).WithRole(p.IsStaff(), p.IsAdmin()), nil
		case !apperr.IsNotFound(err):
			return DeniedScope(), apperr.Internal("resolve patient profile", err)
		}
	}

	if p.IsStaff() {
		return StaffScope(p.IsAdmin()), nil
	}
	return DeniedScope(), nil
}
