// Package access resolves an authenticated principal into the set of
// patient data it may touch. Every monitoring service asks the Resolver for
// a Scope before reading or writing and matches on its Kind.
package access

import (
	"fmt"

	"github.com/google/uuid"
)

type Kind int

const (
	// Denied: authenticated, but neither a patient profile nor a staff role.
	Denied Kind = iota
	// Self: the caller is a patient and may touch only its own records.
	Self
	// Staff: staff or administrator, reads across all patients.
	Staff
)

func (k Kind) String() string {
	switch k {
	case Self:
		return "self"
	case Staff:
		return "staff"
	case Denied:
		return "denied"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Scope is the resolved access of one request. The zero value is Denied.
//
// Kind governs which patients' readings and records are visible. The staff
// and admin bits follow the caller's role regardless of Kind, so a staff
// member who is also a patient reads as Self but keeps directory write
// rights.
type Scope struct {
	kind      Kind
	patientID uuid.UUID
	staff     bool
	admin     bool
}

func SelfScope(patientID uuid.UUID) Scope { return Scope{kind: Self, patientID: patientID} }

func StaffScope(admin bool) Scope { return Scope{kind: Staff, staff: true, admin: admin} }

// WithRole returns s carrying the given role bits. Admin implies staff.
func (s Scope) WithRole(staff, admin bool) Scope {
	s.staff = staff || admin
	s.admin = admin
	return s
}

func DeniedScope() Scope { return Scope{} }

func (s Scope) Kind() Kind { return s.kind }

// PatientID returns the caller's own patient id. ok is false outside Self.
func (s Scope) PatientID() (id uuid.UUID, ok bool) {
	return s.patientID, s.kind == Self
}

// IsAdmin reports an administrator role, the only one allowed to create or
// mutate patient records on behalf of others.
func (s Scope) IsAdmin() bool { return s.admin }

// IsStaff reports a staff or administrator role, which may register and
// maintain devices for any patient.
func (s Scope) IsStaff() bool { return s.staff }

// Owns reports whether the scope is Self for exactly patientID.
func (s Scope) Owns(patientID uuid.UUID) bool {
	return s.kind == Self && s.patientID == patientID
}

// CanRead reports whether records of patientID are visible in this scope.
func (s Scope) CanRead(patientID uuid.UUID) bool {
	switch s.kind {
	case Staff:
		return true
	case Self:
		return s.patientID == patientID
	default:
		return false
	}
}

// PatientFilter narrows a list query: nil with ok=true means every patient,
// a non-nil id means that patient only, ok=false means nothing is visible.
func (s Scope) PatientFilter() (patientID *uuid.UUID, ok bool) {
	switch s.kind {
	case Staff:
		return nil, true
	case Self:
		id := s.patientID
		return &id, true
	default:
		return nil, false
	}
}

func (s Scope) String() string {
	if s.kind == Self {
		return "self(" + s.patientID.String() + ")"
	}
	return s.kind.String()
}
