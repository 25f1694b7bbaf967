package patient

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hrmonitor/hrmonitor/internal/domain/access"
	"github.com/hrmonitor/hrmonitor/internal/platform/apperr"
	"github.com/hrmonitor/hrmonitor/internal/platform/auth"
)

type Service struct {
	patients PatientRepository
	resolver *access.Resolver
	nowFunc  func() time.Time
}

func NewService(patients PatientRepository, resolver *access.Resolver) *Service {
	return &Service{patients: patients, resolver: resolver, nowFunc: time.Now}
}

// ListPatients returns the patients visible to the caller: all of them for
// staff, only its own profile for a patient, none otherwise.
func (s *Service) ListPatients(ctx context.Context, caller auth.Principal, filter ListFilter, limit, offset int) ([]*Patient, int, error) {
	if filter.Gender != "" {
		if err := validateGender(filter.Gender); err != nil {
			return nil, 0, err
		}
	}
	scope, err := s.resolver.Resolve(ctx, caller)
	if err != nil {
		return nil, 0, err
	}
	pid, ok := scope.PatientFilter()
	if !ok {
		return []*Patient{}, 0, nil
	}
	filter.PatientID = pid
	items, total, err := s.patients.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal("list patients", err)
	}
	return items, total, nil
}

// GetPatient returns one patient. Records outside the caller's scope are
// reported as not found.
func (s *Service) GetPatient(ctx context.Context, caller auth.Principal, id uuid.UUID) (*Patient, error) {
	scope, err := s.resolver.Resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	if !scope.CanRead(id) {
		return nil, apperr.NotFound("patient", id.String())
	}
	return s.get(ctx, id)
}

// CreatePatient registers a patient profile. Administrators only.
func (s *Service) CreatePatient(ctx context.Context, caller auth.Principal, p *Patient) error {
	scope, err := s.resolver.Resolve(ctx, caller)
	if err != nil {
		return err
	}
	if !scope.IsAdmin() {
		return apperr.Denied("only administrators can create patients")
	}
	if err := p.Validate(s.nowFunc()); err != nil {
		return err
	}
	if err := s.patients.Create(ctx, p); err != nil {
		if apperr.IsValidation(err) {
			return err
		}
		return apperr.Internal("create patient", err)
	}
	return nil
}

// UpdatePatient applies upd to patient id. Allowed for administrators,
// whether or not they have a profile of their own, and for the patient
// itself.
func (s *Service) UpdatePatient(ctx context.Context, caller auth.Principal, id uuid.UUID, upd PatientUpdate) (*Patient, error) {
	scope, err := s.resolver.Resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	switch {
	case scope.IsAdmin():
	case scope.Kind() == access.Self:
		if !scope.Owns(id) {
			return nil, apperr.Denied("you can only update your own profile")
		}
	case scope.Kind() == access.Staff:
		return nil, apperr.Denied("only administrators can update other patients")
	default:
		return nil, apperr.Denied("no patient profile or staff role")
	}

	p, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.IsEmpty() {
		return p, nil
	}
	if err := upd.Apply(p, s.nowFunc()); err != nil {
		return nil, err
	}
	if err := s.patients.Update(ctx, p); err != nil {
		if apperr.IsNotFound(err) {
			return nil, err
		}
		return nil, apperr.Internal("update patient", err)
	}
	return p, nil
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, err
		}
		return nil, apperr.Internal("get patient", err)
	}
	return p, nil
}
