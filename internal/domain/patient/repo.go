package patient

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	PatientIDForUser(ctx context.Context, userID string) (uuid.UUID, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Patient, int, error)
}
