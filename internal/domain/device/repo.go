package device

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type DeviceRepository interface {
	Create(ctx context.Context, d *Device) error
	GetByDeviceID(ctx context.Context, deviceID string) (*Device, error)
	UpdateStatus(ctx context.Context, d *Device) error
	// TouchLastActivity moves last_activity forward to at; it never moves it
	// back, so concurrent writers settle on the latest time.
	TouchLastActivity(ctx context.Context, id uuid.UUID, at time.Time) error
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Device, int, error)
}
