package heartrate

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/hrmonitor/hrmonitor/internal/domain/device"
)

type ReadingRepository interface {
	// Insert stores r in a single statement. r.ID is assigned by the store.
	Insert(ctx context.Context, r *Reading) error
	// ReadingsSince yields the patient's readings with recorded_at >= since,
	// newest first. A zero since means no lower bound. The query runs when
	// the sequence is first ranged over.
	ReadingsSince(ctx context.Context, patientID uuid.UUID, since time.Time) iter.Seq2[*Reading, error]
	List(ctx context.Context, q ListQuery) iter.Seq2[*Reading, error]
	Count(ctx context.Context, q ListQuery) (int, error)
}

// WindowAggregator is implemented by stores that can compute all four
// window aggregates in one statement. ComputeStats prefers it over scanning.
type WindowAggregator interface {
	AggregateWindows(ctx context.Context, patientID uuid.UUID, w Windows) (Stats, error)
}

// Devices is the part of the device store ingestion needs.
type Devices interface {
	GetByDeviceID(ctx context.Context, deviceID string) (*device.Device, error)
	TouchLastActivity(ctx context.Context, id uuid.UUID, at time.Time) error
}
