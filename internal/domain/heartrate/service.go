package heartrate

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/hrmonitor/hrmonitor/internal/domain/access"
)

// Service ingests, lists and summarises heart rate readings. Every operation
// resolves the caller's scope first.
type Service struct {
	readings ReadingRepository
	devices  Devices
	patients access.Patients
	resolver *access.Resolver
	loc      *time.Location
	logger   zerolog.Logger
	nowFunc  func() time.Time
}

// NewService wires the service. loc is the zone calendar windows are cut
// in; nil means UTC.
func NewService(readings ReadingRepository, devices Devices, patients access.Patients,
	resolver *access.Resolver, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		readings: readings,
		devices:  devices,
		patients: patients,
		resolver: resolver,
		loc:      loc,
		logger:   logger.With().Str("component", "heartrate").Logger(),
		nowFunc:  time.Now,
	}
}
