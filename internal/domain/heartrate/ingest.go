package heartrate

import (
	"context"
	"strings"
	"time"

	"github.com/hrmonitor/hrmonitor/internal/domain/access"
	"github.com/hrmonitor/hrmonitor/internal/platform/apperr"
	"github.com/hrmonitor/hrmonitor/internal/platform/auth"
)

// SubmitReading validates and stores one reading.
//
// A patient may only submit for its own devices; a mismatch is a validation
// error on "device". Staff may submit for any device and the reading is
// attributed to the device's patient. The reading is written with a single
// insert and never retried here; retries belong to the caller, guarded by an
// Idempotency-Key.
func (s *Service) SubmitReading(ctx context.Context, caller auth.Principal, in NewReading) (*Reading, error) {
	scope, err := s.resolver.Resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	if scope.Kind() == access.Denied {
		return nil, apperr.Denied("no patient profile or staff role")
	}

	in.DeviceID = strings.TrimSpace(in.DeviceID)
	if in.DeviceID == "" {
		return nil, apperr.Validation("device_id", "is required")
	}
	if in.RecordedAt.IsZero() {
		return nil, apperr.Validation("recorded_at", "is required")
	}

	dev, err := s.devices.GetByDeviceID(ctx, in.DeviceID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, err
		}
		return nil, apperr.Internal("get device", err)
	}

	patientID := dev.PatientID
	switch scope.Kind() {
	case access.Self:
		own, _ := scope.PatientID()
		if dev.PatientID != own {
			return nil, apperr.Validation("device", "device does not belong to patient")
		}
		patientID = own
	case access.Staff:
		s.logger.Debug().
			Str("user_id", caller.UserID).
			Str("device_id", dev.DeviceID).
			Str("patient_id", dev.PatientID.String()).
			Msg("staff submission attributed to device patient")
	}

	if err := validateHeartRate(in.HeartRate); err != nil {
		return nil, err
	}

	r := &Reading{
		Device:     dev.ID,
		DeviceID:   dev.DeviceID,
		PatientID:  patientID,
		HeartRate:  in.HeartRate,
		RecordedAt: in.RecordedAt.UTC(),
		CreatedAt:  s.nowFunc().UTC().Truncate(time.Microsecond),
	}
	if err := s.readings.Insert(ctx, r); err != nil {
		if apperr.IsValidation(err) || apperr.IsNotFound(err) {
			return nil, err
		}
		return nil, apperr.Internal("insert reading", err)
	}

	if err := s.devices.TouchLastActivity(ctx, dev.ID, r.CreatedAt); err != nil {
		s.logger.Warn().Err(err).Str("device_id", dev.DeviceID).Msg("update device last_activity")
	}
	return r, nil
}
