package device

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hrmonitor/hrmonitor/internal/platform/apperr"
)

const (
	StatusActive      = "active"
	StatusInactive    = "inactive"
	StatusMaintenance = "maintenance"

	maxDeviceIDLen = 50
)

var validStatuses = map[string]bool{
	StatusActive: true, StatusInactive: true, StatusMaintenance: true,
}

// Device maps to the devices table. DeviceID is the hardware identifier the
// device reports with; ID is the internal key readings reference. A device
// keeps its patient for life.
type Device struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	DeviceID     string     `db:"device_id" json:"device_id"`
	PatientID    uuid.UUID  `db:"patient_id" json:"patient_id"`
	Status       string     `db:"status" json:"status"`
	RegisteredAt time.Time  `db:"registered_at" json:"registered_at"`
	LastActivity *time.Time `db:"last_activity" json:"last_activity,omitempty"`
}

func (d *Device) Validate() error {
	d.DeviceID = strings.TrimSpace(d.DeviceID)
	if d.DeviceID == "" {
		return apperr.Validation("device_id", "is required")
	}
	if len(d.DeviceID) > maxDeviceIDLen {
		return apperr.Validation("device_id", "must be at most 50 characters")
	}
	if d.PatientID == uuid.Nil {
		return apperr.Validation("patient_id", "is required")
	}
	if d.Status == "" {
		d.Status = StatusActive
	}
	return validateStatus(d.Status)
}

func (d *Device) SetStatus(status string) error {
	if err := validateStatus(status); err != nil {
		return err
	}
	d.Status = status
	return nil
}

func validateStatus(s string) error {
	if !validStatuses[s] {
		return apperr.Validation("status", "must be one of active, inactive, maintenance")
	}
	return nil
}

// DeviceUpdate lists the only mutable field of a device. The owning patient
// and identifier are fixed at registration.
type DeviceUpdate struct {
	Status *string `json:"status"`
}

func (u DeviceUpdate) Apply(d *Device) error {
	if u.Status != nil {
		return d.SetStatus(*u.Status)
	}
	return nil
}

// ListFilter narrows List. A nil PatientID lists every patient's devices.
type ListFilter struct {
	Status    string
	PatientID *uuid.UUID
}
