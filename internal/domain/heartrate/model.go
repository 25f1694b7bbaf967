package heartrate

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hrmonitor/hrmonitor/internal/platform/apperr"
)

// Accepted heart rate range in beats per minute, inclusive. Values outside
// it are rejected, never clamped.
const (
	MinHeartRate = 30
	MaxHeartRate = 250
)

// Reading maps to the heart_rate_readings table. Readings are append-only.
// PatientID always equals the owning device's patient.
type Reading struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Device     uuid.UUID `db:"device_id" json:"device"`
	DeviceID   string    `json:"device_id"`
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id"`
	HeartRate  int       `db:"heart_rate" json:"heart_rate"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// NewReading is a submission as the transport layer received it.
type NewReading struct {
	DeviceID   string
	HeartRate  int
	RecordedAt time.Time
}

func validateHeartRate(v int) error {
	if v < MinHeartRate || v > MaxHeartRate {
		return apperr.Validation("heart_rate", "must be between 30 and 250")
	}
	return nil
}

// Ordering is a validated sort key for listing readings.
type Ordering struct {
	Field string
	Desc  bool
}

var DefaultOrdering = Ordering{Field: "recorded_at", Desc: true}

var orderingFields = map[string]bool{"recorded_at": true, "created_at": true, "heart_rate": true}

// ParseOrdering accepts recorded_at, created_at or heart_rate, optionally
// prefixed with "-" for descending. The empty string selects the default.
func ParseOrdering(s string) (Ordering, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultOrdering, nil
	}
	o := Ordering{Field: strings.TrimPrefix(s, "-"), Desc: strings.HasPrefix(s, "-")}
	if !orderingFields[o.Field] {
		return Ordering{}, apperr.Validation("ordering", "must be one of recorded_at, created_at, heart_rate, optionally prefixed with -")
	}
	return o, nil
}

func (o Ordering) String() string {
	if o.Desc {
		return "-" + o.Field
	}
	return o.Field
}

// ListFilter is what a caller may ask of ListReadings.
type ListFilter struct {
	DeviceID string
	Ordering string
}

// ListQuery is a ListFilter after scope resolution. A nil PatientID spans
// every patient.
type ListQuery struct {
	PatientID *uuid.UUID
	DeviceID  string
	Ordering  Ordering
	Limit     int
	Offset    int
}

// Aggregate summarises one window. A nil *Aggregate means the window holds
// no readings.
type Aggregate struct {
	Count int     `json:"count"`
	Min   int     `json:"min"`
	Max   int     `json:"max"`
	Avg   float64 `json:"avg"`
}

// Stats holds the four window aggregates of one patient.
type Stats struct {
	AllTime *Aggregate `json:"all_time"`
	Month   *Aggregate `json:"month"`
	Week    *Aggregate `json:"week"`
	Today   *Aggregate `json:"today"`
}
