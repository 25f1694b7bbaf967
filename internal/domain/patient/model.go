package patient

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hrmonitor/hrmonitor/internal/platform/apperr"
)

const dateLayout = "2006-01-02"

var validGenders = map[string]bool{"male": true, "female": true, "other": true}

// Patient maps to the patients table. UserID is the Identity Provider's
// subject for the person this profile belongs to.
type Patient struct {
	ID               uuid.UUID `db:"id" json:"id"`
	UserID           string    `db:"user_id" json:"user_id"`
	DateOfBirth      Date      `db:"date_of_birth" json:"date_of_birth"`
	Gender           string    `db:"gender" json:"gender"`
	Address          string    `db:"address" json:"address"`
	EmergencyContact string    `db:"emergency_contact" json:"emergency_contact"`
	MedicalHistory   string    `db:"medical_history" json:"medical_history"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Date is a calendar date serialised as YYYY-MM-DD.
type Date struct{ time.Time }

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return apperr.Validation("date_of_birth", "must be a YYYY-MM-DD string")
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return apperr.Validation("date_of_birth", "must be a YYYY-MM-DD date")
	}
	d.Time = t
	return nil
}

// Validate checks a patient before it is first stored.
func (p *Patient) Validate(now time.Time) error {
	if strings.TrimSpace(p.UserID) == "" {
		return apperr.Validation("user_id", "is required")
	}
	if err := validateGender(p.Gender); err != nil {
		return err
	}
	if err := validateDateOfBirth(p.DateOfBirth, now); err != nil {
		return err
	}
	if len(p.EmergencyContact) > 100 {
		return apperr.Validation("emergency_contact", "must be at most 100 characters")
	}
	return nil
}

func validateGender(g string) error {
	if !validGenders[g] {
		return apperr.Validation("gender", "must be one of male, female, other")
	}
	return nil
}

func validateDateOfBirth(d Date, now time.Time) error {
	if d.IsZero() {
		return apperr.Validation("date_of_birth", "is required")
	}
	if d.After(now) {
		return apperr.Validation("date_of_birth", "must not be in the future")
	}
	return nil
}

// PatientUpdate lists the only fields a patient update may change. Nil
// fields are left untouched.
type PatientUpdate struct {
	DateOfBirth      *Date   `json:"date_of_birth"`
	Gender           *string `json:"gender"`
	Address          *string `json:"address"`
	EmergencyContact *string `json:"emergency_contact"`
	MedicalHistory   *string `json:"medical_history"`
}

// Apply validates every present field and writes them through the named
// setters. On error p is unchanged.
func (u PatientUpdate) Apply(p *Patient, now time.Time) error {
	next := *p
	if u.DateOfBirth != nil {
		if err := next.SetDateOfBirth(*u.DateOfBirth, now); err != nil {
			return err
		}
	}
	if u.Gender != nil {
		if err := next.SetGender(*u.Gender); err != nil {
			return err
		}
	}
	if u.Address != nil {
		next.SetAddress(*u.Address)
	}
	if u.EmergencyContact != nil {
		if err := next.SetEmergencyContact(*u.EmergencyContact); err != nil {
			return err
		}
	}
	if u.MedicalHistory != nil {
		next.SetMedicalHistory(*u.MedicalHistory)
	}
	*p = next
	return nil
}

func (u PatientUpdate) IsEmpty() bool {
	return u.DateOfBirth == nil && u.Gender == nil && u.Address == nil &&
		u.EmergencyContact == nil && u.MedicalHistory == nil
}

func (p *Patient) SetDateOfBirth(d Date, now time.Time) error {
	if err := validateDateOfBirth(d, now); err != nil {
		return err
	}
	p.DateOfBirth = d
	return nil
}

func (p *Patient) SetGender(g string) error {
	if err := validateGender(g); err != nil {
		return err
	}
	p.Gender = g
	return nil
}

func (p *Patient) SetAddress(a string) { p.Address = a }

func (p *Patient) SetEmergencyContact(c string) error {
	if len(c) > 100 {
		return apperr.Validation("emergency_contact", "must be at most 100 characters")
	}
	p.EmergencyContact = c
	return nil
}

func (p *Patient) SetMedicalHistory(h string) { p.MedicalHistory = h }

// ListFilter narrows List. A nil PatientID lists every patient.
type ListFilter struct {
	Gender    string
	PatientID *uuid.UUID
}
