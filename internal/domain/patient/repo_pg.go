package patient

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hrmonitor/hrmonitor/internal/platform/apperr"
	"github.com/hrmonitor/hrmonitor/internal/platform/db"
)

type patientRepoPG struct{ conn db.Querier }

func NewPatientRepoPG(conn db.Querier) PatientRepository {
	return &patientRepoPG{conn: conn}
}

const patientCols = `id, user_id, date_of_birth, gender,
	COALESCE(address, ''), COALESCE(emergency_contact, ''), COALESCE(medical_history, ''),
	created_at, updated_at`

func (r *patientRepoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.UserID, &p.DateOfBirth.Time, &p.Gender,
		&p.Address, &p.EmergencyContact, &p.MedicalHistory,
		&p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn.QueryRow(ctx, `
		INSERT INTO patients (id, user_id, date_of_birth, gender, address, emergency_contact, medical_history)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.DateOfBirth.Time, p.Gender, p.Address, p.EmergencyContact, p.MedicalHistory,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, "patients_user_id_key"):
		return apperr.Validation("user_id", "a patient profile already exists for this user")
	case db.IsCheckViolation(err, ""):
		return apperr.Validation("gender", "must be one of male, female, other")
	}
	return fmt.Errorf("insert patient: %w", err)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := r.scanPatient(r.conn.QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("patient", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (r *patientRepoPG) PatientIDForUser(ctx context.Context, userID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.conn.QueryRow(ctx, `SELECT id FROM patients WHERE user_id = $1`, userID).Scan(&id)
	if db.IsNoRows(err) {
		return uuid.Nil, apperr.NotFound("patient", userID)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("lookup patient by user: %w", err)
	}
	return id, nil
}

func (r *patientRepoPG) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	if err := r.conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("patient exists: %w", err)
	}
	return ok, nil
}

// Update writes only the columns PatientUpdate can change.
func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn.QueryRow(ctx, `
		UPDATE patients SET date_of_birth=$2, gender=$3, address=$4,
			emergency_contact=$5, medical_history=$6, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.DateOfBirth.Time, p.Gender, p.Address, p.EmergencyContact, p.MedicalHistory,
	).Scan(&p.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.NotFound("patient", p.ID.String())
	}
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Patient, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if filter.PatientID != nil {
		where += fmt.Sprintf(` AND id = $%d`, idx)
		args = append(args, *filter.PatientID)
		idx++
	}
	if filter.Gender != "" {
		where += fmt.Sprintf(` AND gender = $%d`, idx)
		args = append(args, filter.Gender)
		idx++
	}

	var total int
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM patients`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	query := `SELECT ` + patientCols + ` FROM patients` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
