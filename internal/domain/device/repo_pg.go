package device

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hrmonitor/hrmonitor/internal/platform/apperr"
	"github.com/hrmonitor/hrmonitor/internal/platform/db"
)

type deviceRepoPG struct{ conn db.Querier }

func NewDeviceRepoPG(conn db.Querier) DeviceRepository {
	return &deviceRepoPG{conn: conn}
}

const deviceCols = `id, device_id, patient_id, status, registered_at, last_activity`

func (r *deviceRepoPG) scanDevice(row pgx.Row) (*Device, error) {
	var d Device
	err := row.Scan(&d.ID, &d.DeviceID, &d.PatientID, &d.Status, &d.RegisteredAt, &d.LastActivity)
	return &d, err
}

func (r *deviceRepoPG) Create(ctx context.Context, d *Device) error {
	d.ID = uuid.New()
	err := r.conn.QueryRow(ctx, `
		INSERT INTO devices (id, device_id, patient_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING registered_at`,
		d.ID, d.DeviceID, d.PatientID, d.Status,
	).Scan(&d.RegisteredAt)
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, "devices_device_id_key"):
		return apperr.Validation("device_id", "device_id already exists")
	case db.IsForeignKeyViolation(err, ""):
		return apperr.NotFound("patient", d.PatientID.String())
	}
	return fmt.Errorf("insert device: %w", err)
}

func (r *deviceRepoPG) GetByDeviceID(ctx context.Context, deviceID string) (*Device, error) {
	d, err := r.scanDevice(r.conn.QueryRow(ctx, `SELECT `+deviceCols+` FROM devices WHERE device_id = $1`, deviceID))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("device", deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return d, nil
}

func (r *deviceRepoPG) UpdateStatus(ctx context.Context, d *Device) error {
	tag, err := r.conn.Exec(ctx, `UPDATE devices SET status = $2 WHERE id = $1`, d.ID, d.Status)
	if err != nil {
		return fmt.Errorf("update device status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("device", d.DeviceID)
	}
	return nil
}

func (r *deviceRepoPG) TouchLastActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn.Exec(ctx, `
		UPDATE devices SET last_activity = GREATEST(COALESCE(last_activity, $2), $2)
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch device last_activity: %w", err)
	}
	return nil
}

func (r *deviceRepoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Device, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if filter.PatientID != nil {
		where += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, *filter.PatientID)
		idx++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, filter.Status)
		idx++
	}

	var total int
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM devices`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count devices: %w", err)
	}

	query := `SELECT ` + deviceCols + ` FROM devices` + where +
		fmt.Sprintf(` ORDER BY registered_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()
	var items []*Device
	for rows.Next() {
		d, err := r.scanDevice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}
