package heartrate

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hrmonitor/hrmonitor/internal/platform/apperr"
	"github.com/hrmonitor/hrmonitor/internal/platform/db"
)

type readingRepoPG struct{ conn db.Querier }

func NewReadingRepoPG(conn db.Querier) ReadingRepository {
	return &readingRepoPG{conn: conn}
}

const readingCols = `r.id, r.device_id, d.device_id, r.patient_id, r.heart_rate, r.recorded_at, r.created_at`

const readingFrom = ` FROM heart_rate_readings r JOIN devices d ON d.id = r.device_id`

var orderingColumns = map[string]string{
	"recorded_at": "r.recorded_at",
	"created_at":  "r.created_at",
	"heart_rate":  "r.heart_rate",
}

func scanReading(row pgx.Row) (*Reading, error) {
	var r Reading
	err := row.Scan(&r.ID, &r.Device, &r.DeviceID, &r.PatientID, &r.HeartRate, &r.RecordedAt, &r.CreatedAt)
	return &r, err
}

func (s *readingRepoPG) Insert(ctx context.Context, r *Reading) error {
	r.ID = uuid.New()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO heart_rate_readings (id, device_id, patient_id, heart_rate, recorded_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.Device, r.PatientID, r.HeartRate, r.RecordedAt, r.CreatedAt)
	switch {
	case err == nil:
		return nil
	case db.IsCheckViolation(err, "heart_rate_readings_heart_rate_check"):
		return apperr.Validation("heart_rate", "must be between 30 and 250")
	case db.IsCheckViolation(err, "heart_rate_readings_device_patient_check"):
		return apperr.Validation("device", "device does not belong to patient")
	case db.IsForeignKeyViolation(err, ""):
		return apperr.NotFound("device", r.DeviceID)
	}
	return fmt.Errorf("insert reading: %w", err)
}

func (s *readingRepoPG) ReadingsSince(ctx context.Context, patientID uuid.UUID, since time.Time) iter.Seq2[*Reading, error] {
	query := `SELECT ` + readingCols + readingFrom + ` WHERE r.patient_id = $1`
	args := []interface{}{patientID}
	if !since.IsZero() {
		query += ` AND r.recorded_at >= $2`
		args = append(args, since)
	}
	query += ` ORDER BY r.recorded_at DESC, r.id DESC`
	return s.stream(ctx, query, args...)
}

func (s *readingRepoPG) List(ctx context.Context, q ListQuery) iter.Seq2[*Reading, error] {
	where, args := listWhere(q)
	col, ok := orderingColumns[q.Ordering.Field]
	if !ok {
		col = orderingColumns[DefaultOrdering.Field]
	}
	dir := "ASC"
	if q.Ordering.Desc {
		dir = "DESC"
	}
	query := `SELECT ` + readingCols + readingFrom + where +
		fmt.Sprintf(` ORDER BY %s %s, r.id %s LIMIT $%d OFFSET $%d`, col, dir, dir, len(args)+1, len(args)+2)
	args = append(args, q.Limit, q.Offset)
	return s.stream(ctx, query, args...)
}

func (s *readingRepoPG) Count(ctx context.Context, q ListQuery) (int, error) {
	where, args := listWhere(q)
	var total int
	if err := s.conn.QueryRow(ctx, `SELECT COUNT(*)`+readingFrom+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count readings: %w", err)
	}
	return total, nil
}

func listWhere(q ListQuery) (string, []interface{}) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if q.PatientID != nil {
		where += fmt.Sprintf(` AND r.patient_id = $%d`, idx)
		args = append(args, *q.PatientID)
		idx++
	}
	if q.DeviceID != "" {
		where += fmt.Sprintf(` AND d.device_id = $%d`, idx)
		args = append(args, q.DeviceID)
	}
	return where, args
}

// stream runs query lazily and yields one reading per row. Iteration stops
// at the first error, which is yielded with a nil reading.
func (s *readingRepoPG) stream(ctx context.Context, query string, args ...interface{}) iter.Seq2[*Reading, error] {
	return func(yield func(*Reading, error) bool) {
		rows, err := s.conn.Query(ctx, query, args...)
		if err != nil {
			yield(nil, fmt.Errorf("query readings: %w", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanReading(rows)
			if err != nil {
				yield(nil, fmt.Errorf("scan reading: %w", err))
				return
			}
			if !yield(r, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("read readings: %w", err))
		}
	}
}

// AggregateWindows computes the four aggregates in one statement, so they
// all come from the same snapshot.
func (s *readingRepoPG) AggregateWindows(ctx context.Context, patientID uuid.UUID, w Windows) (Stats, error) {
	var all, month, week, today windowRow
	dest := append(append(append(all.dest(), month.dest()...), week.dest()...), today.dest()...)
	err := s.conn.QueryRow(ctx, `
		SELECT
			COUNT(*), MIN(heart_rate), MAX(heart_rate), AVG(heart_rate)::float8,
			COUNT(*) FILTER (WHERE recorded_at >= $2),
			MIN(heart_rate) FILTER (WHERE recorded_at >= $2),
			MAX(heart_rate) FILTER (WHERE recorded_at >= $2),
			(AVG(heart_rate) FILTER (WHERE recorded_at >= $2))::float8,
			COUNT(*) FILTER (WHERE recorded_at >= $3),
			MIN(heart_rate) FILTER (WHERE recorded_at >= $3),
			MAX(heart_rate) FILTER (WHERE recorded_at >= $3),
			(AVG(heart_rate) FILTER (WHERE recorded_at >= $3))::float8,
			COUNT(*) FILTER (WHERE recorded_at >= $4),
			MIN(heart_rate) FILTER (WHERE recorded_at >= $4),
			MAX(heart_rate) FILTER (WHERE recorded_at >= $4),
			(AVG(heart_rate) FILTER (WHERE recorded_at >= $4))::float8
		FROM heart_rate_readings
		WHERE patient_id = $1`,
		patientID, w.MonthStart, w.WeekStart, w.TodayStart,
	).Scan(dest...)
	if err != nil {
		return Stats{}, fmt.Errorf("aggregate readings: %w", err)
	}
	return Stats{
		AllTime: all.aggregate(),
		Month:   month.aggregate(),
		Week:    week.aggregate(),
		Today:   today.aggregate(),
	}, nil
}

type windowRow struct {
	count    int
	min, max *int
	avg      *float64
}

func (w *windowRow) dest() []interface{} {
	return []interface{}{&w.count, &w.min, &w.max, &w.avg}
}

func (w windowRow) aggregate() *Aggregate {
	if w.count == 0 || w.min == nil || w.max == nil || w.avg == nil {
		return nil
	}
	return &Aggregate{Count: w.count, Min: *w.min, Max: *w.max, Avg: *w.avg}
}
