package heartrate

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hrmonitor/hrmonitor/internal/domain/access"
	"github.com/hrmonitor/hrmonitor/internal/platform/apperr"
	"github.com/hrmonitor/hrmonitor/internal/platform/auth"
)

// Windows holds the lower bounds of the calendar windows for one instant.
// All-time has no bound. WeekStart may fall before MonthStart early in a
// month, so the windows are not nested.
type Windows struct {
	TodayStart time.Time
	WeekStart  time.Time
	MonthStart time.Time
}

// WindowsAt cuts the windows for now in loc. The week starts on Monday.
func WindowsAt(now time.Time, loc *time.Location) Windows {
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	sinceMonday := (int(today.Weekday()) + 6) % 7
	return Windows{
		TodayStart: today,
		WeekStart:  today.AddDate(0, 0, -sinceMonday),
		MonthStart: time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, loc),
	}
}

// ComputeStats summarises a patient's readings over today, this week, this
// month and all time, with now read once for all four windows. A window
// without readings is nil in the result.
func (s *Service) ComputeStats(ctx context.Context, caller auth.Principal, patientID uuid.UUID, now time.Time) (Stats, error) {
	scope, err := s.resolver.Resolve(ctx, caller)
	if err != nil {
		return Stats{}, err
	}
	switch scope.Kind() {
	case access.Self:
		if !scope.Owns(patientID) {
			return Stats{}, apperr.Denied("you can only view your own data")
		}
	case access.Staff:
	case access.Denied:
		return Stats{}, apperr.Denied("no patient profile or staff role")
	}

	ok, err := s.patients.Exists(ctx, patientID)
	if err != nil {
		return Stats{}, apperr.Internal("check patient", err)
	}
	if !ok {
		return Stats{}, apperr.NotFound("patient", patientID.String())
	}

	w := WindowsAt(now, s.loc)
	if agg, ok := s.readings.(WindowAggregator); ok {
		st, err := agg.AggregateWindows(ctx, patientID, w)
		if err != nil {
			return Stats{}, apperr.Internal("aggregate readings", err)
		}
		return st, nil
	}
	return s.scanStats(ctx, patientID, w)
}

// scanStats makes one pass over the patient's readings and buckets each
// into every window whose start it is at or after.
func (s *Service) scanStats(ctx context.Context, patientID uuid.UUID, w Windows) (Stats, error) {
	var all, month, week, today accumulator
	for r, err := range s.readings.ReadingsSince(ctx, patientID, time.Time{}) {
		if err != nil {
			return Stats{}, apperr.Internal("scan readings", err)
		}
		all.add(r.HeartRate)
		if !r.RecordedAt.Before(w.MonthStart) {
			month.add(r.HeartRate)
		}
		if !r.RecordedAt.Before(w.WeekStart) {
			week.add(r.HeartRate)
		}
		if !r.RecordedAt.Before(w.TodayStart) {
			today.add(r.HeartRate)
		}
	}
	return Stats{
		AllTime: all.result(),
		Month:   month.result(),
		Week:    week.result(),
		Today:   today.result(),
	}, nil
}

type accumulator struct {
	count    int
	sum      int64
	min, max int
}

func (a *accumulator) add(v int) {
	if a.count == 0 || v < a.min {
		a.min = v
	}
	if a.count == 0 || v > a.max {
		a.max = v
	}
	a.count++
	a.sum += int64(v)
}

func (a *accumulator) result() *Aggregate {
	if a.count == 0 {
		return nil
	}
	return &Aggregate{
		Count: a.count,
		Min:   a.min,
		Max:   a.max,
		Avg:   float64(a.sum) / float64(a.count),
	}
}
