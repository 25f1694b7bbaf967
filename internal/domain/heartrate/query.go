package heartrate

import (
	"context"
	"iter"

	"github.com/hrmonitor/hrmonitor/internal/domain/access"
	"github.com/hrmonitor/hrmonitor/internal/platform/apperr"
	"github.com/hrmonitor/hrmonitor/internal/platform/auth"
)

// ListReadings returns one page of the readings visible to the caller as a
// lazy sequence, plus the total number of matching readings. A caller with
// no scope gets an empty sequence, not an error.
func (s *Service) ListReadings(ctx context.Context, caller auth.Principal, filter ListFilter, limit, offset int) (iter.Seq2[*Reading, error], int, error) {
	ordering, err := ParseOrdering(filter.Ordering)
	if err != nil {
		return nil, 0, err
	}
	scope, err := s.resolver.Resolve(ctx, caller)
	if err != nil {
		return nil, 0, err
	}
	pid, ok := scope.PatientFilter()
	if !ok {
		return emptyReadings, 0, nil
	}

	q := ListQuery{
		PatientID: pid,
		DeviceID:  filter.DeviceID,
		Ordering:  ordering,
		Limit:     limit,
		Offset:    offset,
	}
	total, err := s.readings.Count(ctx, q)
	if err != nil {
		return nil, 0, apperr.Internal("count readings", err)
	}
	if total == 0 || offset >= total {
		return emptyReadings, total, nil
	}
	return wrapInternal("list readings", s.readings.List(ctx, q)), total, nil
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[*Reading, error]) ([]*Reading, error) {
	out := []*Reading{}
	for r, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func emptyReadings(func(*Reading, error) bool) {}

func wrapInternal(op string, seq iter.Seq2[*Reading, error]) iter.Seq2[*Reading, error] {
	return func(yield func(*Reading, error) bool) {
		for r, err := range seq {
			if err != nil {
				yield(nil, apperr.Internal(op, err))
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}
