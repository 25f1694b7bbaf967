package heartrate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrmonitor/hrmonitor/internal/platform/apperr"
)

func TestSubmitReading_AcceptsWholeRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	recorded := f.now.Add(-time.Minute)

	for v := MinHeartRate; v <= MaxHeartRate; v++ {
		r, err := f.svc.SubmitReading(ctx, aliceCaller, NewReading{DeviceID: "ALICE-1", HeartRate: v, RecordedAt: recorded})
		if err != nil {
			t.Fatalf("heart_rate %d: unexpected error: %v", v, err)
		}
		if r.HeartRate != v {
			t.Fatalf("heart_rate %d stored as %d", v, r.HeartRate)
		}
	}

	rows := f.readings.snapshot()
	if len(rows) != MaxHeartRate-MinHeartRate+1 {
		t.Fatalf("stored %d rows", len(rows))
	}
	dev := f.devices.byID["ALICE-1"]
	for i, r := range rows {
		if r.HeartRate != MinHeartRate+i {
			t.Errorf("row %d heart_rate = %d", i, r.HeartRate)
		}
		if r.PatientID != dev.PatientID || r.Device != dev.ID {
			t.Errorf("row %d attributed to patient %s device %s", i, r.PatientID, r.Device)
		}
	}
}

func TestSubmitReading_RejectsOutOfRange(t *testing.T) {
	f := newFixture(t)
	for _, v := range []int{-1, 0, 29, 251, 300, 10000} {
		t.Run(fmt.Sprint(v), func(t *testing.T) {
			_, err := f.svc.SubmitReading(context.Background(), staffCaller,
				NewReading{DeviceID: "ALICE-1", HeartRate: v, RecordedAt: f.now})
			var ve *apperr.ValidationError
			if !errors.As(err, &ve) || ve.Field != "heart_rate" {
				t.Fatalf("expected heart_rate validation error, got %v", err)
			}
		})
	}
	if n := len(f.readings.snapshot()); n != 0 {
		t.Errorf("stored %d rows after rejected submissions", n)
	}
}

func TestSubmitReading_OtherPatientsDevice(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SubmitReading(context.Background(), aliceCaller,
		NewReading{DeviceID: "BOB-1", HeartRate: 70, RecordedAt: f.now})

	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if ve.Field != "device" || ve.Reason != "device does not belong to patient" {
		t.Errorf("error = %+v", ve)
	}
	if n := len(f.readings.snapshot()); n != 0 {
		t.Errorf("stored %d rows", n)
	}
}

func TestSubmitReading_Errors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name  string
		in    NewReading
		check func(error) bool
	}{
		{"unknown device", NewReading{DeviceID: "GHOST", HeartRate: 70, RecordedAt: f.now}, apperr.IsNotFound},
		{"unknown device beats bad value", NewReading{DeviceID: "GHOST", HeartRate: 5, RecordedAt: f.now}, apperr.IsNotFound},
		{"missing device", NewReading{HeartRate: 70, RecordedAt: f.now}, apperr.IsValidation},
		{"missing recorded_at", NewReading{DeviceID: "ALICE-1", HeartRate: 70}, apperr.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.SubmitReading(context.Background(), aliceCaller, tt.in); !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSubmitReading_DeniedScope(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SubmitReading(context.Background(), nobody,
		NewReading{DeviceID: "ALICE-1", HeartRate: 70, RecordedAt: f.now})
	if !apperr.IsDenied(err) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestSubmitReading_StaffUsesDevicePatient(t *testing.T) {
	f := newFixture(t)
	r, err := f.svc.SubmitReading(context.Background(), staffCaller,
		NewReading{DeviceID: "BOB-1", HeartRate: 88, RecordedAt: f.now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.PatientID != f.bob {
		t.Errorf("patient = %s, want bob %s", r.PatientID, f.bob)
	}
}

func TestSubmitReading_ServerAssignsCreatedAt(t *testing.T) {
	f := newFixture(t)
	recorded := time.Date(2024, time.May, 1, 8, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	r, err := f.svc.SubmitReading(context.Background(), aliceCaller,
		NewReading{DeviceID: "ALICE-1", HeartRate: 64, RecordedAt: recorded})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.CreatedAt.Equal(f.now) {
		t.Errorf("created_at = %s, want server time %s", r.CreatedAt, f.now)
	}
	if !r.RecordedAt.Equal(recorded) {
		t.Errorf("recorded_at = %s, want %s", r.RecordedAt, recorded)
	}
}

func TestSubmitReading_TouchesLastActivity(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.SubmitReading(context.Background(), aliceCaller,
		NewReading{DeviceID: "ALICE-1", HeartRate: 64, RecordedAt: f.now}); err != nil {
		t.Fatal(err)
	}
	la := f.devices.byID["ALICE-1"].LastActivity
	if la == nil || !la.Equal(f.now) {
		t.Errorf("last_activity = %v, want %s", la, f.now)
	}
}

func TestSubmitReading_LastActivityFailureIsAdvisory(t *testing.T) {
	f := newFixture(t)
	f.devices.touchErr = errors.New("deadlock detected")
	if _, err := f.svc.SubmitReading(context.Background(), aliceCaller,
		NewReading{DeviceID: "ALICE-1", HeartRate: 64, RecordedAt: f.now}); err != nil {
		t.Fatalf("submission must succeed when last_activity fails: %v", err)
	}
	if n := len(f.readings.snapshot()); n != 1 {
		t.Errorf("stored %d rows, want 1", n)
	}
}

func TestSubmitReading_StoreFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.readings.insertFn = func(*Reading) error { return errors.New("connection reset") }
	_, err := f.svc.SubmitReading(context.Background(), aliceCaller,
		NewReading{DeviceID: "ALICE-1", HeartRate: 64, RecordedAt: f.now})
	if !errors.Is(err, apperr.ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if apperr.IsValidation(err) || apperr.IsNotFound(err) || apperr.IsDenied(err) {
		t.Errorf("internal error must not look like another kind: %v", err)
	}
}

func TestSubmitReading_StoreConstraintStaysValidation(t *testing.T) {
	f := newFixture(t)
	f.readings.insertFn = func(*Reading) error {
		return apperr.Validation("heart_rate", "must be between 30 and 250")
	}
	_, err := f.svc.SubmitReading(context.Background(), aliceCaller,
		NewReading{DeviceID: "ALICE-1", HeartRate: 64, RecordedAt: f.now})
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubmitReading_ConcurrentDistinctDevices(t *testing.T) {
	f := newFixture(t)
	const n = 64
	for i := 0; i < n; i++ {
		f.addDevice(fmt.Sprintf("ALICE-C%02d", i), f.alice)
	}

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := f.svc.SubmitReading(context.Background(), aliceCaller, NewReading{
				DeviceID:   fmt.Sprintf("ALICE-C%02d", i),
				HeartRate:  60 + i,
				RecordedAt: f.now.Add(-time.Duration(i) * time.Second),
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent submit: %v", err)
	}

	rows := f.readings.snapshot()
	if len(rows) != n {
		t.Fatalf("stored %d rows, want %d", len(rows), n)
	}
	seen := map[string]bool{}
	for _, r := range rows {
		if r.PatientID != f.alice {
			t.Errorf("reading from %s attributed to %s", r.DeviceID, r.PatientID)
		}
		seen[r.DeviceID] = true
	}
	if len(seen) != n {
		t.Errorf("readings from %d distinct devices, want %d", len(seen), n)
	}
}
