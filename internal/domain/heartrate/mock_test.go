package heartrate

import (
	"context"
	"iter"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hrmonitor/hrmonitor/internal/domain/access"
	"github.com/hrmonitor/hrmonitor/internal/domain/device"
	"github.com/hrmonitor/hrmonitor/internal/platform/apperr"
	"github.com/hrmonitor/hrmonitor/internal/platform/auth"
)

// -- Mock Repositories --

type mockReadingRepo struct {
	mu       sync.Mutex
	rows     []*Reading
	insertFn func(*Reading) error
}

func (m *mockReadingRepo) Insert(_ context.Context, r *Reading) error {
	if m.insertFn != nil {
		if err := m.insertFn(r); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	cp := *r
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *mockReadingRepo) snapshot() []*Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Reading(nil), m.rows...)
}

func (m *mockReadingRepo) ReadingsSince(_ context.Context, patientID uuid.UUID, since time.Time) iter.Seq2[*Reading, error] {
	var out []*Reading
	for _, r := range m.snapshot() {
		if r.PatientID == patientID && (since.IsZero() || !r.RecordedAt.Before(since)) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	return sliceSeq(out)
}

func (m *mockReadingRepo) filter(q ListQuery) []*Reading {
	var out []*Reading
	for _, r := range m.snapshot() {
		if q.PatientID != nil && r.PatientID != *q.PatientID {
			continue
		}
		if q.DeviceID != "" && r.DeviceID != q.DeviceID {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (m *mockReadingRepo) List(_ context.Context, q ListQuery) iter.Seq2[*Reading, error] {
	out := m.filter(q)
	key := func(r *Reading) int64 {
		switch q.Ordering.Field {
		case "created_at":
			return r.CreatedAt.UnixNano()
		case "heart_rate":
			return int64(r.HeartRate)
		default:
			return r.RecordedAt.UnixNano()
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if q.Ordering.Desc {
			return key(out[i]) > key(out[j])
		}
		return key(out[i]) < key(out[j])
	})
	if q.Offset > len(out) {
		q.Offset = len(out)
	}
	out = out[q.Offset:]
	if q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return sliceSeq(out)
}

func (m *mockReadingRepo) Count(_ context.Context, q ListQuery) (int, error) {
	return len(m.filter(q)), nil
}

func sliceSeq(rs []*Reading) iter.Seq2[*Reading, error] {
	return func(yield func(*Reading, error) bool) {
		for _, r := range rs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

type mockDeviceRepo struct {
	mu       sync.Mutex
	byID     map[string]*device.Device
	touchErr error
}

func (m *mockDeviceRepo) GetByDeviceID(_ context.Context, deviceID string) (*device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[deviceID]
	if !ok {
		return nil, apperr.NotFound("device", deviceID)
	}
	cp := *d
	return &cp, nil
}

func (m *mockDeviceRepo) TouchLastActivity(_ context.Context, id uuid.UUID, at time.Time) error {
	if m.touchErr != nil {
		return m.touchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.byID {
		if d.ID == id && (d.LastActivity == nil || at.After(*d.LastActivity)) {
			t := at
			d.LastActivity = &t
		}
	}
	return nil
}

type mockPatients struct {
	byUser map[string]uuid.UUID
}

func (m *mockPatients) PatientIDForUser(_ context.Context, userID string) (uuid.UUID, error) {
	id, ok := m.byUser[userID]
	if !ok {
		return uuid.Nil, apperr.NotFound("patient", userID)
	}
	return id, nil
}

func (m *mockPatients) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	for _, pid := range m.byUser {
		if pid == id {
			return true, nil
		}
	}
	return false, nil
}

// -- Fixture --

var (
	staffCaller = auth.Principal{UserID: "nurse", Role: auth.RoleStaff}
	nobody      = auth.Principal{UserID: "nobody"}
	aliceCaller = auth.Principal{UserID: "alice", Role: auth.RolePatient}
	bobCaller   = auth.Principal{UserID: "bob", Role: auth.RolePatient}
)

type fixture struct {
	svc      *Service
	readings *mockReadingRepo
	devices  *mockDeviceRepo
	alice    uuid.UUID
	bob      uuid.UUID
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		readings: &mockReadingRepo{},
		devices:  &mockDeviceRepo{byID: map[string]*device.Device{}},
		alice:    uuid.New(),
		bob:      uuid.New(),
		now:      time.Date(2024, time.May, 16, 15, 0, 0, 0, time.UTC),
	}
	patients := &mockPatients{byUser: map[string]uuid.UUID{"alice": f.alice, "bob": f.bob}}
	f.svc = NewService(f.readings, f.devices, patients, access.NewResolver(patients), time.UTC, zerolog.Nop())
	f.svc.nowFunc = func() time.Time { return f.now }
	f.addDevice("ALICE-1", f.alice)
	f.addDevice("ALICE-2", f.alice)
	f.addDevice("BOB-1", f.bob)
	return f
}

func (f *fixture) addDevice(deviceID string, patientID uuid.UUID) {
	f.devices.byID[deviceID] = &device.Device{
		ID:        uuid.New(),
		DeviceID:  deviceID,
		PatientID: patientID,
		Status:    device.StatusActive,
	}
}

// seed stores a reading directly, bypassing the service.
func (f *fixture) seed(t *testing.T, deviceID string, hr int, recordedAt time.Time) {
	t.Helper()
	d := f.devices.byID[deviceID]
	r := &Reading{Device: d.ID, DeviceID: d.DeviceID, PatientID: d.PatientID, HeartRate: hr, RecordedAt: recordedAt, CreatedAt: recordedAt}
	if err := f.readings.Insert(context.Background(), r); err != nil {
		t.Fatalf("seed: %v", err)
	}
}
