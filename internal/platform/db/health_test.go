package db

import (
	"net/http"
	"testing"
	"time"
)

func TestSchemaHealth(t *testing.T) {
	known := []Migration{
		{Version: 1, Name: "001_monitoring.sql"},
		{Version: 2, Name: "002_reading_device_check.sql"},
	}
	at := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		applied map[int]time.Time
		code    int
		status  string
		version int
		pending []string
	}{
		{"never migrated", map[int]time.Time{}, http.StatusServiceUnavailable, "unhealthy", 0,
			[]string{"001_monitoring.sql", "002_reading_device_check.sql"}},
		{"one behind", map[int]time.Time{1: at}, http.StatusServiceUnavailable, "unhealthy", 1,
			[]string{"002_reading_device_check.sql"}},
		{"current", map[int]time.Time{1: at, 2: at}, http.StatusOK, "healthy", 2, nil},
		{"ahead of binary", map[int]time.Time{1: at, 2: at, 3: at}, http.StatusOK, "healthy", 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, h := schemaHealth(known, tt.applied)
			if code != tt.code || h.Status != tt.status {
				t.Errorf("got %d %s, want %d %s", code, h.Status, tt.code, tt.status)
			}
			if h.Schema.Version != tt.version || h.Schema.Latest != 2 {
				t.Errorf("version = %d latest = %d, want %d and 2", h.Schema.Version, h.Schema.Latest, tt.version)
			}
			if len(h.Schema.Pending) != len(tt.pending) {
				t.Fatalf("pending = %v, want %v", h.Schema.Pending, tt.pending)
			}
			for i := range tt.pending {
				if h.Schema.Pending[i] != tt.pending[i] {
					t.Errorf("pending[%d] = %s, want %s", i, h.Schema.Pending[i], tt.pending[i])
				}
			}
			if (h.Error != "") != (code != http.StatusOK) {
				t.Errorf("error = %q for status %d", h.Error, code)
			}
		})
	}
}
