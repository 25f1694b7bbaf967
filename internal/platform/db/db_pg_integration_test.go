package db_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/hrmonitor/hrmonitor/internal/platform/db"
	"github.com/hrmonitor/hrmonitor/internal/platform/db/dbtest"
	"github.com/hrmonitor/hrmonitor/migrations"
)

func TestMain(m *testing.M) {
	os.Exit(dbtest.Main(m))
}

func TestMigrator_UpIsIdempotent(t *testing.T) {
	pool := dbtest.Open(t)
	ctx := context.Background()
	m := db.NewMigrator(pool, migrations.FS)

	var schema string
	if err := pool.QueryRow(ctx, `SELECT current_schema()`).Scan(&schema); err != nil {
		t.Fatal(err)
	}
	n, err := m.Up(ctx, schema)
	if err != nil {
		t.Fatalf("second Up: %v", err)
	}
	if n != 0 {
		t.Errorf("second Up applied %d migrations, want 0", n)
	}

	statuses, err := m.Status(ctx, schema)
	if err != nil {
		t.Fatal(err)
	}
	known, err := m.LoadMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != len(known) {
		t.Fatalf("status rows = %d, want %d", len(statuses), len(known))
	}
	for _, s := range statuses {
		if !s.Applied || s.AppliedAt == nil {
			t.Errorf("%s not recorded as applied", s.Name)
		}
	}
}

func TestHealthHandler_MigratedSchema(t *testing.T) {
	pool := dbtest.Open(t)
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), rec)

	if err := db.HealthHandler(pool, db.NewMigrator(pool, migrations.FS))(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body db.StoreHealth
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "healthy" || body.Schema.Version != body.Schema.Latest || len(body.Schema.Pending) != 0 {
		t.Errorf("unexpected health %+v", body)
	}
	if body.Pool.MaxConns == 0 {
		t.Error("pool stats missing")
	}
}

func TestHealthHandler_PendingMigration(t *testing.T) {
	pool := dbtest.Open(t)
	ctx := context.Background()
	if _, err := pool.Exec(ctx, `DELETE FROM schema_migrations WHERE version = 2`); err != nil {
		t.Fatal(err)
	}

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), rec)
	if err := db.HealthHandler(pool, db.NewMigrator(pool, migrations.FS))(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body db.StoreHealth
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Schema.Pending) != 1 || body.Schema.Pending[0] != "002_reading_device_check.sql" {
		t.Errorf("pending = %v", body.Schema.Pending)
	}
}
