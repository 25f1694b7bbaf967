package db

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the JSON view of pgxpool statistics served on /health/db.
type PoolStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
}

// SchemaHealth compares the migrations compiled into the binary with those
// recorded in the connection's schema_migrations table.
type SchemaHealth struct {
	Version int      `json:"version"`
	Latest  int      `json:"latest"`
	Pending []string `json:"pending,omitempty"`
}

// StoreHealth is the body of /health/db.
type StoreHealth struct {
	Status string       `json:"status"`
	Error  string       `json:"error,omitempty"`
	Schema SchemaHealth `json:"schema"`
	Pool   PoolStats    `json:"pool"`
}

// HealthHandler reports the store as healthy only when it answers a ping and
// every migration known to m has been applied. Readings cannot be accepted
// against a schema that lacks the heart rate constraints, so a pending
// migration is reported as unavailable. The check never writes.
func HealthHandler(pool *pgxpool.Pool, m *Migrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
		defer cancel()

		code, body := checkStore(ctx, pool, m)
		return c.JSON(code, body)
	}
}

func checkStore(ctx context.Context, pool *pgxpool.Pool, m *Migrator) (int, StoreHealth) {
	stat := pool.Stat()
	stats := PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
	}
	if err := pool.Ping(ctx); err != nil {
		return http.StatusServiceUnavailable, StoreHealth{Status: "unhealthy", Error: err.Error(), Pool: stats}
	}

	known, err := m.LoadMigrations()
	if err != nil {
		return http.StatusInternalServerError, StoreHealth{Status: "unhealthy", Error: err.Error(), Pool: stats}
	}
	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return http.StatusServiceUnavailable, StoreHealth{Status: "unhealthy", Error: err.Error(), Pool: stats}
	}
	code, h := schemaHealth(known, applied)
	h.Pool = stats
	return code, h
}

// appliedVersions reads schema_migrations through the connection's search
// path. A database that was never migrated has no versions.
func appliedVersions(ctx context.Context, q Querier) (map[int]time.Time, error) {
	rows, err := q.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		if IsUndefinedTable(err) {
			return map[int]time.Time{}, nil
		}
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, fmt.Errorf("scan migration row: %w", err)
		}
		applied[v] = at
	}
	if err := rows.Err(); err != nil {
		if IsUndefinedTable(err) {
			return map[int]time.Time{}, nil
		}
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	return applied, nil
}

func schemaHealth(known []Migration, applied map[int]time.Time) (int, StoreHealth) {
	var s SchemaHealth
	for v := range applied {
		if v > s.Version {
			s.Version = v
		}
	}
	for _, mig := range known {
		s.Latest = max(s.Latest, mig.Version)
	}
	for _, mig := range pending(known, applied) {
		s.Pending = append(s.Pending, mig.Name)
	}
	if len(s.Pending) > 0 {
		return http.StatusServiceUnavailable, StoreHealth{
			Status: "unhealthy",
			Error:  fmt.Sprintf("%d migration(s) not applied", len(s.Pending)),
			Schema: s,
		}
	}
	return http.StatusOK, StoreHealth{Status: "healthy", Schema: s}
}
