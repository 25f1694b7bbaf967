package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hrmonitor/hrmonitor/internal/config"
	"github.com/hrmonitor/hrmonitor/internal/domain/access"
	"github.com/hrmonitor/hrmonitor/internal/domain/device"
	"github.com/hrmonitor/hrmonitor/internal/domain/heartrate"
	"github.com/hrmonitor/hrmonitor/internal/domain/patient"
	"github.com/hrmonitor/hrmonitor/internal/platform/auth"
	"github.com/hrmonitor/hrmonitor/internal/platform/db"
	"github.com/hrmonitor/hrmonitor/internal/platform/middleware"
	"github.com/hrmonitor/hrmonitor/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "hrmonitor-server",
		Short: "Heart-rate monitoring API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationSource returns the on-disk migrations in dir when it exists and
// the copy embedded in the binary otherwise.
func migrationSource(dir string) fs.FS {
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return os.DirFS(dir)
		}
	}
	return migrations.FS
}

func openMigrator(ctx context.Context, cmd *cobra.Command) (*db.Migrator, func(), string, error) {
	schema, _ := cmd.Flags().GetString("schema")
	dir, _ := cmd.Flags().GetString("dir")

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, "", err
	}
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, "", err
	}
	return db.NewMigrator(pool, migrationSource(dir)), pool.Close, schema, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closeFn, schema, err := openMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closeFn, schema, err := openMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "public", "Target schema for migrations")
		c.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR, then the embedded set)")
		cmd.AddCommand(c)
	}
	return cmd
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// tokenCmd mints an HS256 token signed with AUTH_SIGNING_KEY, for local
// setups without an Identity Provider.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			role, _ := cmd.Flags().GetString("role")
			patientID, _ := cmd.Flags().GetString("patient")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if user == "" {
				return fmt.Errorf("--user is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.AuthSigningKey == "" {
				return fmt.Errorf("AUTH_SIGNING_KEY must be set to issue tokens")
			}

			p := auth.Principal{UserID: user, Role: auth.Role(role)}
			if patientID != "" {
				pid, err := uuid.Parse(patientID)
				if err != nil {
					return fmt.Errorf("--patient: %w", err)
				}
				p.PatientID = &pid
			}

			token, err := auth.IssueToken(jwtConfig(cfg), p, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("user", "", "Subject (user id) of the token")
	cmd.Flags().String("role", string(auth.RolePatient), "Role claim: admin, staff or patient")
	cmd.Flags().String("patient", "", "Optional patient_id claim")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	jc := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jc.SigningKey = []byte(cfg.AuthSigningKey)
	}
	return jc
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func newAuthMiddleware(cfg *config.Config, logger zerolog.Logger) (echo.MiddlewareFunc, error) {
	if cfg.DevAuth() {
		logger.Warn().Msg("development auth enabled: every request is treated as admin")
		return auth.DevAuthMiddleware(), nil
	}
	return auth.JWTMiddleware(jwtConfig(cfg))
}

// newIdempotencyStore shares replay state through Redis when REDIS_URL is
// set, and keeps it in process memory otherwise.
func newIdempotencyStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (middleware.IdempotencyStore, func(), error) {
	ttl := cfg.IdempotencyTTL
	if ttl <= 0 {
		ttl = middleware.DefaultIdempotencyTTL
	}
	if cfg.RedisURL == "" {
		logger.Info().Dur("ttl", ttl).Msg("idempotency keys kept in memory")
		return middleware.NewMemoryIdempotencyStore(ttl), func() {}, nil
	}
	store, err := middleware.NewRedisIdempotencyStore(ctx, cfg.RedisURL, ttl)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Dur("ttl", ttl).Msg("idempotency keys kept in redis")
	return store, func() { _ = store.Close() }, nil
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid timezone")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	idemStore, closeIdem, err := newIdempotencyStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer closeIdem()

	authMW, err := newAuthMiddleware(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure auth")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", middleware.IdempotencyKeyHeader},
	}))

	// Health checks stay outside auth
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, db.NewMigrator(pool, migrations.FS)))

	apiV1 := e.Group("/api/v1", authMW, middleware.Audit(logger), middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	// Repositories
	patientRepo := patient.NewPatientRepoPG(pool)
	deviceRepo := device.NewDeviceRepoPG(pool)
	readingRepo := heartrate.NewReadingRepoPG(pool)
	resolver := access.NewResolver(patientRepo)

	// Services and routes
	patientSvc := patient.NewService(patientRepo, resolver)
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)

	deviceSvc := device.NewService(deviceRepo, patientRepo, resolver)
	device.NewHandler(deviceSvc).RegisterRoutes(apiV1)

	hrSvc := heartrate.NewService(readingRepo, deviceRepo, patientRepo, resolver, loc, logger)
	heartrate.NewHandler(hrSvc).RegisterRoutes(apiV1, middleware.Idempotency(idemStore, logger))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("timezone", loc.String()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
