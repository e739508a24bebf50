package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/config"
	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/domain/availability"
	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/domain/scheduling"
	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/platform/auth"
	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/platform/db"
	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/platform/middleware"
	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/platform/telemetry"
	"github.com/mateusmsf94/marqueumhorario.com-sub001/internal/platform/validation"
	"github.com/mateusmsf94/marqueumhorario.com-sub001/migrations"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "marqueumhorario",
		Short:        "Provider availability and booking API",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(availabilityCmd())
	root.AddCommand(scheduleCmd())
	root.AddCommand(tokenCmd())
	return root
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	level, err := cfg.Level()
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// loadConfig loads and validates configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func migrationsFS(cfg *config.Config) fs.FS {
	if cfg.MigrationsDir != "" {
		return os.DirFS(cfg.MigrationsDir)
	}
	return migrations.FS
}

// app holds the wired domain for one process.
type app struct {
	svc  *scheduling.Service
	calc *availability.WeeklyAvailabilityCalculator
}

func newApp(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, opts ...scheduling.ServiceOption) (*app, error) {
	blocking, err := cfg.Blocking()
	if err != nil {
		return nil, err
	}
	firstDay, err := cfg.FirstWeekday()
	if err != nil {
		return nil, err
	}

	offices := scheduling.NewOfficeRepoPG(pool)
	memberships := scheduling.NewMembershipRepoPG(pool)
	schedules := scheduling.NewWorkScheduleRepoPG(pool)
	appts := scheduling.NewAppointmentRepoPG(pool)

	opts = append([]scheduling.ServiceOption{
		scheduling.WithTransactor(db.NewTransactor(pool)),
		scheduling.WithBlockingStatuses(blocking...),
		scheduling.WithServiceLogger(logger),
	}, opts...)
	svc := scheduling.NewService(offices, memberships, schedules, appts, opts...)
	calc := availability.NewWeeklyAvailabilityCalculator(
		scheduling.NewAvailabilityLoader(offices, schedules, appts, blocking),
		availability.WithBlocking(availability.BlockingStatuses(blocking...)),
		availability.WithWeekStartsOn(firstDay),
		availability.WithLogger(logger),
	)
	return &app{svc: svc, calc: calc}, nil
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		SigningKey: []byte(cfg.JWTSigningKey),
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		Skipper:    auth.AuthSkipper,
	}
}

func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) (*echo.Echo, error) {
	var metrics *telemetry.Metrics
	var svcOpts []scheduling.ServiceOption
	if cfg.MetricsEnabled {
		metrics = telemetry.New()
		metrics.DescribeCounter(scheduling.MetricBookings, "outcome", "Appointment booking attempts by outcome.")
		svcOpts = append(svcOpts, scheduling.WithRecorder(metrics))
	}

	a, err := newApp(cfg, logger, pool, svcOpts...)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()

	// Logger sits outside Recovery so recovered panics are logged as 500s.
	e.Use(middleware.RequestID())
	if metrics != nil {
		e.Use(metrics.Middleware())
	}
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	jwtCfg := jwtConfig(cfg)
	if cfg.IsDev() {
		logger.Warn().Str("dev_user_id", cfg.DevUserID).
			Msg("development auth active: unauthenticated requests run as admin")
		e.Use(auth.DevAuthMiddleware(jwtCfg, cfg.DevUserID))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))
	}
	if metrics != nil {
		if pool != nil {
			metrics.RegisterGauge("db_pool_acquired_connections", "Database connections in use.",
				func() int64 { return int64(pool.Stat().AcquiredConns()) })
			metrics.RegisterGauge("db_pool_idle_connections", "Idle database connections.",
				func() int64 { return int64(pool.Stat().IdleConns()) })
		}
		e.GET("/metrics", metrics.Handler())
	}

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.DefaultRateLimitConfig()
	rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
	rateLimitCfg.BurstSize = cfg.RateLimitBurst
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	scheduling.NewHandler(a.svc, a.calc).RegisterRoutes(apiV1)
	return e, nil
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")
			return runServer(migrate)
		},
	}
	cmd.Flags().Bool("migrate", false, "Apply pending migrations before serving")
	return cmd
}

func runServer(migrate bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	if migrate {
		n, err := db.NewMigrator(pool, migrationsFS(cfg), logger).Up(ctx)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info().Int("applied", n).Msg("migrations complete")
	}

	e, err := newServer(cfg, logger, pool)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// withPool loads config, opens the pool and hands both to fn.
func withPool(fn func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, logger, pool)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, migrationsFS(cfg), logger).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrationsFS(cfg), logger).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
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

func parseUUIDFlag(cmd *cobra.Command, name string) (uuid.UUID, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("--%s is required", name)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--%s: %w", name, err)
	}
	return id, nil
}

// parseWeekStart accepts YYYY-MM-DD. Empty yields the zero time, which the
// calculator reads as the start of the current week.
func parseWeekStart(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--week-start must be YYYY-MM-DD: %w", err)
	}
	return t, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func availabilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Print a provider's weekly availability as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			officeID, err := parseUUIDFlag(cmd, "office")
			if err != nil {
				return err
			}
			providerID, err := parseUUIDFlag(cmd, "provider")
			if err != nil {
				return err
			}
			raw, _ := cmd.Flags().GetString("week-start")
			weekStart, err := parseWeekStart(raw)
			if err != nil {
				return err
			}

			return withPool(func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) error {
				a, err := newApp(cfg, logger, pool)
				if err != nil {
					return err
				}
				week, err := a.calc.Calculate(ctx, availability.WeekRequest{
					OfficeID:   officeID,
					ProviderID: providerID,
					WeekStart:  weekStart,
				})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), week)
			})
		},
	}
	cmd.Flags().String("office", "", "Office ID")
	cmd.Flags().String("provider", "", "Provider user ID")
	cmd.Flags().String("week-start", "", "First day to show, YYYY-MM-DD (default: start of the current week)")
	return cmd
}

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect work schedules",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print work minutes and appointment capacity of a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUIDFlag(cmd, "id")
			if err != nil {
				return err
			}
			return withPool(func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) error {
				a, err := newApp(cfg, logger, pool)
				if err != nil {
					return err
				}
				st, err := a.svc.WorkScheduleStats(ctx, id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), st)
			})
		},
	}
	stats.Flags().String("id", "", "Work schedule ID")
	cmd.AddCommand(stats)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			subject, _ := cmd.Flags().GetString("subject")
			roles, _ := cmd.Flags().GetStringSlice("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			return issueToken(cfg, cmd.OutOrStdout(), subject, roles, ttl, time.Now())
		},
	}
	cmd.Flags().String("subject", "", "User ID to put in the subject claim")
	cmd.Flags().StringSlice("roles", []string{"provider"}, "Roles claim, comma separated")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}

// issueToken writes a token signed with the configured key. Production
// tokens come from the identity provider, never from here.
func issueToken(cfg *config.Config, w io.Writer, subject string, roles []string, ttl time.Duration, now time.Time) error {
	if cfg.IsProduction() {
		return fmt.Errorf("refusing to sign tokens with ENV=%q", cfg.Env)
	}
	if cfg.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required to sign tokens")
	}
	if _, err := uuid.Parse(subject); err != nil {
		return fmt.Errorf("--subject must be a user id: %w", err)
	}
	if ttl <= 0 {
		return fmt.Errorf("--ttl must be positive, got %s", ttl)
	}
	token, err := auth.IssueToken(jwtConfig(cfg), subject, roles, ttl, now)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
