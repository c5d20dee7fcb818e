package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicsuite/clinic/internal/config"
	"github.com/clinicsuite/clinic/internal/domain/directory"
	"github.com/clinicsuite/clinic/internal/domain/notice"
	"github.com/clinicsuite/clinic/internal/domain/psychtest"
	"github.com/clinicsuite/clinic/internal/domain/scheduling"
	"github.com/clinicsuite/clinic/internal/domain/servicerequest"
	"github.com/clinicsuite/clinic/internal/platform/apperr"
	"github.com/clinicsuite/clinic/internal/platform/auth"
	"github.com/clinicsuite/clinic/internal/platform/clock"
	"github.com/clinicsuite/clinic/internal/platform/db"
	"github.com/clinicsuite/clinic/internal/platform/events"
	"github.com/clinicsuite/clinic/internal/platform/livefeed"
	"github.com/clinicsuite/clinic/internal/platform/middleware"
	"github.com/clinicsuite/clinic/internal/platform/reminder"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "clinic-server",
		Short:        "Clinic scheduling and assessment API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(noticeNumberCmd())
	rootCmd.AddCommand(remindersCmd())
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

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, migrationsDir(cmd, cfg)).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrationsDir(cmd, cfg)).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

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

func migrationsDir(cmd *cobra.Command, cfg *config.Config) string {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir
	}
	return cfg.MigrationsDir
}

// noticeNumberCmd reserves a notice number outside the API, for notices
// issued on paper while the service is unavailable.
func noticeNumberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notice-number",
		Short: "Reserve the next unique notice number",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				logger := newLogger(cfg.Env, os.Stderr)
				a := newApp(cfg, pool, events.LogPublisher{Logger: logger}, clock.New(), logger)
				num, err := a.notices.GenerateNumber(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), num)
				return nil
			})
		},
	}
}

func remindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Service reminder job",
	}
	runOnce := &cobra.Command{
		Use:   "run-once",
		Short: "Publish reminders for services starting soon and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			lookahead, _ := cmd.Flags().GetDuration("lookahead")
			return withPool(cmd, func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				logger := newLogger(cfg.Env, os.Stderr)
				pub, closePub := newPublisher(cfg, logger)
				defer closePub()

				a := newApp(cfg, pool, pub, clock.New(), logger)
				job := reminder.NewJob(a.scheduler, pub, clock.New(), logger, lookahead)
				n, err := job.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Published %d reminder(s).\n", n)
				return nil
			})
		},
	}
	runOnce.Flags().Duration("lookahead", reminder.DefaultLookahead, "How far ahead to look for scheduled services")
	cmd.AddCommand(runOnce)
	return cmd
}

// tokenCmd mints an HS256 bearer token signed with AUTH_SECRET, for local
// testing against a server that verifies tokens.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token with AUTH_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			roles, _ := cmd.Flags().GetStringSlice("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tok, err := signToken(cfg, subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("subject", auth.DevUserID, "User id placed in the sub claim")
	cmd.Flags().StringSlice("roles", []string{auth.RoleAdmin}, "Roles placed in the token")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}

func signToken(cfg *config.Config, subject string, roles []string, ttl time.Duration) (string, error) {
	if cfg.AuthSecret == "" {
		return "", fmt.Errorf("AUTH_SECRET is required to sign tokens")
	}
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("--subject must not be empty")
	}
	for _, r := range roles {
		switch r {
		case auth.RoleAdmin, auth.RoleDoctor, auth.RoleReceptionist, auth.RolePatient:
		default:
			return "", fmt.Errorf("unknown role %q", r)
		}
	}
	return auth.SignHS256([]byte(cfg.AuthSecret), cfg.AuthIssuer, subject, roles, ttl)
}

// withPool loads the configuration, opens a pool for the duration of fn and
// closes it afterwards.
func withPool(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// newPublisher returns the Kafka publisher when brokers are configured and
// the log publisher otherwise. The returned func releases the writer.
func newPublisher(cfg *config.Config, logger zerolog.Logger) (events.Publisher, func()) {
	if !cfg.EventsEnabled() {
		return events.LogPublisher{Logger: logger}, func() {}
	}
	kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing events to kafka")
	return kp, func() {
		if err := kp.Close(); err != nil {
			logger.Error().Err(err).Msg("close kafka publisher")
		}
	}
}

// app holds the wired domain services and their handlers.
type app struct {
	directory *directory.Service
	scheduler *scheduling.Scheduler
	requests  *servicerequest.Service
	tests     *psychtest.Service
	notices   *notice.Service
	feed      *livefeed.Hub
	handlers  []interface{ RegisterRoutes(*echo.Group) }
}

// newApp wires repositories, services and handlers. Events go to pub and to
// the live feed hub.
func newApp(cfg *config.Config, pool *pgxpool.Pool, pub events.Publisher, clk clock.Clock, logger zerolog.Logger) *app {
	tx := db.NewTransactor(pool)
	feed := livefeed.NewHub(logger)
	em := events.NewEmitter(events.Fanout{pub, feed}, logger)

	dirSvc := directory.NewService(directory.NewDoctorRepoPG(pool), directory.NewPatientRepoPG(pool))
	schedSvc := scheduling.NewScheduler(scheduling.NewServiceRepoPG(pool), dirSvc, tx, em, clk, logger)
	reqSvc := servicerequest.NewService(servicerequest.NewRepoPG(pool), schedSvc, dirSvc, tx, em, clk, logger)
	testSvc := psychtest.NewService(psychtest.NewTemplateRepoPG(pool), psychtest.NewInstanceRepoPG(pool),
		psychtest.NewAssessmentRepoPG(pool), dirSvc, tx, em, clk, logger)
	noticeSvc := notice.NewService(notice.NewRepoPG(pool), schedSvc, dirSvc, tx, em, clk, logger, cfg.NoticePrefix)

	return &app{
		directory: dirSvc,
		scheduler: schedSvc,
		requests:  reqSvc,
		tests:     testSvc,
		notices:   noticeSvc,
		feed:      feed,
		handlers:  []interface{ RegisterRoutes(*echo.Group) }{
			directory.NewHandler(dirSvc),
			scheduling.NewHandler(schedSvc, dirSvc),
			servicerequest.NewHandler(reqSvc),
			psychtest.NewHandler(testSvc),
			notice.NewHandler(noticeSvc),
			livefeed.NewHandler(feed, cfg.CORSOrigins),
		},
	}
}

// authMiddleware verifies bearer tokens. In development unauthenticated
// requests pass as the dev admin; presented tokens are still verified when a
// key source is configured.
func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSecret != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSecret)
	}
	haveKeys := len(jwtCfg.SigningKey) > 0 || jwtCfg.JWKSURL != ""

	if cfg.IsDev() {
		var verify echo.MiddlewareFunc
		if haveKeys {
			verify = auth.JWTMiddleware(jwtCfg)
		}
		return auth.DevAuthMiddleware(verify)
	}
	return auth.JWTMiddleware(jwtCfg)
}

// newEcho builds the HTTP server: global middleware, health endpoints and the
// authenticated /api/v1 group with every domain's routes.
func newEcho(cfg *config.Config, a *app, pinger db.Pinger, stats db.StatsFunc, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimitBytes))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/health", "/health/db", "/api/v1/live"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if pinger != nil {
		e.GET("/health/db", db.HealthHandler(pinger, stats))
	}

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	apiV1.Use(authMiddleware(cfg))

	for _, h := range a.handlers {
		h.RegisterRoutes(apiV1)
	}
	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	pub, closePub := newPublisher(cfg, logger)
	defer closePub()

	clk := clock.New()
	a := newApp(cfg, pool, pub, clk, logger)
	e := newEcho(cfg, a, pool, db.PoolStatsFunc(pool), logger)

	job := reminder.NewJob(a.scheduler, events.Fanout{pub, a.feed}, clk, logger, reminder.DefaultLookahead)
	if err := job.Start(cfg.ReminderCron); err != nil {
		logger.Fatal().Err(err).Msg("failed to start reminder job")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
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
	job.Stop(shutdownCtx)
	logger.Info().Msg("server stopped")
	return nil
}
