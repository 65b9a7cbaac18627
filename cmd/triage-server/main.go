package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ertriage/triage/internal/config"
	"github.com/ertriage/triage/internal/domain/ersession"
	"github.com/ertriage/triage/internal/domain/queue"
	"github.com/ertriage/triage/internal/domain/triage"
	"github.com/ertriage/triage/internal/platform/auth"
	"github.com/ertriage/triage/internal/platform/db"
	"github.com/ertriage/triage/internal/platform/events"
	"github.com/ertriage/triage/internal/platform/livefeed"
	"github.com/ertriage/triage/internal/platform/middleware"
	"github.com/ertriage/triage/internal/platform/rag"
	"github.com/ertriage/triage/internal/platform/reporting"
	"github.com/ertriage/triage/migrations"
)

// queueAdmitter adapts the ED queue service to triage.QueueAdmitter so the
// triage package does not import queue.
type queueAdmitter struct {
	svc *queue.Service
}

func (a *queueAdmitter) Admit(ctx context.Context, rec *triage.TriageRecord) error {
	_, err := a.svc.Admit(ctx, admissionFor(rec))
	return err
}

// Reprioritize re-ranks the patient's visit. A patient who already left the
// queue has nothing to re-rank.
func (a *queueAdmitter) Reprioritize(ctx context.Context, rec *triage.TriageRecord) error {
	_, err := a.svc.Reprioritize(ctx, rec.ID, int(rec.FinalPriority))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}

func admissionFor(rec *triage.TriageRecord) queue.Admission {
	id := rec.ID
	adm := queue.Admission{
		TriageRecordID: &id,
		PatientID:      rec.PatientID,
		PatientName:    rec.PatientName,
		Age:            rec.Age,
		Gender:         rec.Gender,
		ChiefComplaint: rec.ChiefComplaint,
		Priority:       int(rec.FinalPriority),
		Sentiment:      string(rec.Sentiment),
		ArrivalTime:    rec.TriageTime,
		AdmittedBy:     rec.TriageNurse,
	}
	if rec.AssignedNurse != nil {
		adm.AssignedNurse = *rec.AssignedNurse
	}
	return adm
}

// livePublisher is the part of the live feed hub the adapters need.
type livePublisher interface {
	Publish(ctx context.Context, topic, eventType, id string, payload any) error
}

// alertPublisher adapts the Redis stream publisher to triage.AlertPublisher.
// Alerts are also pushed to connected boards when live is set.
type alertPublisher struct {
	pub  *events.StreamPublisher
	live livePublisher
}

func (a *alertPublisher) PublishCritical(ctx context.Context, rec *triage.TriageRecord) error {
	alert := alertFor(rec)
	id, err := a.pub.Publish(ctx, alert)
	if err != nil {
		return err
	}
	alert.ID = id
	zerolog.Ctx(ctx).Info().Str("alert_id", id).Str("triage_id", rec.ID.String()).Msg("critical alert published")
	if a.live != nil {
		if err := a.live.Publish(ctx, livefeed.TopicAlerts, "alert.critical", alert.RecordID, alert); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("live alert broadcast failed")
		}
	}
	return nil
}

// boardNotifier adapts the live feed hub to queue.ChangeNotifier.
type boardNotifier struct {
	live livePublisher
}

func (b *boardNotifier) VisitChanged(ctx context.Context, v *queue.Visit) {
	if err := b.live.Publish(ctx, livefeed.TopicQueue, "visit.changed", v.ID.String(), v); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("visit_id", v.ID.String()).Msg("live queue broadcast failed")
	}
}

func alertFor(rec *triage.TriageRecord) events.Alert {
	return events.Alert{
		RecordID:    rec.ID.String(),
		PatientName: rec.PatientName,
		Priority:    int(rec.FinalPriority),
		Score:       rec.Score,
		Sentiment:   string(rec.Sentiment),
		Reasons:     rec.Reasons,
		TriageNurse: rec.TriageNurse,
		At:          rec.TriageTime,
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "triage-server",
		Short: "Emergency department triage API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(facilityCmd())
	rootCmd.AddCommand(evaluateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the triage API server",
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
			schema, _ := cmd.Flags().GetString("schema")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrations.FS)
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", db.SchemaName("default"), "Target schema for migrations")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", db.SchemaName("default"), "Target schema for migrations")
	cmd.AddCommand(statusCmd)

	return cmd
}

func facilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facility",
		Short: "Manage facilities",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and migrate a facility schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Creating facility schema: %s\n", db.SchemaName(name))
			if err := db.CreateFacilitySchema(ctx, pool, name, db.NewMigrator(pool, migrations.FS)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Facility created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Facility identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score an intake form read from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			var in io.Reader = cmd.InOrStdin()
			if path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return runEvaluate(in, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringP("file", "f", "-", "Intake form JSON file, - for stdin")
	return cmd
}

func runEvaluate(in io.Reader, out io.Writer) error {
	var form triage.IntakeForm
	if err := json.NewDecoder(in).Decode(&form); err != nil {
		return fmt.Errorf("decode intake form: %w", err)
	}
	ev, err := triage.NewService(nil).Evaluate(&form)
	if err != nil {
		return err
	}
	if ev == nil {
		return triage.ErrIncompleteIntake
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(ev)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	logger := newLogger(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.ResolvedAuthMode() == "development" {
		logger.Warn().Msg("AUTH_MODE=development: every request runs as an admin user")
	}
	signingKey, err := cfg.SigningKey()
	if err != nil {
		logger.Fatal().Err(err).Msg("signing key error")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Redis
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable; sessions and alerts will fail until it is back")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Facility-ID"},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: signingKey,
			Skipper:    auth.AuthSkipper,
		}))
	}

	// Facility middleware
	e.Use(db.FacilityMiddleware(pool, cfg.DefaultFacility))

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// API group
	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Live board feed
	hub := livefeed.NewHub(logger)
	livefeed.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(apiV1)

	// ED queue
	queueSvc := queue.NewService(queue.NewVisitRepoPG(pool))
	queueSvc.SetChangeNotifier(&boardNotifier{live: hub})
	queue.NewHandler(queueSvc).RegisterRoutes(apiV1)

	// Critical alerts
	alertStream := events.NewStreamPublisher(rdb, cfg.AlertStream)
	events.NewHandler(alertStream).RegisterRoutes(apiV1)

	// Triage
	triageSvc := triage.NewService(triage.NewTriageRepoPG(pool))
	triageSvc.SetQueueAdmitter(&queueAdmitter{svc: queueSvc})
	triageSvc.SetAlertPublisher(&alertPublisher{pub: alertStream, live: hub})
	triage.NewHandler(triageSvc).RegisterRoutes(apiV1)

	// Patient ER sessions
	sessionSvc := ersession.NewService(ersession.NewRedisStore(rdb, cfg.ERSessionTTL))
	ersession.NewHandler(sessionSvc).RegisterRoutes(apiV1)

	// Knowledge assistant
	ragClient := rag.NewClient(rag.Config{
		BackendURL:        cfg.RAGBackendURL,
		APIKey:            cfg.RAGBackendAPIKey,
		MedicalHistoryURL: cfg.RAGMedicalHistoryURL,
		MedicalReportURL:  cfg.RAGMedicalReportURL,
		Timeout:           cfg.RAGTimeout,
	})
	rag.NewHandler(ragClient).RegisterRoutes(apiV1)

	// Reports
	reporting.NewHandler(reporting.NewPGRunner(pool)).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
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
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
