// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/civicgrid/drainflow/internal/assignment"
	assignmentpostgres "github.com/civicgrid/drainflow/internal/assignment/postgres"
	"github.com/civicgrid/drainflow/internal/audit"
	auditpostgres "github.com/civicgrid/drainflow/internal/audit/postgres"
	"github.com/civicgrid/drainflow/internal/config"
	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/civicgrid/drainflow/internal/identity"
	"github.com/civicgrid/drainflow/internal/incidents"
	incidentspostgres "github.com/civicgrid/drainflow/internal/incidents/postgres"
	"github.com/civicgrid/drainflow/internal/notifications"
	notificationspostgres "github.com/civicgrid/drainflow/internal/notifications/postgres"
	"github.com/civicgrid/drainflow/internal/notifications/webhook"
	"github.com/civicgrid/drainflow/internal/pkg/ctxlog"
	"github.com/civicgrid/drainflow/internal/pkg/httputil"
	"github.com/civicgrid/drainflow/internal/pkg/metrics"
	"github.com/civicgrid/drainflow/internal/pkg/postgres"
	"github.com/civicgrid/drainflow/internal/scheduler"
	"github.com/civicgrid/drainflow/internal/teams"
	teamspostgres "github.com/civicgrid/drainflow/internal/teams/postgres"
	"github.com/civicgrid/drainflow/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App represents the application instance.
type App struct {
	config           *config.Config
	logger           *slog.Logger
	db               *pgxpool.Pool
	server           *http.Server
	metricsServer    *http.Server
	backgroundCancel context.CancelFunc

	scheduler          *scheduler.Scheduler
	slaWatcher         *incidents.SLAWatcher
	availabilitySweep  *teams.Sweeper
	notificationWorker *notifications.Worker
	auditRecorder      *audit.Recorder
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.DSN(),
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        2,
		MaxConnLifetime: 30 * time.Minute,
		ConnectAttempts: 5,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())

	app := &App{
		config:           cfg,
		logger:           logger,
		db:               db,
		backgroundCancel: backgroundCancel,
	}

	go app.collectDBMetrics(backgroundCtx)

	router, err := app.setup(backgroundCtx)
	if err != nil {
		db.Close()
		backgroundCancel()
		return nil, fmt.Errorf("setup application: %w", err)
	}

	app.server = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.HTTPPort),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers and blocks until the main server exits.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server", "port", a.config.Server.MetricsPort)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server", "port", a.config.Server.HTTPPort)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops background workers and both HTTP servers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	a.backgroundCancel()

	if a.scheduler != nil {
		if err := a.scheduler.Stop(); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
			a.logger.Error("stop scheduler", "error", err)
		}
	}
	if a.slaWatcher != nil {
		a.slaWatcher.Stop()
	}
	if a.availabilitySweep != nil {
		a.availabilitySweep.Stop()
	}
	if a.notificationWorker != nil {
		a.notificationWorker.Stop()
	}

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.db.Close()

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectQueueMetrics(ctx context.Context, repo notifications.Repository) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := repo.QueueStats(ctx)
			if err != nil {
				slog.Error("failed to get queue stats", "error", err)
				continue
			}
			notifications.RecordQueueStats(stats)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Scheduler returns the scheduler instance, used in tests.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// NotificationWorker returns the worker instance, nil when disabled.
func (a *App) NotificationWorker() *notifications.Worker {
	return a.notificationWorker
}

func (a *App) setup(ctx context.Context) (*chi.Mux, error) {
	cfg := a.config

	assignmentRepo := assignmentpostgres.NewRepository(a.db)
	incidentsRepo := incidentspostgres.NewRepository(a.db)
	teamsRepo := teamspostgres.NewRepository(a.db)
	notificationsRepo := notificationspostgres.NewRepository(a.db)

	a.auditRecorder = audit.NewRecorder(auditpostgres.NewRepository(a.db))

	notifier := notifications.NewNotifier(notificationsRepo)
	if cfg.Notifications.Enabled {
		sender := webhook.NewSender(webhook.Config{
			Endpoint:  cfg.Notifications.WebhookEndpoint,
			AuthToken: cfg.Notifications.WebhookAuthToken,
			Timeout:   cfg.Notifications.WebhookTimeout,
		})

		a.notificationWorker = notifications.NewWorker(notifications.WorkerConfig{
			BatchSize:         cfg.Notifications.BatchSize,
			PollInterval:      cfg.Notifications.PollInterval,
			InitialBackoff:    cfg.Notifications.InitialBackoff,
			MaxBackoff:        cfg.Notifications.MaxBackoff,
			BackoffMultiplier: cfg.Notifications.BackoffMultiplier,
			NumWorkers:        cfg.Notifications.Workers,
		}, notificationsRepo, sender)
		a.notificationWorker.Start(ctx)

		go a.collectQueueMetrics(ctx, notificationsRepo)
	} else {
		slog.Warn("notifications disabled: queued items will accumulate unsent")
	}

	validator := assignment.NewValidator(assignmentRepo)
	categorizer := assignment.NewDefaultCategorizer()
	selector := assignment.NewSelector(validator, assignment.DefaultZoneRules(),
		rand.New(rand.NewSource(time.Now().UnixNano())))
	assignmentService := assignment.NewService(assignmentRepo, validator, categorizer, selector, a.auditRecorder, notifier)

	incidentsService := incidents.NewService(incidentsRepo, validator, a.auditRecorder, notifier)
	teamsService := teams.NewService(teamsRepo)

	sched, err := scheduler.New(assignmentRepo, assignmentService, categorizer, scheduler.Config{
		Interval:                  cfg.Scheduler.Interval,
		CronExpr:                  cfg.Scheduler.CronExpr,
		Cooldown:                  cfg.Scheduler.Cooldown,
		MaxAssignmentsPerPriority: cfg.Scheduler.MaxAssignmentsPerPriority,
		RatePerSecond:             cfg.Scheduler.RatePerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	a.scheduler = sched

	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			return nil, fmt.Errorf("start scheduler: %w", err)
		}
	}

	if cfg.SLAWatch.Enabled {
		a.slaWatcher = incidents.NewSLAWatcher(incidents.SLAWatchConfig{
			SweepInterval: cfg.SLAWatch.SweepInterval,
		}, incidentsRepo)
		a.slaWatcher.Start(ctx)
	}

	a.availabilitySweep = teams.NewSweeper(teams.SweeperConfig{
		SweepInterval: cfg.Teams.ReconcileInterval,
	}, teamsService)
	a.availabilitySweep.Start(ctx)

	authenticator := identity.NewAuthenticator([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)

	incidentsHandler := incidents.NewHandler(incidentsService)
	assignmentHandler := assignment.NewHandler(assignmentService)
	teamsHandler := teams.NewHandler(teamsService)
	schedulerHandler := scheduler.NewHandler(sched)

	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(httputil.CORSMiddleware(cfg.Server.CORSOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(authenticator))

			incidentsHandler.RegisterRoutes(r)

			r.Group(func(r chi.Router) {
				r.Use(httputil.RequireRole(domain.RoleManager))
				assignmentHandler.RegisterRoutes(r)
				teamsHandler.RegisterRoutes(r)
				schedulerHandler.RegisterRoutes(r)
			})

			r.Group(func(r chi.Router) {
				r.Use(httputil.RequireRole(domain.RoleAdmin))
				r.Get("/audit/{reference_id}", a.auditHandler)
			})
		})
	})

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func (a *App) auditHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := a.auditRecorder.ListByReference(r.Context(), chi.URLParam(r, "reference_id"), limit)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}
	httputil.Success(w, http.StatusOK, entries)
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
