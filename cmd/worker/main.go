package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/consentflow/consent-api/config"
	"github.com/consentflow/consent-api/internal/email"
	"github.com/consentflow/consent-api/internal/handler/health"
	"github.com/consentflow/consent-api/internal/repository/postgres"
	"github.com/consentflow/consent-api/internal/service/access"
	"github.com/consentflow/consent-api/internal/service/audit"
	"github.com/consentflow/consent-api/internal/service/event"
	"github.com/consentflow/consent-api/internal/service/notification"
	"github.com/consentflow/consent-api/internal/service/staff"
	"github.com/consentflow/consent-api/pkg/logger"
	"github.com/consentflow/consent-api/pkg/messaging/redis"
	"github.com/consentflow/consent-api/pkg/metrics"
	"github.com/consentflow/consent-api/pkg/worker"
)

const jobTimeout = 5 * time.Minute

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	lg := logger.NewLogger(cfg.Log.ToLoggerConfig())
	log.Logger = lg.ZL

	if cfg.Storage.Driver != config.StorageDriverPostgres {
		lg.Fatal(fmt.Errorf("storage driver %q", cfg.Storage.Driver), "the worker requires the postgres storage driver")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics("consent", "worker", reg)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		lg.Fatal(err, "Failed to connect to database")
	}
	store := postgres.NewStore(db)
	defer store.Close()

	broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &lg.ZL)
	if err != nil {
		lg.Fatal(err, "Failed to create Redis broker")
	}
	defer broker.Close()

	registry := event.NewRegistry()
	bus := notification.NewService(store.Notifications(), store.Users(), event.NewEventService(store.Outbox()), broker,
		email.NewService(email.Config{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
		}),
		notification.Config{
			DefaultLimit:    cfg.Notifications.DefaultLimit,
			MaxLimit:        cfg.Notifications.MaxLimit,
			EmailActionable: cfg.Notifications.EmailActionable,
		},
		lg, m)
	bus.Register(registry)

	eval := access.NewEvaluator(store.Users(), store.Assignments(), cfg.Cache.AssignmentTTL, cfg.Cache.CleanupInterval)
	auditor := audit.NewAuditLogger(audit.NewService(store.Audit()), lg)
	staffSvc := staff.NewService(store.Transactor(), store.Users(), store.Assignments(), store.Notifications(),
		bus, eval, auditor, lg, m)

	processor := worker.NewOutboxProcessor(store.Outbox(), store.Transactor(), registry, cfg.Outbox.ToWorkerConfig(), lg, m)
	auditCleanup := worker.NewAuditCleanupWorker(store.Audit(), cfg.Audit.Retention, lg)

	scheduler := worker.NewScheduler(lg, jobTimeout)
	jobs := []struct {
		name string
		spec string
		fn   worker.JobFunc
	}{
		{"invitation_expiry", cfg.Invitations.ExpirySchedule, func(ctx context.Context) error {
			_, err := staffSvc.ExpireStale(ctx, cfg.Invitations.TTL, cfg.Invitations.BatchSize)
			return err
		}},
		{"outbox_cleanup", cfg.Outbox.CleanupSchedule, func(ctx context.Context) error {
			_, err := processor.Cleanup(ctx, cfg.Outbox.Retention)
			return err
		}},
		{"audit_cleanup", cfg.Audit.CleanupSchedule, func(ctx context.Context) error {
			_, err := auditCleanup.Run(ctx)
			return err
		}},
	}
	for _, j := range jobs {
		if err := scheduler.Add(j.name, j.spec, j.fn); err != nil {
			lg.Fatal(err, "Failed to schedule job", "job", j.name)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := healthServer(cfg.Worker.HealthPort, health.NewHandler(reg, map[string]health.Checker{
		"database": store.Ping,
		"redis":    broker.Ping,
	}))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal(err, "Health check server failed")
		}
	}()

	scheduler.Start()
	lg.Info("Worker started", "health_port", cfg.Worker.HealthPort)
	processor.Start(ctx)

	lg.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	scheduler.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("Health server shutdown failed", "error", err.Error())
	}
}

func healthServer(port int, h *health.Handler) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	h.RegisterRoutes(engine.Group(""))

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
