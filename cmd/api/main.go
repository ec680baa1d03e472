package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/consentflow/consent-api/config"
	"github.com/consentflow/consent-api/internal/email"
	"github.com/consentflow/consent-api/internal/handler"
	audithandler "github.com/consentflow/consent-api/internal/handler/audit"
	consenthandler "github.com/consentflow/consent-api/internal/handler/consent"
	"github.com/consentflow/consent-api/internal/handler/health"
	"github.com/consentflow/consent-api/internal/handler/me"
	notificationhandler "github.com/consentflow/consent-api/internal/handler/notification"
	permissionhandler "github.com/consentflow/consent-api/internal/handler/permission"
	staffhandler "github.com/consentflow/consent-api/internal/handler/staff"
	"github.com/consentflow/consent-api/internal/middleware"
	"github.com/consentflow/consent-api/internal/repository"
	"github.com/consentflow/consent-api/internal/repository/memory"
	"github.com/consentflow/consent-api/internal/repository/postgres"
	"github.com/consentflow/consent-api/internal/router"
	"github.com/consentflow/consent-api/internal/service/access"
	"github.com/consentflow/consent-api/internal/service/audit"
	"github.com/consentflow/consent-api/internal/service/consent"
	"github.com/consentflow/consent-api/internal/service/event"
	"github.com/consentflow/consent-api/internal/service/notification"
	"github.com/consentflow/consent-api/internal/service/staff"
	"github.com/consentflow/consent-api/pkg/auth"
	"github.com/consentflow/consent-api/pkg/logger"
	"github.com/consentflow/consent-api/pkg/messaging"
	"github.com/consentflow/consent-api/pkg/messaging/redis"
	"github.com/consentflow/consent-api/pkg/metrics"
	"github.com/consentflow/consent-api/pkg/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	lg := logger.NewLogger(cfg.Log.ToLoggerConfig())
	log.Logger = lg.ZL
	gin.SetMode(gin.ReleaseMode)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics("consent", "api", reg)

	checks := map[string]health.Checker{}

	var store repository.Store
	var broker messaging.Broker
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		mem := memory.NewStore()
		if cfg.Storage.SeedFile != "" {
			if err := mem.LoadSeedFile(cfg.Storage.SeedFile); err != nil {
				lg.Fatal(err, "failed to load seed file", "path", cfg.Storage.SeedFile)
			}
		}
		store = mem
		broker = messaging.NewLocalBroker(64)
		lg.Warn("running on the in-memory store; data is lost on exit")
	default:
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			lg.Fatal(err, "failed to connect to database")
		}
		pg := postgres.NewStore(db)
		defer pg.Close()
		store = pg
		checks["database"] = pg.Ping

		rb, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &lg.ZL)
		if err != nil {
			lg.Fatal(err, "failed to connect to Redis")
		}
		broker = rb
		checks["redis"] = rb.Ping
	}
	defer broker.Close()

	registry := event.NewRegistry()
	events := event.NewEventService(store.Outbox())
	eval := access.NewEvaluator(store.Users(), store.Assignments(), cfg.Cache.AssignmentTTL, cfg.Cache.CleanupInterval)
	auditSvc := audit.NewService(store.Audit())
	auditor := audit.NewAuditLogger(auditSvc, lg)

	bus := notification.NewService(store.Notifications(), store.Users(), events, broker,
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

	staffSvc := staff.NewService(store.Transactor(), store.Users(), store.Assignments(), store.Notifications(),
		bus, eval, auditor, lg, m)
	consentSvc := consent.NewService(store.Transactor(), store.Consents(), store.Users(), bus, eval, auditor, lg, m)

	var limit *middleware.RateLimiterConfig
	if cfg.RateLimit.Enabled {
		limit = &middleware.RateLimiterConfig{
			Rate:  rate.Limit(cfg.RateLimit.RequestsPerSecond),
			Burst: cfg.RateLimit.Burst,
		}
	}

	r, err := router.NewRouter(
		middleware.NewAuthMiddleware(auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience), store.Users(), eval),
		health.NewHandler(reg, checks),
		[]handler.Registrar{
			permissionhandler.NewHandler(),
			me.NewHandler(),
			notificationhandler.NewHandler(bus, cfg.Notifications.StreamHeartbeat),
			staffhandler.NewHandler(staffSvc),
			consenthandler.NewHandler(consentSvc),
			audithandler.NewHandler(auditSvc),
		},
		router.RouterConfig{
			CORSConfig: middleware.DefaultCORSConfig(),
			RateLimit:  limit,
			Registerer: reg,
		},
	)
	if err != nil {
		lg.Fatal(err, "failed to build router")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The worker process only reaches PostgreSQL; the in-memory store retries
	// its own outbox.
	if cfg.Storage.Driver == config.StorageDriverMemory {
		processor := worker.NewOutboxProcessor(store.Outbox(), store.Transactor(), registry, cfg.Outbox.ToWorkerConfig(), lg, m)
		go processor.Start(ctx)
	}

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		lg.Info("starting server", "addr", srv.Addr, "storage", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal(err, "failed to start server")
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	// Open event streams never finish on their own.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("graceful shutdown timed out, closing connections", "error", err.Error())
		_ = srv.Close()
	}
	lg.Info("server exited")
}
