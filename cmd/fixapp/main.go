package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chin-flags/fixapp/internal/adapter/bcrypt"
	cfhttp "github.com/chin-flags/fixapp/internal/adapter/http"
	"github.com/chin-flags/fixapp/internal/adapter/metrics"
	cfnats "github.com/chin-flags/fixapp/internal/adapter/nats"
	cfotel "github.com/chin-flags/fixapp/internal/adapter/otel"
	"github.com/chin-flags/fixapp/internal/adapter/postgres"
	"github.com/chin-flags/fixapp/internal/adapter/s3"
	"github.com/chin-flags/fixapp/internal/adapter/ws"
	"github.com/chin-flags/fixapp/internal/config"
	"github.com/chin-flags/fixapp/internal/isolation"
	"github.com/chin-flags/fixapp/internal/logger"
	"github.com/chin-flags/fixapp/internal/middleware"
	"github.com/chin-flags/fixapp/internal/port/messagequeue"
	"github.com/chin-flags/fixapp/internal/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var err error
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "admin":
			err = runAdmin(os.Args[2:])
		case "migrate":
			err = runMigrate(os.Args[2:])
		default:
			err = fmt.Errorf("unknown command %q (want admin or migrate)", os.Args[1])
		}
	} else {
		err = run()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logger.New(cfg.Logging, cfg.Environment)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("config loaded",
		zap.String("environment", cfg.Environment),
		zap.String("port", cfg.Server.Port),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Int32("pg_max_conns", cfg.Postgres.MaxConns),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instance := ulid.Make().String()

	// --- Telemetry ---

	shutdownOTel, err := cfotel.Setup(ctx, cfg.OTel, cfg.Environment, log)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn("otel shutdown", zap.Error(err))
		}
	}()
	domainMetrics, err := cfotel.NewMetrics(nil)
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, pool, log); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	queue, err := cfnats.Connect(ctx, cfg.NATS, log)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	cs, err := buildCaches(ctx, cfg, queue, log)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cs.Close()

	presigner, err := s3.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("s3: %w", err)
	}

	// --- Services ---

	guard := isolation.NewGuard(log, domainMetrics, isolation.Options{})
	store := isolation.NewStore(postgres.NewStore(pool), guard)
	hasher := bcrypt.New(cfg.Auth.BcryptCost)

	directory := service.NewTenantDirectory(store, cs.directory, cfg.Tenancy.CacheTTL, log,
		service.WithDirectoryMetrics(domainMetrics),
		service.WithDirectoryInstance(instance),
	)
	authSvc := service.NewAuthService(store, hasher, cfg.Auth, log, service.WithAuthMetrics(domainMetrics))
	realtime := ws.NewRouter(authSvc, cs.presence, cfg.Realtime, log,
		ws.WithQueue(queue),
		ws.WithTenants(directory),
		ws.WithMetrics(domainMetrics),
	)
	jobs := service.NewJobQueue(queue, messagequeue.RetryPolicy{Attempts: cfg.Queue.Attempts, Backoff: cfg.Queue.Backoff}, log)

	handlers := &cfhttp.Handlers{
		Auth:          authSvc,
		Users:         service.NewUserService(store, hasher, log),
		Files:         service.NewFileService(store, presigner, realtime, cfg.Storage, log),
		Jobs:          jobs,
		DB:            pool,
		Queue:         queue,
		SecureCookies: cfg.Environment == config.EnvProduction,
		Log:           log,
	}

	// --- Background ---

	stopInvalidations, err := directory.Listen(ctx, queue)
	if err != nil {
		return fmt.Errorf("tenant invalidation listener: %w", err)
	}
	defer stopInvalidations()

	stopFanOut, err := realtime.Listen(ctx)
	if err != nil {
		return fmt.Errorf("realtime listener: %w", err)
	}
	defer stopFanOut()

	authSvc.StartTokenCleanup(ctx, cfg.Auth.CleanupInterval)

	var limiter *middleware.RateLimiter
	if cfg.Rate.Enabled {
		limiter = middleware.NewRateLimiter(cfg.Rate, nil)
		defer limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)()
	}

	// --- HTTP ---

	httpMetrics := metrics.New()
	if err := httpMetrics.Register(cs.collectors()...); err != nil {
		return fmt.Errorf("register cache metrics: %w", err)
	}

	router := cfhttp.NewRouter(*cfg, cfhttp.RouterDeps{
		Handlers:    handlers,
		Tenants:     directory,
		Verifier:    authSvc,
		Realtime:    realtime.HandleWS,
		Metrics:     httpMetrics,
		RateLimiter: limiter,
		Idempotency: cs.idempotency,
	}, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", zap.String("addr", srv.Addr), zap.String("instance", instance))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		if err := queue.Drain(); err != nil {
			log.Warn("nats drain", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}
