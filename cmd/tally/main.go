package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/platinummonkey/tally/pkg/actor"
	"github.com/platinummonkey/tally/pkg/async"
	"github.com/platinummonkey/tally/pkg/audit"
	"github.com/platinummonkey/tally/pkg/authaudit"
	"github.com/platinummonkey/tally/pkg/config"
	"github.com/platinummonkey/tally/pkg/httputil"
	"github.com/platinummonkey/tally/pkg/ledger"
	"github.com/platinummonkey/tally/pkg/lifecycle"
	"github.com/platinummonkey/tally/pkg/observability"
	"github.com/platinummonkey/tally/pkg/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("TALLY_CONFIG"), "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithField("service", "tally").
		WithField("version", version)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("tally exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = observability.WithLogger(ctx, logger)

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return err
	}

	db, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	models := append(ledger.Models(), &authaudit.Entry{})
	if err := storage.Migrate(db, models...); err != nil {
		_ = storage.Close(db)
		return err
	}
	logger.WithField("driver", cfg.Storage.Driver).Info("database ready")

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = storage.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			_ = storage.Close(db)
			return err
		}
		logger.Info("redis connected, maintenance jobs will use a distributed lock")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	cascadeMode, err := lifecycle.ParseCascadeMode(cfg.Lifecycle.CascadeMode)
	if err != nil {
		return err
	}
	policy := ledger.Policy()
	bins := ledger.NewRecycleBins(db, policy, actor.ContextResolver{},
		lifecycle.WithCascadeMode(cascadeMode),
		lifecycle.WithMetrics(metrics),
		lifecycle.WithLogger(logger),
	)
	authAudit := authaudit.NewService(db, authaudit.WithMetrics(metrics), authaudit.WithLogger(logger))

	router := mux.NewRouter()
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	health := observability.NewHealthChecker(version).Register("database", true, observability.DatabaseProbe(sqlDB))
	if rdb != nil {
		health.Register("redis", false, observability.RedisProbe(rdb))
	}
	observability.RegisterHealthRoutes(router, health)
	if cfg.Observability.MetricsEnabled {
		router.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	}
	api := router.PathPrefix("/api/v1").Subrouter()
	audit.NewHandlers(audit.NewStore(db)).RegisterRoutes(api)
	authaudit.NewHandlers(authAudit).RegisterRoutes(api)
	ledger.NewHandlers(bins).RegisterRoutes(api)

	server := &http.Server{
		Addr: net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler: httputil.Chain(
			httputil.RecoveryMiddleware(logger),
			httputil.RequestIDMiddleware(logger),
			httputil.LoggingMiddleware(logger),
			httputil.ActorMiddleware,
		)(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	jobs, err := maintenanceJobs(cfg, db, rdb, logger, metrics)
	if err != nil {
		return err
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("database", func(context.Context) error { return storage.Close(db) })
	if rdb != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return rdb.Close() })
	}
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	for _, job := range jobs {
		g.Go(func() error { return job.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return shutdown.Shutdown(context.Background())
	})

	return g.Wait()
}

type runner interface {
	Run(ctx context.Context) error
}

func maintenanceJobs(cfg *config.Config, db *gorm.DB, rdb *redis.Client, logger *observability.Logger, metrics *observability.Metrics) ([]runner, error) {
	var locker async.Locker
	if rdb != nil {
		locker = async.NewRedisLocker(rdb)
	}

	jobs := []runner{
		async.NewPeriodic("db_pool_stats", async.Interval(15*time.Second), func(context.Context) error {
			return storage.RecordPoolStats(db, metrics)
		}, async.WithLogger(logger)),
	}

	if !cfg.Retention.Enabled {
		logger.Info("auth audit retention disabled")
		return jobs, nil
	}
	worker, err := authaudit.NewRetentionWorker(
		authaudit.DBScope(db, authaudit.WithMetrics(metrics), authaudit.WithLogger(logger)),
		authaudit.WorkerConfig{
			Days:     cfg.Retention.Days,
			Schedule: cfg.Retention.Schedule,
			Timeout:  cfg.Retention.Timeout,
			Locker:   locker,
			LockKey:  cfg.Retention.LockKey,
			LockTTL:  cfg.Retention.LockTTL,
			Logger:   logger,
			Metrics:  metrics,
		},
	)
	if err != nil {
		return nil, err
	}
	return append(jobs, worker), nil
}
