package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/warden/pkg/async"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/email"
	"github.com/platinummonkey/warden/pkg/files"
	"github.com/platinummonkey/warden/pkg/notifications"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/server"
	"github.com/platinummonkey/warden/pkg/storage/postgres"
)

var skipBootstrap = flag.Bool("skip-bootstrap", false, "Skip migrations, RBAC seeding and admin bootstrap on startup")

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "warden: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, stop := observability.SignalContext(context.Background())
	defer stop()

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	otel, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}

	rdb, err := postgres.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		db.Close()
		return err
	}

	backend, extraBackends, err := files.NewBackends(ctx, cfg.Storage)
	if err != nil {
		db.Close()
		rdb.Close()
		return fmt.Errorf("failed to initialize %s storage: %w", cfg.Storage.DefaultProvider, err)
	}
	logger.Infof("File storage provider: %s", backend.Name())
	for _, b := range extraBackends {
		logger.Infof("Serving existing files from %s as well", b.Name())
	}

	pusher, err := notifications.NewPusher(ctx, cfg.Push, logger)
	if err != nil {
		db.Close()
		rdb.Close()
		return fmt.Errorf("failed to initialize push notifications: %w", err)
	}

	pool := async.NewWorkerPool(context.Background(), logger, metrics,
		cfg.Server.Workers, cfg.Server.WorkerQueue, cfg.Server.TaskTimeout)

	srv, err := server.New(server.Deps{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Registry:     registry,
		DB:           db,
		Redis:        rdb,
		Storage:      backend,
		ExtraStorage: extraBackends,
		Pusher:       pusher,
		Sender:       email.NewSender(cfg.SMTP, logger),
		Pool:         pool,
	})
	if err != nil {
		db.Close()
		rdb.Close()
		return err
	}
	srv.OnShutdown(otel.Shutdown)
	srv.OnShutdown(func(context.Context) error { return rdb.Close() })
	srv.OnShutdown(func(context.Context) error { return db.Close() })

	if !*skipBootstrap {
		if err := srv.Bootstrap(ctx); err != nil {
			db.Close()
			rdb.Close()
			return err
		}
	}

	logger.Infof("Starting %s %s", cfg.App.ProjectName, cfg.App.Version)
	return srv.Run(ctx)
}
