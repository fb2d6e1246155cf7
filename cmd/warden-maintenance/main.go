package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/files"
	"github.com/platinummonkey/warden/pkg/jobs"
	"github.com/platinummonkey/warden/pkg/notifications"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage/postgres"
	"github.com/platinummonkey/warden/pkg/users"
)

var (
	runOnce  = flag.Bool("run-once", false, "Run every maintenance job once and exit")
	jsonLogs = flag.Bool("json-logs", false, "Log as JSON")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetOutput(os.Stdout)
	if *jsonLogs {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Observability.LogLevel.String()); err == nil {
		log.SetLevel(level)
	}

	ctx, stop := observability.SignalContext(context.Background())
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// purged users' objects are deleted from every configured provider
	primary, extra, err := files.NewBackends(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize %s storage: %v", cfg.Storage.DefaultProvider, err)
	}
	fileService := files.NewService(files.NewStore(db), primary, nil, extra...)

	notificationStore := notifications.NewStore(db)
	scheduler := jobs.NewScheduler(log, nil)

	for _, job := range jobs.DefaultJobs(cfg.Maintenance, notificationStore, notificationStore, users.NewStore(db), fileService) {
		if err := scheduler.Add(job); err != nil {
			log.Fatalf("Failed to schedule %s: %v", job.Name, err)
		}
	}

	if *runOnce {
		if err := scheduler.RunAll(ctx); err != nil {
			log.Fatalf("Maintenance failed: %v", err)
		}
		log.Info("Maintenance completed successfully")
		return
	}

	scheduler.Start()
	log.Info("Warden maintenance scheduler started")

	<-ctx.Done()
	log.Info("Shutting down gracefully...")

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := scheduler.Stop(stopCtx); err != nil {
		log.Warnf("Scheduler stopped before running jobs finished: %v", err)
	}
	log.Info("Maintenance scheduler stopped")
}
