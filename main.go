package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zateckar/uptimo-sub000/internal/api"
	"github.com/zateckar/uptimo-sub000/internal/cache"
	"github.com/zateckar/uptimo-sub000/internal/checker"
	"github.com/zateckar/uptimo-sub000/internal/config"
	"github.com/zateckar/uptimo-sub000/internal/dedup"
	"github.com/zateckar/uptimo-sub000/internal/dispatch"
	"github.com/zateckar/uptimo-sub000/internal/logging"
	"github.com/zateckar/uptimo-sub000/internal/metrics"
	"github.com/zateckar/uptimo-sub000/internal/scheduler"
	"github.com/zateckar/uptimo-sub000/internal/status"
	"github.com/zateckar/uptimo-sub000/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// .env is optional; environment variables win either way.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		os.Stderr.WriteString("logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.Logger

	store, err := storage.New(cfg)
	if err != nil {
		log.WithError(err).Fatal("storage initialization failed")
	}
	defer store.Close()

	statusCache, err := cache.New(&cfg.Cache)
	if err != nil {
		log.WithError(err).Fatal("cache initialization failed")
	}
	defer statusCache.Close()

	promMetrics := metrics.New(cfg.Metrics.Namespace)
	dedupSvc := dedup.NewService(store, log)
	engine := status.NewEngine(store, log)
	dispatcher := dispatch.NewDispatcher(store, log)
	runner := checker.NewRunner(checker.Config{
		UserAgent:       cfg.Checks.UserAgent,
		CertWarningDays: cfg.Checks.CertWarningDays,
		PingPrivileged:  cfg.Checks.PingPrivileged,
		WhoisTimeout:    cfg.Checks.WhoisTimeout,
	}, log)

	sched := scheduler.New(store, runner, engine, dispatcher, dedupSvc,
		statusCache, promMetrics, cfg.Scheduler, cfg.Notifications, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.ScheduleAll(ctx); err != nil {
		log.WithError(err).Fatal("initial scheduling failed")
	}
	if err := sched.Start(); err != nil {
		log.WithError(err).Fatal("scheduler start failed")
	}

	server := api.NewServer(store, sched, dedupSvc, statusCache, promMetrics, cfg, log).Listen()
	go func() {
		log.WithField("addr", server.Addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig.String()).Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	sched.Stop()
}
