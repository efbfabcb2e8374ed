package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/leehyunsuck/sub-dns/internal/api"
	"github.com/leehyunsuck/sub-dns/internal/config"
	"github.com/leehyunsuck/sub-dns/internal/ledger"
	"github.com/leehyunsuck/sub-dns/internal/lock"
	"github.com/leehyunsuck/sub-dns/internal/obs"
	"github.com/leehyunsuck/sub-dns/internal/pdns"
	"github.com/leehyunsuck/sub-dns/internal/sweeper"
	"github.com/leehyunsuck/sub-dns/internal/syncer"
	"github.com/leehyunsuck/sub-dns/internal/zones"
)

func main() {
	cfg := config.FromEnv()

	log := hclog.New(&hclog.LoggerOptions{
		Name:       "subdns",
		Level:      hclog.Info,
		JSONFormat: cfg.JSONLogs,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := ledger.Open(cfg.SQLitePath)
	if err != nil {
		log.Error("failed to open ledger", "path", cfg.SQLitePath, "error", err)
		os.Exit(1)
	}

	var locks lock.Locker
	if cfg.RedisAddress != "" {
		locks = lock.NewRedisLocker(cfg.RedisAddress)
		log.Info("using redis locks", "address", cfg.RedisAddress)
	} else {
		locks = lock.NewMemoryLocker()
		log.Info("no redis address configured, using in-process locks")
	}

	provider := pdns.NewClient(cfg.PDNSBaseURL, cfg.PDNSAPIKey, log.Named("pdns"))

	dir := zones.NewDirectory(provider, cfg.DefaultZone, log.Named("zones"))
	dir.Bootstrap(ctx)

	metrics := obs.NewMetrics()

	sync := syncer.New(provider, store, locks, log.Named("syncer"), metrics, syncer.Config{
		LockTTL:       cfg.LockTTL,
		RenewalWindow: cfg.RenewalWindow,
		RenewalMonths: cfg.RenewalMonths,
		LeaseMonths:   cfg.LeaseMonths,
		DefaultQuota:  cfg.DefaultQuota,
	})

	sweep := sweeper.New(store, sync, locks, log.Named("sweeper"), metrics, cfg.LockTTL)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.SweepSpec, func() {
		if _, err := sweep.Run(ctx); err != nil {
			log.Error("expiry sweep failed", "error", err)
		}
	}); err != nil {
		log.Error("invalid sweep schedule", "spec", cfg.SweepSpec, "error", err)
		os.Exit(1)
	}
	if _, err := scheduler.AddFunc(cfg.RefreshSpec, func() {
		if err := dir.Refresh(ctx); err != nil {
			log.Error("zone refresh failed", "error", err)
		}
	}); err != nil {
		log.Error("invalid refresh schedule", "spec", cfg.RefreshSpec, "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := api.NewServer(sync, store, provider, dir, log.Named("api"))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", server.Handler())

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errs:
		log.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	log.Info("stopped")
}
