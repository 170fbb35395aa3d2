package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/orrn/kioskd/internal/api"
	"github.com/orrn/kioskd/internal/colorpark"
	"github.com/orrn/kioskd/internal/config"
	"github.com/orrn/kioskd/internal/core"
	"github.com/orrn/kioskd/internal/history"
	"github.com/orrn/kioskd/internal/logging"
	"github.com/orrn/kioskd/internal/notify"
)

// queuePurgeInterval is how often terminal jobs past their grace are swept.
const queuePurgeInterval = time.Minute

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting kioskd",
		zap.Int("port", cfg.Server.Port),
		zap.Strings("devices", cfg.Devices.IDs))

	guard := core.NewFingerprintGuard(cfg.Queue.DedupeWindow, logger)
	devices := core.NewDeviceRegistry(cfg.Devices.IDs, cfg.Devices.SkipUnhealthy, logger)
	queue := core.NewQueue(cfg.Queue.CompletedGrace, logger)
	correlations := core.NewCorrelationTable(cfg.Correlation.Retention, logger)
	service := core.NewService(guard, devices, queue,
		cfg.Queue.DefaultPriority, cfg.Queue.PremiumPriority, logger)

	hub := notify.NewHub(logger)
	var notifier core.Notifier = hub
	if cfg.Notify.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Notify.RedisAddr,
			Password: cfg.Notify.RedisPassword,
		})
		defer rdb.Close()
		notifier = notify.Multi{hub, notify.NewRedisPublisher(rdb, cfg.Notify.ChannelPrefix, logger)}
		logger.Info("Redis notifications enabled", zap.String("addr", cfg.Notify.RedisAddr))
	}

	var store *history.Store
	var recorder core.JobRecorder
	if cfg.History.Path != "" {
		store, err = history.Open(cfg.History.Path, cfg.History.RetentionDays, logger)
		if err != nil {
			logger.Fatal("Failed to open history store", zap.Error(err))
		}
		defer store.Close()
		recorder = store
	}

	vendorClient := colorpark.New(cfg.Vendor, logger)
	bridge := core.NewStatusBridge(correlations, devices, notifier, logger)

	dispatcher := core.NewDispatcher(core.DispatcherConfig{
		Tick:          cfg.Queue.DispatchTick,
		MaxConcurrent: cfg.Queue.MaxConcurrent,
		SubmitSpacing: cfg.Queue.SubmitSpacing,
		SubmitTimeout: cfg.Queue.SubmitTimeout,
		MaxAttempts:   cfg.Queue.MaxAttempts,
	}, queue, vendorClient, correlations, notifier, recorder, logger)

	guard.Start(cfg.Queue.SweepInterval)
	queue.Start(queuePurgeInterval)
	correlations.Start(cfg.Correlation.ReapInterval)
	if store != nil {
		store.Start(cfg.History.PruneInterval)
	}
	dispatcher.Start()

	router := api.NewRouter(api.Deps{
		Config:       cfg,
		Service:      service,
		Bridge:       bridge,
		Correlations: correlations,
		Hub:          hub,
		History:      store,
		Vendor:       vendorClient,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}

	// Stop intake first, then the bookkeeping loops.
	dispatcher.Stop()
	guard.Stop()
	queue.Stop()
	correlations.Stop()
	if store != nil {
		store.Stop()
	}

	logger.Info("Shutdown complete")
}
