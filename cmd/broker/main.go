package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iammorganparry/clive/apps/remote/internal/api"
	"github.com/iammorganparry/clive/apps/remote/internal/broker"
	"github.com/iammorganparry/clive/apps/remote/internal/config"
	"github.com/iammorganparry/clive/apps/remote/internal/endpoint"
	"github.com/iammorganparry/clive/apps/remote/internal/store"
)

func main() {
	// Logger
	var logLevel slog.LevelVar
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel.Set(slog.LevelDebug)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))
	slog.SetDefault(logger)

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	// LOG_LEVEL may also come from the config file.
	if cfg.Debug() {
		logLevel.Set(slog.LevelDebug)
	}

	// SQLite
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Stores
	device, err := store.NewDeviceStore(db).LoadOrCreate(cfg.DeviceName)
	if err != nil {
		logger.Error("failed to load device identity", "error", err)
		os.Exit(1)
	}
	eventStore := store.NewEventStore(db)

	// Broker
	b, err := broker.New(*device, broker.Options{
		PinLength:         cfg.PinLength,
		PinTTL:            cfg.PinTTL,
		PinSweepInterval:  cfg.PinSweepInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		ArmTimeout:        cfg.ArmTimeout,
		SubscriberBuffer:  cfg.SubscriberBuffer,
		Events:            eventStore,
	}, logger)
	if err != nil {
		logger.Error("failed to create broker", "error", err)
		os.Exit(1)
	}

	// Mobile endpoint, armed on connect
	mobile := endpoint.New(b, endpoint.Options{
		Addr:                  cfg.MobileAddr,
		PingInterval:          cfg.HeartbeatInterval,
		PongWait:              cfg.HeartbeatTimeout,
		PairAttemptsPerMinute: cfg.PairAttemptsPerMinute,
	}, logger)
	b.SetEndpoint(mobile)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go b.Run(runCtx)

	// Router
	router := api.NewRouter(db, b, eventStore, cfg.APIKey, logger)

	// Server
	srv := &http.Server{
		Addr:        cfg.ControlAddr,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		// No WriteTimeout: /state/stream is long-lived.
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("broker starting",
			"control_addr", cfg.ControlAddr,
			"mobile_addr", cfg.MobileAddr,
			"device_id", device.DeviceID,
			"device_name", device.DeviceName,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	stopRun()
	b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("broker stopped")
}
