package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"itembay/auth"
	"itembay/config"
	"itembay/market"
	"itembay/middleware"
	"itembay/observability"
	"itembay/observability/logging"
	"itembay/server"
	"itembay/storage"
)

func main() {
	var configPath, seedPath string
	flag.StringVar(&configPath, "config", "", "path to TOML configuration file")
	flag.StringVar(&seedPath, "seed", "", "path to YAML seed fixture (overrides config)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Setup("marketd", "boot", logging.Options{}).Error("load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup("marketd", cfg.Server.Environment, logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := observability.InitTelemetry(ctx, observability.TelemetryConfig{
			ServiceName: "marketd",
			Environment: cfg.Server.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			logger.Error("init telemetry", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("telemetry shutdown", "error", err)
			}
		}()
	}

	db, err := storage.Open(cfg.Database)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}

	if seedPath != "" {
		cfg.Seed.File = seedPath
	}
	if cfg.Seed.File != "" {
		if err := storage.Seed(db, cfg.Seed.File); err != nil {
			logger.Error("apply seed", "error", err, "file", cfg.Seed.File)
			os.Exit(1)
		}
		logger.Info("seed applied", "file", cfg.Seed.File)
	}

	authenticator, err := auth.New(auth.Config{
		Secret:   cfg.Auth.Secret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		TTL:      cfg.Auth.TokenTTL(),
	})
	if err != nil {
		logger.Error("configure auth", "error", err)
		os.Exit(1)
	}

	obs := observability.New(observability.Config{
		ServiceName: "marketd",
		LogRequests: cfg.Log.LogRequests,
		Enabled:     true,
	}, logger)

	srv := server.New(server.Config{
		DB:          db,
		Auth:        authenticator,
		Engine:      market.NewEngine(db),
		Obs:         obs,
		RateLimiter: middleware.NewRateLimiter(cfg.Server.RatePerSecond, cfg.Server.RateBurst),
		Logger:      logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("marketd listening", "addr", cfg.Server.Listen, "env", cfg.Server.Environment)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
}
