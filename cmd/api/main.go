package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"finsync/internal/shared/config"
	"finsync/internal/shared/logger"
	"finsync/internal/shared/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		Environment:  cfg.Telemetry.Environment,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		MetricsPort:  cfg.Telemetry.MetricsPort,
	})
	if err != nil {
		return err
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			log.Printf("Error shutting down telemetry: %v", err)
		}
	}()

	deps, err := NewDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	deps.Scheduler.Start()
	deps.Listener.Start(ctx)

	handler := SetupRoutes(deps, cfg)
	srv, redirectSrv, serverErr := StartServers(NewServerConfigFromConfig(handler, cfg))

	select {
	case <-ctx.Done():
	case err = <-serverErr:
		log.Errorf("Server error: %v", err)
	}

	GracefulShutdown(srv, redirectSrv, deps, shutdownTimeout)
	return err
}
