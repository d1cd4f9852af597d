package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/knosi/internal/app"
	"github.com/markdave123-py/knosi/internal/config"
	"github.com/markdave123-py/knosi/internal/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.LoadConfig()
	log := logger.Init(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded", "config", cfg.String())

	// Handle SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	g, gctx := errgroup.WithContext(ctx)
	application.StartWorkers(gctx)

	g.Go(application.Server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return application.Server.Shutdown(shutdownCtx)
	})

	log.Info("knosi is running", "port", cfg.Port)
	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", "error", err)
	}
	application.Ingestor.Wait()
	log.Info("shutdown complete")
}
