// cmd/am43d/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/mlsorensen/goam43/internal/config"
	"github.com/mlsorensen/goam43/internal/platform"
	"github.com/mlsorensen/goam43/pkg/blinds/am43"
)

func main() {
	// A missing .env is fine, the environment may already be set.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: .env not loaded: %v", err)
	}

	cfgPath := os.Getenv("AM43_CONFIG")
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	if cfgPath == "" {
		log.Fatal("usage: am43d <config.yaml> (or set AM43_CONFIG)")
	}

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	level := cfg.LogLevel
	if env := os.Getenv("AM43_LOG_LEVEL"); env != "" {
		level = env
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", level, err)
	}
	logger := logrus.New()
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// --------------------
	// Build platform
	// --------------------

	manager := am43.NewManager(logger)
	p := platform.New(cfg, manager, platform.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting AM43 platform")
	if err := p.Start(ctx); err != nil {
		logger.WithError(err).Warn("some motors could not be connected")
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	if err := p.Shutdown(); err != nil {
		logger.WithError(err).Error("shutdown incomplete")
		os.Exit(1)
	}
}
