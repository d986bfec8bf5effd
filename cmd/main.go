package main

import (
	"log"
	"os"

	"github.com/shaibs3/shopwatch/internal/config"
	"github.com/shaibs3/shopwatch/internal/logger"
	"go.uber.org/zap"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// bootstrap logger, used until the configured one exists
	initialLogger, err := logger.NewLogger("production", "info")
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer func() {
		_ = initialLogger.Sync()
	}()

	cfg := config.Load(initialLogger)

	appLogger, err := logger.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		initialLogger.Fatal("failed to create application logger", zap.Error(err))
	}
	defer func() {
		_ = appLogger.Sync()
	}()

	appLogger.Info("Build info",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)

	if err := newRootCmd(cfg, appLogger).Execute(); err != nil {
		appLogger.Error("command failed", zap.Error(err))
		_ = appLogger.Sync()
		os.Exit(1)
	}
}
