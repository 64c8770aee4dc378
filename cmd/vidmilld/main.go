package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"vidmill/internal/config"
	"vidmill/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, configPath, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: logOutputs(cfg),
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	if configPath != "" {
		logger.Info("configuration loaded", logging.String("path", configPath))
	} else {
		logger.Info("running with default configuration")
	}

	d, err := buildDaemon(cfg, logger)
	if err != nil {
		logger.Error("bootstrap", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("vidmilld shutting down")
}
