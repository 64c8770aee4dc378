package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"vidmill/internal/artifact"
	"vidmill/internal/config"
	"vidmill/internal/daemon"
	"vidmill/internal/dispatch"
	"vidmill/internal/handlers"
	"vidmill/internal/queue"
	"vidmill/internal/stage"
)

// buildDaemon wires the job store, artifact store, stage registry, and
// dispatcher into a ready-to-start daemon. The returned daemon owns the queue
// store; callers release everything through Close.
func buildDaemon(cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	artifacts, err := artifact.NewStore(cfg.Paths.DataDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	dispatcher, err := dispatch.New(cfg, store, artifacts, registry, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build dispatcher: %w", err)
	}

	d, err := daemon.New(cfg, store, artifacts, dispatcher, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return d, nil
}

// buildRegistry binds the configured pipeline to the built-in handlers, using
// the default five-stage pipeline when no pipeline file is configured.
func buildRegistry(cfg *config.Config) (*stage.Registry, error) {
	descs := stage.DefaultPipeline()
	if cfg.PipelineFile != "" {
		loaded, err := stage.LoadPipeline(cfg.PipelineFile)
		if err != nil {
			return nil, err
		}
		descs = loaded
	}
	registry, err := stage.NewRegistry(descs, handlers.Set(cfg))
	if err != nil {
		return nil, fmt.Errorf("build stage registry: %w", err)
	}
	return registry, nil
}

func logOutputs(cfg *config.Config) []string {
	outputs := []string{"stderr"}
	if cfg.Paths.LogDir != "" {
		outputs = append(outputs, filepath.Join(cfg.Paths.LogDir, "vidmilld.log"))
	}
	return outputs
}
