// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Command loomd runs the loom engine daemon: it loads the skill catalog
// and loop templates, opens the store, and serves the dashboard API
// until interrupted.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loomworks/loom/internal/dashboard"
	"github.com/loomworks/loom/pkg/archive"
	"github.com/loomworks/loom/pkg/catalog"
	"github.com/loomworks/loom/pkg/config"
	"github.com/loomworks/loom/pkg/engine"
	"github.com/loomworks/loom/pkg/loop"
	"github.com/loomworks/loom/pkg/memory"
	"github.com/loomworks/loom/pkg/resilience"
	"github.com/loomworks/loom/pkg/telemetry"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to a loomd YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "loomd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	shutdownTelemetry, err := telemetry.InitWithConfig("loomd", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("loomd.telemetry.shutdown", slog.String("error", err.Error()))
		}
	}()

	registry := catalog.NewRegistry(cfg.Catalog.SkillsDir)
	cat, report, err := registry.Init()
	if err != nil {
		return fmt.Errorf("load skill catalog: %w", err)
	}
	for _, skip := range report.Skipped {
		slog.Warn("loomd.catalog.skipped",
			slog.String("path", skip.Path),
			slog.String("error", skip.Err.Error()),
		)
	}
	slog.Info("loomd.catalog.loaded",
		slog.Int("skills", cat.Len()),
		slog.Int("skipped", len(report.Skipped)),
	)

	loops := loop.NewStore()
	loaded, err := loops.LoadDir(cfg.Catalog.LoopsDir, cat)
	if err != nil {
		return fmt.Errorf("load loop templates: %w", err)
	}
	slog.Info("loomd.loops.loaded", slog.Int("templates", loaded))

	db, err := sql.Open("sqlite", cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}
	defer db.Close()

	processStore, err := memory.NewSQLiteProcessStore(db)
	if err != nil {
		return fmt.Errorf("init process memory: %w", err)
	}
	archiveStore, err := archive.NewSQLiteStore(db)
	if err != nil {
		return fmt.Errorf("init run archive: %w", err)
	}

	runner := engine.NewBreakerRunner(engine.ExecRunner{}, resilience.CircuitBreakerConfig{
		Name: "skill-exec",
	})
	eng, err := engine.New(cat, loops, engine.Options{
		Runner:     runner,
		Registry:   registry,
		Memory:     memory.New(processStore, cfg.Engine.StrictMemory),
		Archive:    archiveStore,
		Calibrator: archive.NewCalibrator(archiveStore, 0),
		Retry: resilience.DefaultRetryConfig().
			WithMaxAttempts(cfg.Engine.MaxAttempts).
			WithInitialDelay(cfg.Engine.RetryInitialDelay).
			WithMaxDelay(cfg.Engine.RetryMaxDelay),
		SkillTimeout: cfg.Engine.SkillTimeout,
		GateTimeout:  cfg.Engine.GateTimeout,
	})
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	eng.StartSweeper(cfg.Engine.SweepInterval)
	defer eng.StopSweeper()

	var srv *dashboard.Server
	serveErr := make(chan error, 1)
	if cfg.Dashboard.Enabled {
		srv = dashboard.New(cfg.Dashboard.Addr, eng)
		go func() {
			serveErr <- srv.ListenAndServe()
		}()
	}

	slog.Info("loomd.ready",
		slog.String("version", version),
		slog.String("store", cfg.Store.Path),
		slog.Bool("dashboard", cfg.Dashboard.Enabled),
	)

	select {
	case <-ctx.Done():
		slog.Info("loomd.shutdown", slog.String("reason", "signal"))
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
	}

	if srv != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(drainCtx); err != nil {
			slog.Warn("loomd.dashboard.shutdown", slog.String("error", err.Error()))
		}
	}
	return nil
}
