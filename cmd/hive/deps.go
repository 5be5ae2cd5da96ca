package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/Strob0t/CodeHive/internal/adapter/postgres"
	"github.com/Strob0t/CodeHive/internal/adapter/workerclient"
	"github.com/Strob0t/CodeHive/internal/config"
	"github.com/Strob0t/CodeHive/internal/domain/worker"
	"github.com/Strob0t/CodeHive/internal/logger"
	"github.com/Strob0t/CodeHive/internal/port/fleet"
	"github.com/Strob0t/CodeHive/internal/resilience"
	"github.com/Strob0t/CodeHive/internal/service"
)

// hiveDeps bundles what every command needs. cleanup must be called once.
type hiveDeps struct {
	cfg        *config.Hive
	dispatcher *service.Dispatcher
	router     *service.Router
	journal    *postgres.Journal // nil when no journal DSN is configured
	cleanup    func()
}

// loadConfig reads the controller config and installs its logger. Logs go to
// stderr: stdout carries results and, for "hive mcp", the protocol.
func loadConfig(path string) (*config.Hive, func(), error) {
	cfg, err := config.LoadHive(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, closer := logger.NewTo(os.Stderr, cfg.Logging)
	slog.SetDefault(log)
	if cfg.Source != "" {
		slog.Debug("config loaded", "path", cfg.Source, "workers", len(cfg.Workers))
	}
	return cfg, closer.Close, nil
}

// loadDeps builds the dispatcher and router, plus the journal when one is
// configured. The journal is optional: a failure to reach it is logged and
// dispatching continues without it.
func loadDeps(ctx context.Context, configPath string) (*hiveDeps, error) {
	cfg, closeLog, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if len(cfg.Workers) == 0 {
		closeLog()
		return nil, fmt.Errorf("no workers configured (add a workers section to %s)", config.HiveSearchPaths[0])
	}

	d := service.NewDispatcher(cfg.Workers, clientFactory(cfg), cfg.Dispatch.FanOutLimit)
	deps := &hiveDeps{
		cfg:        cfg,
		dispatcher: d,
		router:     service.NewRouter(cfg.Routing, cfg.DefaultWorker, d.Has),
	}

	closePool := func() {}
	if cfg.Journal.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Journal)
		if err != nil {
			slog.Warn("journal unavailable, results will not be recorded", "error", err)
		} else if err := postgres.RunMigrations(ctx, cfg.Journal.DSN); err != nil {
			pool.Close()
			slog.Warn("journal migrations failed, results will not be recorded", "error", err)
		} else {
			deps.journal = postgres.NewJournal(pool)
			d.SetJournal(deps.journal)
			closePool = pool.Close
		}
	}

	deps.cleanup = func() {
		d.Close()
		closePool()
		closeLog()
	}
	return deps, nil
}

// clientFactory returns a worker client factory with one breaker per worker.
func clientFactory(cfg *config.Hive) fleet.Factory {
	clientCfg := workerclient.Config{
		ConnectTimeout: cfg.Client.ConnectTimeout,
		ReadTimeout:    cfg.Client.ReadTimeout,
		Grace:          cfg.Client.Grace,
	}
	return func(desc worker.Descriptor) fleet.Client {
		breaker := resilience.NewBreaker(desc.Name, cfg.Breaker.MaxFailures, cfg.Breaker.Cooldown)
		return workerclient.New(desc, clientCfg, breaker)
	}
}
