// Command hive-worker serves one reasoning engine instance over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/CodeHive/internal/adapter/filestore"
	hivehttp "github.com/Strob0t/CodeHive/internal/adapter/http"
	hivenats "github.com/Strob0t/CodeHive/internal/adapter/nats"
	"github.com/Strob0t/CodeHive/internal/adapter/natskv"
	hiveotel "github.com/Strob0t/CodeHive/internal/adapter/otel"
	"github.com/Strob0t/CodeHive/internal/adapter/ristretto"
	"github.com/Strob0t/CodeHive/internal/adapter/ws"
	"github.com/Strob0t/CodeHive/internal/config"
	"github.com/Strob0t/CodeHive/internal/logger"
	"github.com/Strob0t/CodeHive/internal/middleware"
	"github.com/Strob0t/CodeHive/internal/port/sessionstore"
	"github.com/Strob0t/CodeHive/internal/service"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("hive-worker", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to worker YAML config (default "+config.DefaultWorkerFile+")")
	host := fs.String("host", "", "listen host (overrides config)")
	port := fs.Int("port", 0, "listen port (overrides config)")
	name := fs.String("name", "", "worker name (overrides config, default hostname)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadWorker(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *name != "" {
		cfg.Name = *name
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log.With("worker", cfg.Name))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	shutdownOtel, err := hiveotel.Setup(ctx, hiveotel.Config{
		Endpoint:    cfg.OTel.Endpoint,
		ServiceName: cfg.OTel.ServiceName,
		Insecure:    cfg.OTel.Insecure,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(flushCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := hiveotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	var nc *hivenats.Conn
	if cfg.NATS.URL != "" {
		nc, err = hivenats.Connect(ctx, cfg.NATS.URL, "hive-worker-"+cfg.Name)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = nc.Close() }()
		slog.Info("nats connected", "url", cfg.NATS.URL)
	}

	backend, err := sessionBackend(ctx, cfg, nc)
	if err != nil {
		return fmt.Errorf("session backend: %w", err)
	}
	sessions, err := service.NewSessionService(ctx, backend)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	history, err := filestore.NewHistory(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}

	localCache, err := ristretto.New(cfg.Cache.MaxCostBytes)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer localCache.Close()

	// --- Services ---

	events := service.NewBroadcaster(service.BroadcasterConfig{
		WorkerName:     cfg.Name,
		BufferSize:     cfg.Stream.BufferSize,
		TaskPreviewLen: cfg.Engine.TaskPreviewLength,
		MaxLineLen:     cfg.Engine.MaxLineLength,
	})
	defer events.Close()
	if cfg.NATS.MirrorEvents {
		events.SetSink(nc.EventSink(cfg.NATS.SubjectPrefix, cfg.Name))
	}

	executor := service.NewExecutor(service.ExecutorConfig{
		WorkerName: cfg.Name,
		Binary:     cfg.Engine.Binary,
		WorkDir:    cfg.Engine.WorkDir,
		WaitDelay:  cfg.Engine.WaitDelay,
	}, sessions, history, events, metrics)
	defer executor.Close()

	probe := service.NewVersionProbe(cfg.Engine.Binary, cfg.Engine.VersionTimeout, cfg.Cache.VersionTTL, localCache)
	if v := probe.Version(ctx); v != nil {
		slog.Info("reasoning engine found", "version", *v)
	} else {
		slog.Warn(service.NotInstalledMessage, "binary", cfg.Engine.Binary)
	}

	// --- HTTP ---

	hub := ws.NewHub(events, cfg.Stream.Keepalive)
	handlers := &hivehttp.Handlers{
		WorkerName:     cfg.Name,
		Started:        time.Now(),
		Tasks:          executor,
		Sessions:       sessions,
		History:        history,
		Events:         events,
		Version:        probe,
		DefaultTimeout: cfg.Engine.DefaultTimeout,
		Keepalive:      cfg.Stream.Keepalive,
	}

	r := chi.NewRouter()
	r.Use(hivehttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(hivehttp.Logger)
	r.Use(chimw.Recoverer)
	if cfg.OTel.Endpoint != "" {
		r.Use(hiveotel.HTTPMiddleware(cfg.OTel.ServiceName))
	}
	if cfg.Rate.RequestsPerSecond > 0 {
		rl := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst).
			Exempt("/", "/health", "/stream", "/ws")
		rl.StartCleanup(ctx, cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
		r.Use(rl.Handler)
	}
	if cfg.Cache.IdempotencyTTL > 0 {
		r.Use(middleware.Idempotency(localCache, cfg.Cache.IdempotencyTTL))
	}
	hivehttp.MountRoutes(r, handlers, hub)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	// No write timeout: /task runs as long as its own timeout and streams never end on their own.
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("worker listening",
			"addr", addr,
			"data_dir", cfg.DataDir,
			"session_backend", cfg.Session.Backend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down worker")

	// Kill a running engine and end live streams first; Shutdown would
	// otherwise wait on them.
	executor.Close()
	events.Close()
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// sessionBackend picks where the session record lives.
func sessionBackend(ctx context.Context, cfg *config.Worker, nc *hivenats.Conn) (sessionstore.Backend, error) {
	switch cfg.Session.Backend {
	case config.SessionBackendNATSKV:
		kv, err := nc.KeyValue(ctx, cfg.NATS.Bucket)
		if err != nil {
			return nil, err
		}
		return natskv.NewSessionRecord(kv, cfg.Name), nil
	default:
		return filestore.NewSessionRecord(cfg.DataDir)
	}
}
