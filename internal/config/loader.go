package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultWorkerFile is the path checked for worker YAML configuration.
const DefaultWorkerFile = "hive-worker.yaml"

// LoadWorker returns a Worker config from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional; an empty path
// means DefaultWorkerFile.
func LoadWorker(yamlPath string) (*Worker, error) {
	if yamlPath == "" {
		yamlPath = DefaultWorkerFile
	}
	cfg := WorkerDefaults()

	if _, err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadWorkerEnv(&cfg)
	cfg.DataDir = expandHome(cfg.DataDir)

	if err := validateWorker(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg. It returns the
// raw bytes, or nil if the file does not exist.
func loadYAML(cfg any, path string) ([]byte, error) {
	data, err := os.ReadFile(expandHome(path)) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return data, nil
}

// loadWorkerEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadWorkerEnv(cfg *Worker) {
	setString(&cfg.Name, "HIVE_WORKER_NAME")
	setString(&cfg.DataDir, "HIVE_DATA_DIR")
	setString(&cfg.Server.Host, "HIVE_HOST")
	setInt(&cfg.Server.Port, "HIVE_PORT")
	setString(&cfg.Server.CORSOrigin, "HIVE_CORS_ORIGIN")
	setDuration(&cfg.Server.ShutdownTimeout, "HIVE_SHUTDOWN_TIMEOUT")

	// Engine
	setString(&cfg.Engine.Binary, "HIVE_CLAUDE_BIN")
	setString(&cfg.Engine.WorkDir, "HIVE_CLAUDE_WORKDIR")
	setDuration(&cfg.Engine.DefaultTimeout, "HIVE_TASK_TIMEOUT")
	setDuration(&cfg.Engine.VersionTimeout, "HIVE_VERSION_TIMEOUT")
	setDuration(&cfg.Engine.WaitDelay, "HIVE_WAIT_DELAY")

	// Stream
	setInt(&cfg.Stream.BufferSize, "HIVE_STREAM_BUFFER")
	setDuration(&cfg.Stream.Keepalive, "HIVE_STREAM_KEEPALIVE")

	// Session + NATS
	setString(&cfg.Session.Backend, "HIVE_SESSION_BACKEND")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Bucket, "HIVE_NATS_BUCKET")
	setString(&cfg.NATS.SubjectPrefix, "HIVE_NATS_SUBJECT_PREFIX")
	setBool(&cfg.NATS.MirrorEvents, "HIVE_NATS_MIRROR_EVENTS")

	// Cache
	setInt64(&cfg.Cache.MaxCostBytes, "HIVE_CACHE_MAX_BYTES")
	setDuration(&cfg.Cache.VersionTTL, "HIVE_VERSION_TTL")
	setDuration(&cfg.Cache.IdempotencyTTL, "HIVE_IDEMPOTENCY_TTL")

	// Logging + telemetry
	setString(&cfg.Logging.Level, "HIVE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "HIVE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "HIVE_LOG_ASYNC")
	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTel.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTel.Insecure, "HIVE_OTEL_INSECURE")

	// Rate limiting
	setFloat64(&cfg.Rate.RequestsPerSecond, "HIVE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "HIVE_RATE_BURST")
}

// validateWorker checks that required fields are set.
func validateWorker(cfg *Worker) error {
	if cfg.Name == "" {
		return errors.New("name is required")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if cfg.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if cfg.Engine.Binary == "" {
		return errors.New("engine.binary is required")
	}
	if cfg.Engine.DefaultTimeout < time.Second {
		return errors.New("engine.default_timeout must be >= 1s")
	}
	if cfg.Stream.BufferSize < 1 {
		return errors.New("stream.buffer_size must be >= 1")
	}
	if cfg.Stream.Keepalive <= 0 {
		return errors.New("stream.keepalive must be > 0")
	}
	switch cfg.Session.Backend {
	case SessionBackendFile:
	case SessionBackendNATSKV:
		if cfg.NATS.URL == "" {
			return errors.New("session.backend natskv requires nats.url")
		}
	default:
		return fmt.Errorf("session.backend %q is not one of file, natskv", cfg.Session.Backend)
	}
	if cfg.NATS.MirrorEvents && cfg.NATS.URL == "" {
		return errors.New("nats.mirror_events requires nats.url")
	}
	if cfg.Rate.RequestsPerSecond > 0 && cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setDuration accepts Go durations ("90s") or bare seconds ("90").
func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
	}
}
