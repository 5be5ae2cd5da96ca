package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWorkerDefaults(t *testing.T) {
	cfg := WorkerDefaults()

	if cfg.Server.Port != 8765 {
		t.Errorf("expected port 8765, got %d", cfg.Server.Port)
	}
	if cfg.Engine.DefaultTimeout != 300*time.Second {
		t.Errorf("expected default timeout 300s, got %v", cfg.Engine.DefaultTimeout)
	}
	if cfg.Engine.Binary != "claude" {
		t.Errorf("expected binary claude, got %s", cfg.Engine.Binary)
	}
	if cfg.Stream.BufferSize != 256 || cfg.Stream.Keepalive != 30*time.Second {
		t.Errorf("unexpected stream defaults: %+v", cfg.Stream)
	}
	if cfg.Session.Backend != SessionBackendFile {
		t.Errorf("expected file session backend, got %s", cfg.Session.Backend)
	}
	if !strings.HasSuffix(cfg.DataDir, ".claude-hive") {
		t.Errorf("expected data dir under .claude-hive, got %s", cfg.DataDir)
	}
}

func TestLoadWorkerYAMLOverride(t *testing.T) {
	path := writeFile(t, "hive-worker.yaml", `
name: alpha
server:
  port: 9100
  cors_origin: "http://dash.local"
engine:
  default_timeout: 90s
logging:
  level: debug
`)

	cfg, err := LoadWorker(path)
	if err != nil {
		t.Fatalf("LoadWorker: %v", err)
	}
	if cfg.Name != "alpha" {
		t.Errorf("expected name alpha, got %s", cfg.Name)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("expected port 9100, got %d", cfg.Server.Port)
	}
	if cfg.Server.CORSOrigin != "http://dash.local" {
		t.Errorf("expected cors http://dash.local, got %s", cfg.Server.CORSOrigin)
	}
	if cfg.Engine.DefaultTimeout != 90*time.Second {
		t.Errorf("expected timeout 90s, got %v", cfg.Engine.DefaultTimeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.Engine.MaxLineLength != 500 {
		t.Errorf("expected default max line 500, got %d", cfg.Engine.MaxLineLength)
	}
}

func TestLoadWorkerMissingFile(t *testing.T) {
	cfg, err := LoadWorker(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing YAML should not error, got %v", err)
	}
	if cfg.Server.Port != 8765 {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoadWorkerMalformedYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "server: [unclosed")
	if _, err := LoadWorker(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadWorkerEnvOverridesYAML(t *testing.T) {
	path := writeFile(t, "hive-worker.yaml", `
server:
  port: 9100
logging:
  level: debug
`)
	t.Setenv("HIVE_PORT", "7070")
	t.Setenv("HIVE_LOG_LEVEL", "warn")
	t.Setenv("HIVE_WORKER_NAME", "from-env")
	t.Setenv("HIVE_TASK_TIMEOUT", "45")
	t.Setenv("HIVE_STREAM_KEEPALIVE", "5s")
	t.Setenv("HIVE_LOG_ASYNC", "true")
	t.Setenv("HIVE_RATE_RPS", "2.5")
	t.Setenv("HIVE_IDEMPOTENCY_TTL", "0")

	cfg, err := LoadWorker(path)
	if err != nil {
		t.Fatalf("LoadWorker: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("env should override YAML: got port %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("env should override YAML: got level %s", cfg.Logging.Level)
	}
	if cfg.Name != "from-env" {
		t.Errorf("expected name from-env, got %s", cfg.Name)
	}
	if cfg.Engine.DefaultTimeout != 45*time.Second {
		t.Errorf("bare seconds should parse: got %v", cfg.Engine.DefaultTimeout)
	}
	if cfg.Stream.Keepalive != 5*time.Second {
		t.Errorf("expected keepalive 5s, got %v", cfg.Stream.Keepalive)
	}
	if !cfg.Logging.Async {
		t.Error("expected async logging")
	}
	if cfg.Rate.RequestsPerSecond != 2.5 {
		t.Errorf("expected rps 2.5, got %v", cfg.Rate.RequestsPerSecond)
	}
	if cfg.Cache.IdempotencyTTL != 0 {
		t.Errorf("expected idempotency replay disabled, got %v", cfg.Cache.IdempotencyTTL)
	}
}

func TestEnvIgnoresInvalidNumbers(t *testing.T) {
	cfg := WorkerDefaults()
	t.Setenv("HIVE_PORT", "not-a-number")
	t.Setenv("HIVE_LOG_ASYNC", "maybe")
	loadWorkerEnv(&cfg)

	if cfg.Server.Port != 8765 {
		t.Errorf("invalid env should be ignored, got port %d", cfg.Server.Port)
	}
	if cfg.Logging.Async {
		t.Error("invalid bool should be ignored")
	}
}

func TestValidateWorker(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Worker)
		wantErr string
	}{
		{"empty name", func(c *Worker) { c.Name = "" }, "name is required"},
		{"port zero", func(c *Worker) { c.Server.Port = 0 }, "server.port must be between 1 and 65535"},
		{"port too high", func(c *Worker) { c.Server.Port = 70000 }, "server.port must be between 1 and 65535"},
		{"empty binary", func(c *Worker) { c.Engine.Binary = "" }, "engine.binary is required"},
		{"short timeout", func(c *Worker) { c.Engine.DefaultTimeout = time.Millisecond }, "engine.default_timeout must be >= 1s"},
		{"zero buffer", func(c *Worker) { c.Stream.BufferSize = 0 }, "stream.buffer_size must be >= 1"},
		{"unknown backend", func(c *Worker) { c.Session.Backend = "redis" }, `session.backend "redis" is not one of file, natskv`},
		{"natskv without url", func(c *Worker) { c.Session.Backend = SessionBackendNATSKV }, "session.backend natskv requires nats.url"},
		{"mirror without url", func(c *Worker) { c.NATS.MirrorEvents = true }, "nats.mirror_events requires nats.url"},
		{"rate without burst", func(c *Worker) { c.Rate.RequestsPerSecond = 1; c.Rate.Burst = 0 }, "rate.burst must be >= 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := WorkerDefaults()
			cfg.Name = "w"
			tt.modify(&cfg)
			err := validateWorker(&cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if err.Error() != tt.wantErr {
				t.Errorf("got %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateWorkerDefaults(t *testing.T) {
	cfg := WorkerDefaults()
	cfg.Name = "w"
	if err := validateWorker(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/hive")

	tests := []struct {
		in, want string
	}{
		{"~", "/home/hive"},
		{"~/data", "/home/hive/data"},
		{"/abs/path", "/abs/path"},
		{"rel/~path", "rel/~path"},
	}
	for _, tt := range tests {
		if got := expandHome(tt.in); got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
