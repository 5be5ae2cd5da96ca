// Package config provides hierarchical configuration loading for workers and
// the controller. Precedence: defaults < YAML file < environment variables.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Worker holds all runtime configuration for a worker process.
type Worker struct {
	Name    string  `yaml:"name"`     // reported on /health and stamped on results
	DataDir string  `yaml:"data_dir"` // session record and history log live here
	Server  Server  `yaml:"server"`
	Engine  Engine  `yaml:"engine"`
	Stream  Stream  `yaml:"stream"`
	Session Session `yaml:"session"`
	NATS    NATS    `yaml:"nats"`
	Cache   Cache   `yaml:"cache"`
	Logging Logging `yaml:"logging"`
	OTel    OTel    `yaml:"otel"`
	Rate    Rate    `yaml:"rate"`
}

// Server holds HTTP server configuration.
type Server struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	CORSOrigin      string        `yaml:"cors_origin"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Engine configures how the reasoning engine CLI is invoked.
type Engine struct {
	Binary            string        `yaml:"binary"`
	WorkDir           string        `yaml:"work_dir"`
	DefaultTimeout    time.Duration `yaml:"default_timeout"`    // applied when a request omits timeout
	VersionTimeout    time.Duration `yaml:"version_timeout"`    // bound on "<binary> --version"
	WaitDelay         time.Duration `yaml:"wait_delay"`         // output drain grace after a kill
	MaxLineLength     int           `yaml:"max_line_length"`    // output event line cap
	TaskPreviewLength int           `yaml:"task_preview_length"` // task_start text cap
}

// Stream configures live event delivery.
type Stream struct {
	BufferSize int           `yaml:"buffer_size"` // per-subscriber queue depth
	Keepalive  time.Duration `yaml:"keepalive"`
}

// Session selects where the session record is kept.
type Session struct {
	Backend string `yaml:"backend"` // "file" | "natskv"
}

// Session backends.
const (
	SessionBackendFile   = "file"
	SessionBackendNATSKV = "natskv"
)

// NATS holds NATS connection configuration. An empty URL disables NATS.
type NATS struct {
	URL           string `yaml:"url"`
	Bucket        string `yaml:"bucket"`
	SubjectPrefix string `yaml:"subject_prefix"`
	MirrorEvents  bool   `yaml:"mirror_events"`
}

// Cache configures the in-process cache shared by the version probe and
// idempotent task replay. A zero IdempotencyTTL disables replay.
type Cache struct {
	MaxCostBytes   int64         `yaml:"max_cost_bytes"`
	VersionTTL     time.Duration `yaml:"version_ttl"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// OTel holds OpenTelemetry export configuration. An empty endpoint disables export.
type OTel struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Rate holds per-client rate limiting. Zero requests per second disables it.
type Rate struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
}

// WorkerDefaults returns a Worker config with the defaults of a stock worker.
func WorkerDefaults() Worker {
	name, _ := os.Hostname()
	return Worker{
		Name:    name,
		DataDir: defaultDataDir(),
		Server: Server{
			Host:            "0.0.0.0",
			Port:            8765,
			CORSOrigin:      "*",
			ShutdownTimeout: 10 * time.Second,
		},
		Engine: Engine{
			Binary:            "claude",
			DefaultTimeout:    300 * time.Second,
			VersionTimeout:    10 * time.Second,
			WaitDelay:         2 * time.Second,
			MaxLineLength:     500,
			TaskPreviewLength: 100,
		},
		Stream: Stream{
			BufferSize: 256,
			Keepalive:  30 * time.Second,
		},
		Session: Session{
			Backend: SessionBackendFile,
		},
		NATS: NATS{
			Bucket:        "claude-hive",
			SubjectPrefix: "hive.events",
		},
		Cache: Cache{
			MaxCostBytes:   16 << 20,
			VersionTTL:     10 * time.Minute,
			IdempotencyTTL: 10 * time.Minute,
		},
		Logging: Logging{
			Level:   "info",
			Service: "hive-worker",
		},
		OTel: OTel{
			ServiceName: "hive-worker",
			Insecure:    true,
		},
		Rate: Rate{
			Burst:           20,
			CleanupInterval: 5 * time.Minute,
			MaxIdleTime:     10 * time.Minute,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claude-hive"
	}
	return filepath.Join(home, ".claude-hive")
}
