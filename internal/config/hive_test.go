package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const fleetYAML = `
workers:
  zeta:
    host: 10.0.0.9
    port: 9000
    capabilities: [frontend]
  alpha:
    host: 10.0.0.2
    tags: [gpu]
  broken: "not a mapping"
  bare: {}
routing:
  - pattern: "react|css"
    worker: zeta
  - pattern: "sql"
    worker: alpha
  - pattern: "missing worker"
  - default: alpha
client:
  read_timeout: 10m
dispatch:
  fan_out_limit: 4
`

func TestLoadHiveFleetOrder(t *testing.T) {
	cfg, err := LoadHive(writeFile(t, "claude-hive.yaml", fleetYAML))
	if err != nil {
		t.Fatalf("LoadHive: %v", err)
	}

	want := []string{"zeta", "alpha", "bare"}
	if len(cfg.Workers) != len(want) {
		t.Fatalf("expected %d workers, got %+v", len(want), cfg.Workers)
	}
	for i, name := range want {
		if cfg.Workers[i].Name != name {
			t.Errorf("worker %d: got %s, want %s", i, cfg.Workers[i].Name, name)
		}
	}

	zeta := cfg.Workers[0]
	if zeta.Host != "10.0.0.9" || zeta.Port != 9000 || !zeta.HasCapability("frontend") {
		t.Errorf("unexpected zeta: %+v", zeta)
	}
	bare, _ := cfg.Lookup("bare")
	if bare.Host != "localhost" || bare.Port != 8765 {
		t.Errorf("expected host/port defaults, got %+v", bare)
	}
	if cfg.Client.ReadTimeout != 10*time.Minute {
		t.Errorf("expected read timeout 10m, got %v", cfg.Client.ReadTimeout)
	}
	if cfg.Client.ConnectTimeout != 30*time.Second {
		t.Errorf("expected default connect timeout, got %v", cfg.Client.ConnectTimeout)
	}
	if cfg.Dispatch.FanOutLimit != 4 {
		t.Errorf("expected fan-out 4, got %d", cfg.Dispatch.FanOutLimit)
	}
}

func TestLoadHiveRouting(t *testing.T) {
	cfg, err := LoadHive(writeFile(t, "claude-hive.yaml", fleetYAML))
	if err != nil {
		t.Fatalf("LoadHive: %v", err)
	}

	if len(cfg.Routing) != 2 {
		t.Fatalf("expected 2 rules, got %+v", cfg.Routing)
	}
	if cfg.Routing[0].Pattern != "react|css" || cfg.Routing[0].Worker != "zeta" {
		t.Errorf("unexpected first rule: %+v", cfg.Routing[0])
	}
	if cfg.DefaultWorker != "alpha" {
		t.Errorf("expected default alpha, got %q", cfg.DefaultWorker)
	}
}

func TestLoadHiveDefaultIsFirstWorker(t *testing.T) {
	cfg, err := LoadHive(writeFile(t, "claude-hive.yaml", `
workers:
  second-in-alphabet:
    host: b
  first-in-alphabet:
    host: a
`))
	if err != nil {
		t.Fatalf("LoadHive: %v", err)
	}
	if cfg.DefaultWorker != "second-in-alphabet" {
		t.Errorf("expected file-order default, got %q", cfg.DefaultWorker)
	}
}

func TestLoadHiveMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "none.yaml")
	cfg, err := LoadHive(path)
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(cfg.Workers) != 0 || cfg.DefaultWorker != "" || cfg.Source != "" {
		t.Errorf("expected empty fleet, got %+v", cfg)
	}
}

func TestLoadHiveSearchPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	writeAt(t, filepath.Join(dir, ".claude-hive", "config.yml"), "workers:\n  only:\n    host: h\n")

	cfg, err := LoadHive("")
	if err != nil {
		t.Fatalf("LoadHive: %v", err)
	}
	if cfg.Source != filepath.Join(dir, ".claude-hive", "config.yml") {
		t.Errorf("unexpected source %q", cfg.Source)
	}
	if cfg.DefaultWorker != "only" {
		t.Errorf("expected default only, got %q", cfg.DefaultWorker)
	}
}

func TestLoadHiveEnv(t *testing.T) {
	t.Setenv("HIVE_JOURNAL_DSN", "postgres://u:p@db/hive")
	t.Setenv("HIVE_BREAKER_MAX_FAILURES", "2")
	t.Setenv("HIVE_FAN_OUT_LIMIT", "3")

	cfg, err := LoadHive(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("LoadHive: %v", err)
	}
	if cfg.Journal.DSN != "postgres://u:p@db/hive" {
		t.Errorf("unexpected dsn %q", cfg.Journal.DSN)
	}
	if cfg.Breaker.MaxFailures != 2 || cfg.Dispatch.FanOutLimit != 3 {
		t.Errorf("unexpected overrides: %+v %+v", cfg.Breaker, cfg.Dispatch)
	}
}

func TestValidateHive(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Hive)
		wantErr string
	}{
		{"zero connect", func(c *Hive) { c.Client.ConnectTimeout = 0 }, "client.connect_timeout must be > 0"},
		{"zero read", func(c *Hive) { c.Client.ReadTimeout = 0 }, "client.read_timeout must be > 0"},
		{"zero breaker", func(c *Hive) { c.Breaker.MaxFailures = 0 }, "breaker.max_failures must be >= 1"},
		{"negative fan-out", func(c *Hive) { c.Dispatch.FanOutLimit = -1 }, "dispatch.fan_out_limit must be >= 0"},
		{"journal without conns", func(c *Hive) { c.Journal.DSN = "x"; c.Journal.MaxConns = 0 }, "journal.max_conns must be >= 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := HiveDefaults()
			tt.modify(&cfg)
			err := validateHive(&cfg)
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("got %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func writeAt(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
