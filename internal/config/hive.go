package config

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/CodeHive/internal/domain/routing"
	"github.com/Strob0t/CodeHive/internal/domain/worker"
)

// HiveSearchPaths are checked in order by LoadHive when no path is given.
var HiveSearchPaths = []string{
	"~/.claude-hive/config.yaml",
	"~/.claude-hive/config.yml",
	"./claude-hive.yaml",
	"./claude-hive.yml",
}

// Hive holds the controller configuration: the worker fleet, routing rules
// and the controller's own infrastructure.
type Hive struct {
	Workers       []worker.Descriptor `yaml:"-"` // file order is preserved
	Routing       []routing.Rule      `yaml:"-"`
	DefaultWorker string              `yaml:"-"`

	Client   Client   `yaml:"client"`
	Breaker  Breaker  `yaml:"breaker"`
	Dispatch Dispatch `yaml:"dispatch"`
	Journal  Journal  `yaml:"journal"`
	NATS     NATS     `yaml:"nats"`
	Logging  Logging  `yaml:"logging"`
	OTel     OTel     `yaml:"otel"`

	// Source is the file the config was read from, empty when none was found.
	Source string `yaml:"-"`
}

// Client holds worker client timeouts.
type Client struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	Grace          time.Duration `yaml:"grace"` // added to a task's own timeout
}

// Breaker holds per-worker circuit breaker settings.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

// Dispatch bounds controller fan-out. Zero means unbounded.
type Dispatch struct {
	FanOutLimit int `yaml:"fan_out_limit"`
}

// Journal configures the optional PostgreSQL result journal. An empty DSN
// disables it.
type Journal struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// HiveDefaults returns the controller defaults with an empty fleet.
func HiveDefaults() Hive {
	return Hive{
		Client: Client{
			ConnectTimeout: 30 * time.Second,
			ReadTimeout:    300 * time.Second,
			Grace:          30 * time.Second,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Cooldown:    30 * time.Second,
		},
		Journal: Journal{
			MaxConns:        5,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			SubjectPrefix: "hive.events",
		},
		Logging: Logging{
			Level:   "warn",
			Service: "hive",
		},
		OTel: OTel{
			ServiceName: "hive",
			Insecure:    true,
		},
	}
}

// LoadHive reads the controller config from path, or from the first existing
// entry of HiveSearchPaths when path is empty. No file at all yields the
// defaults with an empty fleet.
func LoadHive(path string) (*Hive, error) {
	cfg := HiveDefaults()

	candidates := HiveSearchPaths
	if path != "" {
		candidates = []string{path}
	}

	for _, p := range candidates {
		data, err := loadYAML(&cfg, p)
		if err != nil {
			return nil, fmt.Errorf("config yaml: %w", err)
		}
		if data == nil {
			continue
		}
		if err := parseFleet(&cfg, data); err != nil {
			return nil, fmt.Errorf("config yaml: %s: %w", p, err)
		}
		cfg.Source = expandHome(p)
		break
	}

	loadHiveEnv(&cfg)

	if err := validateHive(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, nil
}

// fleetDoc captures the sections whose order matters. yaml.v3 mapping nodes
// keep document order; map[string]T would not.
type fleetDoc struct {
	Workers yaml.Node   `yaml:"workers"`
	Routing []yaml.Node `yaml:"routing"`
}

func parseFleet(cfg *Hive, data []byte) error {
	var doc fleetDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}

	cfg.Workers = nil
	if doc.Workers.Kind == yaml.MappingNode {
		content := doc.Workers.Content
		for i := 0; i+1 < len(content); i += 2 {
			name := content[i].Value
			val := content[i+1]
			if val.Kind != yaml.MappingNode {
				continue
			}
			var d worker.Descriptor
			if err := val.Decode(&d); err != nil {
				return fmt.Errorf("worker %q: %w", name, err)
			}
			d.Name = name
			if d.Host == "" {
				d.Host = "localhost"
			}
			if d.Port == 0 {
				d.Port = worker.DefaultPort
			}
			cfg.Workers = append(cfg.Workers, d)
		}
	}

	cfg.Routing = nil
	cfg.DefaultWorker = ""
	for i := range doc.Routing {
		var entry struct {
			Pattern string `yaml:"pattern"`
			Worker  string `yaml:"worker"`
			Default string `yaml:"default"`
		}
		if err := doc.Routing[i].Decode(&entry); err != nil {
			return fmt.Errorf("routing[%d]: %w", i, err)
		}
		switch {
		case entry.Default != "":
			cfg.DefaultWorker = entry.Default
		case entry.Pattern != "" && entry.Worker != "":
			cfg.Routing = append(cfg.Routing, routing.Rule{Pattern: entry.Pattern, Worker: entry.Worker})
		}
	}

	if cfg.DefaultWorker == "" && len(cfg.Workers) > 0 {
		cfg.DefaultWorker = cfg.Workers[0].Name
	}
	return nil
}

func loadHiveEnv(cfg *Hive) {
	setDuration(&cfg.Client.ConnectTimeout, "HIVE_CONNECT_TIMEOUT")
	setDuration(&cfg.Client.ReadTimeout, "HIVE_READ_TIMEOUT")
	setInt(&cfg.Breaker.MaxFailures, "HIVE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Cooldown, "HIVE_BREAKER_COOLDOWN")
	setInt(&cfg.Dispatch.FanOutLimit, "HIVE_FAN_OUT_LIMIT")

	setString(&cfg.Journal.DSN, "HIVE_JOURNAL_DSN")
	setInt32(&cfg.Journal.MaxConns, "HIVE_JOURNAL_MAX_CONNS")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.SubjectPrefix, "HIVE_NATS_SUBJECT_PREFIX")

	setString(&cfg.Logging.Level, "HIVE_LOG_LEVEL")
	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTel.ServiceName, "OTEL_SERVICE_NAME")
}

func validateHive(cfg *Hive) error {
	if cfg.Client.ConnectTimeout <= 0 {
		return errors.New("client.connect_timeout must be > 0")
	}
	if cfg.Client.ReadTimeout <= 0 {
		return errors.New("client.read_timeout must be > 0")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Dispatch.FanOutLimit < 0 {
		return errors.New("dispatch.fan_out_limit must be >= 0")
	}
	if cfg.Journal.DSN != "" && cfg.Journal.MaxConns < 1 {
		return errors.New("journal.max_conns must be >= 1")
	}
	return nil
}

// Lookup returns the descriptor for the named worker.
func (h *Hive) Lookup(name string) (worker.Descriptor, bool) {
	for _, w := range h.Workers {
		if w.Name == name {
			return w, true
		}
	}
	return worker.Descriptor{}, false
}
