// Package config loads the supervisor's worker-type descriptor table from a
// YAML file via viper, with environment-variable overrides layered on top.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"

	"github.com/taskforge/fleet/internal/envelope"
)

// WorkerDescriptor is the static, immutable-during-a-run configuration for
// one declared worker type: its name, how many instances the supervisor
// should keep alive, and an opaque environment config map passed through to
// each spawned child's process environment.
type WorkerDescriptor struct {
	Name    string            `mapstructure:"name"`
	Count   int               `mapstructure:"count"`
	Command []string          `mapstructure:"command"`
	Config  map[string]string `mapstructure:"config"`
}

// LokiConfig mirrors plantd's core/config.LokiConfig shape: where to ship
// warn-and-above log records and which static labels to attach.
type LokiConfig struct {
	Address string            `mapstructure:"address"`
	Labels  map[string]string `mapstructure:"labels"`
}

// LogConfig mirrors plantd's core/config.LogConfig: console formatter,
// level, and the optional Loki shipping hook.
type LogConfig struct {
	Level     string     `mapstructure:"level"`
	Formatter string     `mapstructure:"formatter"`
	Loki      LokiConfig `mapstructure:"loki"`
}

// Config is the supervisor's full static configuration.
type Config struct {
	Log LogConfig `mapstructure:"log"`

	// HeartbeatInterval is how often a worker is expected to emit a health
	// beat, and the tick at which the supervisor's watchdog sweeps for
	// overdue workers.
	HeartbeatInterval string `mapstructure:"heartbeat_interval"`

	// HeartbeatLiveness is the number of missed heartbeat intervals a
	// worker is allowed before the watchdog restarts it.
	HeartbeatLiveness int `mapstructure:"heartbeat_liveness"`

	// BackoffInterval is the delay the router waits before retrying a
	// message after every candidate worker reported busy.
	BackoffInterval string `mapstructure:"backoff_interval"`

	// PersistencePath, if non-empty, turns on durable pending-table
	// persistence backed by bbolt at this file path.
	PersistencePath string `mapstructure:"persistence_path"`

	// Workers is the declared worker-type table, loaded at startup and
	// immutable for the life of the supervisor process (the set of types
	// is not discovered dynamically, per the spec's Non-goals).
	Workers []WorkerDescriptor `mapstructure:"workers"`
}

// DefaultConfig returns sane defaults mirroring the reference worker
// endpoints named in spec.md §6. Each descriptor's Command names the
// matching cmd/ binary by its bare name, resolved against PATH the way
// exec.Command does for any argv[0] without a slash in it — install the
// four reference workers with `go install ./cmd/...` or override Command
// with an absolute path in fleet.yaml.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:     "info",
			Formatter: "text",
			Loki: LokiConfig{
				Address: "http://localhost:3100",
				Labels:  map[string]string{"app": "fleet-supervisor"},
			},
		},
		HeartbeatInterval: "10s",
		HeartbeatLiveness: 3,
		BackoffInterval:   "5s",
		Workers: []WorkerDescriptor{
			{Name: "DatabaseWorker", Count: 1, Command: []string{"dbworker"}, Config: map[string]string{
				"db_url": "postgres://localhost:5432/projects", "db_name": "projects", "collection_name": "projects",
			}},
			{Name: "HttpWorker", Count: 1, Command: []string{"httpworker"}, Config: map[string]string{
				"port": "4000", "jwt_secret": "",
			}},
			{Name: "QueueWorker", Count: 1, Command: []string{"queueworker"}, Config: map[string]string{
				"consumeQueue": "project.tasks", "consumeCompensationQueue": "project.tasks.compensation",
				"produceQueue": "project.events", "rabbitMqUrl": "amqp://localhost:5672",
			}},
			{Name: "GraphqlWorker", Count: 1, Command: []string{"graphqlworker"}, Config: map[string]string{
				"graphql_port": "4001", "jwt_secret": "",
			}},
		},
	}
}

// Load reads filename (if it exists) through viper, applies
// FLEET_<WORKERTYPE>_<KEY>-shaped environment overrides onto each worker
// descriptor's Config map the way core/util.Getenv layers a fallback, and
// validates the result.
func Load(filename string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	if filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: read %s: %w", filename, err)
			}
		} else if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("config: unmarshal %s: %w", filename, err)
		}
	}

	v.SetEnvPrefix("FLEET")
	v.AutomaticEnv()

	for i := range cfg.Workers {
		applyEnvOverrides(v, &cfg.Workers[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(v *viper.Viper, w *WorkerDescriptor) {
	prefix := strings.ToUpper(w.Name) + "_"
	for key := range w.Config {
		envKey := prefix + strings.ToUpper(key)
		if val := v.GetString(envKey); val != "" {
			w.Config[key] = val
		}
	}
}

// Validate enforces the invariants §4.1 requires before spawn: a worker
// type's declared Count must be at least 1, and its Name must satisfy the
// same grammar a destination's WorkerType prefix does.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for _, w := range c.Workers {
		if w.Count < 1 {
			return fmt.Errorf("config: worker %q has count %d, must be >= 1", w.Name, w.Count)
		}
		if _, _, err := envelope.ParseDestination(w.Name); err != nil {
			return fmt.Errorf("config: worker name %q is invalid: %w", w.Name, err)
		}
		if seen[w.Name] {
			return fmt.Errorf("config: worker %q declared more than once", w.Name)
		}
		seen[w.Name] = true
	}
	return nil
}

// DescriptorFor returns the descriptor for workerType, if declared.
func (c *Config) DescriptorFor(workerType string) (WorkerDescriptor, bool) {
	for _, w := range c.Workers {
		if w.Name == workerType {
			return w, true
		}
	}
	return WorkerDescriptor{}, false
}
