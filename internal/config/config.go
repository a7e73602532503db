// Package config loads the actionworker configuration file.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/actionworker/internal/foundation/errors"
	"git.home.luguber.info/inful/actionworker/internal/logfields"
)

// Version is the configuration format version this package reads.
const Version = "1"

// Config is the configuration shared by the worker and host commands.
type Config struct {
	Version   string          `yaml:"version"`
	Worker    WorkerConfig    `yaml:"worker"`
	Transport TransportConfig `yaml:"transport"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Journal   JournalConfig   `yaml:"journal"`
	Host      HostConfig      `yaml:"host"`
}

// WorkerConfig describes the worker process.
type WorkerConfig struct {
	ID string `yaml:"id"`
	// Implementation is the catalog symbol the session serves.
	Implementation string `yaml:"implementation"`
	// ActionLogLevel is the minimum level of action logs sent to the host.
	ActionLogLevel LogLevel `yaml:"action_log_level"`
	// IsolationFile optionally holds a default isolation structure (YAML).
	IsolationFile string `yaml:"isolation_file,omitempty"`
}

// TransportConfig selects how host and worker exchange messages.
type TransportConfig struct {
	Kind          TransportKind `yaml:"kind"`
	NATSURL       string        `yaml:"nats_url,omitempty"`
	SubjectPrefix string        `yaml:"subject_prefix,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// JournalConfig configures the host's outcome journal.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// HostConfig describes how the host starts workers.
type HostConfig struct {
	WorkerBinary string   `yaml:"worker_binary"`
	WorkerArgs   []string `yaml:"worker_args,omitempty"`
}

// Load reads, normalizes, defaults and validates the file at path. Variables
// from .env files are loaded first and ${VAR} references are expanded.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.ConfigError("configuration file not found").
				WithContext("path", path).
				Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to read configuration").
			WithContext("path", path).
			Build()
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes data and finishes it like Load does.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to parse configuration").Build()
	}
	if cfg.Version != "" && cfg.Version != Version {
		return nil, ferrors.ConfigError(fmt.Sprintf("unsupported configuration version %s (expected %s)", cfg.Version, Version)).Build()
	}

	warnings, err := normalize(&cfg)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid configuration").Build()
	}
	for _, w := range warnings {
		slog.Warn("Configuration normalized", "detail", w)
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Version: Version}
	applyDefaults(cfg)
	return cfg
}

// Init writes an example configuration to path.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return ferrors.ConfigError("configuration file already exists (use --force to overwrite)").
			WithContext("path", path).
			Build()
	}
	cfg := Default()
	cfg.Transport.NATSURL = "${NATS_URL}"
	cfg.Host.WorkerBinary = "actionworker"
	cfg.Host.WorkerArgs = []string{"serve"}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal example configuration: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write configuration: %w", err)
	}
	slog.Info("Configuration written", logfields.Path(path))
	return nil
}
