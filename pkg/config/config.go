// Package config loads a rank's YAML configuration file: a nested
// struct-of-structs with DefaultConfig / Load / Save / Validate,
// populated with NOMAD's own sections (model, dataset, transport,
// logging, metrics, shutdown).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration for one rank's process.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Dataset   DatasetConfig   `yaml:"dataset"`
	Transport TransportConfig `yaml:"transport"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Shutdown  ShutdownConfig  `yaml:"shutdown"`
}

// ModelConfig holds the factorization dimensions and SGD
// hyperparameters (§2, §4.3).
type ModelConfig struct {
	M             int     `yaml:"m"`              // number of users
	N             int     `yaml:"n"`               // number of items
	K             int     `yaml:"k"`               // latent rank
	Lambda        float64 `yaml:"lambda"`
	DecayRate     float64 `yaml:"decay_rate"`
	LearningRate  float64 `yaml:"learning_rate"`
	NRetries      int     `yaml:"n_retries"`       // permutation table rows (§4.5)
	SignCorrected bool    `yaml:"sign_corrected"`  // §9 Open Question 1
}

// DatasetConfig holds the per-rank ingest file convention (§ ingest).
type DatasetConfig struct {
	PathTemplate string `yaml:"path_template"` // e.g. "/data/ratings_%d.csv"
	Delimiter    string `yaml:"delimiter"`      // single character; defaults to ","
}

// TransportConfig holds the network-facing settings for pkg/transport.
type TransportConfig struct {
	Kind           string            `yaml:"kind"` // "httprpc" or "inmemory"
	ListenAddr     string            `yaml:"listen_addr"`
	Addresses      map[int]string    `yaml:"addresses"`      // rank -> base URL, httprpc only
	Machines       map[int]string    `yaml:"machines"`       // rank -> opaque machine id, for local-team grouping
	DialTimeout    time.Duration     `yaml:"dial_timeout"`
	BarrierSize    int               `yaml:"barrier_size"`
}

// LoggingConfig controls the zerolog-backed logger (reporting.Logger).
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|text
}

// MetricsConfig controls the Prometheus exposition endpoint (pkg/metrics).
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"` // e.g. ":9100"
}

// ShutdownConfig controls drain-and-stop behavior (pkg/shutdown).
type ShutdownConfig struct {
	StopFile             string        `yaml:"stop_file"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	EnableSignalHandlers bool          `yaml:"enable_signal_handlers"`
}

// DefaultConfig returns the hyperparameter defaults named in §4.3 plus
// conservative ambient-stack defaults.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			K:            100,
			Lambda:       0.05,
			DecayRate:    0.012,
			LearningRate: 1e-4,
			NRetries:     40,
		},
		Dataset: DatasetConfig{
			PathTemplate: "./data/ratings_%d.csv",
			Delimiter:    ",",
		},
		Transport: TransportConfig{
			Kind:        "httprpc",
			DialTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9100",
		},
		Shutdown: ShutdownConfig{
			StopFile:     "/tmp/nomad-drain-stop",
			PollInterval: time.Second,
		},
	}
}

// Load loads configuration from a YAML file over DefaultConfig. An empty
// path means "nomad.yaml" in the working directory; if the file does not
// exist, DefaultConfig is returned unchanged. When a file is read,
// NOMAD_METRICS_ADDR, if set, overrides metrics.addr (highest priority,
// applied after parsing).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = "nomad.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	metricsAddrEnv, metricsAddrSet := os.LookupEnv("NOMAD_METRICS_ADDR")

	expanded := []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if metricsAddrSet {
		cfg.Metrics.Addr = metricsAddrEnv
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration is complete enough to launch a
// rank.
func (c *Config) Validate() error {
	if c.Model.K < 1 {
		return fmt.Errorf("model.k must be at least 1")
	}
	if c.Model.M < 1 || c.Model.N < 1 {
		return fmt.Errorf("model.m and model.n are required and must be positive")
	}
	if c.Model.NRetries < 1 {
		return fmt.Errorf("model.n_retries must be at least 1")
	}
	if c.Dataset.PathTemplate == "" {
		return fmt.Errorf("dataset.path_template is required")
	}
	if c.Transport.Kind != "httprpc" && c.Transport.Kind != "inmemory" {
		return fmt.Errorf("transport.kind must be \"httprpc\" or \"inmemory\", got %q", c.Transport.Kind)
	}
	return nil
}
