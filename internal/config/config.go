// Package config loads the server configuration from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	// Listen is the address the data/admin server binds.
	Listen string `yaml:"listen"`

	// MetricsListen is the Prometheus scrape address; empty disables it.
	MetricsListen string `yaml:"metrics-listen"`

	// DataDir holds the store and the persisted cluster topology.
	DataDir string `yaml:"data-dir"`

	// RequirePass, when set, makes clients AUTH before any other command.
	RequirePass string `yaml:"requirepass"`

	// NodeID identifies this node in the cluster topology. Empty means a
	// standalone node.
	NodeID string `yaml:"node-id"`

	// Namespace is the tenant namespace keys are stored under.
	Namespace string `yaml:"namespace"`

	// MigrateSpeed caps migration throughput in commands per second;
	// zero disables the limit.
	MigrateSpeed int `yaml:"migrate-speed"`

	// MigratePipelineSize is how many commands one destination round trip
	// carries.
	MigratePipelineSize int `yaml:"migrate-pipeline-size"`

	// MigrateSequenceGap is the max unreplayed log entries tolerated before
	// the write-blocked cutover may begin.
	MigrateSequenceGap uint64 `yaml:"migrate-sequence-gap"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:              "127.0.0.1:6666",
		DataDir:             "data",
		MigrateSpeed:        4096,
		MigratePipelineSize: 16,
		MigrateSequenceGap:  10000,
	}
}

// Load reads and validates a YAML config file, filling unset fields with
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data-dir must not be empty")
	}
	if c.MigrateSpeed < 0 {
		return fmt.Errorf("migrate-speed must not be negative")
	}
	if c.MigratePipelineSize <= 0 {
		return fmt.Errorf("migrate-pipeline-size must be positive")
	}
	if c.MigrateSequenceGap == 0 {
		return fmt.Errorf("migrate-sequence-gap must be positive")
	}
	return nil
}
