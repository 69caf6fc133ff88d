// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Driftwood clients.
//
// Configuration is loaded from a single YAML file specified by:
//   - the DRIFTWOOD_CONFIG environment variable, or
//   - a --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This keeps configuration
// deterministic and auditable, with no hidden overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable that points at the config file.
const EnvVar = "DRIFTWOOD_CONFIG"

// Config is the master configuration for a Driftwood client.
type Config struct {
	// Relays lists relay URLs the transport connects to. At least one
	// is required.
	Relays []string `yaml:"relays"`

	// Messaging configures the direct message engine.
	Messaging MessagingConfig `yaml:"messaging"`

	// Identity configures where the local identity's key files live.
	Identity IdentityConfig `yaml:"identity"`
}

// MessagingConfig tunes the direct message engine.
type MessagingConfig struct {
	// PageSize is the number of events requested per historical
	// backfill page. Zero uses the engine default.
	PageSize int `yaml:"page_size"`

	// ScanBatchSize is the number of counterparties queried per batch
	// during the comprehensive discovery scan. Zero uses the engine
	// default.
	ScanBatchSize int `yaml:"scan_batch_size"`

	// CorrelationWindow bounds how far a confirmed event's timestamp
	// may drift from its optimistic placeholder and still be treated
	// as the same message. Zero uses the engine default.
	CorrelationWindow time.Duration `yaml:"correlation_window"`
}

// IdentityConfig names the key files for the local identity.
type IdentityConfig struct {
	// SigningKeyFile holds the hex-encoded signing seed.
	SigningKeyFile string `yaml:"signing_key_file"`

	// SealedKeyFile holds the sealed-message private key.
	SealedKeyFile string `yaml:"sealed_key_file"`
}

// Load reads configuration from the file named by the DRIFTWOOD_CONFIG
// environment variable, falling back to flagPath (the --config flag
// value). Exactly one source must name a file.
func Load(flagPath string) (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		path = flagPath
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file specified (set %s or pass --config)", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile reads and validates configuration from the given path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if len(c.Relays) == 0 {
		return fmt.Errorf("at least one relay is required")
	}
	for _, relay := range c.Relays {
		if relay == "" {
			return fmt.Errorf("relay URL must not be empty")
		}
	}
	if c.Messaging.PageSize < 0 {
		return fmt.Errorf("messaging.page_size must not be negative")
	}
	if c.Messaging.ScanBatchSize < 0 {
		return fmt.Errorf("messaging.scan_batch_size must not be negative")
	}
	if c.Messaging.CorrelationWindow < 0 {
		return fmt.Errorf("messaging.correlation_window must not be negative")
	}
	return nil
}
