// Kinograph - Personalized Film Discovery and Taste Profiling
// Copyright 2026 Kinograph Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kinograph/kinograph

// Package config loads layered application configuration with Koanf:
// struct defaults, then an optional YAML file, then environment
// variables, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/kinograph/kinograph/internal/api"
	"github.com/kinograph/kinograph/internal/discovery"
	"github.com/kinograph/kinograph/internal/events"
	"github.com/kinograph/kinograph/internal/logging"
	"github.com/kinograph/kinograph/internal/taste"
)

// DefaultConfigPaths lists the config file search order. The first
// existing file wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/kinograph/config.yaml",
	"/etc/kinograph/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Path is the BadgerDB directory. Default: /data/kinograph.
	Path string `json:"path"`

	// InMemory opens an ephemeral database. Never for production.
	InMemory bool `json:"in_memory"`
}

// Config is the complete application configuration.
type Config struct {
	Server  api.Config       `json:"server"`
	Catalog discovery.Config `json:"catalog"`
	Store   StoreConfig      `json:"store"`
	Events  events.Config    `json:"events"`
	Logging logging.Config   `json:"logging"`
	Taste   taste.Config     `json:"taste"`
}

// defaultConfig returns all production defaults.
func defaultConfig() *Config {
	return &Config{
		Server:  api.DefaultConfig(),
		Catalog: discovery.DefaultConfig(),
		Store: StoreConfig{
			Path: "/data/kinograph",
		},
		Events:  events.DefaultConfig(),
		Logging: logging.DefaultConfig(),
		Taste:   *taste.DefaultConfig(),
	}
}

// Load builds the configuration from defaults, optional YAML file, and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "json"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks cross-section constraints.
func (c *Config) Validate() error {
	if err := c.Taste.Validate(); err != nil {
		return err
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path is required unless store.in_memory is set")
	}
	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog.base_url is required")
	}
	return nil
}

// findConfigFile returns the first existing config file path.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists paths parsed as comma-separated slices when
// they arrive as env var strings.
var sliceConfigPaths = []string{
	"server.allowed_origins",
}

// processSliceFields splits comma-separated env values into slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names to config paths.
var envMappings = map[string]string{
	"kinograph_listen_addr":     "server.listen_addr",
	"kinograph_allowed_origins": "server.allowed_origins",
	"kinograph_rate_limit":      "server.rate_limit",
	"kinograph_request_timeout": "server.request_timeout",

	"catalog_base_url":            "catalog.base_url",
	"catalog_api_key":             "catalog.api_key",
	"catalog_timeout":             "catalog.timeout",
	"catalog_requests_per_second": "catalog.requests_per_second",
	"catalog_burst":               "catalog.burst",
	"catalog_per_seed_limit":      "catalog.per_seed_limit",

	"store_path":      "store.path",
	"store_in_memory": "store.in_memory",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"taste_default_k":        "taste.limits.default_k",
	"taste_max_k":            "taste.limits.max_k",
	"taste_max_candidates":   "taste.limits.max_candidates",
	"taste_seed_count":       "taste.limits.seed_count",
	"taste_fetch_workers":    "taste.limits.fetch_workers",
	"taste_diversity_lambda": "taste.diversity.lambda",
	"taste_cache_enabled":    "taste.cache.enabled",
	"taste_cache_ttl":        "taste.cache.ttl",
}

// envTransform maps environment variable names to koanf paths. Unknown
// variables are dropped so the process environment cannot inject
// arbitrary keys.
func envTransform(key string) string {
	return envMappings[strings.ToLower(key)]
}
