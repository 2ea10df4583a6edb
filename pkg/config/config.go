// Package config loads the gateway's configuration: Upstream's
// location, the gateway's own listen address, and feature toggles,
// via the teacher's layered pattern (defaults, then YAML file, then
// environment overrides).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	gwerrors "github.com/odvcencio/modelgateway/pkg/errors"
	"github.com/odvcencio/modelgateway/pkg/paths"
)

// Config is the gateway's full configuration.
type Config struct {
	Listen   string         `yaml:"listen"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Bus      BusConfig      `yaml:"bus"`
	LogDir   string         `yaml:"log_dir"`
}

// UpstreamConfig locates the Upstream model-editing service.
type UpstreamConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// BusConfig configures the lifecycle event bus.
type BusConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// DefaultConfig returns the gateway's out-of-the-box configuration.
func DefaultConfig() Config {
	return Config{
		Listen: ":8090",
		Upstream: UpstreamConfig{
			BaseURL:        "http://localhost:8888",
			RequestTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{Enabled: true},
		Bus:     BusConfig{Enabled: false, URL: "nats://localhost:4222"},
		LogDir:  paths.GatewayLogsBaseDir(),
	}
}

// Load builds a Config by starting from DefaultConfig, merging path
// (if non-empty) on top, then applying environment overrides, then
// validating the result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadAndMerge(&cfg, path); err != nil {
			return Config{}, gwerrors.Wrap(err, gwerrors.ErrCodeConfigLoad, fmt.Sprintf("loading config file %s", path))
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadAndMerge loads a YAML file and merges its set fields into cfg.
// Only fields explicitly present in the file (tracked via a parallel
// map[string]any decode) override cfg's current values, so a partial
// override file never zeroes out defaults it doesn't mention.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return gwerrors.Wrap(err, gwerrors.ErrCodeConfigParse, "parsing YAML")
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return gwerrors.Wrap(err, gwerrors.ErrCodeConfigParse, "parsing YAML")
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

func mergeConfigs(base, override *Config, raw map[string]any) {
	if fieldSet(raw, "listen") {
		base.Listen = override.Listen
	}
	if fieldSet(raw, "log_dir") {
		base.LogDir = override.LogDir
	}

	if upstream, ok := raw["upstream"].(map[string]any); ok {
		if fieldSet(upstream, "base_url") {
			base.Upstream.BaseURL = override.Upstream.BaseURL
		}
		if fieldSet(upstream, "request_timeout") {
			base.Upstream.RequestTimeout = override.Upstream.RequestTimeout
		}
	}

	if metrics, ok := raw["metrics"].(map[string]any); ok {
		if fieldSet(metrics, "enabled") {
			base.Metrics.Enabled = override.Metrics.Enabled
		}
	}

	if bus, ok := raw["bus"].(map[string]any); ok {
		if fieldSet(bus, "enabled") {
			base.Bus.Enabled = override.Bus.Enabled
		}
		if fieldSet(bus, "url") {
			base.Bus.URL = override.Bus.URL
		}
	}
}

// fieldSet reports whether key is present in a decoded YAML map,
// distinguishing "not mentioned" from "explicitly set to the zero
// value" (the teacher's boolFieldSet, generalized to any field).
func fieldSet(raw map[string]any, key string) bool {
	_, ok := raw[key]
	return ok
}

const envPrefix = "MODELGATEWAY_"

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envPrefix + "LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv(envPrefix + "UPSTREAM_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv(envPrefix + "UPSTREAM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Upstream.RequestTimeout = d
		}
	}
	if v := os.Getenv(envPrefix + "METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if v := os.Getenv(envPrefix + "BUS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Bus.Enabled = b
		}
	}
	if v := os.Getenv(envPrefix + "BUS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v := os.Getenv(envPrefix + "LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
}

// Validate checks the configuration is internally consistent.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return gwerrors.New(gwerrors.ErrCodeConfigInvalid, "listen address must not be empty")
	}
	if strings.TrimSpace(c.Upstream.BaseURL) == "" {
		return gwerrors.New(gwerrors.ErrCodeConfigInvalid, "upstream.base_url must not be empty")
	}
	if c.Bus.Enabled && strings.TrimSpace(c.Bus.URL) == "" {
		return gwerrors.New(gwerrors.ErrCodeConfigInvalid, "bus.url must not be empty when bus.enabled is true")
	}
	return nil
}
