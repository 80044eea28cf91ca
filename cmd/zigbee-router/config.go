package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"zigbee-go-router/internal/automation"
	"zigbee-go-router/internal/commissioning"
	"zigbee-go-router/internal/ncp"
	"zigbee-go-router/internal/profile"
	"zigbee-go-router/internal/sim"
	"zigbee-go-router/internal/web"
)

// Backend names.
const (
	backendNCP = "ncp"
	backendSim = "sim"
)

type Config struct {
	Backend string         `yaml:"backend"` // "ncp" or "sim"
	Device  profile.Config `yaml:"device"`
	NCP     ncp.Config     `yaml:"ncp"`
	Sim     sim.Config     `yaml:"sim"`
	Retry   RetryConfig    `yaml:"retry"`
	Store   struct {
		Path         string `yaml:"path"`
		HistoryLimit int    `yaml:"history_limit"`
	} `yaml:"store"`
	Web  web.Config `yaml:"web"`
	MQTT struct {
		Enabled          bool   `yaml:"enabled"`
		Broker           string `yaml:"broker"`
		Username         string `yaml:"username"`
		Password         string `yaml:"password"`
		TopicPrefix      string `yaml:"topic_prefix"`
		NodeID           string `yaml:"node_id"`
		DisableDiscovery bool   `yaml:"disable_discovery"`
	} `yaml:"mqtt"`
	Automation automation.Config `yaml:"automation"`
	Log        struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// RetryConfig selects the steering retry policy. MaxAttempts 0 retries
// forever; MaxDelay > 0 switches to exponential backoff capped at MaxDelay.
type RetryConfig struct {
	Delay       time.Duration `yaml:"delay"`
	MaxAttempts int           `yaml:"max_attempts"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

func (r RetryConfig) policy() commissioning.RetryPolicy {
	if r.MaxDelay > 0 {
		return commissioning.ExponentialRetry{Initial: r.Delay, Max: r.MaxDelay, MaxAttempts: r.MaxAttempts}
	}
	return commissioning.FixedRetry{Delay: r.Delay, MaxAttempts: r.MaxAttempts}
}

func defaultConfig() Config {
	var cfg Config
	cfg.Backend = backendNCP
	cfg.Device = profile.DefaultConfig()
	cfg.NCP = ncp.DefaultConfig()
	cfg.Sim = sim.DefaultConfig()
	cfg.Retry.Delay = commissioning.DefaultRetryDelay
	cfg.Store.Path = "zigbee-router.db"
	cfg.Web.Listen = "127.0.0.1:8080"
	cfg.MQTT.TopicPrefix = "zigbee-router"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// loadConfig reads path over the defaults. A missing file is only an error
// when required is set.
func loadConfig(path string, required bool) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !required:
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		// A device section replaces the default profile entirely.
		var probe struct {
			Device *yaml.Node `yaml:"device"`
		}
		if err := yaml.Unmarshal(data, &probe); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if probe.Device != nil {
			cfg.Device = profile.Config{}
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.Device.ApplyDefaults()
	if cfg.Store.Path == "" {
		cfg.Store.Path = "zigbee-router.db"
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case backendNCP:
		if c.NCP.Port == "" {
			return fmt.Errorf("ncp.port is required")
		}
		if c.NCP.BaudRate <= 0 {
			return fmt.Errorf("ncp.baud_rate must be positive, got %d", c.NCP.BaudRate)
		}
	case backendSim:
		if _, err := sim.ParseExtendedPanID(c.Sim.ExtendedPanID); err != nil {
			return fmt.Errorf("sim: %w", err)
		}
		if c.Sim.Channel < 11 || c.Sim.Channel > 26 {
			return fmt.Errorf("sim.channel must be 11-26, got %d", c.Sim.Channel)
		}
	default:
		return fmt.Errorf("unknown backend %q (supported: ncp, sim)", c.Backend)
	}
	if c.Retry.Delay <= 0 {
		return fmt.Errorf("retry.delay must be positive")
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative")
	}
	if c.Retry.MaxDelay != 0 && c.Retry.MaxDelay < c.Retry.Delay {
		return fmt.Errorf("retry.max_delay must be at least retry.delay")
	}
	if c.Store.HistoryLimit < 0 {
		return fmt.Errorf("store.history_limit must not be negative")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
