package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"zigbee-go-router/internal/commissioning"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), false)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != backendNCP || cfg.NCP.Port != "/dev/ttyACM0" || cfg.NCP.BaudRate != 460800 {
		t.Errorf("backend defaults = %q %+v", cfg.Backend, cfg.NCP)
	}
	if cfg.Device.ManufacturerName != "vsliouniaev" || len(cfg.Device.Endpoints) != 1 {
		t.Errorf("device defaults = %+v", cfg.Device)
	}
	if cfg.Retry.Delay != time.Second || cfg.Web.Listen != "127.0.0.1:8080" {
		t.Errorf("retry/web defaults = %+v %+v", cfg.Retry, cfg.Web)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadConfigRequiredMissing(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), true); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
backend: sim
sim:
  steering_failures: 3
  latency: 50ms
  channel: 20
retry:
  delay: 2s
  max_attempts: 5
  max_delay: 30s
device:
  manufacturer_name: Acme
  model_identifier: Relay
  network:
    channels: [15, 20]
  endpoints:
    - id: 2
      standard_clusters: [0x0006]
log:
  level: debug
`)
	cfg, err := loadConfig(path, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != backendSim || cfg.Sim.SteeringFailures != 3 || cfg.Sim.Latency != 50*time.Millisecond {
		t.Errorf("sim = %q %+v", cfg.Backend, cfg.Sim)
	}
	// Unset sim fields keep their defaults.
	if cfg.Sim.PanID != 0x1A62 {
		t.Errorf("sim pan id = 0x%04X, want default 0x1A62", cfg.Sim.PanID)
	}
	if cfg.Device.ManufacturerName != "Acme" || len(cfg.Device.Endpoints) != 1 || cfg.Device.Endpoints[0].ID != 2 {
		t.Errorf("device = %+v", cfg.Device)
	}
	// The device section replaces the default profile, defaults then fill gaps.
	ep := cfg.Device.Endpoints[0]
	if len(ep.CustomClusters) != 0 || ep.ProfileID != 0x0104 {
		t.Errorf("endpoint = %+v", ep)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("log = %+v", cfg.Log)
	}

	p, ok := cfg.Retry.policy().(commissioning.ExponentialRetry)
	if !ok {
		t.Fatalf("policy = %T, want ExponentialRetry", cfg.Retry.policy())
	}
	if p.Initial != 2*time.Second || p.Max != 30*time.Second || p.MaxAttempts != 5 {
		t.Errorf("policy = %+v", p)
	}
}

func TestFixedRetryPolicy(t *testing.T) {
	cfg := defaultConfig()
	p, ok := cfg.Retry.policy().(commissioning.FixedRetry)
	if !ok {
		t.Fatalf("policy = %T, want FixedRetry", cfg.Retry.policy())
	}
	if p.Delay != time.Second || p.MaxAttempts != 0 {
		t.Errorf("policy = %+v", p)
	}
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := writeConfig(t, "backend: [unterminated")
	if _, err := loadConfig(path, true); err == nil {
		t.Error("expected parse error")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.Backend = "zstack" }, "unknown backend"},
		{"ncp without port", func(c *Config) { c.NCP.Port = "" }, "ncp.port"},
		{"ncp bad baud", func(c *Config) { c.NCP.BaudRate = 0 }, "baud_rate"},
		{"sim bad channel", func(c *Config) { c.Backend = backendSim; c.Sim.Channel = 27 }, "sim.channel"},
		{"sim bad ext pan", func(c *Config) { c.Backend = backendSim; c.Sim.ExtendedPanID = "zz" }, "sim"},
		{"zero retry delay", func(c *Config) { c.Retry.Delay = 0 }, "retry.delay"},
		{"negative attempts", func(c *Config) { c.Retry.MaxAttempts = -1 }, "max_attempts"},
		{"max below delay", func(c *Config) { c.Retry.MaxDelay = time.Millisecond }, "max_delay"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }, "mqtt.broker"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"negative history", func(c *Config) { c.Store.HistoryLimit = -1 }, "history_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    options
		wantErr bool
	}{
		{"defaults", nil, options{configPath: "config.yaml"}, false},
		{"long flag", []string{"--config", "/etc/router.yaml"}, options{configPath: "/etc/router.yaml"}, false},
		{"short flag", []string{"-c", "r.yaml", "--simulate"}, options{configPath: "r.yaml", simulate: true}, false},
		{"positional", []string{"r.yaml", "--factory-reset"}, options{configPath: "r.yaml", factoryReset: true}, false},
		{"version", []string{"--version"}, options{configPath: "config.yaml", showVersion: true}, false},
		{"path twice", []string{"-c", "a.yaml", "b.yaml"}, options{}, true},
		{"extra args", []string{"a.yaml", "b.yaml"}, options{}, true},
		{"unknown flag", []string{"--nope"}, options{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseFlags(%v) succeeded, want error", tt.args)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("parseFlags(%v) = %+v, want %+v", tt.args, got, tt.want)
			}
		})
	}
}
