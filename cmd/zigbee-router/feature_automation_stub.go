//go:build no_automation

package main

import (
	"log/slog"

	"zigbee-go-router/internal/events"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(cfg *Config, _ *events.Bus, _ func() interface{}, logger *slog.Logger) *autoStopper {
	if cfg.Automation.ScriptsDir != "" {
		logger.Warn("automation configured but not compiled in (built with no_automation)")
	}
	return &autoStopper{}
}
