//go:build !no_automation

package main

import (
	"log/slog"

	"zigbee-go-router/internal/automation"
	"zigbee-go-router/internal/events"
)

type autoStopper struct {
	engine *automation.Engine
}

func (a *autoStopper) Stop() {
	if a.engine != nil {
		a.engine.Stop()
	}
}

func initAutomation(cfg *Config, bus *events.Bus, status func() interface{}, logger *slog.Logger) *autoStopper {
	if cfg.Automation.ScriptsDir == "" {
		return &autoStopper{}
	}
	scriptMgr, err := automation.NewManager(cfg.Automation.ScriptsDir, logger)
	if err != nil {
		logger.Error("create script manager", "err", err)
		return &autoStopper{}
	}
	engine := automation.NewEngine(scriptMgr, bus, status, logger)
	engine.Start()
	return &autoStopper{engine: engine}
}
