//go:build no_mqtt

package main

import (
	"log/slog"

	"zigbee-go-router/internal/events"
	"zigbee-go-router/internal/profile"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(cfg *Config, _ *profile.DeviceDescriptor, _ string, _ *events.Bus, _ func() interface{}, logger *slog.Logger) *mqttStopper {
	if cfg.MQTT.Enabled {
		logger.Warn("mqtt enabled in config but not compiled in (built with no_mqtt)")
	}
	return &mqttStopper{}
}
