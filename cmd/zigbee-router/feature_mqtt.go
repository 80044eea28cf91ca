//go:build !no_mqtt

package main

import (
	"log/slog"

	"zigbee-go-router/internal/events"
	mqttbridge "zigbee-go-router/internal/mqtt"
	"zigbee-go-router/internal/profile"
)

type mqttStopper struct {
	bridge *mqttbridge.Bridge
}

func (m *mqttStopper) Stop() {
	if m.bridge != nil {
		m.bridge.Stop()
	}
}

func initMQTT(cfg *Config, desc *profile.DeviceDescriptor, bootID string, bus *events.Bus, status func() interface{}, logger *slog.Logger) *mqttStopper {
	if !cfg.MQTT.Enabled {
		return &mqttStopper{}
	}
	bridge, err := mqttbridge.NewBridge(mqttbridge.Config{
		Broker:           cfg.MQTT.Broker,
		Username:         cfg.MQTT.Username,
		Password:         cfg.MQTT.Password,
		TopicPrefix:      cfg.MQTT.TopicPrefix,
		NodeID:           cfg.MQTT.NodeID,
		DisableDiscovery: cfg.MQTT.DisableDiscovery,
	}, mqttbridge.NodeFromDescriptor(desc), bootID, bus, status, logger)
	if err != nil {
		logger.Error("mqtt bridge", "err", err)
		return &mqttStopper{}
	}
	bridge.Start()
	return &mqttStopper{bridge: bridge}
}
