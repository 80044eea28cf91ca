//go:build !no_mqtt

// Package mqtt publishes the router's commissioning status and events to an
// MQTT broker, with Home Assistant discovery for the node itself.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zigbee-go-router/internal/events"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	// NodeID names the node in topics; derived from the descriptor when empty.
	NodeID string `yaml:"node_id"`
	// DisableDiscovery withdraws the HA discovery entries instead of
	// publishing them.
	DisableDiscovery bool `yaml:"disable_discovery"`
}

// StatusFunc returns the current node status as a JSON-encodable value.
type StatusFunc func() interface{}

// Bridge mirrors bus events onto MQTT topics:
//
//	<prefix>/<node>/availability  online|offline (retained, last will)
//	<prefix>/<node>/state         status JSON (retained)
//	<prefix>/<node>/event/<type>  event JSON
type Bridge struct {
	client pahomqtt.Client
	bus    *events.Bus
	status StatusFunc
	node   Node
	prefix string
	noDisc bool
	logger *slog.Logger
	unsub  func()
}

// NewBridge creates and connects an MQTT bridge. bootID distinguishes the
// client id of successive runs.
func NewBridge(cfg Config, node Node, bootID string, bus *events.Bus, status StatusFunc, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(nil, cfg, node, bus, status, logger)

	clientID := b.node.ID
	if len(bootID) >= 8 {
		clientID += "-" + bootID[:8]
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(b.availabilityTopic(), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// The client must be set before Connect fires the on-connect handler.
	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

func newBridge(client pahomqtt.Client, cfg Config, node Node, bus *events.Bus, status StatusFunc, logger *slog.Logger) *Bridge {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "zigbee-router"
	}
	if cfg.NodeID != "" {
		node.ID = cfg.NodeID
	}
	node.ID = topicSafe(node.ID)
	return &Bridge{
		client: client,
		bus:    bus,
		status: status,
		node:   node,
		prefix: prefix,
		noDisc: cfg.DisableDiscovery,
		logger: logger.With("component", "mqtt"),
	}
}

// Start subscribes to bus events and begins publishing.
func (b *Bridge) Start() {
	b.unsub = b.bus.OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix, "node", b.node.ID)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	token := b.client.Publish(b.availabilityTopic(), 1, true, []byte("offline"))
	token.WaitTimeout(2 * time.Second)
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) onConnect() {
	b.publish(b.availabilityTopic(), []byte("online"), true)
	msgs := buildDiscovery(b.node, b.prefix)
	if b.noDisc {
		msgs = buildRemoveDiscovery(b.node)
	}
	for _, msg := range msgs {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.publishState()
}

func (b *Bridge) handleEvent(event events.Event) {
	b.publish(b.eventTopic(event.Type), mustJSON(event), false)
	switch event.Type {
	case events.EventPhaseChanged, events.EventNetworkJoined, events.EventNetworkResumed,
		events.EventSteeringFailed, events.EventCommissioningFail:
		b.publishState()
	}
}

func (b *Bridge) publishState() {
	if b.status == nil {
		return
	}
	b.publish(b.stateTopic(), mustJSON(b.status()), true)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func (b *Bridge) nodeTopic() string         { return b.prefix + "/" + b.node.ID }
func (b *Bridge) stateTopic() string        { return b.nodeTopic() + "/state" }
func (b *Bridge) availabilityTopic() string { return b.nodeTopic() + "/availability" }

func (b *Bridge) eventTopic(eventType string) string {
	return b.nodeTopic() + "/event/" + topicSafe(eventType)
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
