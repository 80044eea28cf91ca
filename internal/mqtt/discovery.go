//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"

	"zigbee-go-router/internal/profile"
	"zigbee-go-router/internal/zcl"
	"zigbee-go-router/internal/zcl/clusters"
)

// Node identifies the router in topics and in the HA device registry.
type Node struct {
	ID           string
	Manufacturer string
	Model        string
	SWVersion    string
}

// NodeFromDescriptor reads the Basic cluster of the first endpoint. The id
// is "router_" plus the short descriptor fingerprint.
func NodeFromDescriptor(desc *profile.DeviceDescriptor) Node {
	n := Node{ID: "router"}
	if fp, err := desc.Fingerprint(); err == nil {
		n.ID = "router_" + fp.Short()
	}
	if len(desc.Endpoints) == 0 {
		return n
	}
	basic := desc.Endpoints[0].FindCluster(clusters.Basic.ID)
	if basic == nil {
		return n
	}
	str := func(id uint16) string {
		a := basic.FindAttribute(id)
		if a == nil {
			return ""
		}
		v, _, err := zcl.DecodeValue(a.Type, a.Value)
		if err != nil {
			return ""
		}
		s, _ := v.(string)
		return s
	}
	n.Manufacturer = str(clusters.BasicManufacturerName)
	n.Model = str(clusters.BasicModelIdentifier)
	n.SWVersion = str(clusters.BasicSWBuildID)
	return n
}

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/router_ab12.../phase/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	EntityCategory    string   `json:"entity_category,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	Device            haDevice `json:"device"`
}

// nodeDisplayName returns a display name for the node.
func nodeDisplayName(n Node) string {
	if n.Manufacturer != "" && n.Model != "" {
		return n.Manufacturer + " " + n.Model
	}
	if n.Model != "" {
		return n.Model
	}
	return n.ID
}

// topicSafe lowercases s and replaces anything outside [a-z0-9_-] with '_'.
func topicSafe(s string) string {
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, s)
}

// buildDiscovery generates HA discovery messages for the router's status.
func buildDiscovery(n Node, prefix string) []discoveryMsg {
	stateTopic := prefix + "/" + n.ID + "/state"
	avail := prefix + "/" + n.ID + "/availability"
	name := nodeDisplayName(n)

	dev := haDevice{
		Identifiers:  []string{n.ID},
		Manufacturer: n.Manufacturer,
		Model:        n.Model,
		SWVersion:    n.SWVersion,
		Name:         name,
	}

	sensor := func(objectID, suffix, stateClass, category, tmpl string) discoveryMsg {
		return discoveryMsg{
			Topic: fmt.Sprintf("homeassistant/sensor/%s/%s/config", n.ID, objectID),
			Payload: mustJSON(haDiscovery{
				Name:              name + " " + suffix,
				UniqueID:          n.ID + "_" + objectID,
				StateTopic:        stateTopic,
				AvailabilityTopic: avail,
				ValueTemplate:     tmpl,
				StateClass:        stateClass,
				EntityCategory:    category,
				Device:            dev,
			}),
		}
	}

	joined := discoveryMsg{
		Topic: fmt.Sprintf("homeassistant/binary_sensor/%s/joined/config", n.ID),
		Payload: mustJSON(haDiscovery{
			Name:              name + " Joined",
			UniqueID:          n.ID + "_joined",
			StateTopic:        stateTopic,
			AvailabilityTopic: avail,
			ValueTemplate:     "{{ 'ON' if value_json.joined else 'OFF' }}",
			DeviceClass:       "connectivity",
			PayloadOn:         "ON",
			PayloadOff:        "OFF",
			Device:            dev,
		}),
	}

	return []discoveryMsg{
		joined,
		sensor("phase", "Phase", "", "", "{{ value_json.phase }}"),
		sensor("failures", "Steering Failures", "total_increasing", "diagnostic", "{{ value_json.failures }}"),
		sensor("channel", "Channel", "", "diagnostic", "{{ value_json.channel }}"),
		sensor("pan_id", "PAN ID", "", "diagnostic", "{{ value_json.pan_id }}"),
		sensor("short_address", "Short Address", "", "diagnostic", "{{ value_json.short_address }}"),
	}
}

// buildRemoveDiscovery generates empty retained messages that remove the
// node from HA.
func buildRemoveDiscovery(n Node) []discoveryMsg {
	components := []struct{ comp, obj string }{
		{"binary_sensor", "joined"},
		{"sensor", "phase"},
		{"sensor", "failures"},
		{"sensor", "channel"},
		{"sensor", "pan_id"},
		{"sensor", "short_address"},
	}
	var msgs []discoveryMsg
	for _, c := range components {
		msgs = append(msgs, discoveryMsg{
			Topic: fmt.Sprintf("homeassistant/%s/%s/%s/config", c.comp, n.ID, c.obj),
		})
	}
	return msgs
}
