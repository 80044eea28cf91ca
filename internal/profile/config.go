package profile

import (
	"fmt"
	"sort"
)

// Power source values of the Basic cluster PowerSource attribute.
const (
	PowerUnknown           uint8 = 0x00
	PowerMains             uint8 = 0x01
	PowerMains3Phase       uint8 = 0x02
	PowerBattery           uint8 = 0x03
	PowerDC                uint8 = 0x04
	PowerEmergencyMains    uint8 = 0x05
	PowerEmergencyTransfer uint8 = 0x06
)

var powerSources = map[string]uint8{
	"unknown":            PowerUnknown,
	"mains":              PowerMains,
	"mains_3phase":       PowerMains3Phase,
	"battery":            PowerBattery,
	"dc":                 PowerDC,
	"emergency_mains":    PowerEmergencyMains,
	"emergency_transfer": PowerEmergencyTransfer,
}

// ParsePowerSource maps a config name to the PowerSource enum value.
func ParsePowerSource(name string) (uint8, error) {
	v, ok := powerSources[name]
	if !ok {
		names := make([]string, 0, len(powerSources))
		for n := range powerSources {
			names = append(names, n)
		}
		sort.Strings(names)
		return 0, fmt.Errorf("unknown power source %q (want one of %v)", name, names)
	}
	return v, nil
}

// Defaults applied by Config.ApplyDefaults.
const (
	DefaultMaxChildren = 10
	DefaultEndpointID  = 1
	DefaultPowerSource = "mains"
)

// Config is the YAML form of the device profile.
type Config struct {
	ManufacturerName string           `yaml:"manufacturer_name"`
	ModelIdentifier  string           `yaml:"model_identifier"`
	PowerSource      string           `yaml:"power_source"`
	DateCode         string           `yaml:"date_code"`
	SWBuildID        string           `yaml:"sw_build_id"`
	Network          NetworkConfig    `yaml:"network"`
	Endpoints        []EndpointConfig `yaml:"endpoints"`
}

// NetworkConfig holds the router network settings.
type NetworkConfig struct {
	MaxChildren       int    `yaml:"max_children"`
	InstallCodePolicy bool   `yaml:"install_code_policy"`
	ChannelMask       uint32 `yaml:"channel_mask"`
	// Channels, when set, overrides ChannelMask.
	Channels []int `yaml:"channels"`
}

// EndpointConfig describes one endpoint. Basic and Identify are always added
// and must not be listed in StandardClusters.
type EndpointConfig struct {
	ID               uint8           `yaml:"id"`
	ProfileID        uint16          `yaml:"profile_id"`
	DeviceID         uint16          `yaml:"device_id"`
	DeviceVersion    uint8           `yaml:"device_version"`
	StandardClusters []uint16        `yaml:"standard_clusters"`
	CustomClusters   []ClusterConfig `yaml:"custom_clusters"`
}

// ClusterConfig is a manufacturer-specific cluster.
type ClusterConfig struct {
	ID         uint16            `yaml:"id"`
	Name       string            `yaml:"name"`
	Attributes []AttributeConfig `yaml:"attributes"`
}

// AttributeConfig is one attribute of a custom cluster. Type is a zcl type
// name such as "uint16" or "string"; Access is "read_only", "write_only" or
// "read_write" with an optional "+report" suffix. Octet string values are
// given as hex.
type AttributeConfig struct {
	ID     uint16      `yaml:"id"`
	Name   string      `yaml:"name"`
	Type   string      `yaml:"type"`
	Access string      `yaml:"access"`
	Value  interface{} `yaml:"value"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.PowerSource == "" {
		c.PowerSource = DefaultPowerSource
	}
	if c.Network.MaxChildren == 0 {
		c.Network.MaxChildren = DefaultMaxChildren
	}
	if c.Network.ChannelMask == 0 {
		c.Network.ChannelMask = ChannelMaskAll
	}
	if len(c.Endpoints) == 0 {
		c.Endpoints = []EndpointConfig{{ID: DefaultEndpointID}}
	}
	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		if ep.ProfileID == 0 {
			ep.ProfileID = ProfileHA
		}
		if ep.DeviceID == 0 {
			ep.DeviceID = DeviceIDCustomAttr
		}
		for j := range ep.CustomClusters {
			for k := range ep.CustomClusters[j].Attributes {
				if ep.CustomClusters[j].Attributes[k].Access == "" {
					ep.CustomClusters[j].Attributes[k].Access = "read_only"
				}
			}
		}
	}
}

// channelMask resolves the effective channel mask.
func (n *NetworkConfig) channelMask() (uint32, error) {
	if len(n.Channels) == 0 {
		return n.ChannelMask, nil
	}
	var mask uint32
	for _, ch := range n.Channels {
		if ch < 11 || ch > 26 {
			return 0, fmt.Errorf("channel %d out of range 11-26", ch)
		}
		mask |= 1 << uint(ch)
	}
	return mask, nil
}

// DefaultConfig returns the profile of the heat controller this daemon was
// first written for: one HA endpoint carrying a vendor cluster 0xFF00 with a
// reportable write-only string and a read-write uint16.
func DefaultConfig() Config {
	cfg := Config{
		ManufacturerName: "vsliouniaev",
		ModelIdentifier:  "Heat Controller",
		PowerSource:      "mains",
		Endpoints: []EndpointConfig{{
			ID:        DefaultEndpointID,
			ProfileID: ProfileHA,
			DeviceID:  DeviceIDCustomAttr,
			CustomClusters: []ClusterConfig{{
				ID:   0xFF00,
				Name: "Custom",
				Attributes: []AttributeConfig{
					{ID: 0x0000, Name: "Message", Type: "string", Access: "write_only+report", Value: "hello world"},
					{ID: 0x0001, Name: "Counter", Type: "uint16", Access: "read_write", Value: 0x1234},
				},
			}},
		}},
	}
	cfg.ApplyDefaults()
	return cfg
}
