package profile

import (
	"encoding/hex"
	"fmt"
	"strings"

	"zigbee-go-router/internal/zcl"
	"zigbee-go-router/internal/zcl/clusters"
)

// ZCLVersion is the value advertised in the Basic cluster.
const ZCLVersion uint8 = 0x08

// Build turns a profile config into a validated router descriptor. Standard
// cluster ids are resolved through reg; their attributes start at the zero
// value of their type. Build does not modify cfg.
func Build(cfg Config, reg *zcl.Registry) (*DeviceDescriptor, error) {
	if cfg.ManufacturerName == "" {
		return nil, fmt.Errorf("%w: manufacturer name is empty", ErrInvalidDescriptor)
	}
	if cfg.ModelIdentifier == "" {
		return nil, fmt.Errorf("%w: model identifier is empty", ErrInvalidDescriptor)
	}
	if cfg.Network.MaxChildren < 0 || cfg.Network.MaxChildren > 255 {
		return nil, fmt.Errorf("%w: max children %d out of range 0-255", ErrInvalidDescriptor, cfg.Network.MaxChildren)
	}
	power, err := ParsePowerSource(cfg.PowerSource)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	mask, err := cfg.Network.channelMask()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	basic, err := basicCluster(cfg, power)
	if err != nil {
		return nil, err
	}

	desc := &DeviceDescriptor{
		Role:              RoleRouter,
		InstallCodePolicy: cfg.Network.InstallCodePolicy,
		MaxChildren:       uint8(cfg.Network.MaxChildren),
		ChannelMask:       mask,
		Endpoints:         make([]Endpoint, 0, len(cfg.Endpoints)),
	}
	for _, epc := range cfg.Endpoints {
		ep, err := buildEndpoint(epc, basic, reg)
		if err != nil {
			return nil, fmt.Errorf("endpoint %d: %w", epc.ID, err)
		}
		desc.Endpoints = append(desc.Endpoints, ep)
	}

	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return desc, nil
}

func buildEndpoint(cfg EndpointConfig, basic Cluster, reg *zcl.Registry) (Endpoint, error) {
	ep := Endpoint{
		ID:            cfg.ID,
		ProfileID:     cfg.ProfileID,
		DeviceID:      cfg.DeviceID,
		DeviceVersion: cfg.DeviceVersion,
	}
	// Each endpoint gets its own copy of Basic.
	ep.Clusters = append(ep.Clusters, copyCluster(basic), identifyCluster())

	for _, id := range cfg.StandardClusters {
		if id == clusters.Basic.ID || id == clusters.Identify.ID {
			return ep, fmt.Errorf("%w: cluster 0x%04X is always present and must not be listed", ErrInvalidDescriptor, id)
		}
		if zcl.IsManufacturerSpecific(id) {
			return ep, fmt.Errorf("%w: cluster 0x%04X is manufacturer-specific, list it under custom_clusters", ErrInvalidDescriptor, id)
		}
		def := reg.Get(id)
		if def == nil {
			return ep, fmt.Errorf("%w: unknown standard cluster 0x%04X", ErrInvalidDescriptor, id)
		}
		ep.Clusters = append(ep.Clusters, standardCluster(def))
	}

	for _, cc := range cfg.CustomClusters {
		c, err := customCluster(cc)
		if err != nil {
			return ep, err
		}
		ep.Clusters = append(ep.Clusters, c)
	}
	return ep, nil
}

func basicCluster(cfg Config, power uint8) (Cluster, error) {
	c := Cluster{ID: clusters.Basic.ID, Name: clusters.Basic.Name, Role: ClusterServer}
	add := func(id uint16, val interface{}) error {
		def := clusters.Basic.FindAttribute(id)
		raw, err := zcl.EncodeValue(def.Type, val)
		if err != nil {
			return fmt.Errorf("%w: basic %s: %v", ErrInvalidDescriptor, def.Name, err)
		}
		c.Attributes = append(c.Attributes, Attribute{
			ID: id, Name: def.Name, Type: def.Type, Access: zcl.AccessRead, Value: raw,
		})
		return nil
	}

	if err := add(clusters.BasicZCLVersion, ZCLVersion); err != nil {
		return c, err
	}
	if err := add(clusters.BasicManufacturerName, cfg.ManufacturerName); err != nil {
		return c, err
	}
	if err := add(clusters.BasicModelIdentifier, cfg.ModelIdentifier); err != nil {
		return c, err
	}
	if cfg.DateCode != "" {
		if err := add(clusters.BasicDateCode, cfg.DateCode); err != nil {
			return c, err
		}
	}
	if err := add(clusters.BasicPowerSource, power); err != nil {
		return c, err
	}
	if cfg.SWBuildID != "" {
		if err := add(clusters.BasicSWBuildID, cfg.SWBuildID); err != nil {
			return c, err
		}
	}
	return c, nil
}

func identifyCluster() Cluster {
	def := clusters.Identify.FindAttribute(clusters.IdentifyTime)
	return Cluster{
		ID:   clusters.Identify.ID,
		Name: clusters.Identify.Name,
		Role: ClusterServer,
		Attributes: []Attribute{{
			ID: def.ID, Name: def.Name, Type: def.Type, Access: def.Access, Value: zcl.ZeroValue(def.Type),
		}},
	}
}

func standardCluster(def *zcl.ClusterDef) Cluster {
	c := Cluster{ID: def.ID, Name: def.Name, Role: ClusterServer}
	for _, a := range def.Attributes {
		c.Attributes = append(c.Attributes, Attribute{
			ID: a.ID, Name: a.Name, Type: a.Type, Access: a.Access, Value: zcl.ZeroValue(a.Type),
		})
	}
	return c
}

func customCluster(cfg ClusterConfig) (Cluster, error) {
	if !zcl.IsManufacturerSpecific(cfg.ID) {
		return Cluster{}, fmt.Errorf("%w: custom cluster 0x%04X outside 0x%04X-0x%04X",
			ErrInvalidDescriptor, cfg.ID, zcl.ManufacturerSpecificMin, zcl.ManufacturerSpecificMax)
	}
	c := Cluster{ID: cfg.ID, Name: cfg.Name, Role: ClusterServer}
	for _, ac := range cfg.Attributes {
		a, err := customAttribute(ac)
		if err != nil {
			return c, fmt.Errorf("cluster 0x%04X: %w", cfg.ID, err)
		}
		c.Attributes = append(c.Attributes, a)
	}
	return c, nil
}

func customAttribute(cfg AttributeConfig) (Attribute, error) {
	typeID, ok := zcl.TypeByName(strings.ToLower(cfg.Type))
	if !ok || typeID == zcl.TypeNoData {
		return Attribute{}, fmt.Errorf("%w: attribute 0x%04X: unknown type %q (want one of %v)",
			ErrInvalidDescriptor, cfg.ID, cfg.Type, zcl.TypeNames())
	}
	access, err := zcl.ParseAccess(cfg.Access)
	if err != nil {
		return Attribute{}, fmt.Errorf("%w: attribute 0x%04X: %v", ErrInvalidDescriptor, cfg.ID, err)
	}

	var raw []byte
	if cfg.Value == nil {
		raw = zcl.ZeroValue(typeID)
	} else {
		val := cfg.Value
		if zcl.IsString(typeID) && typeID != zcl.TypeCharStr && typeID != zcl.TypeCharStr16 {
			s, ok := val.(string)
			if !ok {
				return Attribute{}, fmt.Errorf("%w: attribute 0x%04X: octet string value must be hex text", ErrInvalidDescriptor, cfg.ID)
			}
			b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
			if err != nil {
				return Attribute{}, fmt.Errorf("%w: attribute 0x%04X: %v", ErrInvalidDescriptor, cfg.ID, err)
			}
			val = b
		}
		raw, err = zcl.EncodeValue(typeID, val)
		if err != nil {
			return Attribute{}, fmt.Errorf("%w: attribute 0x%04X: %v", ErrInvalidDescriptor, cfg.ID, err)
		}
	}

	return Attribute{ID: cfg.ID, Name: cfg.Name, Type: typeID, Access: access, Value: raw}, nil
}

func copyCluster(c Cluster) Cluster {
	cp := c
	cp.Attributes = make([]Attribute, len(c.Attributes))
	for i, a := range c.Attributes {
		a.Value = append([]byte(nil), a.Value...)
		cp.Attributes[i] = a
	}
	return cp
}
