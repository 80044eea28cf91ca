// Package profile assembles the static description of the device: which
// clusters it exposes on which endpoints, their attributes, access rights and
// initial values. The resulting DeviceDescriptor is built once at startup and
// registered with the network stack.
package profile

import (
	"errors"
	"fmt"

	"zigbee-go-router/internal/zcl"
)

// ErrInvalidDescriptor is wrapped by every structural validation failure.
var ErrInvalidDescriptor = errors.New("invalid device descriptor")

// Role is the Zigbee logical device type.
type Role uint8

const (
	RoleCoordinator Role = 0x00
	RoleRouter      Role = 0x01
	RoleEndDevice   Role = 0x02
)

func (r Role) String() string {
	switch r {
	case RoleCoordinator:
		return "coordinator"
	case RoleRouter:
		return "router"
	case RoleEndDevice:
		return "end_device"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// ClusterRole tells whether an endpoint hosts the server or client side.
type ClusterRole uint8

const (
	ClusterServer ClusterRole = 0x01
	ClusterClient ClusterRole = 0x02
)

// Well-known profile and channel constants.
const (
	ProfileHA uint16 = 0x0104

	// DeviceIDCustomAttr is the HA device id used for devices built around a
	// vendor cluster.
	DeviceIDCustomAttr uint16 = 0xFFF2

	// ChannelMaskAll selects every 2.4 GHz channel (11-26).
	ChannelMaskAll uint32 = 0x07FFF800
)

// Attribute is one attribute of a cluster with its initial value already
// encoded in ZCL wire format.
type Attribute struct {
	ID     uint16 `json:"id" cbor:"1,keyasint"`
	Name   string `json:"name,omitempty" cbor:"2,keyasint,omitempty"`
	Type   uint8  `json:"type" cbor:"3,keyasint"`
	Access uint8  `json:"access" cbor:"4,keyasint"`
	Value  []byte `json:"value" cbor:"5,keyasint"`
}

// Cluster is a server-side cluster hosted on an endpoint.
type Cluster struct {
	ID         uint16      `json:"id" cbor:"1,keyasint"`
	Name       string      `json:"name,omitempty" cbor:"2,keyasint,omitempty"`
	Role       ClusterRole `json:"role" cbor:"3,keyasint"`
	Attributes []Attribute `json:"attributes,omitempty" cbor:"4,keyasint,omitempty"`
}

// IsManufacturerSpecific reports whether the cluster uses a vendor id.
func (c *Cluster) IsManufacturerSpecific() bool {
	return zcl.IsManufacturerSpecific(c.ID)
}

// FindAttribute looks up an attribute by ID.
func (c *Cluster) FindAttribute(id uint16) *Attribute {
	for i := range c.Attributes {
		if c.Attributes[i].ID == id {
			return &c.Attributes[i]
		}
	}
	return nil
}

// Endpoint groups clusters under one logical sub-address.
type Endpoint struct {
	ID            uint8     `json:"id" cbor:"1,keyasint"`
	ProfileID     uint16    `json:"profile_id" cbor:"2,keyasint"`
	DeviceID      uint16    `json:"device_id" cbor:"3,keyasint"`
	DeviceVersion uint8     `json:"device_version" cbor:"4,keyasint"`
	Clusters      []Cluster `json:"clusters" cbor:"5,keyasint"`
}

// FindCluster looks up a cluster by ID.
func (e *Endpoint) FindCluster(id uint16) *Cluster {
	for i := range e.Clusters {
		if e.Clusters[i].ID == id {
			return &e.Clusters[i]
		}
	}
	return nil
}

// ServerClusterIDs returns the ids of the server clusters in order.
func (e *Endpoint) ServerClusterIDs() []uint16 {
	ids := make([]uint16, 0, len(e.Clusters))
	for _, c := range e.Clusters {
		if c.Role == ClusterServer {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// ClientClusterIDs returns the ids of the client clusters in order.
func (e *Endpoint) ClientClusterIDs() []uint16 {
	var ids []uint16
	for _, c := range e.Clusters {
		if c.Role == ClusterClient {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// DeviceDescriptor is the immutable device description handed to the
// network stack. Treat it as read-only once built; use Clone to derive a
// modified copy.
type DeviceDescriptor struct {
	Role              Role       `json:"role" cbor:"1,keyasint"`
	InstallCodePolicy bool       `json:"install_code_policy" cbor:"2,keyasint"`
	MaxChildren       uint8      `json:"max_children" cbor:"3,keyasint"`
	ChannelMask       uint32     `json:"channel_mask" cbor:"4,keyasint"`
	Endpoints         []Endpoint `json:"endpoints" cbor:"5,keyasint"`
}

// FindEndpoint looks up an endpoint by ID.
func (d *DeviceDescriptor) FindEndpoint(id uint8) *Endpoint {
	for i := range d.Endpoints {
		if d.Endpoints[i].ID == id {
			return &d.Endpoints[i]
		}
	}
	return nil
}

// Clone returns a deep copy.
func (d *DeviceDescriptor) Clone() *DeviceDescriptor {
	cp := *d
	cp.Endpoints = make([]Endpoint, len(d.Endpoints))
	for i, ep := range d.Endpoints {
		ep.Clusters = make([]Cluster, len(d.Endpoints[i].Clusters))
		for j, c := range d.Endpoints[i].Clusters {
			c.Attributes = make([]Attribute, len(c.Attributes))
			for k, a := range d.Endpoints[i].Clusters[j].Attributes {
				a.Value = append([]byte(nil), a.Value...)
				c.Attributes[k] = a
			}
			ep.Clusters[j] = c
		}
		cp.Endpoints[i] = ep
	}
	return &cp
}

// Validate checks the structural invariants the network stack relies on:
// unique endpoint ids in 1..240, unique cluster ids per endpoint and unique
// attribute ids per cluster. Every attribute must have a known type, sane
// access rights and an initial value matching its type.
func (d *DeviceDescriptor) Validate() error {
	if d.Role != RoleRouter && d.Role != RoleCoordinator && d.Role != RoleEndDevice {
		return fmt.Errorf("%w: unknown role %d", ErrInvalidDescriptor, d.Role)
	}
	if d.ChannelMask&ChannelMaskAll == 0 {
		return fmt.Errorf("%w: channel mask 0x%08X selects no 2.4 GHz channel", ErrInvalidDescriptor, d.ChannelMask)
	}
	if len(d.Endpoints) == 0 {
		return fmt.Errorf("%w: no endpoints", ErrInvalidDescriptor)
	}

	endpoints := make(map[uint8]bool, len(d.Endpoints))
	for i := range d.Endpoints {
		ep := &d.Endpoints[i]
		if ep.ID == 0 || ep.ID > 240 {
			return fmt.Errorf("%w: endpoint id %d out of range 1-240", ErrInvalidDescriptor, ep.ID)
		}
		if endpoints[ep.ID] {
			return fmt.Errorf("%w: duplicate endpoint %d", ErrInvalidDescriptor, ep.ID)
		}
		endpoints[ep.ID] = true
		if err := ep.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Endpoint) validate() error {
	clusters := make(map[uint16]bool, len(e.Clusters))
	for i := range e.Clusters {
		c := &e.Clusters[i]
		if clusters[c.ID] {
			return fmt.Errorf("%w: endpoint %d: duplicate cluster 0x%04X", ErrInvalidDescriptor, e.ID, c.ID)
		}
		clusters[c.ID] = true
		if c.Role != ClusterServer && c.Role != ClusterClient {
			return fmt.Errorf("%w: endpoint %d: cluster 0x%04X has no role", ErrInvalidDescriptor, e.ID, c.ID)
		}
		if err := c.validate(); err != nil {
			return fmt.Errorf("endpoint %d: %w", e.ID, err)
		}
	}
	return nil
}

func (c *Cluster) validate() error {
	attrs := make(map[uint16]bool, len(c.Attributes))
	for _, a := range c.Attributes {
		if attrs[a.ID] {
			return fmt.Errorf("%w: cluster 0x%04X: duplicate attribute 0x%04X", ErrInvalidDescriptor, c.ID, a.ID)
		}
		attrs[a.ID] = true
		if !zcl.KnownType(a.Type) || a.Type == zcl.TypeNoData {
			return fmt.Errorf("%w: cluster 0x%04X attribute 0x%04X: unsupported type 0x%02X", ErrInvalidDescriptor, c.ID, a.ID, a.Type)
		}
		if !zcl.ValidAccess(a.Access) {
			return fmt.Errorf("%w: cluster 0x%04X attribute 0x%04X: bad access 0x%02X", ErrInvalidDescriptor, c.ID, a.ID, a.Access)
		}
		_, n, err := zcl.DecodeValue(a.Type, a.Value)
		if err != nil {
			return fmt.Errorf("%w: cluster 0x%04X attribute 0x%04X: %v", ErrInvalidDescriptor, c.ID, a.ID, err)
		}
		if n != len(a.Value) {
			return fmt.Errorf("%w: cluster 0x%04X attribute 0x%04X: %d trailing bytes in value", ErrInvalidDescriptor, c.ID, a.ID, len(a.Value)-n)
		}
	}
	return nil
}
