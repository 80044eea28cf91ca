package zcl

import (
	"fmt"
	"strings"
)

// Access flags
const (
	AccessRead   uint8 = 0x01
	AccessWrite  uint8 = 0x02
	AccessReport uint8 = 0x04
)

// Manufacturer-specific cluster IDs live in 0xFC00–0xFFFF.
const (
	ManufacturerSpecificMin uint16 = 0xFC00
	ManufacturerSpecificMax uint16 = 0xFFFF
)

// IsManufacturerSpecific reports whether id is in the vendor cluster range.
func IsManufacturerSpecific(id uint16) bool {
	return id >= ManufacturerSpecificMin
}

// AttributeDef defines a ZCL attribute.
type AttributeDef struct {
	ID     uint16 `json:"id"`
	Name   string `json:"name"`
	Type   uint8  `json:"type"`
	Access uint8  `json:"access"` // bitmask: 1=read, 2=write, 4=reportable
}

// IsReadable returns true if the attribute can be read.
func (a *AttributeDef) IsReadable() bool {
	return a.Access&AccessRead != 0
}

// IsWritable returns true if the attribute can be written.
func (a *AttributeDef) IsWritable() bool {
	return a.Access&AccessWrite != 0
}

// IsReportable returns true if the attribute supports reporting.
func (a *AttributeDef) IsReportable() bool {
	return a.Access&AccessReport != 0
}

// ParseAccess parses "read_only", "write_only" or "read_write", optionally
// followed by "+report".
func ParseAccess(s string) (uint8, error) {
	base, report := strings.CutSuffix(strings.ToLower(strings.TrimSpace(s)), "+report")
	var access uint8
	switch base {
	case "read_only", "r":
		access = AccessRead
	case "write_only", "w":
		access = AccessWrite
	case "read_write", "rw":
		access = AccessRead | AccessWrite
	default:
		return 0, fmt.Errorf("zcl: unknown access %q", s)
	}
	if report {
		access |= AccessReport
	}
	return access, nil
}

// ValidAccess reports whether access has at least one of read/write set and
// no unknown bits.
func ValidAccess(access uint8) bool {
	return access&^(AccessRead|AccessWrite|AccessReport) == 0 &&
		access&(AccessRead|AccessWrite) != 0
}

// AccessString is the inverse of ParseAccess.
func AccessString(access uint8) string {
	var s string
	switch access & (AccessRead | AccessWrite) {
	case AccessRead:
		s = "read_only"
	case AccessWrite:
		s = "write_only"
	case AccessRead | AccessWrite:
		s = "read_write"
	default:
		s = "none"
	}
	if access&AccessReport != 0 {
		s += "+report"
	}
	return s
}

// ClusterDef defines a ZCL cluster with its attributes.
type ClusterDef struct {
	ID         uint16         `json:"id"`
	Name       string         `json:"name"`
	Attributes []AttributeDef `json:"attributes,omitempty"`
}

// FindAttribute looks up an attribute by ID.
func (c *ClusterDef) FindAttribute(id uint16) *AttributeDef {
	for i := range c.Attributes {
		if c.Attributes[i].ID == id {
			return &c.Attributes[i]
		}
	}
	return nil
}

// DeepCopy returns a deep copy of the cluster definition.
func (c *ClusterDef) DeepCopy() *ClusterDef {
	cp := *c
	if c.Attributes != nil {
		cp.Attributes = make([]AttributeDef, len(c.Attributes))
		copy(cp.Attributes, c.Attributes)
	}
	return &cp
}
