package clusters

import "zigbee-go-router/internal/zcl"

// Basic cluster attribute IDs used when building a device profile.
const (
	BasicZCLVersion       uint16 = 0x0000
	BasicManufacturerName uint16 = 0x0004
	BasicModelIdentifier  uint16 = 0x0005
	BasicDateCode         uint16 = 0x0006
	BasicPowerSource      uint16 = 0x0007
	BasicSWBuildID        uint16 = 0x4000
)

var Basic = zcl.ClusterDef{
	ID:   0x0000,
	Name: "Basic",
	Attributes: []zcl.AttributeDef{
		{ID: BasicZCLVersion, Name: "ZCLVersion", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0001, Name: "ApplicationVersion", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0002, Name: "StackVersion", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0003, Name: "HWVersion", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: BasicManufacturerName, Name: "ManufacturerName", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: BasicModelIdentifier, Name: "ModelIdentifier", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: BasicDateCode, Name: "DateCode", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: BasicPowerSource, Name: "PowerSource", Type: zcl.TypeEnum8, Access: zcl.AccessRead},
		{ID: BasicSWBuildID, Name: "SWBuildID", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
	},
}
