package clusters

import "zigbee-go-router/internal/zcl"

// Standard lists the standard clusters a device profile may reference by ID.
var Standard = []zcl.ClusterDef{
	Basic,                  // 0x0000
	PowerConfiguration,     // 0x0001
	Identify,               // 0x0003
	Thermostat,             // 0x0201
	TemperatureMeasurement, // 0x0402
	RelativeHumidity,       // 0x0405
}

// RegisterStandard adds every standard cluster to r.
func RegisterStandard(r *zcl.Registry) error {
	for _, c := range Standard {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}
