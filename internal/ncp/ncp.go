// Package ncp drives a Zigbee network co-processor running the ZBOSS NCP
// firmware (nRF52840 over USB CDC ACM) as a router stack.
package ncp

import (
	"errors"
	"time"
)

// ErrNoJoinableNetwork is the steering failure status when no scanned
// network accepts a router.
var ErrNoJoinableNetwork = errors.New("no joinable network found")

// ErrUnsupportedMode is reported for commissioning modes a router does not run.
var ErrUnsupportedMode = errors.New("commissioning mode not supported")

// Config holds the serial connection settings.
type Config struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
	// ScanDuration is the beacon scan exponent per channel (2^n+1 superframes).
	ScanDuration uint8 `yaml:"scan_duration"`
	// DiscoveryTimeout bounds NWK_DISCOVERY, which blocks on the NCP side.
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
}

// DefaultConfig returns settings for an nRF52840 dongle.
func DefaultConfig() Config {
	return Config{
		Port:             "/dev/ttyACM0",
		BaudRate:         460800,
		ScanDuration:     5,
		DiscoveryTimeout: 15 * time.Second,
	}
}

// Info holds firmware and stack version information reported by the NCP.
type Info struct {
	FWVersion       uint32 `json:"fw_version"`
	StackVersion    string `json:"stack_version"` // e.g. "3.11.3.0"
	ProtocolVersion uint32 `json:"protocol_version"`
}
