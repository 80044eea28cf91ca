// Package stack defines the contract between the commissioning logic and a
// Zigbee network stack backend, plus the event loop that serializes signal
// handling.
package stack

import (
	"context"
	"fmt"

	"zigbee-go-router/internal/profile"
)

// Mode is a BDB commissioning mode bit.
type Mode uint8

const (
	ModeInitialization    Mode = 0x00
	ModeTouchlink         Mode = 0x01
	ModeNetworkSteering   Mode = 0x02
	ModeNetworkFormation  Mode = 0x04
	ModeFindingAndBinding Mode = 0x08
)

func (m Mode) String() string {
	switch m {
	case ModeInitialization:
		return "initialization"
	case ModeTouchlink:
		return "touchlink"
	case ModeNetworkSteering:
		return "network_steering"
	case ModeNetworkFormation:
		return "network_formation"
	case ModeFindingAndBinding:
		return "finding_and_binding"
	default:
		return fmt.Sprintf("mode(0x%02X)", uint8(m))
	}
}

// SignalType is a ZDO/BDB application signal code.
type SignalType uint8

const (
	SignalDefaultStart           SignalType = 0
	SignalSkipStartup            SignalType = 1
	SignalDeviceAnnce            SignalType = 2
	SignalLeave                  SignalType = 3
	SignalError                  SignalType = 4
	SignalDeviceFirstStart       SignalType = 5
	SignalDeviceReboot           SignalType = 6
	SignalTouchlinkNwkStarted    SignalType = 7
	SignalTouchlinkNwkJoined     SignalType = 8
	SignalTouchlink              SignalType = 9
	SignalSteering               SignalType = 10
	SignalFormation              SignalType = 11
	SignalFindingBindingTarget   SignalType = 12
	SignalFindingBindingInitiate SignalType = 13
	SignalPermitJoinStatus       SignalType = 0x36
	SignalProductionConfigReady  SignalType = 0x37
)

var signalNames = map[SignalType]string{
	SignalDefaultStart:           "default_start",
	SignalSkipStartup:            "skip_startup",
	SignalDeviceAnnce:            "device_annce",
	SignalLeave:                  "leave",
	SignalError:                  "error",
	SignalDeviceFirstStart:       "device_first_start",
	SignalDeviceReboot:           "device_reboot",
	SignalTouchlinkNwkStarted:    "touchlink_nwk_started",
	SignalTouchlinkNwkJoined:     "touchlink_nwk_joined",
	SignalTouchlink:              "touchlink",
	SignalSteering:               "steering",
	SignalFormation:              "formation",
	SignalFindingBindingTarget:   "finding_binding_target",
	SignalFindingBindingInitiate: "finding_binding_initiate",
	SignalPermitJoinStatus:       "permit_join_status",
	SignalProductionConfigReady:  "production_config_ready",
}

func (s SignalType) String() string {
	if name, ok := signalNames[s]; ok {
		return name
	}
	return fmt.Sprintf("signal(0x%02X)", uint8(s))
}

// Signal is a lifecycle notification from the stack. A nil Err means success.
type Signal struct {
	Type    SignalType
	Err     error
	Payload []byte
}

// OK reports whether the signal carries a success status.
func (s Signal) OK() bool { return s.Err == nil }

// NetworkIdentity is what the node learned about the network it joined.
type NetworkIdentity struct {
	ExtendedPanID [8]byte `json:"-"`
	PanID         uint16  `json:"pan_id"`
	Channel       uint8   `json:"channel"`
	ShortAddress  uint16  `json:"short_address"`
}

// ExtendedPanIDString formats the extended PAN id most significant byte
// first, the way sniffers and coordinators display it.
func (n NetworkIdentity) ExtendedPanIDString() string {
	b := n.ExtendedPanID
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x:%02x:%02x",
		b[7], b[6], b[5], b[4], b[3], b[2], b[1], b[0])
}

// LogAttrs returns key/value pairs for slog.
func (n NetworkIdentity) LogAttrs() []any {
	return []any{
		"extended_pan_id", n.ExtendedPanIDString(),
		"pan_id", fmt.Sprintf("0x%04X", n.PanID),
		"channel", n.Channel,
		"short_address", fmt.Sprintf("0x%04X", n.ShortAddress),
	}
}

// Commands are the primitives the commissioning logic may invoke. All of
// them return immediately; outcomes arrive later as signals.
type Commands interface {
	StartCommissioning(mode Mode)
	IsFactoryNew() bool
	NetworkIdentity() NetworkIdentity
}

// SignalSink receives stack signals. Implementations must be safe to call
// from any goroutine.
type SignalSink interface {
	Deliver(Signal)
}

// Stack is a network stack backend.
type Stack interface {
	Commands

	// RegisterDevice hands over the device descriptor. It must be called
	// exactly once, before Start.
	RegisterDevice(desc *profile.DeviceDescriptor) error

	// Start brings the stack up; signals go to sink from then on. The first
	// signal is SignalSkipStartup once the stack is ready.
	Start(sink SignalSink) error

	// FactoryReset erases persisted network state.
	FactoryReset(ctx context.Context) error

	Close() error
}
