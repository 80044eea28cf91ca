// Package commissioning decides how a router node brings its network stack
// up and joins a network. Step is the pure transition function; Machine runs
// it against a real stack.
package commissioning

import (
	"encoding/json"
	"fmt"

	"zigbee-go-router/internal/stack"
)

// Phase is the commissioning phase.
type Phase uint8

const (
	PhaseUninitialized Phase = iota
	PhaseInitializingStack
	PhaseFactoryNewStartup
	PhaseRebootStartup
	PhaseSteering
	PhaseSteeringRetryWait
	PhaseJoined
)

var phaseNames = [...]string{
	PhaseUninitialized:     "uninitialized",
	PhaseInitializingStack: "initializing_stack",
	PhaseFactoryNewStartup: "factory_new_startup",
	PhaseRebootStartup:     "reboot_startup",
	PhaseSteering:          "steering",
	PhaseSteeringRetryWait: "steering_retry_wait",
	PhaseJoined:            "joined",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is the commissioning state. Failures counts every failed steering
// attempt since startup and is never reset. RetryGen identifies the retry
// currently pending; a fired retry carrying any other generation is stale.
type State struct {
	Phase    Phase
	Failures int
	Identity *stack.NetworkIdentity
	RetryGen uint64
	Terminal bool
	Reason   string
}

// Snapshot is the JSON view of a State published to status surfaces.
type Snapshot struct {
	Phase         Phase  `json:"phase"`
	Failures      int    `json:"failures"`
	Joined        bool   `json:"joined"`
	Terminal      bool   `json:"terminal"`
	Reason        string `json:"reason,omitempty"`
	ExtendedPanID string `json:"extended_pan_id,omitempty"`
	PanID         string `json:"pan_id,omitempty"`
	Channel       uint8  `json:"channel,omitempty"`
	ShortAddress  string `json:"short_address,omitempty"`
}

// Snapshot returns the status view of s.
func (s State) Snapshot() Snapshot {
	snap := Snapshot{
		Phase:    s.Phase,
		Failures: s.Failures,
		Joined:   s.Phase == PhaseJoined,
		Terminal: s.Terminal,
		Reason:   s.Reason,
	}
	if s.Identity != nil {
		snap.ExtendedPanID = s.Identity.ExtendedPanIDString()
		snap.PanID = fmt.Sprintf("0x%04X", s.Identity.PanID)
		snap.Channel = s.Identity.Channel
		snap.ShortAddress = fmt.Sprintf("0x%04X", s.Identity.ShortAddress)
	}
	return snap
}

// Map converts the snapshot to a generic map, the shape Lua and MQTT
// consumers work with.
func (s Snapshot) Map() map[string]interface{} {
	data, err := json.Marshal(s)
	if err != nil {
		return map[string]interface{}{"phase": s.Phase.String()}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]interface{}{"phase": s.Phase.String()}
	}
	return m
}
