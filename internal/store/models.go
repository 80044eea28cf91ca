package store

import "time"

// Provisioning is the network state a node keeps across restarts once it
// has joined. Its presence is what makes a node "not factory new".
type Provisioning struct {
	ExtendedPanID [8]byte   `json:"extended_pan_id"`
	PanID         uint16    `json:"pan_id"`
	Channel       uint8     `json:"channel"`
	ShortAddress  uint16    `json:"short_address"`
	JoinedAt      time.Time `json:"joined_at"`
}

// HistoryEntry is one commissioning milestone kept in the join journal.
type HistoryEntry struct {
	Seq    uint64                 `json:"seq"`
	Time   time.Time              `json:"time"`
	BootID string                 `json:"boot_id"`
	Event  string                 `json:"event"`
	Data   map[string]interface{} `json:"data,omitempty"`
}
