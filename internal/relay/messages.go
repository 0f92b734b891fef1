package relay

import (
	"time"

	"github.com/rowanhale/hearth-core/internal/capability"
)

// Discovery operations accepted on hearth/discovery/{vendor}.
const (
	opAdd    = "add"
	opRemove = "remove"
	opState  = "state"
)

// discoveryMessage is one inbound vendor announcement.
//
// Examples:
//
//	{"op": "add", "device": {"id": "pod-1", "kind": "climate", "name": "Bedroom"}}
//	{"op": "remove", "device_id": "pod-1"}
//	{"op": "state", "device_id": "pod-1", "snapshot": {...}}
type discoveryMessage struct {
	Op       string               `json:"op"`
	Device   *discoveredDevice    `json:"device,omitempty"`
	DeviceID string               `json:"device_id,omitempty"`
	Snapshot *capability.Snapshot `json:"snapshot,omitempty"`
}

// discoveredDevice identifies a device in an add announcement. The
// vendor comes from the topic, never the payload.
type discoveredDevice struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Name string `json:"name,omitempty"`
}

// stateEnvelope is the retained per-device state message.
type stateEnvelope struct {
	DeviceID  string               `json:"device_id"`
	Revision  uint64               `json:"revision"`
	Snapshot  *capability.Snapshot `json:"snapshot"`
	Timestamp time.Time            `json:"timestamp"`
}

// availabilityMessage is the retained per-device availability message.
type availabilityMessage struct {
	DeviceID  string    `json:"device_id"`
	Available bool      `json:"available"`
	Timestamp time.Time `json:"timestamp"`
}
