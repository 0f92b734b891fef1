package adapter

import (
	"context"

	"github.com/rowanhale/hearth-core/internal/capability"
)

// Adapter is the uniform contract every vendor integration implements.
//
// All methods must be safe for concurrent use across devices. Blocking
// network I/O happens only inside Fetch and Apply; both honour context
// cancellation and deadlines.
type Adapter interface {
	// Vendor returns the adapter family name (e.g. "sensibo").
	Vendor() string

	// Fetch retrieves the current full state of one device.
	//
	// Fetch is idempotent and safe to retry. Transient unreachability is
	// reported as a snapshot with Available=false when the adapter can
	// tell it apart from a protocol fault; otherwise Fetch returns an
	// error and the coordinator does the availability bookkeeping.
	Fetch(ctx context.Context, deviceID string) (*capability.Snapshot, error)

	// Apply executes one canonical command against the vendor backend.
	//
	// Apply is not idempotent; the caller serialises calls per device and
	// never retries automatically. The request carries the device's
	// current snapshot because several vendor APIs (Sensibo among them)
	// require the full current state alongside the property change.
	Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error)
}

// ApplyRequest carries one canonical command to an adapter.
type ApplyRequest struct {
	// DeviceID is the vendor-assigned device identifier.
	DeviceID string

	// Feature is the canonical feature being written.
	Feature capability.Feature

	// Value is the validated (and, for numeric domains, snapped) value.
	Value any

	// Current is the device's latest snapshot at the time the command
	// lock was acquired. Adapters must not mutate it.
	Current *capability.Snapshot

	// Assume forces assumed-state semantics: the adapter sends the
	// command without waiting for vendor confirmation and the hub
	// optimistically believes it succeeded until the next refresh.
	Assume bool
}

// ApplyResult reports the outcome of a successful Apply.
type ApplyResult struct {
	// State is the post-apply snapshot. For a confirmed result it is the
	// state the vendor echoed back; for an assumed result it is the
	// optimistic projection of the command onto the current snapshot.
	State *capability.Snapshot

	// Confirmed is true when the vendor echoed the new state, false when
	// the request was only accepted and State is assumed.
	Confirmed bool
}

// Assumed builds the optimistic result for a device that does not echo
// state back: the current snapshot with the written feature replaced.
func Assumed(req ApplyRequest) *ApplyResult {
	state := req.Current.With(req.Feature, req.Value)
	state.Assumed = true
	return &ApplyResult{State: state, Confirmed: false}
}

// Confirmed builds a result for a vendor-echoed snapshot.
func Confirmed(state *capability.Snapshot) *ApplyResult {
	state.Assumed = false
	return &ApplyResult{State: state, Confirmed: true}
}
