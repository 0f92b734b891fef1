// Package capability defines the canonical capability model for Hearth Core.
//
// Every vendor adapter normalises its wire protocol into this vocabulary:
// device kinds, features, value domains, and immutable per-device snapshots.
// The model carries no behaviour beyond value-domain membership checks and
// the snap rule for ordered numeric domains.
//
// # Key Types
//
//   - Identity: stable vendor-assigned device identity (id, kind, name)
//   - Feature: a controllable or readable attribute (power, mode, target_temperature, ...)
//   - Domain: the valid value set for one feature (bool, enum, or ordered numeric)
//   - Descriptor: the features a device supports, and which are active in the current mode
//   - Snapshot: the full state of one device at a point in time
//
// # The snap rule
//
// Ordered numeric domains snap out-of-range or off-step requests to a valid
// value: at or below the minimum snaps to the minimum, at or above the
// maximum snaps to the maximum, and anything in between snaps to the
// smallest domain value greater than or equal to the request. This is a
// lower-bound search, not nearest-neighbour rounding; callers depend on the
// round-up-at-midpoint behaviour.
//
// # Thread Safety
//
// All types in this package are value types. Snapshots are treated as
// immutable: mutate only via Clone or With, never in place.
package capability
