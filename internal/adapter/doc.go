// Package adapter defines the vendor adapter contract for Hearth Core.
//
// An adapter translates one vendor's wire protocol into the canonical
// capability model and back. Each adapter is independent per device family
// and pluggable: new vendors implement the Adapter interface without
// touching the coordinator or dispatcher.
//
// # Contract
//
//   - Fetch is side-effect-free and idempotent from the caller's
//     perspective; the coordinator may retry it within a cycle.
//   - Apply is not idempotent in general (it may toggle state); callers
//     must never retry it blindly. The ApplyResult reports whether the
//     vendor confirmed the new state or only accepted the request.
//   - When an adapter can distinguish "device unreachable" from
//     "malformed request", it reports a snapshot with Available=false
//     rather than failing the fetch.
//
// Concrete adapters live in subpackages (sensibo, mitv). Adapters hold no
// shared mutable state across devices; every per-device call is
// independent.
package adapter
