// Package sensibo integrates Sensibo cloud AC controllers as a vendor
// adapter.
//
// Sensibo units are IR blasters driven through a cloud REST API. The
// adapter polls GET /pods/{id} for state and remote capabilities, and
// writes single-property patches to /pods/{id}/acStates/{property}.
// Every patch must carry the device's full current acState, which the
// adapter caches from the last fetch.
//
// # Capability mapping
//
// The remote's learned capabilities vary per mode: fan levels, swing
// positions and the valid temperature range all depend on the current
// HVAC mode. The descriptor therefore always reflects the current
// mode, and a mode change is followed by a descriptor rebuild.
//
// Sensibo has no "off" mode; power lives in acState.on. The canonical
// mode enum excludes "off" and the hub realises off commands through
// the power feature.
//
// # Error mapping
//
// Network failures and 5xx responses unwrap to adapter.ErrUnreachable,
// a 404 to adapter.ErrUnknownDevice, and other API failures to
// adapter.ErrRejected.
package sensibo
