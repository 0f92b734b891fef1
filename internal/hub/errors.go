package hub

import (
	"errors"
	"fmt"
)

// Domain errors for the hub package.
//
// Validation errors (ErrDeviceNotFound, ErrDeviceUnavailable,
// ErrUnsupportedInCurrentMode, ErrInvalidValue) are the caller's fault and
// mean no vendor call was made. Check with errors.Is().
var (
	// ErrDeviceUnavailable is returned for commands against a device whose
	// backend is currently unreachable or which has been removed.
	ErrDeviceUnavailable = errors.New("hub: device unavailable")

	// ErrDeviceNotFound is returned when a device id has never been
	// registered with the store. It wraps ErrDeviceUnavailable so callers
	// that only care about command viability need a single check.
	ErrDeviceNotFound = fmt.Errorf("%w: device not found", ErrDeviceUnavailable)

	// ErrUnsupportedInCurrentMode is returned when the commanded feature is
	// not in the device's current active feature set.
	ErrUnsupportedInCurrentMode = errors.New("hub: feature not supported in current mode")

	// ErrInvalidValue is returned when the commanded value lies outside the
	// feature's declared domain and cannot be snapped into it.
	ErrInvalidValue = errors.New("hub: invalid value for feature")

	// ErrStoreInvariant indicates a revision or locking invariant was
	// violated. It should be unreachable; it is logged loudly and never
	// silently swallowed.
	ErrStoreInvariant = errors.New("hub: store invariant violated")

	// ErrShuttingDown is returned when a command or refresh is requested
	// after shutdown has begun.
	ErrShuttingDown = errors.New("hub: shutting down")

	// ErrUnknownVendor is returned when no adapter is registered for a
	// device's vendor.
	ErrUnknownVendor = errors.New("hub: no adapter for vendor")
)
