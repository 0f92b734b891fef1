package adapter

import (
	"errors"
	"fmt"

	"github.com/rowanhale/hearth-core/internal/capability"
)

// Sentinel errors shared by all adapters.
// Check with errors.Is().
var (
	// ErrUnreachable is returned by Fetch when the vendor backend or the
	// device itself cannot be reached. The coordinator converts it into
	// availability bookkeeping; it never reaches command callers directly.
	ErrUnreachable = errors.New("adapter: device unreachable")

	// ErrUnknownDevice is returned when the vendor backend does not know
	// the requested device id.
	ErrUnknownDevice = errors.New("adapter: unknown device")

	// ErrRejected is returned by Apply when the vendor actively refused
	// the command (bad value, unsupported operation, permission).
	ErrRejected = errors.New("adapter: command rejected by vendor")
)

// FetchError wraps a failed fetch with the device it was for.
// It unwraps to the underlying cause so errors.Is(err, ErrUnreachable)
// still works through it.
type FetchError struct {
	DeviceID string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.DeviceID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ApplyError wraps a failed apply with the device and feature (the command
// step) it was for. For compound commands the feature identifies which step
// failed; earlier steps may already be reflected in the store.
type ApplyError struct {
	DeviceID string
	Feature  capability.Feature
	Err      error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s to %s: %v", e.Feature, e.DeviceID, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }
