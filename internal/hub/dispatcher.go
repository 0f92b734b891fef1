package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rowanhale/hearth-core/internal/adapter"
	"github.com/rowanhale/hearth-core/internal/capability"
)

// DefaultApplyTimeout bounds a single adapter apply call.
const DefaultApplyTimeout = 10 * time.Second

// AdapterResolver maps a vendor name to its adapter.
// The Coordinator implements this.
type AdapterResolver interface {
	AdapterFor(vendor string) (adapter.Adapter, bool)
}

// Command is one canonical write request against a device.
type Command struct {
	// ID correlates the command with its ack and log lines.
	// A zero ID is assigned on execution.
	ID uuid.UUID `json:"id"`

	DeviceID string             `json:"device_id"`
	Feature  capability.Feature `json:"feature"`
	Value    any                `json:"value"`
}

// Ack reports the outcome of an executed command.
type Ack struct {
	CommandID uuid.UUID          `json:"command_id"`
	DeviceID  string             `json:"device_id"`
	Feature   capability.Feature `json:"feature"`

	// Value is the effective value after validation, which for numeric
	// features may differ from the requested one due to snapping.
	Value any `json:"value"`

	// Revision is the store revision after the command, or the unchanged
	// current revision for a no-op.
	Revision uint64 `json:"revision"`

	// NoOp is true when the device already held the effective value and no
	// vendor call was made.
	NoOp bool `json:"no_op,omitempty"`

	// Assumed is true when the vendor accepted the command without echoing
	// the new state, so the stored value is optimistic.
	Assumed bool `json:"assumed,omitempty"`
}

// applyStep is one adapter call within a command. Most commands are a
// single step; turning the mode on from standby is two.
type applyStep struct {
	feature capability.Feature
	value   any
}

// Dispatcher executes canonical commands against vendor adapters and
// reconciles the results into the store.
//
// Execution is serialised per device on the same lock the coordinator's
// merges take, so a command and a refresh never interleave for one device.
// Commands are never retried automatically; apply is not idempotent.
type Dispatcher struct {
	store    *Store
	resolver AdapterResolver
	timeout  time.Duration
	logger   Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewDispatcher creates a dispatcher executing against store.
// A non-positive timeout falls back to DefaultApplyTimeout.
func NewDispatcher(store *Store, resolver AdapterResolver, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultApplyTimeout
	}
	return &Dispatcher{
		store:    store,
		resolver: resolver,
		timeout:  timeout,
		logger:   noopLogger{},
		done:     make(chan struct{}),
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Close stops accepting new commands. In-flight commands run to completion;
// their vendor calls carry their own timeout. Safe to call multiple times.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
	})
}

// Execute runs one command through validation, the vendor adapter, and
// store reconciliation.
//
// Validation happens in a fixed order against the latest snapshot: the
// device must exist and be available, the feature must be active in the
// device's current mode, and the value must lie in the feature's declared
// domain. Numeric values are snapped to the domain before comparison, so a
// request inside the range never fails validation. All validation errors
// mean no vendor call was made.
//
// A command whose effective value equals the device's current value is
// acknowledged as a no-op without touching the vendor or the revision.
//
// Two command shapes expand to multiple adapter calls: mode "off" becomes a
// single power-off, and a mode change while powered off becomes power-on
// followed by the mode write. Each step's result is merged as it lands, so
// a failure on a later step leaves the earlier steps' state in the store;
// the returned error identifies the failed step.
func (d *Dispatcher) Execute(ctx context.Context, cmd Command) (*Ack, error) {
	select {
	case <-d.done:
		return nil, ErrShuttingDown
	default:
	}

	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}

	e, ok := d.store.lockEntry(cmd.DeviceID)
	if !ok {
		return nil, ErrDeviceNotFound
	}

	ack, events, err := d.executeLocked(e, cmd)
	var lastState *capability.Snapshot
	var lastRev uint64
	// Persist whenever any step merged, including the completed steps of a
	// partially failed compound command.
	if (ack != nil && !ack.NoOp) || len(events) > 0 {
		lastState = e.snapshot
		lastRev = e.revision
	}
	e.mu.Unlock()

	if lastState != nil {
		d.store.persist(ctx, cmd.DeviceID, lastState, lastRev)
	}
	for _, ev := range events {
		d.store.broker.Publish(ev)
	}

	if err != nil {
		d.logger.Warn("command failed",
			"command_id", cmd.ID.String(),
			"id", cmd.DeviceID,
			"feature", string(cmd.Feature),
			"error", err,
		)
		return ack, err
	}

	d.logger.Info("command executed",
		"command_id", cmd.ID.String(),
		"id", cmd.DeviceID,
		"feature", string(cmd.Feature),
		"revision", ack.Revision,
		"no_op", ack.NoOp,
	)
	return ack, nil
}

// executeLocked runs the command while the device entry lock is held.
// Returned events are published by the caller after unlock.
//
// On a partial compound failure the ack is nil but events from the merged
// earlier steps are still returned, so subscribers see what actually took
// effect.
func (d *Dispatcher) executeLocked(e *entry, cmd Command) (*Ack, []ChangeEvent, error) {
	snap := e.snapshot
	if e.removed || !snap.Available {
		return nil, nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, cmd.DeviceID)
	}

	a, ok := d.resolver.AdapterFor(snap.Identity.Vendor)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownVendor, snap.Identity.Vendor)
	}

	effective, err := validateValue(snap.Descriptor, cmd.Feature, cmd.Value)
	if err != nil {
		return nil, nil, err
	}

	steps := planSteps(snap, cmd.Feature, effective)
	if len(steps) == 0 {
		// Already at the requested value; nothing to send.
		return &Ack{
			CommandID: cmd.ID,
			DeviceID:  cmd.DeviceID,
			Feature:   cmd.Feature,
			Value:     effective,
			Revision:  e.revision,
			NoOp:      true,
			Assumed:   snap.Assumed,
		}, nil, nil
	}

	var events []ChangeEvent
	assumed := false
	for _, step := range steps {
		result, applyErr := d.applyStep(a, cmd.DeviceID, step, e.snapshot)
		if applyErr != nil {
			return nil, events, applyErr
		}

		stepEvents, _, mergeErr := d.store.mergeLocked(e, cmd.DeviceID, result.State)
		if mergeErr != nil {
			return nil, events, mergeErr
		}
		events = append(events, stepEvents...)
		assumed = !result.Confirmed
	}

	return &Ack{
		CommandID: cmd.ID,
		DeviceID:  cmd.DeviceID,
		Feature:   cmd.Feature,
		Value:     effective,
		Revision:  e.revision,
		Assumed:   assumed,
	}, events, nil
}

// applyStep runs one adapter call with its own timeout, detached from the
// request context so shutdown never aborts a command mid-send.
func (d *Dispatcher) applyStep(a adapter.Adapter, deviceID string, step applyStep, current *capability.Snapshot) (*adapter.ApplyResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	result, err := a.Apply(ctx, adapter.ApplyRequest{
		DeviceID: deviceID,
		Feature:  step.feature,
		Value:    step.value,
		Current:  current.Clone(),
	})
	if err != nil {
		var ae *adapter.ApplyError
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, &adapter.ApplyError{DeviceID: deviceID, Feature: step.feature, Err: err}
	}
	if result == nil || result.State == nil {
		return nil, &adapter.ApplyError{
			DeviceID: deviceID,
			Feature:  step.feature,
			Err:      errors.New("adapter returned no state"),
		}
	}
	return result, nil
}

// validateValue checks the commanded value against the descriptor and
// returns the effective value to send, snapped into the domain for numeric
// features.
func validateValue(desc capability.Descriptor, f capability.Feature, v any) (any, error) {
	dom, supported := desc.DomainOf(f)
	if !supported || !desc.IsActive(f) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedInCurrentMode, f)
	}

	switch dom.Kind {
	case capability.DomainBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants bool, got %T", ErrInvalidValue, f, v)
		}
		return b, nil

	case capability.DomainEnum:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants string, got %T", ErrInvalidValue, f, v)
		}
		// "off" is a pseudo-mode realised through the power feature, so it
		// is accepted even when the vendor's mode vocabulary lacks it.
		if f == capability.FeatureMode && s == capability.ModeOff {
			if _, hasPower := desc.DomainOf(capability.FeaturePower); hasPower {
				return s, nil
			}
		}
		if !dom.Contains(s) {
			return nil, fmt.Errorf("%w: %q not in domain of %s", ErrInvalidValue, s, f)
		}
		return s, nil

	case capability.DomainNumeric:
		n, ok := capability.ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants number, got %T", ErrInvalidValue, f, v)
		}
		return dom.Snap(n), nil

	default:
		return nil, fmt.Errorf("%w: %s has no usable domain", ErrInvalidValue, f)
	}
}

// planSteps expands a validated command into the adapter calls that realise
// it. An empty plan means the device already holds the effective value.
func planSteps(snap *capability.Snapshot, f capability.Feature, effective any) []applyStep {
	// Mode "off" is power-off in canonical terms, for devices that model
	// power separately. A vendor whose mode vocabulary includes "off"
	// natively gets the mode write as-is.
	if f == capability.FeatureMode && effective == capability.ModeOff {
		if _, hasPower := snap.Descriptor.DomainOf(capability.FeaturePower); hasPower {
			if !snap.PowerOn() {
				return nil
			}
			return []applyStep{{feature: capability.FeaturePower, value: false}}
		}
	}

	if current, ok := snap.Attribute(f); ok && capability.ValuesEqual(current, effective) {
		// Assumed values are unconfirmed, so an equal command is resent
		// rather than short-circuited.
		if !snap.Assumed {
			if f != capability.FeatureMode || snap.PowerOn() {
				return nil
			}
		}
	}

	// Setting a mode on a powered-off device powers it on first. Each step
	// merges independently so a failed mode write leaves the power-on
	// visible.
	if f == capability.FeatureMode && !snap.PowerOn() {
		return []applyStep{
			{feature: capability.FeaturePower, value: true},
			{feature: f, value: effective},
		}
	}

	return []applyStep{{feature: f, value: effective}}
}
