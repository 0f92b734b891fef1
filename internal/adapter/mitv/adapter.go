package mitv

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rowanhale/hearth-core/internal/adapter"
	"github.com/rowanhale/hearth-core/internal/capability"
	"github.com/rowanhale/hearth-core/internal/infrastructure/config"
)

const vendorName = "mitv"

// Input sources accepted by the changesource action.
var sources = []string{"tv", "hdmi1", "hdmi2", "hdmi3", "av"}

// tvState is the adapter's book-keeping for one TV. The TV never
// reports its state back, so every value here is an assumption seeded
// at startup and advanced by successful commands.
type tvState struct {
	host   string
	name   string
	power  bool
	volume float64
	source string
}

// Adapter integrates Xiaomi TVs over their local HTTP control port.
//
// The control API is write-only: keyevents and source changes are
// acknowledged but the TV exposes no state to read back. Every apply
// therefore returns an assumed result and every fetch reports the
// adapter's own projection, marked Assumed, with availability from a
// reachability probe.
type Adapter struct {
	client *client

	mu      sync.Mutex
	devices map[string]*tvState
}

// New creates a Xiaomi TV adapter from configuration.
// TVs are assumed asleep and muted-at-zero until commanded otherwise.
func New(cfg config.MiTVConfig) (*Adapter, error) {
	if len(cfg.Devices) == 0 {
		return nil, fmt.Errorf("mitv: at least one device is required")
	}

	a := &Adapter{
		client:  newControlClient(),
		devices: make(map[string]*tvState, len(cfg.Devices)),
	}
	for _, d := range cfg.Devices {
		name := d.Name
		if name == "" {
			name = "Xiaomi TV"
		}
		a.devices[d.ID] = &tvState{host: d.Host, name: name, source: "tv"}
	}
	return a, nil
}

// Vendor returns the adapter family name.
func (a *Adapter) Vendor() string { return vendorName }

// DeviceIDs returns the configured device ids.
func (a *Adapter) DeviceIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, 0, len(a.devices))
	for id := range a.devices {
		ids = append(ids, id)
	}
	return ids
}

// Fetch probes the TV's control port and reports the adapter's assumed
// state with availability from the probe. An unreachable TV yields an
// Available=false snapshot rather than an error because the probe
// distinguishes unreachability from a protocol fault.
func (a *Adapter) Fetch(ctx context.Context, deviceID string) (*capability.Snapshot, error) {
	a.mu.Lock()
	state, ok := a.devices[deviceID]
	if !ok {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", adapter.ErrUnknownDevice, deviceID)
	}
	snap := a.snapshotLocked(deviceID, state)
	host := state.host
	a.mu.Unlock()

	snap.Available = a.client.alive(ctx, host)
	return snap, nil
}

// Apply executes one command against the TV. All results are assumed:
// the TV acknowledges the HTTP request but never echoes state.
func (a *Adapter) Apply(ctx context.Context, req adapter.ApplyRequest) (*adapter.ApplyResult, error) {
	a.mu.Lock()
	state, ok := a.devices[req.DeviceID]
	if !ok {
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", adapter.ErrUnknownDevice, req.DeviceID)
	}
	host := state.host
	volume := state.volume
	a.mu.Unlock()

	switch req.Feature {
	case capability.FeaturePower:
		on, _ := req.Value.(bool)
		if err := a.setPower(ctx, host, on); err != nil {
			return nil, err
		}
		a.update(req.DeviceID, func(s *tvState) { s.power = on })

	case capability.FeatureVolume:
		target, _ := capability.ToFloat(req.Value)
		reached, err := a.stepVolume(ctx, host, volume, target)
		a.update(req.DeviceID, func(s *tvState) { s.volume = reached })
		if err != nil {
			return nil, err
		}

	case capability.FeatureSource:
		src, _ := req.Value.(string)
		if err := a.client.changeSource(ctx, host, src); err != nil {
			return nil, err
		}
		a.update(req.DeviceID, func(s *tvState) { s.source = src })

	default:
		return nil, fmt.Errorf("%w: feature %s not controllable", adapter.ErrRejected, req.Feature)
	}

	return adapter.Assumed(req), nil
}

// setPower wakes the TV or walks it into sleep. Sleep, not power-off:
// a fully powered-down TV drops off the network and cannot be woken.
func (a *Adapter) setPower(ctx context.Context, host string, on bool) error {
	if on {
		return a.client.sendKey(ctx, host, keyPower)
	}
	return a.client.sendKeys(ctx, host, sleepSequence)
}

// stepVolume moves the volume towards target one keyevent at a time,
// from the assumed current level. It returns the level actually
// reached so a failure mid-sequence keeps the book-keeping honest.
func (a *Adapter) stepVolume(ctx context.Context, host string, current, target float64) (float64, error) {
	steps := int(math.Round(target - current))
	key := keyVolumeUp
	if steps < 0 {
		steps = -steps
		key = keyVolumeDown
	}

	reached := current
	for i := 0; i < steps; i++ {
		if err := a.client.sendKey(ctx, host, key); err != nil {
			return reached, err
		}
		if key == keyVolumeUp {
			reached++
		} else {
			reached--
		}
	}
	return target, nil
}

// update mutates one device's assumed state under the lock.
func (a *Adapter) update(deviceID string, fn func(*tvState)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if state, ok := a.devices[deviceID]; ok {
		fn(state)
	}
}

// snapshotLocked builds the canonical snapshot for one TV.
func (a *Adapter) snapshotLocked(deviceID string, state *tvState) *capability.Snapshot {
	return &capability.Snapshot{
		Identity: capability.Identity{
			ID:     deviceID,
			Vendor: vendorName,
			Kind:   capability.KindTV,
			Name:   state.name,
		},
		Descriptor: capability.Descriptor{
			Supported: map[capability.Feature]capability.Domain{
				capability.FeaturePower:  capability.BoolDomain(),
				capability.FeatureVolume: capability.NumericRange(0, 100, 1),
				capability.FeatureSource: capability.EnumDomain(sources...),
			},
			Active: []capability.Feature{
				capability.FeaturePower,
				capability.FeatureVolume,
				capability.FeatureSource,
			},
		},
		Attributes: capability.Attributes{
			capability.FeaturePower:  state.power,
			capability.FeatureVolume: state.volume,
			capability.FeatureSource: state.source,
		},
		Assumed:   true,
		Schema:    capability.SchemaVersion,
		FetchedAt: time.Now().UTC(),
	}
}
