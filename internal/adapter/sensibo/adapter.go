package sensibo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rowanhale/hearth-core/internal/adapter"
	"github.com/rowanhale/hearth-core/internal/capability"
	"github.com/rowanhale/hearth-core/internal/infrastructure/config"
)

const vendorName = "sensibo"

// Logger defines the logging interface used by the sensibo adapter.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Adapter integrates Sensibo cloud-connected AC controllers.
//
// Fetch polls GET /pods/{id} and translates the vendor payload into a
// canonical snapshot. Apply patches a single acState property, carrying
// the full current state alongside the change as the API requires, and
// returns the state the vendor echoed back.
//
// The adapter caches the last seen acState and remote capabilities per
// device. The cache feeds the currentAcState field of apply requests
// and lets a post-apply snapshot rebuild the mode-dependent descriptor
// without an extra fetch.
type Adapter struct {
	client *client
	logger Logger

	mu    sync.Mutex
	seen  map[string]acState
	caps  map[string]*remoteCapabilities
	names map[string]string
}

// New creates a Sensibo adapter from configuration.
func New(cfg config.SensiboConfig) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	return &Adapter{
		client: newClient(cfg.BaseURL, cfg.APIKey),
		logger: noopLogger{},
		seen:   make(map[string]acState),
		caps:   make(map[string]*remoteCapabilities),
		names:  make(map[string]string),
	}, nil
}

// SetLogger sets the logger for the adapter.
func (a *Adapter) SetLogger(logger Logger) {
	a.logger = logger
}

// Vendor returns the adapter family name.
func (a *Adapter) Vendor() string { return vendorName }

// Device is one discovered Sensibo unit.
type Device struct {
	ID   string
	Name string
}

// Discover enumerates the devices visible to the configured API key.
func (a *Adapter) Discover(ctx context.Context) ([]Device, error) {
	pods, err := a.client.listPods(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing pods: %w", err)
	}

	devices := make([]Device, 0, len(pods))
	a.mu.Lock()
	for _, p := range pods {
		devices = append(devices, Device{ID: p.ID, Name: p.Room.Name})
		a.names[p.ID] = p.Room.Name
	}
	a.mu.Unlock()
	return devices, nil
}

// Fetch retrieves the current full state of one device.
func (a *Adapter) Fetch(ctx context.Context, deviceID string) (*capability.Snapshot, error) {
	p, err := a.client.getPod(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.seen[deviceID] = p.ACState
	if p.RemoteCapabilities != nil {
		a.caps[deviceID] = p.RemoteCapabilities
	}
	name := a.names[deviceID]
	a.mu.Unlock()

	return translatePod(p, name), nil
}

// Apply executes one canonical command against the cloud API.
//
// The vendor echoes the accepted acState back, so a normal apply is
// confirmed. With req.Assume set the echo is ignored and the optimistic
// projection is returned instead.
func (a *Adapter) Apply(ctx context.Context, req adapter.ApplyRequest) (*adapter.ApplyResult, error) {
	property, ok := featureToProperty[req.Feature]
	if !ok {
		return nil, fmt.Errorf("%w: feature %s has no acState property", adapter.ErrRejected, req.Feature)
	}

	current := a.currentState(req)
	value := propertyValue(req.Feature, req.Value)

	res, err := a.client.setACStateProperty(ctx, req.DeviceID, property, value, current)
	if err != nil {
		return nil, err
	}
	if res.Status != "Success" {
		return nil, fmt.Errorf("%w: %s", adapter.ErrRejected, res.Reason)
	}

	a.mu.Lock()
	a.seen[req.DeviceID] = res.ACState
	caps := a.caps[req.DeviceID]
	a.mu.Unlock()

	if req.Assume {
		return adapter.Assumed(req), nil
	}
	return adapter.Confirmed(a.echoSnapshot(req, res.ACState, caps)), nil
}

// currentState reconstructs the vendor acState for an apply request,
// preferring the cached state from the last fetch and falling back to
// the canonical snapshot when the device has not been fetched yet.
func (a *Adapter) currentState(req adapter.ApplyRequest) acState {
	a.mu.Lock()
	state, ok := a.seen[req.DeviceID]
	a.mu.Unlock()
	if ok {
		return state
	}

	state = acState{TemperatureUnit: "C"}
	if req.Current == nil {
		return state
	}
	if v, ok := req.Current.Attribute(capability.FeaturePower); ok {
		state.On, _ = v.(bool)
	}
	if v, ok := req.Current.Attribute(capability.FeatureMode); ok {
		if s, ok := v.(string); ok {
			if vendorMode, ok := modeFromCanonical[s]; ok {
				state.Mode = vendorMode
			}
		}
	}
	if v, ok := req.Current.Attribute(capability.FeatureTargetTemperature); ok {
		state.TargetTemperature, _ = capability.ToFloat(v)
	}
	if v, ok := req.Current.Attribute(capability.FeatureFanMode); ok {
		state.FanLevel, _ = v.(string)
	}
	if v, ok := req.Current.Attribute(capability.FeatureSwingMode); ok {
		state.Swing, _ = v.(string)
	}
	return state
}

// echoSnapshot projects the vendor-echoed acState onto the device's
// snapshot. The descriptor is rebuilt from cached capabilities because
// a mode change moves the active feature set with it.
func (a *Adapter) echoSnapshot(req adapter.ApplyRequest, state acState, caps *remoteCapabilities) *capability.Snapshot {
	snap := req.Current.Clone()
	snap.Available = true
	snap.FetchedAt = time.Now().UTC()

	if caps != nil {
		snap.Descriptor = buildDescriptor(caps, state)
	}

	snap.Attributes[capability.FeaturePower] = state.On
	if canonical, ok := modeToCanonical[state.Mode]; ok {
		snap.Attributes[capability.FeatureMode] = canonical
	}
	if _, ok := snap.Descriptor.Supported[capability.FeatureTargetTemperature]; ok {
		snap.Attributes[capability.FeatureTargetTemperature] = state.TargetTemperature
	}
	if state.FanLevel != "" {
		snap.Attributes[capability.FeatureFanMode] = state.FanLevel
	}
	if state.Swing != "" {
		snap.Attributes[capability.FeatureSwingMode] = state.Swing
	}
	return snap
}
