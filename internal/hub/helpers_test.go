package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rowanhale/hearth-core/internal/adapter"
	"github.com/rowanhale/hearth-core/internal/capability"
)

// climateSnapshot builds a typical AC snapshot for tests: powered on in heat
// mode at 21 degrees, whole-degree setpoints from 16 to 30.
func climateSnapshot(id string) *capability.Snapshot {
	return &capability.Snapshot{
		Identity: capability.Identity{
			ID:     id,
			Vendor: "acme",
			Kind:   capability.KindClimate,
			Name:   "Test AC",
		},
		Descriptor: capability.Descriptor{
			Supported: map[capability.Feature]capability.Domain{
				capability.FeaturePower:             capability.BoolDomain(),
				capability.FeatureMode:              capability.EnumDomain(capability.ModeHeat, capability.ModeCool, capability.ModeAuto),
				capability.FeatureTargetTemperature: capability.NumericRange(16, 30, 1),
				capability.FeatureFanMode:           capability.EnumDomain("low", "high"),
			},
			Active: []capability.Feature{
				capability.FeaturePower,
				capability.FeatureMode,
				capability.FeatureTargetTemperature,
				capability.FeatureFanMode,
			},
		},
		Attributes: capability.Attributes{
			capability.FeaturePower:             true,
			capability.FeatureMode:              capability.ModeHeat,
			capability.FeatureTargetTemperature: 21.0,
			capability.FeatureFanMode:           "low",
		},
		Available: true,
		Schema:    capability.SchemaVersion,
		FetchedAt: time.Now().UTC(),
	}
}

// fakeAdapter is a scriptable adapter recording every call it receives.
type fakeAdapter struct {
	vendor  string
	fetchFn func(ctx context.Context, deviceID string) (*capability.Snapshot, error)
	applyFn func(ctx context.Context, req adapter.ApplyRequest) (*adapter.ApplyResult, error)

	mu      sync.Mutex
	fetches int
	applied []adapter.ApplyRequest
}

func (f *fakeAdapter) Vendor() string { return f.vendor }

func (f *fakeAdapter) Fetch(ctx context.Context, deviceID string) (*capability.Snapshot, error) {
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()
	return f.fetchFn(ctx, deviceID)
}

func (f *fakeAdapter) Apply(ctx context.Context, req adapter.ApplyRequest) (*adapter.ApplyResult, error) {
	f.mu.Lock()
	f.applied = append(f.applied, req)
	f.mu.Unlock()
	return f.applyFn(ctx, req)
}

func (f *fakeAdapter) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeAdapter) applyCalls() []adapter.ApplyRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]adapter.ApplyRequest, len(f.applied))
	copy(out, f.applied)
	return out
}

// echoApply behaves like a vendor that echoes the new state back.
func echoApply(ctx context.Context, req adapter.ApplyRequest) (*adapter.ApplyResult, error) {
	return adapter.Confirmed(req.Current.With(req.Feature, req.Value)), nil
}

// fakeRepo is an in-memory Repository.
type fakeRepo struct {
	mu     sync.Mutex
	saved  map[string]StoredDevice
	loaded []StoredDevice
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{saved: make(map[string]StoredDevice)}
}

func (r *fakeRepo) LoadAll(ctx context.Context) ([]StoredDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded, nil
}

func (r *fakeRepo) SaveSnapshot(ctx context.Context, id string, snap *capability.Snapshot, revision uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved[id] = StoredDevice{DeviceID: id, Snapshot: snap.Clone(), Revision: revision}
	return nil
}

func (r *fakeRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.saved, id)
	return nil
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// drainEvents collects everything currently buffered on a subscription.
func drainEvents(sub *Subscription) []ChangeEvent {
	var out []ChangeEvent
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}
