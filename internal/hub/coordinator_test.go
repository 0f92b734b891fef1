package hub

import (
	"context"
	"testing"
	"time"

	"github.com/rowanhale/hearth-core/internal/adapter"
	"github.com/rowanhale/hearth-core/internal/capability"
)

func identityFor(id string) capability.Identity {
	return capability.Identity{ID: id, Vendor: "acme", Kind: capability.KindClimate, Name: id}
}

// newPushCoordinator builds a coordinator with one interval-less group, so
// tests drive refreshes explicitly through RefreshDevice and stay free of
// timer races.
func newPushCoordinator(t *testing.T, fake *fakeAdapter, cfg CoordinatorConfig) (*Coordinator, *Store, *Broker) {
	t.Helper()
	broker := NewBroker()
	store := NewStore(broker)
	coord := NewCoordinator(store, cfg)
	if err := coord.AddGroup(Group{Name: "acme", Adapter: fake}); err != nil {
		t.Fatalf("add group: %v", err)
	}
	return coord, store, broker
}

func TestCoordinatorRefreshMergesSnapshot(t *testing.T) {
	fake := &fakeAdapter{
		vendor: "acme",
		fetchFn: func(ctx context.Context, id string) (*capability.Snapshot, error) {
			return climateSnapshot(id), nil
		},
	}
	coord, store, _ := newPushCoordinator(t, fake, CoordinatorConfig{})
	ctx := context.Background()

	if err := coord.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer coord.Stop()

	// AddDevice registers a placeholder and kicks the first fetch.
	if err := coord.AddDevice(ctx, "acme", identityFor("ac-1")); err != nil {
		t.Fatalf("add device: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		snap, _, err := store.Get("ac-1")
		return err == nil && snap.Available
	}, "first refresh to land")

	snap, rev, _ := store.Get("ac-1")
	if rev != 2 {
		t.Errorf("revision = %d, want 2 (register then merge)", rev)
	}
	if v, _ := snap.Attribute(capability.FeatureTargetTemperature); v != 21.0 {
		t.Errorf("target = %v, want 21", v)
	}
}

func TestCoordinatorFailureIsolation(t *testing.T) {
	fake := &fakeAdapter{
		vendor: "acme",
		fetchFn: func(ctx context.Context, id string) (*capability.Snapshot, error) {
			if id == "ac-bad" {
				return nil, adapter.ErrUnreachable
			}
			return climateSnapshot(id), nil
		},
	}
	coord, store, _ := newPushCoordinator(t, fake, CoordinatorConfig{FetchRetries: 0})
	ctx := context.Background()

	if err := coord.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer coord.Stop()

	if err := coord.AddDevice(ctx, "acme", identityFor("ac-good")); err != nil {
		t.Fatalf("add good: %v", err)
	}
	if err := coord.AddDevice(ctx, "acme", identityFor("ac-bad")); err != nil {
		t.Fatalf("add bad: %v", err)
	}

	// The good device refreshes fine regardless of the bad one failing.
	waitFor(t, time.Second, func() bool {
		snap, _, err := store.Get("ac-good")
		return err == nil && snap.Available
	}, "good device refresh")

	// The bad device booked exactly its own failure, one per attempt.
	waitFor(t, time.Second, func() bool {
		e, ok := store.lockEntry("ac-bad")
		if !ok {
			return false
		}
		defer e.mu.Unlock()
		return e.failures == 1
	}, "bad device failure bookkeeping")

	if snap, _, err := store.Get("ac-good"); err != nil || !snap.Available {
		t.Errorf("good device affected by neighbour failure: snap=%+v err=%v", snap, err)
	}
}

func TestCoordinatorAvailabilityEdgeAndRecovery(t *testing.T) {
	fail := make(chan bool, 16)
	failNow := true
	fake := &fakeAdapter{vendor: "acme"}
	fake.fetchFn = func(ctx context.Context, id string) (*capability.Snapshot, error) {
		select {
		case failNow = <-fail:
		default:
		}
		if failNow {
			return nil, adapter.ErrUnreachable
		}
		snap := climateSnapshot(id)
		return snap, nil
	}

	coord, store, broker := newPushCoordinator(t, fake, CoordinatorConfig{
		FetchRetries:     0,
		FailureThreshold: 2,
		BackoffCeiling:   10 * time.Millisecond,
	})
	ctx := context.Background()

	seed := climateSnapshot("ac-1")
	if err := store.Register(ctx, seed.Identity, seed); err != nil {
		t.Fatalf("register: %v", err)
	}
	sub := broker.Subscribe("ac-1")
	defer sub.Close()

	if err := coord.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer coord.Stop()
	if err := coord.AddDevice(ctx, "acme", seed.Identity); err != nil {
		t.Fatalf("add device: %v", err)
	}

	// Drive failed refreshes until the threshold flips availability.
	waitFor(t, 2*time.Second, func() bool {
		coord.RefreshDevice("ac-1")
		snap, _, err := store.Get("ac-1")
		return err == nil && !snap.Available
	}, "availability to flip down")

	var downs int
	for _, ev := range drainEvents(sub) {
		if ev.Type == EventAvailabilityChanged && !ev.Snapshot.Available {
			downs++
		}
	}
	if downs != 1 {
		t.Errorf("down events = %d, want exactly 1 (edge-triggered)", downs)
	}

	// A few more failures past the threshold stay silent.
	for i := 0; i < 3; i++ {
		coord.RefreshDevice("ac-1")
		time.Sleep(5 * time.Millisecond)
	}
	for _, ev := range drainEvents(sub) {
		if ev.Type == EventAvailabilityChanged {
			t.Errorf("unexpected availability event while already down: %+v", ev)
		}
	}

	// Recovery: next successful fetch brings it back with one up event.
	fail <- false
	waitFor(t, 2*time.Second, func() bool {
		coord.RefreshDevice("ac-1")
		snap, _, err := store.Get("ac-1")
		return err == nil && snap.Available
	}, "availability to recover")

	var ups int
	for _, ev := range drainEvents(sub) {
		if ev.Type == EventAvailabilityChanged && ev.Snapshot.Available {
			ups++
		}
	}
	if ups != 1 {
		t.Errorf("up events = %d, want exactly 1", ups)
	}
}

func TestCoordinatorAdapterFor(t *testing.T) {
	fake := &fakeAdapter{vendor: "acme"}
	coord, _, _ := newPushCoordinator(t, fake, CoordinatorConfig{})

	if a, ok := coord.AdapterFor("acme"); !ok || a != adapter.Adapter(fake) {
		t.Errorf("AdapterFor(acme) = %v, %v", a, ok)
	}
	if _, ok := coord.AdapterFor("unknown"); ok {
		t.Error("AdapterFor(unknown) should miss")
	}
}

func TestCoordinatorRemoveDevice(t *testing.T) {
	fake := &fakeAdapter{
		vendor: "acme",
		fetchFn: func(ctx context.Context, id string) (*capability.Snapshot, error) {
			return climateSnapshot(id), nil
		},
	}
	coord, store, _ := newPushCoordinator(t, fake, CoordinatorConfig{})
	ctx := context.Background()

	if err := coord.AddDevice(ctx, "acme", identityFor("ac-1")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := coord.RemoveDevice(ctx, "ac-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	snap, _, err := store.Get("ac-1")
	if err != nil {
		t.Fatalf("get after remove: %v", err)
	}
	if snap.Available {
		t.Error("removed device should read unavailable")
	}
	if err := coord.RemoveDevice(ctx, "ac-1"); err == nil {
		t.Error("second remove should fail")
	}
}

func TestCoordinatorStopIsIdempotent(t *testing.T) {
	fake := &fakeAdapter{
		vendor: "acme",
		fetchFn: func(ctx context.Context, id string) (*capability.Snapshot, error) {
			return climateSnapshot(id), nil
		},
	}
	coord, _, _ := newPushCoordinator(t, fake, CoordinatorConfig{})
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	coord.Stop()
	coord.Stop()

	// Refresh after stop is a silent no-op.
	coord.RefreshDevice("ac-1")
}

func TestCoordinatorDuplicateGroupRejected(t *testing.T) {
	fake := &fakeAdapter{vendor: "acme"}
	coord, _, _ := newPushCoordinator(t, fake, CoordinatorConfig{})
	if err := coord.AddGroup(Group{Name: "acme", Adapter: fake}); err == nil {
		t.Error("duplicate group name should be rejected")
	}
	if err := coord.AddGroup(Group{Name: "other"}); err == nil {
		t.Error("nil adapter should be rejected")
	}
}
