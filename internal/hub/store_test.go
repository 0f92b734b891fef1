package hub

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rowanhale/hearth-core/internal/capability"
)

func TestRegisterAndGet(t *testing.T) {
	store := NewStore(NewBroker())
	ctx := context.Background()

	snap := climateSnapshot("ac-1")
	if err := store.Register(ctx, snap.Identity, snap); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, rev, err := store.Get("ac-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rev != 1 {
		t.Errorf("revision = %d, want 1", rev)
	}
	if !got.Available {
		t.Error("seeded snapshot should be available")
	}

	// The returned snapshot must be isolated from the store's copy.
	got.Attributes[capability.FeatureMode] = capability.ModeCool
	again, _, _ := store.Get("ac-1")
	if mode, _ := again.Attribute(capability.FeatureMode); mode != capability.ModeHeat {
		t.Errorf("store snapshot mutated through Get result: mode = %v", mode)
	}
}

func TestRegisterNilSeedIsUnavailablePlaceholder(t *testing.T) {
	store := NewStore(NewBroker())
	identity := capability.Identity{ID: "ac-2", Vendor: "acme", Kind: capability.KindClimate}

	if err := store.Register(context.Background(), identity, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	snap, rev, err := store.Get("ac-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Available {
		t.Error("placeholder should be unavailable until first fetch")
	}
	if rev != 1 {
		t.Errorf("revision = %d, want 1", rev)
	}
}

func TestRegisterExistingIsNoOp(t *testing.T) {
	store := NewStore(NewBroker())
	ctx := context.Background()
	snap := climateSnapshot("ac-1")

	if err := store.Register(ctx, snap.Identity, snap); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := store.MergeSnapshot(ctx, "ac-1", snap.With(capability.FeatureTargetTemperature, 25.0)); err != nil {
		t.Fatalf("merge: %v", err)
	}

	// Rediscovery must not reset state or revision.
	if err := store.Register(ctx, snap.Identity, snap); err != nil {
		t.Fatalf("second register: %v", err)
	}
	got, rev, _ := store.Get("ac-1")
	if rev != 2 {
		t.Errorf("revision = %d, want 2", rev)
	}
	if v, _ := got.Attribute(capability.FeatureTargetTemperature); v != 25.0 {
		t.Errorf("target = %v, want 25", v)
	}
}

func TestGetUnknownDevice(t *testing.T) {
	store := NewStore(NewBroker())
	_, _, err := store.Get("nope")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("err = %v, want ErrDeviceNotFound", err)
	}
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Error("ErrDeviceNotFound should satisfy ErrDeviceUnavailable")
	}
}

func TestMergeSnapshotBumpsRevisionAndPublishes(t *testing.T) {
	broker := NewBroker()
	store := NewStore(broker)
	ctx := context.Background()
	snap := climateSnapshot("ac-1")
	if err := store.Register(ctx, snap.Identity, snap); err != nil {
		t.Fatalf("register: %v", err)
	}

	sub := broker.Subscribe("ac-1")
	defer sub.Close()

	rev, err := store.MergeSnapshot(ctx, "ac-1", snap.With(capability.FeatureTargetTemperature, 23.0))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if rev != 2 {
		t.Errorf("revision = %d, want 2", rev)
	}

	events := drainEvents(sub)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != EventStateChanged {
		t.Errorf("type = %s, want %s", ev.Type, EventStateChanged)
	}
	if len(ev.Changed) != 1 || ev.Changed[0] != capability.FeatureTargetTemperature {
		t.Errorf("changed = %v, want [target_temperature]", ev.Changed)
	}
	if ev.Revision != 2 {
		t.Errorf("event revision = %d, want 2", ev.Revision)
	}
}

func TestMergeIdenticalSnapshotPublishesNothing(t *testing.T) {
	broker := NewBroker()
	store := NewStore(broker)
	ctx := context.Background()
	snap := climateSnapshot("ac-1")
	if err := store.Register(ctx, snap.Identity, snap); err != nil {
		t.Fatalf("register: %v", err)
	}

	sub := broker.Subscribe("ac-1")
	defer sub.Close()

	rev, err := store.MergeSnapshot(ctx, "ac-1", snap.Clone())
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if rev != 2 {
		t.Errorf("revision = %d, want 2 (merges always advance)", rev)
	}
	if events := drainEvents(sub); len(events) != 0 {
		t.Errorf("got %d events for identical merge, want 0", len(events))
	}
}

func TestAvailabilityFlipsOnlyAtThreshold(t *testing.T) {
	broker := NewBroker()
	store := NewStore(broker)
	ctx := context.Background()
	snap := climateSnapshot("ac-1")
	if err := store.Register(ctx, snap.Identity, snap); err != nil {
		t.Fatalf("register: %v", err)
	}

	sub := broker.Subscribe("ac-1")
	defer sub.Close()

	const threshold = 3
	for i := 1; i <= threshold-1; i++ {
		count, flipped, err := store.RecordFailure(ctx, "ac-1", threshold)
		if err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		if count != i || flipped {
			t.Fatalf("failure %d: count=%d flipped=%v", i, count, flipped)
		}
	}
	if events := drainEvents(sub); len(events) != 0 {
		t.Fatalf("got %d events before threshold, want 0", len(events))
	}

	_, flipped, err := store.RecordFailure(ctx, "ac-1", threshold)
	if err != nil {
		t.Fatalf("threshold failure: %v", err)
	}
	if !flipped {
		t.Fatal("availability should flip at threshold")
	}
	events := drainEvents(sub)
	if len(events) != 1 || events[0].Type != EventAvailabilityChanged {
		t.Fatalf("events = %+v, want one availability_changed", events)
	}

	// Attribute values survive unavailability for stale reads.
	got, _, _ := store.Get("ac-1")
	if got.Available {
		t.Error("device should be unavailable")
	}
	if v, _ := got.Attribute(capability.FeatureTargetTemperature); v != 21.0 {
		t.Errorf("stale target = %v, want 21", v)
	}

	// Further failures past the threshold stay silent.
	if _, flipped, _ := store.RecordFailure(ctx, "ac-1", threshold); flipped {
		t.Error("already unavailable, must not flip again")
	}
	if events := drainEvents(sub); len(events) != 0 {
		t.Errorf("got events past threshold, want none")
	}
}

func TestRecoveryPublishesAvailabilityEdge(t *testing.T) {
	broker := NewBroker()
	store := NewStore(broker)
	ctx := context.Background()
	snap := climateSnapshot("ac-1")
	if err := store.Register(ctx, snap.Identity, snap); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, _, err := store.RecordFailure(ctx, "ac-1", 3); err != nil {
			t.Fatalf("failure: %v", err)
		}
	}

	sub := broker.Subscribe("ac-1")
	defer sub.Close()

	if _, err := store.MergeSnapshot(ctx, "ac-1", snap.Clone()); err != nil {
		t.Fatalf("merge: %v", err)
	}
	events := drainEvents(sub)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 availability_changed", len(events))
	}
	if events[0].Type != EventAvailabilityChanged {
		t.Errorf("type = %s, want %s", events[0].Type, EventAvailabilityChanged)
	}
	if !events[0].Snapshot.Available {
		t.Error("recovery event should carry an available snapshot")
	}
}

func TestMergeUnavailableSnapshotPublishesDownEdge(t *testing.T) {
	broker := NewBroker()
	store := NewStore(broker)
	ctx := context.Background()
	snap := climateSnapshot("tv-1")
	if err := store.Register(ctx, snap.Identity, snap); err != nil {
		t.Fatalf("register: %v", err)
	}

	sub := broker.Subscribe("tv-1")
	defer sub.Close()

	// Adapters that probe reachability report a dead device through a
	// successful fetch with Available=false, not through a fetch error.
	offline := snap.Clone()
	offline.Available = false
	if _, err := store.MergeSnapshot(ctx, "tv-1", offline); err != nil {
		t.Fatalf("merge: %v", err)
	}

	events := drainEvents(sub)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 availability_changed", len(events))
	}
	if events[0].Type != EventAvailabilityChanged {
		t.Errorf("type = %s, want %s", events[0].Type, EventAvailabilityChanged)
	}
	if events[0].Snapshot.Available {
		t.Error("down-edge event should carry an unavailable snapshot")
	}

	// A second unavailable merge is not an edge and stays silent.
	if _, err := store.MergeSnapshot(ctx, "tv-1", offline.Clone()); err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if events := drainEvents(sub); len(events) != 0 {
		t.Errorf("got %d events for repeated unavailable merge, want 0", len(events))
	}
}

func TestRemoveRetainsStaleEntry(t *testing.T) {
	broker := NewBroker()
	store := NewStore(broker)
	ctx := context.Background()
	snap := climateSnapshot("ac-1")
	if err := store.Register(ctx, snap.Identity, snap); err != nil {
		t.Fatalf("register: %v", err)
	}

	sub := broker.Subscribe("ac-1")
	defer sub.Close()

	if err := store.Remove(ctx, "ac-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, rev, err := store.Get("ac-1")
	if err != nil {
		t.Fatalf("get after remove: %v", err)
	}
	if got.Available {
		t.Error("removed device should read unavailable")
	}
	if rev != 2 {
		t.Errorf("revision = %d, want 2", rev)
	}
	events := drainEvents(sub)
	if len(events) != 1 || events[0].Type != EventDeviceRemoved {
		t.Fatalf("events = %+v, want one device_removed", events)
	}
}

func TestConcurrentMergesStayMonotonic(t *testing.T) {
	store := NewStore(NewBroker())
	ctx := context.Background()
	snap := climateSnapshot("ac-1")
	if err := store.Register(ctx, snap.Identity, snap); err != nil {
		t.Fatalf("register: %v", err)
	}

	const writers = 8
	const mergesEach = 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < mergesEach; i++ {
				next := snap.With(capability.FeatureTargetTemperature, float64(16+(w+i)%14))
				if _, err := store.MergeSnapshot(ctx, "ac-1", next); err != nil {
					t.Errorf("merge: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	_, rev, err := store.Get("ac-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if want := uint64(1 + writers*mergesEach); rev != want {
		t.Errorf("revision = %d, want %d (one increment per merge)", rev, want)
	}
}

func TestRestoreSeedsUnavailableEntries(t *testing.T) {
	repo := newFakeRepo()
	snap := climateSnapshot("ac-1")
	repo.loaded = []StoredDevice{{DeviceID: "ac-1", Snapshot: snap, Revision: 17}}

	store := NewStore(NewBroker())
	store.SetRepository(repo)
	if err := store.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	got, _, err := store.Get("ac-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Available {
		t.Error("restored device must start unavailable")
	}
	if v, _ := got.Attribute(capability.FeatureTargetTemperature); v != 21.0 {
		t.Errorf("restored target = %v, want 21", v)
	}

	// Revisions continue from the persisted value.
	newRev, err := store.MergeSnapshot(context.Background(), "ac-1", snap.Clone())
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if newRev != 18 {
		t.Errorf("revision after restore+merge = %d, want 18", newRev)
	}
}

func TestPersistWriteThrough(t *testing.T) {
	repo := newFakeRepo()
	store := NewStore(NewBroker())
	store.SetRepository(repo)
	ctx := context.Background()
	snap := climateSnapshot("ac-1")

	if err := store.Register(ctx, snap.Identity, snap); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := store.MergeSnapshot(ctx, "ac-1", snap.With(capability.FeatureTargetTemperature, 24.0)); err != nil {
		t.Fatalf("merge: %v", err)
	}

	repo.mu.Lock()
	rec, ok := repo.saved["ac-1"]
	repo.mu.Unlock()
	if !ok {
		t.Fatal("merge did not write through to repository")
	}
	if rec.Revision != 2 {
		t.Errorf("persisted revision = %d, want 2", rec.Revision)
	}
	if v, _ := rec.Snapshot.Attribute(capability.FeatureTargetTemperature); v != 24.0 {
		t.Errorf("persisted target = %v, want 24", v)
	}
}
