package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rowanhale/hearth-core/internal/capability"
)

// Logger defines the logging interface used by the hub package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// entry is the store's record for one device.
//
// The entry mutex is the single per-device serialisation boundary: the
// coordinator's merge and the dispatcher's command execution both hold it,
// so a refresh and a command never interleave for one device. Entries for
// different devices never block each other.
type entry struct {
	mu sync.Mutex

	snapshot    *capability.Snapshot
	revision    uint64
	failures    int
	lastSuccess time.Time
	removed     bool
}

// Store holds the latest known snapshot per device id.
//
// Reads never block on network I/O; Get returns the last known snapshot,
// possibly stale or unavailable. Writes go exclusively through the
// coordinator's merge operations and the dispatcher's reconciliation, both
// of which serialise per device via the entry lock.
type Store struct {
	mu      sync.RWMutex // guards the entries map, not the entries
	entries map[string]*entry

	broker *Broker
	repo   Repository // optional write-through persistence
	logger Logger
}

// NewStore creates an empty store publishing change events to broker.
func NewStore(broker *Broker) *Store {
	return &Store{
		entries: make(map[string]*entry),
		broker:  broker,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// SetRepository enables write-through persistence of latest snapshots.
// Persistence failures are logged, never propagated: the in-memory state
// is authoritative at runtime.
func (s *Store) SetRepository(repo Repository) {
	s.repo = repo
}

// Register creates the store entry for a newly reported device.
//
// The seed snapshot may be nil, in which case a placeholder with
// Available=false is stored until the first successful fetch. Registering
// an already known id is a no-op (preserves state across rediscovery).
func (s *Store) Register(ctx context.Context, identity capability.Identity, seed *capability.Snapshot) error {
	s.mu.Lock()
	if _, exists := s.entries[identity.ID]; exists {
		s.mu.Unlock()
		return nil
	}

	if seed == nil {
		seed = &capability.Snapshot{
			Identity:  identity,
			Available: false,
			Schema:    capability.SchemaVersion,
			FetchedAt: time.Now().UTC(),
		}
	}
	e := &entry{snapshot: seed.Clone(), revision: 1}
	s.entries[identity.ID] = e
	s.mu.Unlock()

	s.persist(ctx, identity.ID, e.snapshot, e.revision)
	s.broker.Publish(ChangeEvent{
		Type:      EventDeviceAdded,
		DeviceID:  identity.ID,
		Revision:  e.revision,
		Snapshot:  seed.Clone(),
		Timestamp: time.Now().UTC(),
	})
	s.logger.Info("device registered", "id", identity.ID, "vendor", identity.Vendor, "kind", string(identity.Kind))
	return nil
}

// Restore seeds the store from persisted snapshots at boot.
//
// Restored devices come up with Available=false so reads serve last-known
// state until the first successful refresh confirms it. Revisions continue
// from their persisted values, preserving monotonicity across restarts.
// No events are published; nothing has changed yet.
func (s *Store) Restore(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	stored, err := s.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading persisted snapshots: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range stored {
		if _, exists := s.entries[rec.DeviceID]; exists {
			continue
		}
		snap := rec.Snapshot.Clone()
		snap.Available = false
		s.entries[rec.DeviceID] = &entry{snapshot: snap, revision: rec.Revision}
	}
	s.logger.Info("store restored from repository", "devices", len(stored))
	return nil
}

// Remove marks a device as permanently unavailable.
//
// The entry is retained rather than deleted so stale reads degrade
// gracefully instead of erroring.
func (s *Store) Remove(ctx context.Context, id string) error {
	e, ok := s.lockEntry(id)
	if !ok {
		return ErrDeviceNotFound
	}

	snap := e.snapshot.Clone()
	snap.Available = false
	e.snapshot = snap
	e.removed = true
	e.revision++
	rev := e.revision
	e.mu.Unlock()

	s.persist(ctx, id, snap, rev)
	s.broker.Publish(ChangeEvent{
		Type:      EventDeviceRemoved,
		DeviceID:  id,
		Revision:  rev,
		Snapshot:  snap.Clone(),
		Timestamp: time.Now().UTC(),
	})
	s.logger.Info("device removed", "id", id)
	return nil
}

// Get returns the latest snapshot and revision for a device.
// It never blocks on network I/O. Returns ErrDeviceNotFound for ids that
// were never registered.
func (s *Store) Get(id string) (*capability.Snapshot, uint64, error) {
	e, ok := s.lockEntry(id)
	if !ok {
		return nil, 0, ErrDeviceNotFound
	}
	defer e.mu.Unlock()

	return e.snapshot.Clone(), e.revision, nil
}

// List returns the latest snapshot of every registered device.
func (s *Store) List() []capability.Snapshot {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	snaps := make([]capability.Snapshot, 0, len(ids))
	for _, id := range ids {
		if snap, _, err := s.Get(id); err == nil {
			snaps = append(snaps, *snap)
		}
	}
	return snaps
}

// Count returns the number of registered devices.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// MergeSnapshot replaces a device's snapshot after a successful fetch.
//
// It resets the failure count, bumps the revision, and publishes a state
// change event when an observable attribute differs from the previous
// snapshot, plus an availability event whenever the available flag flips in
// either direction. Adapters that report reachability in-band (a successful
// fetch carrying Available=false) take the down edge through this path
// rather than through RecordFailure. Returns the new revision.
func (s *Store) MergeSnapshot(ctx context.Context, id string, snap *capability.Snapshot) (uint64, error) {
	e, ok := s.lockEntry(id)
	if !ok {
		return 0, ErrDeviceNotFound
	}

	events, rev, err := s.mergeLocked(e, id, snap)
	e.mu.Unlock()
	if err != nil {
		return 0, err
	}

	s.persist(ctx, id, snap, rev)
	for _, ev := range events {
		s.broker.Publish(ev)
	}
	return rev, nil
}

// mergeLocked performs the snapshot replacement while the entry lock is
// held. Events are returned for publication after the lock is released so
// fan-out never runs under the per-device lock.
func (s *Store) mergeLocked(e *entry, id string, snap *capability.Snapshot) ([]ChangeEvent, uint64, error) {
	prev := e.snapshot
	prevRev := e.revision

	stored := snap.Clone()
	e.snapshot = stored
	e.revision++
	e.failures = 0
	e.lastSuccess = time.Now().UTC()
	e.removed = false

	if e.revision != prevRev+1 {
		// Unreachable unless the locking discipline is broken.
		s.logger.Error("revision skew on merge", "id", id, "prev", prevRev, "new", e.revision)
		return nil, 0, fmt.Errorf("%w: revision %d -> %d for %s", ErrStoreInvariant, prevRev, e.revision, id)
	}

	now := time.Now().UTC()
	var events []ChangeEvent

	if prev.Available != stored.Available {
		events = append(events, ChangeEvent{
			Type:      EventAvailabilityChanged,
			DeviceID:  id,
			Revision:  e.revision,
			Snapshot:  stored.Clone(),
			Timestamp: now,
		})
	}
	if changed := changedFeatures(prev, stored); len(changed) > 0 {
		events = append(events, ChangeEvent{
			Type:      EventStateChanged,
			DeviceID:  id,
			Revision:  e.revision,
			Snapshot:  stored.Clone(),
			Changed:   changed,
			Timestamp: now,
		})
	}
	return events, e.revision, nil
}

// RecordFailure increments a device's consecutive failure count after a
// failed fetch. The snapshot's attribute values stay intact; availability
// flips to false only when the count reaches threshold, and the
// availability event fires only on that edge transition.
//
// Returns the failure count and whether availability flipped.
func (s *Store) RecordFailure(ctx context.Context, id string, threshold int) (int, bool, error) {
	e, ok := s.lockEntry(id)
	if !ok {
		return 0, false, ErrDeviceNotFound
	}

	e.failures++
	count := e.failures

	flipped := false
	var snap *capability.Snapshot
	var rev uint64
	if count >= threshold && e.snapshot.Available {
		snap = e.snapshot.Clone()
		snap.Available = false
		e.snapshot = snap
		e.revision++
		rev = e.revision
		flipped = true
	}
	e.mu.Unlock()

	if flipped {
		s.persist(ctx, id, snap, rev)
		s.broker.Publish(ChangeEvent{
			Type:      EventAvailabilityChanged,
			DeviceID:  id,
			Revision:  rev,
			Snapshot:  snap.Clone(),
			Timestamp: time.Now().UTC(),
		})
		s.logger.Warn("device marked unavailable", "id", id, "failures", count)
	}
	return count, flipped, nil
}

// lockEntry returns the entry for id with its mutex held.
// The caller must unlock it.
func (s *Store) lockEntry(id string) (*entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	return e, true
}

// persist writes the latest snapshot through to the repository, if one is
// configured. Failures are logged and swallowed.
func (s *Store) persist(ctx context.Context, id string, snap *capability.Snapshot, revision uint64) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveSnapshot(ctx, id, snap, revision); err != nil {
		s.logger.Error("snapshot persistence failed", "id", id, "error", err)
	}
}

// changedFeatures lists the features whose values differ between two
// snapshots, including features that appeared or disappeared.
func changedFeatures(prev, next *capability.Snapshot) []capability.Feature {
	var changed []capability.Feature
	for f, v := range next.Attributes {
		pv, ok := prev.Attributes[f]
		if !ok || !capability.ValuesEqual(pv, v) {
			changed = append(changed, f)
		}
	}
	for f := range prev.Attributes {
		if _, ok := next.Attributes[f]; !ok {
			changed = append(changed, f)
		}
	}
	return changed
}
