package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rowanhale/hearth-core/internal/adapter"
	"github.com/rowanhale/hearth-core/internal/capability"
)

// Coordinator defaults.
const (
	// DefaultFetchTimeout bounds a single adapter fetch call.
	DefaultFetchTimeout = 10 * time.Second

	// DefaultFetchRetries is the number of automatic retries for a failed
	// fetch within one cycle. Fetch is idempotent, so one retry is safe.
	DefaultFetchRetries = 1

	// DefaultFailureThreshold is the number of consecutive fetch failures
	// before a device is marked unavailable.
	DefaultFailureThreshold = 3

	// DefaultBackoffCeiling caps the backed-off refresh interval for an
	// unavailable device.
	DefaultBackoffCeiling = 5 * time.Minute
)

// CoordinatorConfig carries the refresh policy knobs.
// Zero values are replaced with the defaults above.
type CoordinatorConfig struct {
	FetchTimeout     time.Duration
	FetchRetries     int
	FailureThreshold int
	BackoffCeiling   time.Duration
}

func (c *CoordinatorConfig) applyDefaults() {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.FetchRetries < 0 {
		c.FetchRetries = DefaultFetchRetries
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.BackoffCeiling <= 0 {
		c.BackoffCeiling = DefaultBackoffCeiling
	}
}

// Group is one adapter group: a vendor adapter plus its refresh cadence.
//
// Interval is a property of the group, not global: cloud-polled vendors may
// refresh every 30 seconds while push-based vendors set Interval to zero
// and refresh only when a push arrives or a refresh is requested.
type Group struct {
	Name     string
	Adapter  adapter.Adapter
	Interval time.Duration
}

// deviceSchedule tracks one device's refresh cadence within a group.
// It is only touched by the group's runner goroutine and by AddDevice /
// RemoveDevice under the runner mutex.
type deviceSchedule struct {
	identity    capability.Identity
	nextAttempt time.Time
	interval    time.Duration // effective interval; grows under backoff
	inFlight    bool
}

// groupRunner is the per-group refresh worker state.
type groupRunner struct {
	group   Group
	mu      sync.Mutex
	devices map[string]*deviceSchedule
	kick    chan string // device id to refresh immediately, "" for all
}

// Coordinator keeps every registered device's store entry fresh.
//
// It runs one independent refresh worker per adapter group. Within a cycle
// all of a group's devices are fetched in parallel, each with its own
// timeout; one device's failure never delays or fails another's refresh, in
// the same group or any other.
//
// After a device crosses the consecutive-failure threshold its effective
// refresh interval doubles on every further failed attempt, up to the
// configured ceiling, and resets to the group cadence on the next success.
type Coordinator struct {
	store  *Store
	cfg    CoordinatorConfig
	logger Logger

	mu      sync.RWMutex
	groups  map[string]*groupRunner
	vendors map[string]adapter.Adapter // vendor name -> adapter
	byID    map[string]string          // device id -> group name

	started  bool
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewCoordinator creates a coordinator writing into store.
func NewCoordinator(store *Store, cfg CoordinatorConfig) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		store:   store,
		cfg:     cfg,
		logger:  noopLogger{},
		groups:  make(map[string]*groupRunner),
		vendors: make(map[string]adapter.Adapter),
		byID:    make(map[string]string),
		done:    make(chan struct{}),
	}
}

// SetLogger sets the logger for the coordinator.
func (c *Coordinator) SetLogger(logger Logger) {
	c.logger = logger
}

// AddGroup registers an adapter group. Groups must be added before Start.
func (c *Coordinator) AddGroup(g Group) error {
	if g.Adapter == nil {
		return fmt.Errorf("group %q: nil adapter", g.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("group %q: %w", g.Name, ErrShuttingDown)
	}
	if _, exists := c.groups[g.Name]; exists {
		return fmt.Errorf("group %q already registered", g.Name)
	}
	c.groups[g.Name] = &groupRunner{
		group:   g,
		devices: make(map[string]*deviceSchedule),
		kick:    make(chan string, 16),
	}
	c.vendors[g.Adapter.Vendor()] = g.Adapter
	return nil
}

// AdapterFor returns the adapter registered for a vendor.
// It satisfies the dispatcher's AdapterResolver interface.
func (c *Coordinator) AdapterFor(vendor string) (adapter.Adapter, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.vendors[vendor]
	return a, ok
}

// AddDevice registers a device with a group and the store, then triggers an
// immediate first refresh. Safe to call before or after Start; discovery
// events arrive at runtime.
func (c *Coordinator) AddDevice(ctx context.Context, groupName string, identity capability.Identity) error {
	c.mu.RLock()
	r, ok := c.groups[groupName]
	started := c.started
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("adding device %q: unknown group %q", identity.ID, groupName)
	}

	if err := c.store.Register(ctx, identity, nil); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.devices[identity.ID]; !exists {
		r.devices[identity.ID] = &deviceSchedule{
			identity: identity,
			interval: r.group.Interval,
		}
	}
	r.mu.Unlock()

	c.mu.Lock()
	c.byID[identity.ID] = groupName
	c.mu.Unlock()

	if started {
		c.RefreshDevice(identity.ID)
	}
	return nil
}

// RemoveDevice drops a device from its group schedule and marks its store
// entry permanently unavailable. The entry is retained for stale reads.
func (c *Coordinator) RemoveDevice(ctx context.Context, id string) error {
	c.mu.Lock()
	groupName, ok := c.byID[id]
	delete(c.byID, id)
	r := c.groups[groupName]
	c.mu.Unlock()
	if !ok || r == nil {
		return ErrDeviceNotFound
	}

	r.mu.Lock()
	delete(r.devices, id)
	r.mu.Unlock()

	return c.store.Remove(ctx, id)
}

// RefreshDevice requests an immediate out-of-cycle refresh for one device.
// Used for the first fetch after discovery and by push-based groups.
// The request is dropped if the coordinator is shutting down or the kick
// queue is full.
func (c *Coordinator) RefreshDevice(id string) {
	c.mu.RLock()
	groupName, ok := c.byID[id]
	r := c.groups[groupName]
	c.mu.RUnlock()
	if !ok || r == nil {
		return
	}

	select {
	case <-c.done:
	case r.kick <- id:
	default:
		c.logger.Warn("refresh request dropped, queue full", "id", id)
	}
}

// SubmitSnapshot merges an externally produced snapshot (a push update
// decoded by an adapter's transport) into the store, with the same
// bookkeeping as a successful fetch.
func (c *Coordinator) SubmitSnapshot(ctx context.Context, id string, snap *capability.Snapshot) (uint64, error) {
	select {
	case <-c.done:
		return 0, ErrShuttingDown
	default:
	}
	return c.store.MergeSnapshot(ctx, id, snap)
}

// Start launches one refresh worker per registered group.
// It returns immediately; workers stop when ctx is cancelled or Stop is
// called.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("coordinator already started")
	}
	c.started = true
	runners := make([]*groupRunner, 0, len(c.groups))
	for _, r := range c.groups {
		runners = append(runners, r)
	}
	c.mu.Unlock()

	for _, r := range runners {
		c.wg.Add(1)
		go c.runGroup(ctx, r)
	}
	c.logger.Info("coordinator started", "groups", len(runners))
	return nil
}

// Stop halts scheduling and waits for in-flight fetches to finish.
//
// In-flight adapter calls run to their own timeout rather than being
// hard-aborted: vendor side effects, once sent, cannot be un-sent. No new
// cycles or kicks are scheduled after Stop begins. Safe to call multiple
// times.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		c.logger.Info("coordinator stopped")
	})
}

// runGroup is one group's refresh loop.
func (c *Coordinator) runGroup(ctx context.Context, r *groupRunner) {
	defer c.wg.Done()

	var tick <-chan time.Time
	if r.group.Interval > 0 {
		ticker := time.NewTicker(r.group.Interval)
		defer ticker.Stop()
		tick = ticker.C

		// First cycle runs immediately rather than one interval in.
		c.refreshDue(r, time.Now())
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case now := <-tick:
			c.refreshDue(r, now)
		case id := <-r.kick:
			c.refreshOne(r, id)
		}
	}
}

// refreshDue starts a fetch for every device in the group that is due,
// skipping devices still backed off or with a fetch already in flight.
// Fetches run in parallel; the cycle never waits for them.
func (c *Coordinator) refreshDue(r *groupRunner, now time.Time) {
	r.mu.Lock()
	var due []*deviceSchedule
	for _, sched := range r.devices {
		if sched.inFlight || now.Before(sched.nextAttempt) {
			continue
		}
		sched.inFlight = true
		due = append(due, sched)
	}
	r.mu.Unlock()

	for _, sched := range due {
		c.wg.Add(1)
		go c.fetchDevice(r, sched)
	}
}

// refreshOne starts an immediate fetch for a single device.
func (c *Coordinator) refreshOne(r *groupRunner, id string) {
	r.mu.Lock()
	sched, ok := r.devices[id]
	if ok && !sched.inFlight {
		sched.inFlight = true
	} else {
		ok = false
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	c.wg.Add(1)
	go c.fetchDevice(r, sched)
}

// fetchDevice fetches one device and merges the result.
//
// The fetch context is detached from the run context deliberately: on
// shutdown an in-flight fetch runs to its own timeout instead of being
// cancelled mid-call (see Stop).
func (c *Coordinator) fetchDevice(r *groupRunner, sched *deviceSchedule) {
	defer c.wg.Done()

	id := sched.identity.ID
	snap, err := c.fetchWithRetry(r.group.Adapter, id)

	if err != nil {
		c.recordFetchFailure(r, sched, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
	defer cancel()
	if _, mergeErr := c.store.MergeSnapshot(ctx, id, snap); mergeErr != nil {
		c.logger.Error("merge failed", "id", id, "error", mergeErr)
	}

	r.mu.Lock()
	sched.inFlight = false
	sched.interval = r.group.Interval
	sched.nextAttempt = time.Time{}
	r.mu.Unlock()

	c.logger.Debug("device refreshed", "id", id, "group", r.group.Name)
}

// fetchWithRetry runs the adapter fetch with a per-attempt timeout and the
// configured bounded retry count. Fetch is idempotent, so retrying within a
// cycle is safe; Apply never gets this treatment.
func (c *Coordinator) fetchWithRetry(a adapter.Adapter, id string) (*capability.Snapshot, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.FetchRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
		snap, err := a.Fetch(ctx, id)
		cancel()
		if err == nil {
			return snap, nil
		}
		lastErr = err
	}
	return nil, &adapter.FetchError{DeviceID: id, Err: lastErr}
}

// recordFetchFailure books a failed cycle for one device and advances its
// backoff schedule once the unavailable threshold has been crossed.
func (c *Coordinator) recordFetchFailure(r *groupRunner, sched *deviceSchedule, err error) {
	id := sched.identity.ID

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
	defer cancel()
	count, flipped, recErr := c.store.RecordFailure(ctx, id, c.cfg.FailureThreshold)
	if recErr != nil {
		c.logger.Error("failure bookkeeping failed", "id", id, "error", recErr)
	}

	r.mu.Lock()
	sched.inFlight = false
	if count >= c.cfg.FailureThreshold {
		// Double the effective interval per failed attempt, capped at the
		// ceiling. Reduces load on a dead backend without starving
		// recovery detection.
		next := sched.interval * 2
		if sched.interval <= 0 {
			next = r.group.Interval
		}
		if next > c.cfg.BackoffCeiling {
			next = c.cfg.BackoffCeiling
		}
		if next <= 0 {
			next = c.cfg.BackoffCeiling
		}
		sched.interval = next
		sched.nextAttempt = time.Now().Add(next)
	}
	r.mu.Unlock()

	if flipped {
		c.logger.Warn("device crossed failure threshold", "id", id, "failures", count)
	} else {
		c.logger.Debug("fetch failed", "id", id, "failures", count, "error", err)
	}
}
