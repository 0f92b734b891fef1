package hub

import (
	"sync"
	"time"

	"github.com/rowanhale/hearth-core/internal/capability"
)

// EventType classifies a change notification.
type EventType string

// EventType constants.
const (
	EventStateChanged        EventType = "state_changed"
	EventAvailabilityChanged EventType = "availability_changed"
	EventDeviceAdded         EventType = "device_added"
	EventDeviceRemoved       EventType = "device_removed"
)

// ChangeEvent is one state-change notification fanned out to subscribers.
type ChangeEvent struct {
	Type      EventType             `json:"type"`
	DeviceID  string                `json:"device_id"`
	Revision  uint64                `json:"revision"`
	Snapshot  *capability.Snapshot  `json:"snapshot"`
	Changed   []capability.Feature  `json:"changed,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// subBufferSize is the per-subscriber event buffer. A subscriber that falls
// further behind than this loses events; the stream is restartable by
// resubscribing and re-reading the store.
const subBufferSize = 64

// AllDevices subscribes to events for every device.
const AllDevices = "*"

// Broker fans change events out to subscribers.
//
// Delivery is best-effort per subscriber: publishing never blocks, and a
// full subscriber buffer drops the event for that subscriber only.
// All methods are safe for concurrent use.
type Broker struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
	logger Logger
}

// Subscription is one subscriber's event stream.
//
// The subscription mutex serialises delivery against closure: Publish only
// sends while holding it, and Close marks the subscription closed under the
// same lock before closing the channel, so a concurrent Close can never
// turn an in-flight send into a send on a closed channel.
type Subscription struct {
	broker   *Broker
	deviceID string

	mu     sync.Mutex
	ch     chan ChangeEvent
	closed bool
}

// NewBroker creates an event broker.
func NewBroker() *Broker {
	return &Broker{
		subs:   make(map[*Subscription]struct{}),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the broker.
func (b *Broker) SetLogger(logger Logger) {
	b.logger = logger
}

// Subscribe registers a subscriber for one device's events, or for all
// devices when deviceID is AllDevices. The returned subscription must be
// closed when no longer needed.
func (b *Broker) Subscribe(deviceID string) *Subscription {
	sub := &Subscription{
		broker:   b,
		deviceID: deviceID,
		ch:       make(chan ChangeEvent, subBufferSize),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.closed = true
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Events returns the subscriber's receive channel. It is closed when the
// subscription is closed or the broker shuts down.
func (s *Subscription) Events() <-chan ChangeEvent {
	return s.ch
}

// Close detaches the subscription and closes its channel.
// Safe to call multiple times and concurrently with Publish.
func (s *Subscription) Close() {
	s.broker.mu.Lock()
	delete(s.broker.subs, s)
	s.broker.mu.Unlock()

	s.closeChannel()
}

// closeChannel closes the receive channel exactly once, under the
// subscription lock so no delivery can be mid-send.
func (s *Subscription) closeChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// deliver attempts a non-blocking send. It reports false only when the
// event was dropped because the subscriber's buffer is full; delivery to an
// already closed subscription counts as handled.
func (s *Subscription) deliver(ev ChangeEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// Publish delivers an event to every matching subscriber.
//
// The subscriber list is snapshotted under the lock and delivery happens
// outside it, so a slow subscriber never delays store merges.
func (b *Broker) Publish(ev ChangeEvent) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		if sub.deviceID == AllDevices || sub.deviceID == ev.DeviceID {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.deliver(ev) {
			b.logger.Warn("event dropped for slow subscriber",
				"device_id", ev.DeviceID,
				"type", string(ev.Type),
			)
		}
	}
}

// SubscriberCount returns the number of attached subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close detaches all subscribers and closes their channels.
// Publish after Close is a no-op.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.closeChannel()
		delete(b.subs, sub)
	}
}
