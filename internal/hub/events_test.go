package hub

import (
	"testing"
	"time"
)

func TestBrokerFiltersByDevice(t *testing.T) {
	broker := NewBroker()
	one := broker.Subscribe("ac-1")
	defer one.Close()
	all := broker.Subscribe(AllDevices)
	defer all.Close()

	broker.Publish(ChangeEvent{Type: EventStateChanged, DeviceID: "ac-1", Timestamp: time.Now()})
	broker.Publish(ChangeEvent{Type: EventStateChanged, DeviceID: "ac-2", Timestamp: time.Now()})

	if got := drainEvents(one); len(got) != 1 || got[0].DeviceID != "ac-1" {
		t.Errorf("device subscriber got %+v, want one ac-1 event", got)
	}
	if got := drainEvents(all); len(got) != 2 {
		t.Errorf("wildcard subscriber got %d events, want 2", len(got))
	}
}

func TestBrokerNeverBlocksOnSlowSubscriber(t *testing.T) {
	broker := NewBroker()
	slow := broker.Subscribe("ac-1")
	defer slow.Close()
	fast := broker.Subscribe("ac-1")
	defer fast.Close()

	// Overflow the slow subscriber's buffer without reading from it. The
	// publisher must not block and the healthy subscriber must keep up.
	published := subBufferSize + 10
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < published; i++ {
			broker.Publish(ChangeEvent{Type: EventStateChanged, DeviceID: "ac-1"})
			drainEvents(fast)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}

	if got := len(drainEvents(slow)); got > subBufferSize {
		t.Errorf("slow subscriber buffered %d events, cap is %d", got, subBufferSize)
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	broker := NewBroker()
	sub := broker.Subscribe("ac-1")
	sub.Close()
	sub.Close()

	if _, ok := <-sub.Events(); ok {
		t.Error("closed subscription channel should not deliver")
	}
	if n := broker.SubscriberCount(); n != 0 {
		t.Errorf("subscriber count = %d, want 0", n)
	}
}

func TestPublishDuringSubscriptionClose(t *testing.T) {
	broker := NewBroker()

	// Subscribers churn while events are in flight. The old fan-out closed
	// the channel from Close while Publish was mid-send, which panics; run
	// under -race to catch regressions.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			sub := broker.Subscribe("ac-1")
			sub.Close()
		}
	}()

	for publishing := true; publishing; {
		select {
		case <-done:
			publishing = false
		default:
			broker.Publish(ChangeEvent{Type: EventStateChanged, DeviceID: "ac-1"})
		}
	}

	if n := broker.SubscriberCount(); n != 0 {
		t.Errorf("subscriber count = %d, want 0", n)
	}
}

func TestBrokerCloseDetachesAll(t *testing.T) {
	broker := NewBroker()
	sub := broker.Subscribe(AllDevices)
	broker.Close()

	if _, ok := <-sub.Events(); ok {
		t.Error("channel should be closed after broker shutdown")
	}

	// Publish and Subscribe after Close are harmless no-ops.
	broker.Publish(ChangeEvent{Type: EventStateChanged, DeviceID: "ac-1"})
	late := broker.Subscribe("ac-1")
	if _, ok := <-late.Events(); ok {
		t.Error("post-close subscription should be born closed")
	}
	// Closing the dead subscription must not panic on the closed channel.
	late.Close()
	sub.Close()
}
