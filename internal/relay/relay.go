package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rowanhale/hearth-core/internal/capability"
	"github.com/rowanhale/hearth-core/internal/hub"
	"github.com/rowanhale/hearth-core/internal/infrastructure/mqtt"
)

// discoveryTimeout bounds handling of one inbound discovery message.
const discoveryTimeout = 10 * time.Second

// Logger defines the logging interface used by the relay.
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

// MQTTClient is the broker surface the relay needs.
// Satisfied by *mqtt.Client; narrowed for testing.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Coordinator is the device-lifecycle surface the relay drives from
// inbound discovery messages. Satisfied by *hub.Coordinator.
type Coordinator interface {
	AddDevice(ctx context.Context, groupName string, identity capability.Identity) error
	RemoveDevice(ctx context.Context, id string) error
	SubmitSnapshot(ctx context.Context, id string, snap *capability.Snapshot) (uint64, error)
}

// Relay bridges the hub's event stream onto MQTT and feeds inbound
// discovery announcements back into the coordinator.
//
// Outbound, every hub change event becomes two publishes: the full
// snapshot envelope on the retained per-device state topic, and the
// event itself on the event topic. Availability edges additionally
// update the retained availability topic. A removed device's retained
// messages are cleared so late subscribers do not resurrect it.
//
// Inbound, vendor transports announce devices on
// hearth/discovery/{vendor}; the vendor segment names the coordinator
// group the device joins.
type Relay struct {
	client      MQTTClient
	broker      *hub.Broker
	coordinator Coordinator
	qos         byte
	logger      Logger

	sub  *hub.Subscription
	done chan struct{}
	wg   sync.WaitGroup

	stopOnce sync.Once
}

// Options holds configuration for creating a relay.
type Options struct {
	// Client is the connected MQTT client.
	Client MQTTClient

	// Broker is the hub event broker to relay outbound.
	Broker *hub.Broker

	// Coordinator receives discovery adds, removals and pushed state.
	Coordinator Coordinator

	// QoS for all relay publishes and subscriptions.
	QoS byte

	// Logger is optional.
	Logger Logger
}

// New creates a relay. Call Start to begin operation.
func New(opts Options) (*Relay, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("relay: mqtt client is required")
	}
	if opts.Broker == nil {
		return nil, fmt.Errorf("relay: event broker is required")
	}
	if opts.Coordinator == nil {
		return nil, fmt.Errorf("relay: coordinator is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Relay{
		client:      opts.Client,
		broker:      opts.Broker,
		coordinator: opts.Coordinator,
		qos:         opts.QoS,
		logger:      logger,
		done:        make(chan struct{}),
	}, nil
}

// Start subscribes to the discovery feed and begins pumping hub events
// out to the broker.
func (r *Relay) Start() error {
	topics := mqtt.Topics{}
	if err := r.client.Subscribe(topics.AllDiscovery(), r.qos, r.handleDiscovery); err != nil {
		return fmt.Errorf("relay: subscribing to discovery: %w", err)
	}

	r.sub = r.broker.Subscribe(hub.AllDevices)
	r.wg.Add(1)
	go r.pump()

	r.logger.Info("relay started", "discovery_topic", topics.AllDiscovery())
	return nil
}

// Stop shuts the relay down. Safe to call more than once.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		if r.sub != nil {
			r.sub.Close()
		}
		r.wg.Wait()
		r.logger.Info("relay stopped")
	})
}

// pump forwards hub events to MQTT until the subscription closes.
func (r *Relay) pump() {
	defer r.wg.Done()

	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-r.sub.Events():
			if !ok {
				return
			}
			r.publishEvent(ev)
		}
	}
}

// publishEvent maps one hub change event onto the MQTT topic scheme.
func (r *Relay) publishEvent(ev hub.ChangeEvent) {
	topics := mqtt.Topics{}

	// The event stream itself, not retained.
	if payload, err := json.Marshal(ev); err == nil {
		r.publish(topics.Event(string(ev.Type)), payload, false)
	}

	switch ev.Type {
	case hub.EventDeviceRemoved:
		// Clear retained messages so late subscribers do not see a
		// ghost of the removed device.
		r.publish(topics.DeviceState(ev.DeviceID), nil, true)
		r.publish(topics.DeviceAvailability(ev.DeviceID), nil, true)
		return

	case hub.EventAvailabilityChanged:
		r.publishAvailability(ev)
	}

	if ev.Snapshot != nil {
		envelope := stateEnvelope{
			DeviceID:  ev.DeviceID,
			Revision:  ev.Revision,
			Snapshot:  ev.Snapshot,
			Timestamp: ev.Timestamp,
		}
		if payload, err := json.Marshal(envelope); err == nil {
			r.publish(topics.DeviceState(ev.DeviceID), payload, true)
		}
	}
}

// publishAvailability updates the retained availability topic.
func (r *Relay) publishAvailability(ev hub.ChangeEvent) {
	available := ev.Snapshot != nil && ev.Snapshot.Available
	payload, err := json.Marshal(availabilityMessage{
		DeviceID:  ev.DeviceID,
		Available: available,
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		return
	}
	r.publish(mqtt.Topics{}.DeviceAvailability(ev.DeviceID), payload, true)
}

func (r *Relay) publish(topic string, payload []byte, retained bool) {
	if err := r.client.Publish(topic, payload, r.qos, retained); err != nil {
		r.logger.Warn("relay publish failed", "topic", topic, "error", err)
	}
}

// handleDiscovery processes one inbound vendor announcement.
func (r *Relay) handleDiscovery(topic string, payload []byte) error {
	vendor := vendorFromTopic(topic)
	if vendor == "" {
		return fmt.Errorf("relay: malformed discovery topic %q", topic)
	}

	var msg discoveryMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("relay: decoding discovery message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancel()

	switch msg.Op {
	case opAdd:
		if msg.Device == nil || msg.Device.ID == "" {
			return fmt.Errorf("relay: add announcement without device identity")
		}
		identity := capability.Identity{
			ID:     msg.Device.ID,
			Vendor: vendor,
			Kind:   capability.Kind(msg.Device.Kind),
			Name:   msg.Device.Name,
		}
		if err := r.coordinator.AddDevice(ctx, vendor, identity); err != nil {
			return fmt.Errorf("relay: adding device %s: %w", identity.ID, err)
		}
		r.logger.Info("device discovered", "device_id", identity.ID, "vendor", vendor)

	case opRemove:
		if msg.DeviceID == "" {
			return fmt.Errorf("relay: remove announcement without device_id")
		}
		if err := r.coordinator.RemoveDevice(ctx, msg.DeviceID); err != nil {
			return fmt.Errorf("relay: removing device %s: %w", msg.DeviceID, err)
		}
		r.logger.Info("device removed by discovery", "device_id", msg.DeviceID, "vendor", vendor)

	case opState:
		if msg.DeviceID == "" || msg.Snapshot == nil {
			return fmt.Errorf("relay: state announcement without device_id and snapshot")
		}
		if _, err := r.coordinator.SubmitSnapshot(ctx, msg.DeviceID, msg.Snapshot); err != nil {
			return fmt.Errorf("relay: submitting pushed state for %s: %w", msg.DeviceID, err)
		}

	default:
		return fmt.Errorf("relay: unknown discovery op %q", msg.Op)
	}
	return nil
}

// vendorFromTopic extracts the vendor segment from a discovery topic.
func vendorFromTopic(topic string) string {
	prefix := mqtt.TopicPrefix + "/discovery/"
	if !strings.HasPrefix(topic, prefix) {
		return ""
	}
	vendor := strings.TrimPrefix(topic, prefix)
	if strings.Contains(vendor, "/") {
		return ""
	}
	return vendor
}
