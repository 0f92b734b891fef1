package history

import (
	"sync"
	"time"

	"github.com/rowanhale/hearth-core/internal/capability"
	"github.com/rowanhale/hearth-core/internal/hub"
)

// Measurement names in the history bucket.
const (
	measurementState        = "device_state"
	measurementAvailability = "device_availability"
)

// Logger defines the logging interface used by the history sink.
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

// PointWriter is the write surface the sink needs.
// Satisfied by *Client; narrowed for testing.
type PointWriter interface {
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time)
	Flush()
}

// Sink records hub change events as time-series points.
//
// State changes become one point per changed feature in the
// device_state measurement, tagged by device, vendor, kind and
// feature. Availability edges land in device_availability. Points
// carry the event's own timestamp so replay ordering is preserved.
//
// The sink is a best-effort consumer: it reads from a buffered broker
// subscription and a slow InfluxDB backend drops history, never blocks
// the hub.
type Sink struct {
	writer PointWriter
	broker *hub.Broker
	logger Logger

	sub  *hub.Subscription
	done chan struct{}
	wg   sync.WaitGroup

	stopOnce sync.Once
}

// NewSink creates a history sink. Call Start to begin recording.
func NewSink(writer PointWriter, broker *hub.Broker) *Sink {
	return &Sink{
		writer: writer,
		broker: broker,
		logger: noopLogger{},
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger for the sink.
func (s *Sink) SetLogger(logger Logger) {
	s.logger = logger
}

// Start subscribes to the hub event stream and begins recording.
func (s *Sink) Start() {
	s.sub = s.broker.Subscribe(hub.AllDevices)
	s.wg.Add(1)
	go s.run()
	s.logger.Info("history sink started")
}

// Stop detaches from the event stream and flushes pending points.
// Safe to call more than once.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.sub != nil {
			s.sub.Close()
		}
		s.wg.Wait()
		s.writer.Flush()
		s.logger.Info("history sink stopped")
	})
}

func (s *Sink) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.sub.Events():
			if !ok {
				return
			}
			s.record(ev)
		}
	}
}

// record maps one change event onto history points.
func (s *Sink) record(ev hub.ChangeEvent) {
	switch ev.Type {
	case hub.EventStateChanged, hub.EventDeviceAdded:
		s.recordState(ev)
	case hub.EventAvailabilityChanged:
		s.recordAvailability(ev)
	case hub.EventDeviceRemoved:
		// Removal is visible in the event stream; nothing to record.
	}
}

// recordState writes one point per recorded feature. A state change
// names its changed features; a device addition records everything.
func (s *Sink) recordState(ev hub.ChangeEvent) {
	if ev.Snapshot == nil {
		return
	}

	features := ev.Changed
	if len(features) == 0 {
		features = make([]capability.Feature, 0, len(ev.Snapshot.Attributes))
		for f := range ev.Snapshot.Attributes {
			features = append(features, f)
		}
	}

	for _, f := range features {
		v, ok := ev.Snapshot.Attribute(f)
		if !ok {
			continue
		}
		fields, ok := stateFields(v)
		if !ok {
			continue
		}
		s.writer.WritePointWithTime(measurementState, map[string]string{
			"device_id": ev.DeviceID,
			"vendor":    ev.Snapshot.Identity.Vendor,
			"kind":      string(ev.Snapshot.Identity.Kind),
			"feature":   string(f),
		}, fields, ev.Timestamp)
	}
}

// stateFields converts one attribute value to typed fields. Separate
// field keys per value shape keep InfluxDB field types consistent
// within the measurement.
func stateFields(v any) (map[string]interface{}, bool) {
	if n, ok := capability.ToFloat(v); ok {
		return map[string]interface{}{"value": n}, true
	}
	switch val := v.(type) {
	case bool:
		return map[string]interface{}{"on": val}, true
	case string:
		return map[string]interface{}{"state": val}, true
	default:
		return nil, false
	}
}

func (s *Sink) recordAvailability(ev hub.ChangeEvent) {
	available := ev.Snapshot != nil && ev.Snapshot.Available
	tags := map[string]string{"device_id": ev.DeviceID}
	if ev.Snapshot != nil {
		tags["vendor"] = ev.Snapshot.Identity.Vendor
	}
	s.writer.WritePointWithTime(measurementAvailability, tags,
		map[string]interface{}{"available": available}, ev.Timestamp)
}
