// Package hub is the device hub core: the state store, the refresh
// coordinator, the command dispatcher, and the change-event broker.
//
// The hub owns the canonical view of every integrated device. Vendor
// adapters produce and consume capability snapshots; everything above the
// hub (REST API, WebSocket feed, MQTT relay, history sink) works purely in
// canonical terms and never sees a vendor payload.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────────┐
//	│                              Hub                                  │
//	│                                                                   │
//	│  ┌───────────────┐   ┌───────────────┐   ┌────────────────────┐   │
//	│  │  Coordinator  │   │  Dispatcher   │   │       Store        │   │
//	│  │(coordinator.go│   │(dispatcher.go)│   │     (store.go)     │   │
//	│  │               │   │               │   │                    │   │
//	│  │ • group loops │   │ • validation  │   │ • snapshot/device  │   │
//	│  │ • fetch+retry │   │ • snap rule   │──▶│ • revision counter │   │
//	│  │ • backoff     │──▶│ • apply steps │   │ • per-device lock  │   │
//	│  └───────────────┘   └───────────────┘   └─────────┬──────────┘   │
//	│                                                    │              │
//	│                      ┌───────────────┐   ┌─────────▼──────────┐   │
//	│                      │  Repository   │◀──│       Broker       │   │
//	│                      │(repository.go)│   │     (events.go)    │   │
//	│                      │ • SQLite      │   │ • fan-out          │   │
//	│                      │ • warm start  │   │ • non-blocking     │   │
//	│                      └───────────────┘   └────────────────────┘   │
//	└───────────────────────────────────────────────────────────────────┘
//
// # Concurrency
//
// Each device has one entry mutex inside the Store. The coordinator's
// snapshot merges and the dispatcher's command execution both take it, so a
// refresh and a command never interleave for one device, while different
// devices proceed fully in parallel. Change events are collected under the
// lock and published after it is released; the broker never blocks a
// publisher.
//
// Revisions are per device and strictly monotonic: every accepted merge,
// command reconciliation, or availability flip increments the counter by
// exactly one. Reads pair the snapshot with its revision so callers can
// order observations.
//
// # Usage
//
//	broker := hub.NewBroker()
//	store := hub.NewStore(broker)
//	store.SetRepository(hub.NewSQLiteRepository(db))
//	store.Restore(ctx)
//
//	coord := hub.NewCoordinator(store, hub.CoordinatorConfig{})
//	coord.AddGroup(hub.Group{Name: "sensibo", Adapter: sensibo, Interval: 30 * time.Second})
//	coord.AddDevice(ctx, "sensibo", identity)
//	coord.Start(ctx)
//
//	disp := hub.NewDispatcher(store, coord, 0)
//	ack, err := disp.Execute(ctx, hub.Command{
//	    DeviceID: "ac-livingroom",
//	    Feature:  capability.FeatureTargetTemperature,
//	    Value:    20.4, // snaps to the device's step grid
//	})
package hub
