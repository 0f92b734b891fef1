// Package relay bridges the hub onto MQTT.
//
// # Architecture
//
//	┌──────────┐  change events   ┌─────────┐  retained state    ┌────────┐
//	│ hub      │ ───────────────> │  Relay  │ ─────────────────> │ broker │
//	│ broker   │                  │         │  events            │        │
//	└──────────┘                  │         │ <───────────────── │        │
//	     ┌──────────────┐  adds/  │         │  discovery         └────────┘
//	     │ coordinator  │ <────── └─────────┘
//	     └──────────────┘ removes/pushed state
//
// Outbound, each hub change event is published on the event topic and,
// for events that carry a snapshot, as a retained envelope on the
// per-device state topic. Availability edges also update the retained
// availability topic, and removals clear both retained messages.
//
// Inbound, vendor transports announce devices on
// hearth/discovery/{vendor} with add, remove and state operations; the
// vendor topic segment names the coordinator group.
package relay
