package mqtt

import "fmt"

// Topic prefixes for the Hearth MQTT hierarchy.
//
// Canonical state flows out under hearth/core; vendor transports announce
// devices inbound under hearth/discovery.
const (
	// TopicPrefix is the base for all Hearth topics.
	TopicPrefix = "hearth"

	// TopicPrefixCore is the base for canonical hub output topics.
	TopicPrefixCore = "hearth/core"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "hearth/system"
)

// Topics provides builders for Hearth MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("ac-livingroom")
//	// Returns: "hearth/core/device/ac-livingroom/state"
type Topics struct{}

// DeviceState returns the canonical device state topic.
// The hub publishes the full snapshot here, retained, on every change.
//
// Example: hearth/core/device/ac-livingroom/state
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/state", TopicPrefixCore, deviceID)
}

// DeviceAvailability returns the device availability topic.
// Published retained on availability edges only.
//
// Example: hearth/core/device/ac-livingroom/availability
func (Topics) DeviceAvailability(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/availability", TopicPrefixCore, deviceID)
}

// Event returns the topic for hub change events.
//
// Example: hearth/core/event/state_changed
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixCore, eventType)
}

// Discovery returns the inbound discovery topic for a vendor.
// Vendor transports announce device identities here.
//
// Example: hearth/discovery/sensibo
func (Topics) Discovery(vendor string) string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, vendor)
}

// SystemStatus returns the system status topic, used for the online
// announcement and the LWT offline message.
//
// Example: hearth/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceStates returns a pattern matching all canonical device states.
//
// Pattern: hearth/core/device/+/state
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/device/+/state", TopicPrefixCore)
}

// AllEvents returns a pattern matching all hub events.
//
// Pattern: hearth/core/event/+
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefixCore)
}

// AllDiscovery returns a pattern matching every vendor's discovery topic.
//
// Pattern: hearth/discovery/+
func (Topics) AllDiscovery() string {
	return fmt.Sprintf("%s/discovery/+", TopicPrefix)
}

// AllTopics returns a pattern matching all Hearth topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: hearth/#
func (Topics) AllTopics() string {
	return "hearth/#"
}
