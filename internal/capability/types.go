package capability

import "time"

// Identity is the stable identity of one device.
// It is assigned by the owning vendor adapter and immutable after creation.
type Identity struct {
	// ID is the vendor-assigned opaque identifier.
	ID string `json:"id"`

	// Vendor names the adapter family that owns this device.
	Vendor string `json:"vendor"`

	// Kind classifies the device (climate, tv, lock, ...).
	Kind Kind `json:"kind"`

	// Name is the human-readable display name.
	Name string `json:"name"`
}

// Kind represents the canonical device classification.
type Kind string

// Kind constants.
const (
	KindClimate Kind = "climate"
	KindTV      Kind = "tv"
	KindLock    Kind = "lock"
	KindLight   Kind = "light"
	KindSensor  Kind = "sensor"
	KindSwitch  Kind = "switch"
)

// AllKinds returns all valid kind values.
func AllKinds() []Kind {
	return []Kind{KindClimate, KindTV, KindLock, KindLight, KindSensor, KindSwitch}
}

// Feature identifies one controllable or readable attribute of a device.
type Feature string

// Control features.
const (
	FeaturePower             Feature = "power"
	FeatureMode              Feature = "mode"
	FeatureTargetTemperature Feature = "target_temperature"
	FeatureFanMode           Feature = "fan_mode"
	FeatureSwingMode         Feature = "swing_mode"
	FeatureLockState         Feature = "lock_state"
	FeatureVolume            Feature = "volume"
	FeatureSource            Feature = "source"
	FeatureBrightness        Feature = "brightness"
)

// Read-only features.
const (
	FeatureCurrentTemperature Feature = "current_temperature"
	FeatureHumidity           Feature = "humidity"
)

// AllFeatures returns all valid feature values.
func AllFeatures() []Feature {
	return []Feature{
		FeaturePower, FeatureMode, FeatureTargetTemperature, FeatureFanMode,
		FeatureSwingMode, FeatureLockState, FeatureVolume, FeatureSource,
		FeatureBrightness, FeatureCurrentTemperature, FeatureHumidity,
	}
}

// Mode values for the canonical "mode" feature.
// Vendors map their own mode vocabulary onto these.
const (
	ModeOff  = "off"
	ModeHeat = "heat"
	ModeCool = "cool"
	ModeAuto = "auto"
	ModeDry  = "dry"
	ModeFan  = "fan_only"
)

// Attributes holds the current attribute values of a device, keyed by feature.
//
// Values are restricted to JSON-representable primitives: bool for power-like
// features, string for enum features, float64 for numeric features.
type Attributes map[Feature]any

// Descriptor declares which features a device currently supports and the
// valid value domain for each.
//
// Active lists the subset of supported features that accept commands in the
// device's current mode; a mode switch may expose or hide features between
// refreshes, so commands must always be validated against the descriptor on
// the latest snapshot, never a cached one.
type Descriptor struct {
	Supported map[Feature]Domain `json:"supported"`
	Active    []Feature          `json:"active"`
}

// IsActive reports whether the feature accepts commands in the current mode.
func (d Descriptor) IsActive(f Feature) bool {
	for _, a := range d.Active {
		if a == f {
			return true
		}
	}
	return false
}

// DomainOf returns the value domain for a supported feature.
func (d Descriptor) DomainOf(f Feature) (Domain, bool) {
	dom, ok := d.Supported[f]
	return dom, ok
}

// clone returns an independent copy of the descriptor.
func (d Descriptor) clone() Descriptor {
	cpy := Descriptor{}
	if d.Supported != nil {
		cpy.Supported = make(map[Feature]Domain, len(d.Supported))
		for f, dom := range d.Supported {
			cpy.Supported[f] = dom.clone()
		}
	}
	if d.Active != nil {
		cpy.Active = make([]Feature, len(d.Active))
		copy(cpy.Active, d.Active)
	}
	return cpy
}

// Snapshot is the immutable full state of one device at a point in time.
//
// A snapshot is produced atomically by an adapter fetch or by command
// reconciliation and always replaces the previous snapshot wholesale, so
// readers never observe a partial update.
type Snapshot struct {
	Identity   Identity   `json:"identity"`
	Descriptor Descriptor `json:"descriptor"`
	Attributes Attributes `json:"attributes"`

	// Available is false while the device's backend is unreachable.
	// The rest of the snapshot then reflects the last known state.
	Available bool `json:"available"`

	// Assumed is true when the attribute values are optimistic: a command
	// was accepted but the device has not yet confirmed the new state.
	// The next confirmed refresh clears it.
	Assumed bool `json:"assumed,omitempty"`

	// Schema stamps the snapshot layout version for persistence.
	Schema int `json:"schema"`

	// FetchedAt records when the producing fetch or apply completed.
	FetchedAt time.Time `json:"fetched_at"`
}

// SchemaVersion is the current snapshot schema stamp.
const SchemaVersion = 1

// Clone returns a deep copy of the snapshot.
// The copy shares nothing with the original; callers can hold it freely.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	cpy := *s
	cpy.Descriptor = s.Descriptor.clone()
	if s.Attributes != nil {
		cpy.Attributes = make(Attributes, len(s.Attributes))
		for f, v := range s.Attributes {
			cpy.Attributes[f] = v
		}
	}
	return &cpy
}

// With returns a copy of the snapshot with one attribute replaced.
// The original is untouched.
func (s *Snapshot) With(f Feature, v any) *Snapshot {
	cpy := s.Clone()
	if cpy.Attributes == nil {
		cpy.Attributes = make(Attributes, 1)
	}
	cpy.Attributes[f] = v
	return cpy
}

// Attribute returns the current value for a feature, if present.
func (s *Snapshot) Attribute(f Feature) (any, bool) {
	if s == nil || s.Attributes == nil {
		return nil, false
	}
	v, ok := s.Attributes[f]
	return v, ok
}

// PowerOn reports whether the device is currently powered on.
// Devices without a power feature are treated as always on.
func (s *Snapshot) PowerOn() bool {
	v, ok := s.Attribute(FeaturePower)
	if !ok {
		return true
	}
	on, _ := v.(bool)
	return on
}
