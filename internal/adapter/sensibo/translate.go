package sensibo

import (
	"sort"
	"time"

	"github.com/rowanhale/hearth-core/internal/capability"
)

// Vendor mode vocabulary to canonical mode values. Sensibo's "off" is
// not a mode; the unit reports on/off separately in acState.on.
var modeToCanonical = map[string]string{
	"cool": capability.ModeCool,
	"heat": capability.ModeHeat,
	"auto": capability.ModeAuto,
	"dry":  capability.ModeDry,
	"fan":  capability.ModeFan,
}

var modeFromCanonical = invert(modeToCanonical)

func invert(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// featureToProperty maps canonical features to the acState property
// names the patch endpoint expects.
var featureToProperty = map[capability.Feature]string{
	capability.FeaturePower:             "on",
	capability.FeatureMode:              "mode",
	capability.FeatureTargetTemperature: "targetTemperature",
	capability.FeatureFanMode:           "fanLevel",
	capability.FeatureSwingMode:         "swing",
}

// translatePod converts a vendor pod payload into a canonical snapshot.
//
// The supported feature set is derived from the remote capabilities of
// the current mode: fan levels, swing positions and the temperature
// range all vary per mode on most units, so the descriptor always
// reflects what the device accepts right now.
func translatePod(p *pod, name string) *capability.Snapshot {
	if name == "" {
		name = p.Room.Name
	}

	snap := &capability.Snapshot{
		Identity: capability.Identity{
			ID:     p.ID,
			Vendor: vendorName,
			Kind:   capability.KindClimate,
			Name:   name,
		},
		Attributes: make(capability.Attributes),
		Available:  p.ConnectionStatus.IsAlive,
		Schema:     capability.SchemaVersion,
		FetchedAt:  time.Now().UTC(),
	}

	snap.Descriptor = buildDescriptor(p.RemoteCapabilities, p.ACState)

	snap.Attributes[capability.FeaturePower] = p.ACState.On
	if canonical, ok := modeToCanonical[p.ACState.Mode]; ok {
		snap.Attributes[capability.FeatureMode] = canonical
	}
	if _, ok := snap.Descriptor.Supported[capability.FeatureTargetTemperature]; ok {
		snap.Attributes[capability.FeatureTargetTemperature] = p.ACState.TargetTemperature
	}
	if p.ACState.FanLevel != "" {
		snap.Attributes[capability.FeatureFanMode] = p.ACState.FanLevel
	}
	if p.ACState.Swing != "" {
		snap.Attributes[capability.FeatureSwingMode] = p.ACState.Swing
	}
	if p.Measurements.Temperature != nil {
		snap.Attributes[capability.FeatureCurrentTemperature] = *p.Measurements.Temperature
	}
	if p.Measurements.Humidity != nil {
		snap.Attributes[capability.FeatureHumidity] = *p.Measurements.Humidity
	}

	return snap
}

// buildDescriptor derives the capability descriptor from the remote's
// learned capabilities and the current AC state.
func buildDescriptor(caps *remoteCapabilities, state acState) capability.Descriptor {
	desc := capability.Descriptor{
		Supported: map[capability.Feature]capability.Domain{
			capability.FeaturePower: capability.BoolDomain(),
		},
		Active: []capability.Feature{capability.FeaturePower},
	}

	if caps == nil || len(caps.Modes) == 0 {
		return desc
	}

	modes := make([]string, 0, len(caps.Modes))
	for vendorMode := range caps.Modes {
		if canonical, ok := modeToCanonical[vendorMode]; ok {
			modes = append(modes, canonical)
		}
	}
	sort.Strings(modes)
	desc.Supported[capability.FeatureMode] = capability.EnumDomain(modes...)
	desc.Active = append(desc.Active, capability.FeatureMode)

	// Mode-dependent features come from the current mode's capability
	// block. A mode switch changes the descriptor on the next refresh.
	current, ok := caps.Modes[state.Mode]
	if !ok {
		return desc
	}

	unit := state.TemperatureUnit
	if unit == "" {
		unit = "C"
	}
	if temps, ok := current.Temperatures[unit]; ok && len(temps.Values) > 0 {
		desc.Supported[capability.FeatureTargetTemperature] = capability.NumericDomain(temps.Values...)
		desc.Active = append(desc.Active, capability.FeatureTargetTemperature)
	}
	if len(current.FanLevels) > 0 {
		desc.Supported[capability.FeatureFanMode] = capability.EnumDomain(current.FanLevels...)
		desc.Active = append(desc.Active, capability.FeatureFanMode)
	}
	if len(current.Swing) > 0 {
		desc.Supported[capability.FeatureSwingMode] = capability.EnumDomain(current.Swing...)
		desc.Active = append(desc.Active, capability.FeatureSwingMode)
	}

	return desc
}

// propertyValue converts a canonical command value into the vendor's
// representation for the given feature.
func propertyValue(f capability.Feature, v any) any {
	if f != capability.FeatureMode {
		return v
	}
	if s, ok := v.(string); ok {
		if vendorMode, ok := modeFromCanonical[s]; ok {
			return vendorMode
		}
	}
	return v
}
