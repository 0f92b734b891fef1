package capability

import (
	"testing"
)

func TestSnapLowerBound(t *testing.T) {
	dom := NumericRange(16, 30, 1)

	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"below minimum clamps to minimum", 10, 16},
		{"at minimum stays", 16, 16},
		{"above maximum clamps to maximum", 35, 30},
		{"at maximum stays", 30, 30},
		{"exact member stays", 21, 21},
		{"off-step snaps up to next member", 20.4, 21},
		{"exact midpoint rounds up", 20.5, 21},
		{"just above member snaps up", 20.0001, 21},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dom.Snap(tt.in); got != tt.want {
				t.Errorf("Snap(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSnapHalfDegreeSteps(t *testing.T) {
	dom := NumericRange(16, 20, 0.5)

	if got, want := dom.Min(), 16.0; got != want {
		t.Fatalf("Min() = %v, want %v", got, want)
	}
	if got, want := dom.Max(), 20.0; got != want {
		t.Fatalf("Max() = %v, want %v", got, want)
	}
	if got := dom.Snap(17.2); got != 17.5 {
		t.Errorf("Snap(17.2) = %v, want 17.5", got)
	}
	// Snap always lands on a member.
	for _, v := range []float64{-5, 16.1, 18.75, 19.999, 50} {
		if !dom.Contains(dom.Snap(v)) {
			t.Errorf("Snap(%v) = %v not in domain", v, dom.Snap(v))
		}
	}
}

func TestSnapPanicsOnNonNumeric(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on enum domain")
		}
	}()
	EnumDomain("low", "high").Snap(1)
}

func TestDomainContains(t *testing.T) {
	tests := []struct {
		name string
		dom  Domain
		v    any
		want bool
	}{
		{"bool accepts true", BoolDomain(), true, true},
		{"bool rejects string", BoolDomain(), "on", false},
		{"enum accepts member", EnumDomain("low", "high"), "high", true},
		{"enum rejects non-member", EnumDomain("low", "high"), "turbo", false},
		{"enum rejects number", EnumDomain("low", "high"), 2, false},
		{"numeric accepts member", NumericDomain(16, 17, 18), 17.0, true},
		{"numeric accepts int form", NumericDomain(16, 17, 18), 17, true},
		{"numeric rejects off-step", NumericDomain(16, 17, 18), 17.5, false},
		{"numeric rejects out of range", NumericDomain(16, 17, 18), 19.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dom.Contains(tt.v); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.v, got, tt.want)
			}
		})
	}
}

func TestSnapshotCloneIsolation(t *testing.T) {
	orig := &Snapshot{
		Identity: Identity{ID: "ac-1", Vendor: "sensibo", Kind: KindClimate, Name: "Bedroom AC"},
		Descriptor: Descriptor{
			Supported: map[Feature]Domain{
				FeaturePower:             BoolDomain(),
				FeatureTargetTemperature: NumericRange(16, 30, 1),
			},
			Active: []Feature{FeaturePower, FeatureTargetTemperature},
		},
		Attributes: Attributes{
			FeaturePower:             true,
			FeatureTargetTemperature: 21.0,
		},
		Available: true,
		Schema:    SchemaVersion,
	}

	cpy := orig.Clone()
	cpy.Attributes[FeatureTargetTemperature] = 25.0
	cpy.Descriptor.Supported[FeatureFanMode] = EnumDomain("low")
	cpy.Descriptor.Active[0] = FeatureMode

	if got := orig.Attributes[FeatureTargetTemperature]; got != 21.0 {
		t.Errorf("original attribute mutated: %v", got)
	}
	if _, ok := orig.Descriptor.Supported[FeatureFanMode]; ok {
		t.Error("original descriptor mutated")
	}
	if orig.Descriptor.Active[0] != FeaturePower {
		t.Error("original active set mutated")
	}
}

func TestSnapshotWith(t *testing.T) {
	orig := &Snapshot{
		Attributes: Attributes{FeaturePower: false},
	}
	next := orig.With(FeaturePower, true)

	if on := orig.PowerOn(); on {
		t.Error("With mutated the original snapshot")
	}
	if on := next.PowerOn(); !on {
		t.Error("With did not set the attribute on the copy")
	}
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		a, b any
		want bool
	}{
		{21.0, 21, true},
		{21, 21.0, true},
		{21.0, 21.5, false},
		{"heat", "heat", true},
		{"heat", "cool", false},
		{true, true, true},
		{true, false, false},
		{"21", 21.0, false},
	}
	for _, tt := range tests {
		if got := ValuesEqual(tt.a, tt.b); got != tt.want {
			t.Errorf("ValuesEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
