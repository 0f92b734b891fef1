package capability

import (
	"fmt"
	"math"
	"sort"
)

// DomainKind identifies the shape of a value domain.
type DomainKind string

// DomainKind constants.
const (
	DomainBool    DomainKind = "bool"
	DomainEnum    DomainKind = "enum"
	DomainNumeric DomainKind = "numeric"
)

// Domain declares the valid value set for one feature.
//
// Exactly one of the shape fields is populated, selected by Kind:
//   - DomainBool: no extra data, values are true/false
//   - DomainEnum: Values lists the accepted strings
//   - DomainNumeric: Steps lists the accepted values in ascending order
type Domain struct {
	Kind DomainKind `json:"kind"`

	// Values are the accepted values for an enum domain.
	Values []string `json:"values,omitempty"`

	// Steps are the accepted values for an ordered numeric domain,
	// sorted ascending. Min and max are Steps[0] and Steps[len-1].
	Steps []float64 `json:"steps,omitempty"`
}

// BoolDomain returns the two-valued on/off domain.
func BoolDomain() Domain {
	return Domain{Kind: DomainBool}
}

// EnumDomain returns a discrete string domain.
func EnumDomain(values ...string) Domain {
	return Domain{Kind: DomainEnum, Values: values}
}

// NumericDomain returns an ordered numeric domain from the given steps.
// Steps are sorted; the caller's slice is not retained.
func NumericDomain(steps ...float64) Domain {
	sorted := make([]float64, len(steps))
	copy(sorted, steps)
	sort.Float64s(sorted)
	return Domain{Kind: DomainNumeric, Steps: sorted}
}

// NumericRange returns an ordered numeric domain covering [min, max] at the
// given step size. Step must be positive.
func NumericRange(min, max, step float64) Domain {
	// Index-based generation avoids accumulated float error dropping max.
	n := int(math.Floor((max-min)/step + 1e-9))
	steps := make([]float64, 0, n+1)
	for i := 0; i <= n; i++ {
		steps = append(steps, min+float64(i)*step)
	}
	return Domain{Kind: DomainNumeric, Steps: steps}
}

// Contains reports whether v is a member of the domain.
// Numeric membership accepts any integer-typed value alongside float64.
func (d Domain) Contains(v any) bool {
	switch d.Kind {
	case DomainBool:
		_, ok := v.(bool)
		return ok
	case DomainEnum:
		s, ok := v.(string)
		if !ok {
			return false
		}
		for _, val := range d.Values {
			if val == s {
				return true
			}
		}
		return false
	case DomainNumeric:
		f, ok := ToFloat(v)
		if !ok || len(d.Steps) == 0 {
			return false
		}
		i := sort.SearchFloat64s(d.Steps, f)
		return i < len(d.Steps) && d.Steps[i] == f
	default:
		return false
	}
}

// Snap maps a requested numeric value to a member of the domain.
//
// Values at or below the domain minimum snap to the minimum; at or above the
// maximum snap to the maximum; anything else snaps to the smallest domain
// value >= the request. The lower-bound search means exact midpoints round
// up, which callers rely on.
//
// Snap panics on an empty or non-numeric domain; callers must check Kind
// first.
func (d Domain) Snap(v float64) float64 {
	if d.Kind != DomainNumeric || len(d.Steps) == 0 {
		panic(fmt.Sprintf("capability: snap on %s domain", d.Kind))
	}
	if v <= d.Steps[0] {
		return d.Steps[0]
	}
	if last := d.Steps[len(d.Steps)-1]; v >= last {
		return last
	}
	return d.Steps[sort.SearchFloat64s(d.Steps, v)]
}

// Min returns the smallest value of a numeric domain.
func (d Domain) Min() float64 {
	return d.Steps[0]
}

// Max returns the largest value of a numeric domain.
func (d Domain) Max() float64 {
	return d.Steps[len(d.Steps)-1]
}

// clone returns an independent copy of the domain.
func (d Domain) clone() Domain {
	cpy := Domain{Kind: d.Kind}
	if d.Values != nil {
		cpy.Values = make([]string, len(d.Values))
		copy(cpy.Values, d.Values)
	}
	if d.Steps != nil {
		cpy.Steps = make([]float64, len(d.Steps))
		copy(cpy.Steps, d.Steps)
	}
	return cpy
}

// ToFloat converts any numeric value to float64.
// JSON decoding produces float64, but adapters and callers may hand us
// native integer types.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// ValuesEqual reports whether two attribute values are the same, treating
// all numeric representations as equivalent.
func ValuesEqual(a, b any) bool {
	if af, ok := ToFloat(a); ok {
		bf, ok := ToFloat(b)
		return ok && af == bf
	}
	return a == b
}
