package capability

import "errors"

// Domain errors for the capability package.
// Check with errors.Is().
var (
	// ErrUnknownKind is returned when a device kind is not recognised.
	ErrUnknownKind = errors.New("capability: unknown kind")

	// ErrUnknownFeature is returned when a feature is not recognised.
	ErrUnknownFeature = errors.New("capability: unknown feature")

	// ErrEmptyDomain is returned when a value domain declares no members.
	ErrEmptyDomain = errors.New("capability: empty domain")

	// ErrUnknownDomainKind is returned when a domain kind is not recognised.
	ErrUnknownDomainKind = errors.New("capability: unknown domain kind")
)

// ValidateDomain checks that a domain declares a usable value set.
func ValidateDomain(d Domain) error {
	switch d.Kind {
	case DomainBool:
		return nil
	case DomainEnum:
		if len(d.Values) == 0 {
			return ErrEmptyDomain
		}
		return nil
	case DomainNumeric:
		if len(d.Steps) == 0 {
			return ErrEmptyDomain
		}
		return nil
	default:
		return ErrUnknownDomainKind
	}
}
