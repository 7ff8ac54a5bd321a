// Package units provides shared constants and validation for distance units
package units

import "fmt"

// Unit constants
const (
	MM = "mm"
	CM = "cm"
	M  = "m"
	IN = "in"
	FT = "ft"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MM, CM, M, IN, FT}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "mm, cm, m, in, ft"
}

// ScaleFromMM returns the factor converting sensor millimetres to unit.
// The sensor reports distances in millimetres.
func ScaleFromMM(unit string) (float64, error) {
	switch unit {
	case MM:
		return 1, nil
	case CM:
		return 0.1, nil
	case M:
		return 0.001, nil
	case IN:
		return 1 / 25.4, nil
	case FT:
		return 1 / 304.8, nil
	default:
		return 0, fmt.Errorf("unknown unit %q (valid: %s)", unit, GetValidUnitsString())
	}
}
