package frames

import "math"

// PolarToCartesian projects a sample onto the sensor plane. Angles are
// measured clockwise from the +Y axis, so 0° maps to (0, d) and 90° to (d, 0).
// scale converts the distance unit, e.g. 0.001 for millimetres to metres.
func PolarToCartesian(angleDeg, distance, scale float64) (x, y float64) {
	sin, cos := math.Sincos(angleDeg * math.Pi / 180.0)
	return sin * distance * scale, cos * distance * scale
}
