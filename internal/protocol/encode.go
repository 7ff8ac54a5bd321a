package protocol

import "math"

// EncodeScanRecord builds the 5-byte wire record for a sample. Angle and
// distance are quantised to the record's fixed-point resolution; quality is
// truncated to six bits. start marks the first record of a revolution.
func EncodeScanRecord(angleDeg, distanceMM float64, quality uint8, start bool) [ScanRecordSize]byte {
	angleQ6 := uint16(math.Round(angleDeg*AngleResolution)) & 0x7FFF
	distanceQ2 := uint16(math.Round(distanceMM * DistanceResolution))

	b0 := (quality & 0x3F) << 2
	if start {
		b0 |= 0x02
	} else {
		b0 |= 0x01
	}
	return [ScanRecordSize]byte{
		b0,
		byte(angleQ6&0x7F)<<1 | 0x01,
		byte(angleQ6 >> 7),
		byte(distanceQ2),
		byte(distanceQ2 >> 8),
	}
}
