package protocol

// Wire format sizes and markers.
const (
	// SyncByte starts every request and response descriptor.
	SyncByte = 0xA5
	// SyncByte2 is the second byte of every response descriptor.
	SyncByte2 = 0x5A

	DescriptorSize = 7
	ScanRecordSize = 5
	InfoSerialSize = 16

	// InfoResponseSize is descriptor + model + fw minor + fw major + hardware + serial.
	InfoResponseSize = DescriptorSize + 4 + InfoSerialSize // 27
	// HealthResponseSize is descriptor + status + error code (little-endian uint16).
	HealthResponseSize = DescriptorSize + 3 // 10

	// AngleResolution converts the q6 fixed-point angle to degrees.
	AngleResolution = 64.0
	// DistanceResolution converts the q2 fixed-point distance to millimetres.
	DistanceResolution = 4.0
)

// Response descriptors. These are compared byte-for-byte.
var (
	// InfoDescriptor precedes a 20-byte device info payload.
	InfoDescriptor = [DescriptorSize]byte{0xA5, 0x5A, 0x14, 0x00, 0x00, 0x00, 0x04}

	// HealthDescriptor precedes a 3-byte health payload.
	HealthDescriptor = [DescriptorSize]byte{0xA5, 0x5A, 0x03, 0x00, 0x00, 0x00, 0x06}

	// ScanDescriptor is the device's acknowledgement of a scan request. It
	// may show up at the head of the scan stream and is stripped by DecodeScan.
	ScanDescriptor = [DescriptorSize]byte{0xA5, 0x5A, 0x05, 0x00, 0x00, 0x40, 0x81}
)
