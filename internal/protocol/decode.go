package protocol

import (
	"bytes"
	"encoding/binary"
	"math/big"
	"strings"
)

// ScanSample is one decoded measurement record.
type ScanSample struct {
	AngleDeg   float64 // [0, 360)
	DistanceMM float64 // 0 means no return
	Quality    uint8   // 6-bit sensor confidence, 0..63 on the wire
	Timestamp  int64   // monotonic nanoseconds supplied by the reader
}

// DeviceInfo is the decoded reply to a get-info request.
type DeviceInfo struct {
	Model         uint8  `json:"model"`
	FirmwareMinor uint8  `json:"firmware_minor"`
	FirmwareMajor uint8  `json:"firmware_major"`
	Hardware      uint8  `json:"hardware"`
	Serial        string `json:"serial"`
}

// PaddedSerial returns Serial left-padded with zeros to the full 32 hex
// digits. Serial itself is the integer rendering and drops leading zero
// nibbles; callers that need fixed-width output opt in here.
func (d DeviceInfo) PaddedSerial() string {
	if len(d.Serial) >= 2*InfoSerialSize {
		return d.Serial
	}
	return strings.Repeat("0", 2*InfoSerialSize-len(d.Serial)) + d.Serial
}

// DecodeGetInfo decodes a complete 27-byte device info response.
func DecodeGetInfo(b []byte) (DeviceInfo, error) {
	if len(b) != InfoResponseSize {
		return DeviceInfo{}, malformed(ErrMalformedInfo, "got %d bytes, want %d", len(b), InfoResponseSize)
	}
	if !bytes.Equal(b[:DescriptorSize], InfoDescriptor[:]) {
		return DeviceInfo{}, malformed(ErrMalformedInfo, "unexpected descriptor % X", b[:DescriptorSize])
	}

	p := b[DescriptorSize:]
	serial := new(big.Int).SetBytes(p[4 : 4+InfoSerialSize])

	return DeviceInfo{
		Model:         p[0],
		FirmwareMinor: p[1],
		FirmwareMajor: p[2],
		Hardware:      p[3],
		Serial:        strings.ToUpper(serial.Text(16)),
	}, nil
}

// HealthStatus is the device's self-reported state.
type HealthStatus uint8

const (
	HealthGood HealthStatus = iota
	HealthWarning
	HealthError
)

func (s HealthStatus) String() string {
	switch s {
	case HealthGood:
		return "good"
	case HealthWarning:
		return "warning"
	case HealthError:
		return "error"
	default:
		return "unknown"
	}
}

// Health is the decoded reply to a get-health request.
type Health struct {
	Status    HealthStatus `json:"status"`
	ErrorCode uint16       `json:"error_code"`
}

// DecodeGetHealth decodes a complete 10-byte health response.
func DecodeGetHealth(b []byte) (Health, error) {
	if len(b) != HealthResponseSize {
		return Health{}, malformed(ErrMalformedHealth, "got %d bytes, want %d", len(b), HealthResponseSize)
	}
	if !bytes.Equal(b[:DescriptorSize], HealthDescriptor[:]) {
		return Health{}, malformed(ErrMalformedHealth, "unexpected descriptor % X", b[:DescriptorSize])
	}
	status := HealthStatus(b[DescriptorSize])
	if status > HealthError {
		return Health{}, malformed(ErrMalformedHealth, "status byte 0x%02X out of range", b[DescriptorSize])
	}
	return Health{
		Status:    status,
		ErrorCode: binary.LittleEndian.Uint16(b[DescriptorSize+1:]),
	}, nil
}

// DecodeScan decodes at most one scan record from the head of buf and
// returns the unconsumed bytes.
//
//   - A leading scan descriptor is stripped before decoding.
//   - Fewer than 5 bytes: (nil, buf) unchanged; wait for more input.
//   - A valid record: (sample, buf[5:]).
//   - 5 or more bytes that do not form a valid record: the whole buffer is
//     discarded and (nil, empty) is returned. One bad byte flushes everything
//     read so far; the stream resynchronises on the next read.
func DecodeScan(buf []byte) (*ScanSample, []byte) {
	return DecodeScanAt(buf, 0)
}

// DecodeScanAt is DecodeScan with the sample stamped at ts.
func DecodeScanAt(buf []byte, ts int64) (*ScanSample, []byte) {
	for bytes.HasPrefix(buf, ScanDescriptor[:]) {
		buf = buf[DescriptorSize:]
	}

	if len(buf) < ScanRecordSize {
		return nil, buf
	}

	sample, ok := decodeRecord(buf[:ScanRecordSize])
	if !ok {
		return nil, buf[len(buf):]
	}
	sample.Timestamp = ts
	return &sample, buf[ScanRecordSize:]
}

func decodeRecord(r []byte) (ScanSample, bool) {
	start := r[0]&0x02 != 0
	startInv := r[0]&0x01 != 0
	if start == startInv {
		return ScanSample{}, false
	}
	if r[1]&0x01 != 1 {
		return ScanSample{}, false
	}

	angleQ6 := uint16(r[2])<<7 + uint16(r[1]>>1)
	distanceQ2 := uint16(r[4])<<8 + uint16(r[3])

	return ScanSample{
		AngleDeg:   float64(angleQ6) / AngleResolution,
		DistanceMM: float64(distanceQ2) / DistanceResolution,
		Quality:    r[0] >> 2,
	}, true
}
