package sensor

import (
	"bytes"
	"math"

	"github.com/banshee-data/lidarsweep/internal/frames"
	"github.com/banshee-data/lidarsweep/internal/protocol"
	"github.com/banshee-data/lidarsweep/internal/serialmux"
)

// SweepShape returns the distance in millimetres seen at angleDeg. A zero
// distance is encoded as an invalid measurement.
type SweepShape func(angleDeg float64) float64

// RoomShape is a fixed 4 m square room centred on the sensor.
func RoomShape(angleDeg float64) float64 {
	x, y := frames.PolarToCartesian(angleDeg, 1, 1)
	return 2000 / math.Max(math.Abs(x), math.Abs(y))
}

// SyntheticScan renders the byte stream a sensor would produce for the given
// number of revolutions: the scan response descriptor followed by
// pointsPerRev records per revolution at evenly spaced angles.
func SyntheticScan(revolutions, pointsPerRev int, quality uint8, shape SweepShape) []byte {
	out := make([]byte, 0, protocol.DescriptorSize+revolutions*pointsPerRev*protocol.ScanRecordSize)
	out = append(out, protocol.ScanDescriptor[:]...)

	step := 360.0 / float64(pointsPerRev)
	for r := 0; r < revolutions; r++ {
		for i := 0; i < pointsPerRev; i++ {
			angle := float64(i) * step
			rec := protocol.EncodeScanRecord(angle, shape(angle), quality, i == 0)
			out = append(out, rec[:]...)
		}
	}
	return out
}

// SimulatedPort is the identity and sweep a simulated device reports.
type SimulatedPort struct {
	Model        uint8
	Firmware     [2]uint8 // major, minor
	Hardware     uint8
	Serial       [protocol.InfoSerialSize]byte
	Health       protocol.HealthStatus
	Revolutions  int // revolutions emitted per scan request
	PointsPerRev int
	Quality      uint8
	Shape        SweepShape
}

// DefaultSimulatedPort describes a healthy device in a square room.
func DefaultSimulatedPort() SimulatedPort {
	return SimulatedPort{
		Model:        0x18,
		Firmware:     [2]uint8{1, 29},
		Hardware:     7,
		Serial:       [protocol.InfoSerialSize]byte{0x5E, 0x00, 0x01},
		Health:       protocol.HealthGood,
		Revolutions:  50,
		PointsPerRev: 360,
		Quality:      47,
		Shape:        RoomShape,
	}
}

// InfoReply encodes the get-info response.
func (s SimulatedPort) InfoReply() []byte {
	out := append([]byte(nil), protocol.InfoDescriptor[:]...)
	out = append(out, s.Model, s.Firmware[1], s.Firmware[0], s.Hardware)
	return append(out, s.Serial[:]...)
}

// HealthReply encodes the get-health response with a zero error code.
func (s SimulatedPort) HealthReply() []byte {
	out := append([]byte(nil), protocol.HealthDescriptor[:]...)
	return append(out, byte(s.Health), 0, 0)
}

// Open returns a blocking in-memory port that answers info and health
// requests and streams s.Revolutions sweeps after each scan request.
func (s SimulatedPort) Open() *serialmux.TestableSerialPort {
	if s.Shape == nil {
		s.Shape = RoomShape
	}
	port := serialmux.NewTestableSerialPort()
	port.BlockReads = true
	port.OnWrite = func(p []byte) []byte {
		switch {
		case bytes.Equal(p, protocol.EncodeCommand(protocol.CmdGetInfo)):
			return s.InfoReply()
		case bytes.Equal(p, protocol.EncodeCommand(protocol.CmdGetHealth)):
			return s.HealthReply()
		case bytes.Equal(p, protocol.EncodeCommand(protocol.CmdScan)):
			return SyntheticScan(s.Revolutions, s.PointsPerRev, s.Quality, s.Shape)
		}
		return nil
	}
	return port
}
