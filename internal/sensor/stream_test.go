package sensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidarsweep/internal/protocol"
)

func flat(d float64) SweepShape {
	return func(float64) float64 { return d }
}

func TestScanStream_WholeCapture(t *testing.T) {
	data := SyntheticScan(2, 360, 10, RoomShape)
	s := NewScanStream()

	got := s.Feed(data, 42)
	require.Len(t, got, 720)
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, int64(0), s.Discarded())

	assert.Equal(t, 0.0, got[0].AngleDeg)
	assert.Equal(t, 2000.0, got[0].DistanceMM)
	assert.Equal(t, uint8(10), got[0].Quality)
	assert.Equal(t, int64(42), got[0].Timestamp)
	assert.Equal(t, 359.0, got[359].AngleDeg)
	assert.Equal(t, 0.0, got[360].AngleDeg)
}

func TestScanStream_ResumesAcrossChunks(t *testing.T) {
	data := SyntheticScan(1, 120, 7, flat(1500))

	for _, size := range []int{1, 3, 5, 6, 64} {
		s := NewScanStream()
		var got []protocol.ScanSample
		for i := 0; i < len(data); i += size {
			end := i + size
			if end > len(data) {
				end = len(data)
			}
			got = append(got, s.Feed(data[i:end], int64(i))...)
		}
		require.Len(t, got, 120, "chunk size %d", size)
		assert.Equal(t, 357.0, got[119].AngleDeg)
		assert.Equal(t, int64(0), s.Discarded(), "chunk size %d", size)
	}
}

func TestScanStream_GarbageDiscardsBuffer(t *testing.T) {
	s := NewScanStream()
	good := protocol.EncodeScanRecord(90, 1000, 5, false)

	chunk := append([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, good[:]...)
	assert.Empty(t, s.Feed(chunk, 1))
	assert.Equal(t, int64(len(chunk)), s.Discarded())
	assert.Equal(t, 0, s.Pending())

	// The stream recovers on the next aligned read.
	got := s.Feed(good[:], 2)
	require.Len(t, got, 1)
	assert.Equal(t, 90.0, got[0].AngleDeg)
}

func TestScanStream_PartialRecordIsKept(t *testing.T) {
	s := NewScanStream()
	rec := protocol.EncodeScanRecord(10, 100, 3, true)

	assert.Empty(t, s.Feed(rec[:4], 1))
	assert.Equal(t, 4, s.Pending())

	got := s.Feed(rec[4:], 2)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].Timestamp, "a sample is stamped with the chunk that completed it")

	s.Feed(rec[:2], 3)
	s.Reset()
	assert.Equal(t, 0, s.Pending())
}

func TestRoomShape(t *testing.T) {
	assert.InDelta(t, 2000.0, RoomShape(0), 1e-9)
	assert.InDelta(t, 2000.0, RoomShape(90), 1e-9)
	assert.InDelta(t, 2828.427, RoomShape(45), 1e-3)
}
