package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/lidarsweep/internal/frames"
)

func TestSummarise(t *testing.T) {
	f := &frames.LabelledFrame{
		Frame: frames.Frame{
			Points: []frames.Point{
				{AngleDeg: 300, DistanceMM: 3000},
				{AngleDeg: 200, DistanceMM: 1000},
				{AngleDeg: 100, DistanceMM: 2000},
			},
			Start:  1_000_000,
			Finish: 151_000_000,
		},
		FrameID:  "abc",
		Sequence: 9,
	}

	s := Summarise(f)
	assert.Equal(t, "abc", s.FrameID)
	assert.Equal(t, int64(9), s.Sequence)
	assert.Equal(t, 3, s.Points)
	assert.InDelta(t, 150, s.SweepMs, 1e-9)
	assert.Equal(t, 1000.0, s.MinDistanceMM)
	assert.Equal(t, 3000.0, s.MaxDistanceMM)
	assert.InDelta(t, 2000, s.MeanDistanceMM, 1e-9)
	assert.InDelta(t, 2000, s.MedianDistanceMM, 1e-9)
	assert.InDelta(t, 1000, s.StdDevDistanceMM, 1e-9)

	// Summarise must not reorder the caller's points.
	assert.Equal(t, 3000.0, f.Points[0].DistanceMM)
}

func TestSummarise_SmallFrames(t *testing.T) {
	s := Summarise(&frames.LabelledFrame{})
	assert.Zero(t, s.Points)
	assert.Zero(t, s.MeanDistanceMM)

	s = Summarise(&frames.LabelledFrame{Frame: frames.Frame{Points: []frames.Point{{DistanceMM: 42}}}})
	assert.Equal(t, 42.0, s.MeanDistanceMM)
	assert.Equal(t, 42.0, s.MedianDistanceMM)
	assert.Zero(t, s.StdDevDistanceMM)
}

func TestLatestFrame(t *testing.T) {
	l := NewLatestFrame()
	l.now = func() time.Time { return time.Unix(100, 0) }

	_, ok := l.Get()
	assert.False(t, ok)
	assert.True(t, l.Updated().IsZero())

	l.Set(nil)
	_, ok = l.Get()
	assert.False(t, ok)

	src := squareFrame(1, 4)
	l.Set(src)
	src.Points[0].DistanceMM = -1

	got, ok := l.Get()
	assert.True(t, ok)
	assert.Equal(t, 1000.0, got.Points[0].DistanceMM, "holder keeps its own copy")
	assert.Equal(t, time.Unix(100, 0), l.Updated())

	got.Points[1].DistanceMM = -1
	again, _ := l.Get()
	assert.Equal(t, 1000.0, again.Points[1].DistanceMM, "readers get a copy")
}
