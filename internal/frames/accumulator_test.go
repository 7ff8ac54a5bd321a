package frames

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	angle    float64
	distance float64
	quality  uint8
	ts       int64
}

// feed steps every sample and returns the frames produced, in order.
func feed(acc *Accumulator, samples []sample) []*Frame {
	var out []*Frame
	for _, s := range samples {
		res := acc.Step(s.angle, s.distance, s.quality, s.ts)
		if res.Kind == FrameReady {
			out = append(out, res.Frame)
		}
	}
	return out
}

// sweep returns n evenly spaced samples from `from` (inclusive) to `to`
// (exclusive) with timestamps starting at ts0.
func sweep(from, to float64, n int, ts0 int64) []sample {
	out := make([]sample, n)
	step := (to - from) / float64(n)
	for i := range out {
		out[i] = sample{angle: from + step*float64(i), distance: 1000, quality: 10, ts: ts0 + int64(i)}
	}
	return out
}

func angles(f *Frame) []float64 {
	out := make([]float64, len(f.Points))
	for i, p := range f.Points {
		out[i] = p.AngleDeg
	}
	return out
}

func TestPolarToCartesian(t *testing.T) {
	tests := []struct {
		angle, dist, scale float64
		wantX, wantY       float64
	}{
		{0, 1000, 0.001, 0, 1},
		{90, 1000, 0.001, 1, 0},
		{180, 2000, 1, 0, -2000},
		{270, 500, 1, -500, 0},
		{45, 1, 1, 0.70710678, 0.70710678},
	}
	for _, tt := range tests {
		x, y := PolarToCartesian(tt.angle, tt.dist, tt.scale)
		assert.InDelta(t, tt.wantX, x, 1e-6, "x at %v°", tt.angle)
		assert.InDelta(t, tt.wantY, y, 1e-6, "y at %v°", tt.angle)
	}
}

func TestAccumulator_EmitsOnWraparound(t *testing.T) {
	acc := NewAccumulator(0.001)

	first := sweep(0, 360, 360, 100)
	frames := feed(acc, first)
	require.Empty(t, frames, "no frame before wraparound")
	assert.True(t, acc.PastHalf())
	assert.Equal(t, 360, acc.Pending())

	res := acc.Step(0.5, 1500, 12, 1000)
	require.Equal(t, FrameReady, res.Kind)
	f := res.Frame
	require.NotNil(t, f)

	assert.Len(t, f.Points, 360)
	assert.Equal(t, int64(100), f.Start)
	assert.Equal(t, int64(459), f.Finish)
	assert.Equal(t, 359.0, f.Points[0].AngleDeg)
	assert.Equal(t, 0.0, f.Points[len(f.Points)-1].AngleDeg)
	assert.True(t, sortedDescending(angles(f)))

	// The wrapping sample opens the next sweep on its own.
	assert.Equal(t, 1, acc.Pending())
	assert.False(t, acc.PastHalf())
	start, last := acc.Timestamps()
	assert.Equal(t, int64(1000), start)
	assert.Equal(t, int64(1000), last)
}

func TestAccumulator_ProjectsPoints(t *testing.T) {
	acc := NewAccumulator(0.001)
	feed(acc, []sample{
		{90, 2000, 5, 1},
		{200, 1000, 5, 2},
		{330, 1000, 5, 3},
	})
	res := acc.Step(10, 1000, 5, 4)
	require.Equal(t, FrameReady, res.Kind)

	x200, y200 := PolarToCartesian(200, 1000, 0.001)
	x330, y330 := PolarToCartesian(330, 1000, 0.001)
	want := &Frame{
		Points: []Point{
			{AngleDeg: 330, DistanceMM: 1000, X: x330, Y: y330},
			{AngleDeg: 200, DistanceMM: 1000, X: x200, Y: y200},
			{AngleDeg: 90, DistanceMM: 2000, X: 2, Y: 0},
		},
		Start:  1,
		Finish: 3,
	}
	if diff := cmp.Diff(want, res.Frame, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestAccumulator_NoFrameBeforeHalf(t *testing.T) {
	acc := NewAccumulator(1)

	// Jumps from 100° straight to 350°: the sweep never reports an angle in
	// the half window, so the wrap to 10° is not a frame boundary.
	frames := feed(acc, []sample{
		{10, 100, 1, 1},
		{50, 100, 1, 2},
		{100, 100, 1, 3},
		{350, 100, 1, 4},
		{10, 100, 1, 5},
	})
	assert.Empty(t, frames)
	assert.False(t, acc.PastHalf())
	assert.Equal(t, 5, acc.Pending())
}

func TestAccumulator_HalfWindowIsStrict(t *testing.T) {
	for _, a := range []float64{135, 225} {
		acc := NewAccumulator(1)
		feed(acc, []sample{{10, 100, 1, 1}, {a, 100, 1, 2}})
		assert.False(t, acc.PastHalf(), "angle %v must not pass half", a)
	}
	for _, a := range []float64{135.01, 180, 224.99} {
		acc := NewAccumulator(1)
		feed(acc, []sample{{10, 100, 1, 1}, {a, 100, 1, 2}})
		assert.True(t, acc.PastHalf(), "angle %v must pass half", a)
	}
}

func TestAccumulator_FirstSampleRule(t *testing.T) {
	acc := NewAccumulator(1)
	acc.Step(180, 100, 1, 7)
	assert.False(t, acc.PastHalf(), "exactly 180° is not past half")

	acc = NewAccumulator(1)
	acc.Step(150, 100, 1, 7)
	assert.False(t, acc.PastHalf(), "first sample uses the 180° rule, not the window")

	acc = NewAccumulator(1)
	acc.Step(200, 100, 1, 7)
	assert.True(t, acc.PastHalf())
	start, last := acc.Timestamps()
	assert.Equal(t, int64(7), start)
	assert.Equal(t, int64(7), last)

	// Starting mid-sweep past half: the first wrap closes a partial frame.
	frames := feed(acc, []sample{{320, 100, 1, 8}, {5, 100, 1, 9}})
	require.Len(t, frames, 1)
	assert.Equal(t, []float64{320, 200}, angles(frames[0]))
	assert.Equal(t, int64(7), frames[0].Start)
	assert.Equal(t, int64(8), frames[0].Finish)
}

func TestAccumulator_WrapThresholdsAreStrict(t *testing.T) {
	acc := NewAccumulator(1)
	frames := feed(acc, []sample{
		{200, 100, 1, 1},
		{315, 100, 1, 2}, // head not > 315
		{10, 100, 1, 3},
	})
	assert.Empty(t, frames)

	acc = NewAccumulator(1)
	frames = feed(acc, []sample{
		{200, 100, 1, 1},
		{316, 100, 1, 2},
		{45, 100, 1, 3}, // not < 45
	})
	assert.Empty(t, frames)
}

func TestAccumulator_DroppedSamplesOnlyTouchLastTimestamp(t *testing.T) {
	acc := NewAccumulator(1)
	feed(acc, []sample{{10, 100, 5, 1}, {20, 100, 5, 2}})
	require.False(t, acc.PastHalf())
	before := append([]Point(nil), acc.points...)
	start0, _ := acc.Timestamps()

	// Would flip pastHalf if kept.
	res := acc.Step(180, 0, 5, 3)
	assert.Equal(t, Continue, res.Kind)
	res = acc.Step(180, 100, 0, 4)
	assert.Equal(t, Continue, res.Kind)

	assert.False(t, acc.PastHalf())
	assert.Equal(t, before, acc.points)
	start, last := acc.Timestamps()
	assert.Equal(t, start0, start)
	assert.Equal(t, int64(4), last)

	// On an empty accumulator a dropped sample does not open a sweep.
	acc = NewAccumulator(1)
	acc.Step(300, 0, 9, 11)
	assert.Equal(t, 0, acc.Pending())
	assert.False(t, acc.PastHalf())
	_, last = acc.Timestamps()
	assert.Equal(t, int64(11), last)
}

func TestAccumulator_DroppedSampleStillClosesSweep(t *testing.T) {
	acc := NewAccumulator(1)
	feed(acc, []sample{{100, 100, 1, 1}, {200, 100, 1, 2}, {330, 100, 1, 3}})

	res := acc.Step(3, 0, 1, 4)
	require.Equal(t, FrameReady, res.Kind)
	assert.Equal(t, []float64{330, 200, 100}, angles(res.Frame))
	assert.Equal(t, 0, acc.Pending())
	start, last := acc.Timestamps()
	assert.Equal(t, int64(4), start)
	assert.Equal(t, int64(4), last)
}

func TestAccumulator_OutOfOrderInsertion(t *testing.T) {
	acc := NewAccumulator(1)
	feed(acc, []sample{
		{200, 1, 1, 1},
		{250, 1, 1, 2},
		{220, 1, 1, 3}, // middle
		{190, 1, 1, 4}, // new tail
		{250, 2, 1, 5}, // tie with existing 250
		{340, 1, 1, 6},
	})
	res := acc.Step(1, 1, 1, 7)
	require.Equal(t, FrameReady, res.Kind)

	assert.Equal(t, []float64{340, 250, 250, 220, 200, 190}, angles(res.Frame))
	// The later 250° arrival sits before the earlier one.
	assert.Equal(t, 2.0, res.Frame.Points[1].DistanceMM)
	assert.Equal(t, 1.0, res.Frame.Points[2].DistanceMM)
}

func TestAccumulator_RandomisedInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	acc := NewAccumulator(0.001)

	var ts int64
	var frames []*Frame
	var wantFrames int
	for rot := 0; rot < 20; rot++ {
		angle := rng.Float64() * 2
		for angle < 360 {
			ts++
			jitter := (rng.Float64() - 0.5) * 2 // occasional small reordering
			a := angle + jitter
			if a < 0 {
				a = 0
			}
			if a >= 360 {
				a = 359.99
			}
			dist := 0.0
			if rng.Intn(10) > 0 {
				dist = 100 + rng.Float64()*5000
			}
			res := acc.Step(a, dist, uint8(rng.Intn(64)), ts)
			if res.Kind == FrameReady {
				frames = append(frames, res.Frame)
			}
			angle += 0.5 + rng.Float64()
		}
		if rot > 0 {
			wantFrames++
		}
	}

	assert.Equal(t, wantFrames, len(frames))
	for i, f := range frames {
		assert.True(t, sortedDescending(angles(f)), "frame %d not descending", i)
		assert.LessOrEqual(t, f.Start, f.Finish)
		for _, p := range f.Points {
			assert.NotZero(t, p.DistanceMM)
		}
	}
}

func TestAccumulator_Reset(t *testing.T) {
	acc := NewAccumulator(1)
	feed(acc, sweep(100, 300, 50, 1))
	require.True(t, acc.PastHalf())

	acc.Reset()
	assert.Equal(t, 0, acc.Pending())
	assert.False(t, acc.PastHalf())
	assert.Empty(t, feed(acc, []sample{{1, 1, 1, 99}}))
}

func TestStepKind_String(t *testing.T) {
	assert.Equal(t, "continue", Continue.String())
	assert.Equal(t, "frame_ready", FrameReady.String())
	assert.Equal(t, "unknown", StepKind(9).String())
}

func sortedDescending(a []float64) bool {
	for i := 1; i < len(a); i++ {
		if a[i] > a[i-1] {
			return false
		}
	}
	return true
}

func BenchmarkAccumulator_Step(b *testing.B) {
	acc := NewAccumulator(0.001)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		angle := float64(i%720) / 2
		acc.Step(angle, 1000, 10, int64(i))
	}
}
