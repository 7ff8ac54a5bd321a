package frames

// Wraparound detection thresholds in degrees.
const (
	// HalfWindowMin and HalfWindowMax bound the window in which a sweep is
	// considered to have passed the half-circle mark.
	HalfWindowMin = 135.0
	HalfWindowMax = 225.0

	// WrapHighAngle and WrapLowAngle detect the 360° -> 0° transition: the
	// head point must be above WrapHighAngle and the new sample below
	// WrapLowAngle.
	WrapHighAngle = 315.0
	WrapLowAngle  = 45.0

	// FirstSampleHalf decides the phase of a fresh accumulation from its
	// first sample.
	FirstSampleHalf = 180.0

	// MinQuality is the accumulator's own floor. It is independent of the
	// caller's quality threshold, which is applied before Step.
	MinQuality = 1
)

// Point is a sample kept in a frame, with its Cartesian projection.
type Point struct {
	AngleDeg   float64 `json:"angle_deg"`
	DistanceMM float64 `json:"distance_mm"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
}

// Frame is one complete sweep. Points are ordered by descending angle.
type Frame struct {
	Points []Point `json:"points"`
	Start  int64   `json:"start"`
	Finish int64   `json:"finish"`
}

// StepKind tags the outcome of Accumulator.Step.
type StepKind int

const (
	// Continue means the sample was absorbed into the current sweep.
	Continue StepKind = iota
	// FrameReady means the sample closed the previous sweep; Frame holds it
	// and the sample opened the next one.
	FrameReady
)

func (k StepKind) String() string {
	switch k {
	case Continue:
		return "continue"
	case FrameReady:
		return "frame_ready"
	default:
		return "unknown"
	}
}

// StepResult is the tagged outcome of a single transition.
type StepResult struct {
	Kind  StepKind
	Frame *Frame // non-nil only when Kind == FrameReady
}

// Accumulator is the per-stream frame assembly state machine.
//
// Points are stored in ascending angle order internally so that the common
// case, a sample with a larger angle than anything seen so far, is an append.
// The last element is therefore the head of the descending frame order.
type Accumulator struct {
	points   []Point
	pastHalf bool
	startTS  int64
	lastTS   int64
	scale    float64
}

// NewAccumulator returns an empty accumulator that projects points with the
// given scale factor.
func NewAccumulator(scale float64) *Accumulator {
	return &Accumulator{scale: scale}
}

// Scale returns the projection scale factor.
func (a *Accumulator) Scale() float64 { return a.scale }

// PastHalf reports whether the current sweep has passed the half-circle mark.
func (a *Accumulator) PastHalf() bool { return a.pastHalf }

// Pending returns the number of points in the current, incomplete sweep.
func (a *Accumulator) Pending() int { return len(a.points) }

// Timestamps returns the start and last timestamps of the current sweep.
func (a *Accumulator) Timestamps() (start, last int64) { return a.startTS, a.lastTS }

// Reset discards the current sweep.
func (a *Accumulator) Reset() {
	a.points = a.points[:0]
	a.pastHalf = false
	a.startTS = 0
	a.lastTS = 0
}

// Step feeds one sample to the state machine.
func (a *Accumulator) Step(angleDeg, distanceMM float64, quality uint8, ts int64) StepResult {
	keep := distanceMM != 0 && quality >= MinQuality

	if len(a.points) == 0 {
		a.lastTS = ts
		if !keep {
			return StepResult{Kind: Continue}
		}
		a.startTS = ts
		a.pastHalf = angleDeg > FirstSampleHalf
		a.insert(angleDeg, distanceMM)
		return StepResult{Kind: Continue}
	}

	if a.pastHalf && a.head().AngleDeg > WrapHighAngle && angleDeg < WrapLowAngle {
		frame := a.flush()
		a.startTS, a.lastTS = ts, ts
		a.pastHalf = angleDeg > FirstSampleHalf
		if keep {
			a.insert(angleDeg, distanceMM)
		}
		debugFrame(frame, angleDeg)
		return StepResult{Kind: FrameReady, Frame: frame}
	}

	a.lastTS = ts
	if !keep {
		return StepResult{Kind: Continue}
	}
	a.insert(angleDeg, distanceMM)
	if !a.pastHalf {
		a.pastHalf = angleDeg > HalfWindowMin && angleDeg < HalfWindowMax
	}
	return StepResult{Kind: Continue}
}

func (a *Accumulator) head() Point {
	return a.points[len(a.points)-1]
}

// insert places the point immediately before (in descending order) the first
// entry whose angle is <= angleDeg, or at the tail when there is none. The
// scan starts from the head so monotonically increasing input costs O(1).
func (a *Accumulator) insert(angleDeg, distanceMM float64) {
	x, y := PolarToCartesian(angleDeg, distanceMM, a.scale)
	p := Point{AngleDeg: angleDeg, DistanceMM: distanceMM, X: x, Y: y}

	i := len(a.points)
	for i > 0 && a.points[i-1].AngleDeg > angleDeg {
		i--
	}

	a.points = append(a.points, Point{})
	copy(a.points[i+1:], a.points[i:])
	a.points[i] = p
}

// flush hands the current sweep out as a Frame in descending angle order and
// leaves the accumulator with an empty point list of similar capacity.
func (a *Accumulator) flush() *Frame {
	n := len(a.points)
	out := make([]Point, n)
	for i, p := range a.points {
		out[n-1-i] = p
	}
	a.points = a.points[:0]
	return &Frame{Points: out, Start: a.startTS, Finish: a.lastTS}
}
