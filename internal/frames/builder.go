package frames

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/lidarsweep/internal/protocol"
)

//
// FrameBuilder - delivers completed sweeps from an Accumulator to a callback
//

// LabelledFrame is a completed Frame with the identifiers assigned when it
// was handed out.
type LabelledFrame struct {
	Frame
	FrameID     string    `json:"frame_id"`
	SensorID    string    `json:"sensor_id"`
	Sequence    int64     `json:"sequence"`
	CompletedAt time.Time `json:"completed_at"` // wall clock at emission
}

// FrameBuilderConfig contains configuration for the FrameBuilder
type FrameBuilderConfig struct {
	SensorID      string               // sensor identifier stamped on each frame
	Scale         float64              // projection scale (default: 1.0)
	FrameCallback func(*LabelledFrame) // called on a worker goroutine, one frame at a time
	QueueSize     int                  // frames buffered for the callback worker (default: 8)
}

// FrameBuilder owns one Accumulator and serialises delivery of the frames it
// produces. AddSample must be called from a single goroutine; Reset and the
// accessors may be called from any goroutine.
type FrameBuilder struct {
	sensorID      string
	frameCallback func(*LabelledFrame)
	frameCh       chan *LabelledFrame // serialises frame callback invocations
	frameDone     chan struct{}       // closed when frameCallbackWorker exits

	mu      sync.Mutex
	acc     *Accumulator
	emitted atomic.Int64
}

// NewFrameBuilder creates a FrameBuilder with the given configuration.
func NewFrameBuilder(config FrameBuilderConfig) *FrameBuilder {
	if config.Scale == 0 {
		config.Scale = 1.0
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 8
	}

	fb := &FrameBuilder{
		sensorID:      config.SensorID,
		frameCallback: config.FrameCallback,
		acc:           NewAccumulator(config.Scale),
	}

	// The channel ensures only one frame callback runs at a time, so
	// persistence and rendering never see frames out of order.
	if fb.frameCallback != nil {
		fb.frameCh = make(chan *LabelledFrame, config.QueueSize)
		fb.frameDone = make(chan struct{})
		go fb.frameCallbackWorker()
	}

	return fb
}

func (fb *FrameBuilder) frameCallbackWorker() {
	defer close(fb.frameDone)
	for frame := range fb.frameCh {
		fb.frameCallback(frame)
	}
}

// Close shuts down the frame callback worker and waits for it to drain.
func (fb *FrameBuilder) Close() {
	if fb.frameCh != nil {
		close(fb.frameCh)
		<-fb.frameDone
	}
}

// Reset discards the sweep in progress, e.g. after the scan is restarted.
func (fb *FrameBuilder) Reset() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.acc.Reset()
	debugf("reset: sensor=%s", fb.sensorID)
}

// AddSample steps the accumulator with s. When s closes a sweep the frame is
// queued for the callback (if any) and also returned.
func (fb *FrameBuilder) AddSample(s protocol.ScanSample) *LabelledFrame {
	fb.mu.Lock()
	res := fb.acc.Step(s.AngleDeg, s.DistanceMM, s.Quality, s.Timestamp)
	fb.mu.Unlock()

	if res.Kind != FrameReady {
		return nil
	}

	lf := &LabelledFrame{
		Frame:       *res.Frame,
		FrameID:     uuid.NewString(),
		SensorID:    fb.sensorID,
		Sequence:    fb.emitted.Add(1),
		CompletedAt: time.Now(),
	}
	if fb.frameCh != nil {
		fb.frameCh <- lf
	}
	return lf
}

// FramesEmitted returns the number of completed frames so far.
func (fb *FrameBuilder) FramesEmitted() int64 {
	return fb.emitted.Load()
}

// Pending returns the number of points in the sweep in progress.
func (fb *FrameBuilder) Pending() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.acc.Pending()
}
