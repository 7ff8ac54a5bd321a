package monitor

import (
	"sync"
	"time"

	"github.com/banshee-data/lidarsweep/internal/frames"
)

// LatestFrame holds the most recent completed frame. Set and Get copy the
// frame so readers never share a points slice with the pipeline.
type LatestFrame struct {
	mu      sync.RWMutex
	frame   *frames.LabelledFrame
	updated time.Time
	now     func() time.Time
}

// NewLatestFrame returns an empty holder.
func NewLatestFrame() *LatestFrame {
	return &LatestFrame{now: time.Now}
}

func cloneFrame(f *frames.LabelledFrame) *frames.LabelledFrame {
	c := *f
	c.Points = append([]frames.Point(nil), f.Points...)
	return &c
}

// Set replaces the held frame.
func (l *LatestFrame) Set(f *frames.LabelledFrame) {
	if f == nil {
		return
	}
	c := cloneFrame(f)
	l.mu.Lock()
	l.frame = c
	l.updated = l.now()
	l.mu.Unlock()
}

// Get returns a copy of the held frame, or false if none has been set.
func (l *LatestFrame) Get() (*frames.LabelledFrame, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.frame == nil {
		return nil, false
	}
	return cloneFrame(l.frame), true
}

// Updated returns when the held frame was last replaced.
func (l *LatestFrame) Updated() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.updated
}
