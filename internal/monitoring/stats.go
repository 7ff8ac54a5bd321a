package monitoring

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// StreamSnapshot is a point-in-time copy of StreamStats.
type StreamSnapshot struct {
	BytesRead        int64         `json:"bytes_read"`
	BytesDiscarded   int64         `json:"bytes_discarded"`
	SamplesDecoded   int64         `json:"samples_decoded"`
	SamplesFiltered  int64         `json:"samples_filtered"`
	FramesEmitted    int64         `json:"frames_emitted"`
	PointsEmitted    int64         `json:"points_emitted"`
	Elapsed          time.Duration `json:"elapsed_ns"`
	LastFramePoints  int           `json:"last_frame_points"`
	LastFrameSweepNs int64         `json:"last_frame_sweep_ns"`
}

// FrameRate returns frames per second over the snapshot window.
func (s StreamSnapshot) FrameRate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.FramesEmitted) / s.Elapsed.Seconds()
}

// SampleRate returns decoded samples per second over the snapshot window.
func (s StreamSnapshot) SampleRate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.SamplesDecoded) / s.Elapsed.Seconds()
}

// StreamStats tracks the sensor pipeline counters. All methods are safe for
// concurrent use.
type StreamStats struct {
	mu      sync.Mutex
	cur     StreamSnapshot
	total   StreamSnapshot
	since   time.Time
	started time.Time
	now     func() time.Time
}

// NewStreamStats returns zeroed counters whose window starts now.
func NewStreamStats() *StreamStats {
	return newStreamStats(time.Now)
}

func newStreamStats(now func() time.Time) *StreamStats {
	t := now()
	return &StreamStats{since: t, started: t, now: now}
}

// AddBytes records bytes read from the port and bytes discarded by resync.
func (s *StreamStats) AddBytes(read, discarded int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.BytesRead += int64(read)
	s.cur.BytesDiscarded += int64(discarded)
	s.total.BytesRead += int64(read)
	s.total.BytesDiscarded += int64(discarded)
}

// AddSamples records decoded samples and how many of them fell below the
// quality threshold.
func (s *StreamStats) AddSamples(decoded, filtered int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.SamplesDecoded += int64(decoded)
	s.cur.SamplesFiltered += int64(filtered)
	s.total.SamplesDecoded += int64(decoded)
	s.total.SamplesFiltered += int64(filtered)
}

// AddFrame records one emitted frame.
func (s *StreamStats) AddFrame(points int, sweepNs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range []*StreamSnapshot{&s.cur, &s.total} {
		snap.FramesEmitted++
		snap.PointsEmitted += int64(points)
		snap.LastFramePoints = points
		snap.LastFrameSweepNs = sweepNs
	}
}

// GetAndReset returns the counters accumulated since the previous call and
// starts a new window.
func (s *StreamStats) GetAndReset() StreamSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := s.cur
	out.Elapsed = now.Sub(s.since)
	last := StreamSnapshot{LastFramePoints: s.cur.LastFramePoints, LastFrameSweepNs: s.cur.LastFrameSweepNs}
	s.cur = last
	s.since = now
	return out
}

// Totals returns the counters accumulated since creation.
func (s *StreamStats) Totals() StreamSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.total
	out.Elapsed = s.now().Sub(s.started)
	return out
}

// LogSummary logs the current window through Logf and resets it.
func (s *StreamStats) LogSummary() {
	Logf("%s", FormatSnapshot(s.GetAndReset()))
}

// FormatSnapshot renders a snapshot as a single human-readable log line.
func FormatSnapshot(s StreamSnapshot) string {
	line := fmt.Sprintf("stream: read=%s discarded=%s samples=%s (%.0f/s) filtered=%s frames=%s (%.1f Hz)",
		humanize.Bytes(uint64(s.BytesRead)),
		humanize.Bytes(uint64(s.BytesDiscarded)),
		humanize.Comma(s.SamplesDecoded),
		s.SampleRate(),
		humanize.Comma(s.SamplesFiltered),
		humanize.Comma(s.FramesEmitted),
		s.FrameRate(),
	)
	if s.LastFramePoints > 0 {
		line += fmt.Sprintf(" last_frame=%d pts/%s", s.LastFramePoints, time.Duration(s.LastFrameSweepNs))
	}
	return line
}
