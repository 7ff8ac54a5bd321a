package monitoring

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func TestStreamStats_GetAndReset(t *testing.T) {
	clk := &fakeNow{t: time.Unix(0, 0)}
	s := newStreamStats(clk.now)

	s.AddBytes(5000, 12)
	s.AddSamples(1000, 40)
	s.AddFrame(360, 100_000_000)
	s.AddFrame(355, 99_000_000)
	clk.advance(2 * time.Second)

	got := s.GetAndReset()
	assert.Equal(t, StreamSnapshot{
		BytesRead:        5000,
		BytesDiscarded:   12,
		SamplesDecoded:   1000,
		SamplesFiltered:  40,
		FramesEmitted:    2,
		PointsEmitted:    715,
		Elapsed:          2 * time.Second,
		LastFramePoints:  355,
		LastFrameSweepNs: 99_000_000,
	}, got)
	assert.InDelta(t, 1.0, got.FrameRate(), 1e-9)
	assert.InDelta(t, 500.0, got.SampleRate(), 1e-9)

	clk.advance(time.Second)
	next := s.GetAndReset()
	assert.Equal(t, int64(0), next.FramesEmitted)
	assert.Equal(t, 355, next.LastFramePoints, "last frame survives the reset")
	assert.Equal(t, time.Second, next.Elapsed)

	total := s.Totals()
	assert.Equal(t, int64(2), total.FramesEmitted)
	assert.Equal(t, int64(5000), total.BytesRead)
	assert.Equal(t, 3*time.Second, total.Elapsed)
}

func TestStreamSnapshot_ZeroElapsed(t *testing.T) {
	var s StreamSnapshot
	assert.Zero(t, s.FrameRate())
	assert.Zero(t, s.SampleRate())
}

func TestFormatSnapshot(t *testing.T) {
	line := FormatSnapshot(StreamSnapshot{
		BytesRead:        2_500_000,
		SamplesDecoded:   1234567,
		FramesEmitted:    10,
		Elapsed:          time.Second,
		LastFramePoints:  400,
		LastFrameSweepNs: int64(100 * time.Millisecond),
	})
	assert.Contains(t, line, "read=2.5 MB")
	assert.Contains(t, line, "samples=1,234,567")
	assert.Contains(t, line, "frames=10 (10.0 Hz)")
	assert.Contains(t, line, "last_frame=400 pts/100ms")
}

func TestStreamStats_LogSummary(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	s := NewStreamStats()
	s.AddSamples(3, 0)
	s.LogSummary()

	assert.Len(t, lines, 1)
	assert.Contains(t, lines[0], "samples=3")
}

func TestStreamStats_Concurrent(t *testing.T) {
	s := NewStreamStats()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.AddBytes(1, 0)
				s.AddSamples(1, 0)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(800), s.Totals().BytesRead)
}
