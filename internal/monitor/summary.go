package monitor

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/lidarsweep/internal/frames"
)

// FrameSummary describes the distance distribution of one frame.
type FrameSummary struct {
	FrameID          string  `json:"frame_id"`
	Sequence         int64   `json:"sequence"`
	Points           int     `json:"points"`
	SweepMs          float64 `json:"sweep_ms"`
	MinDistanceMM    float64 `json:"min_distance_mm"`
	MaxDistanceMM    float64 `json:"max_distance_mm"`
	MeanDistanceMM   float64 `json:"mean_distance_mm"`
	MedianDistanceMM float64 `json:"median_distance_mm"`
	StdDevDistanceMM float64 `json:"stddev_distance_mm"`
}

// Summarise computes FrameSummary for f.
func Summarise(f *frames.LabelledFrame) FrameSummary {
	s := FrameSummary{
		FrameID:  f.FrameID,
		Sequence: f.Sequence,
		Points:   len(f.Points),
		SweepMs:  float64(f.Finish-f.Start) / 1e6,
	}
	if len(f.Points) == 0 {
		return s
	}

	dist := make([]float64, len(f.Points))
	for i, p := range f.Points {
		dist[i] = p.DistanceMM
	}
	s.MinDistanceMM = floats.Min(dist)
	s.MaxDistanceMM = floats.Max(dist)
	if len(dist) > 1 {
		s.MeanDistanceMM, s.StdDevDistanceMM = stat.MeanStdDev(dist, nil)
	} else {
		s.MeanDistanceMM = dist[0]
	}
	sort.Float64s(dist)
	s.MedianDistanceMM = stat.Quantile(0.5, stat.Empirical, dist, nil)
	return s
}
