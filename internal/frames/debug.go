package frames

import (
	"io"
	"log"
)

var debugLogger *log.Logger

// SetDebugLogger installs a logger that receives per-frame diagnostics.
// Pass nil to disable.
func SetDebugLogger(w io.Writer) {
	if w == nil {
		debugLogger = nil
		return
	}
	debugLogger = log.New(w, "[frames] ", log.LstdFlags|log.Lmicroseconds)
}

func debugf(format string, args ...interface{}) {
	if debugLogger != nil {
		debugLogger.Printf(format, args...)
	}
}

// debugFrame logs a completed frame with its angular coverage: the span from
// the highest to the lowest angle and the widest gap between neighbours.
func debugFrame(f *Frame, nextAngle float64) {
	if debugLogger == nil || len(f.Points) == 0 {
		return
	}
	hi, lo := f.Points[0].AngleDeg, f.Points[len(f.Points)-1].AngleDeg
	gap := 0.0
	for i := 1; i < len(f.Points); i++ {
		if d := f.Points[i-1].AngleDeg - f.Points[i].AngleDeg; d > gap {
			gap = d
		}
	}
	debugLogger.Printf("frame complete: points=%d span=%.3f°..%.3f° (%.3f°) max_gap=%.3f° sweep=%.1fms next=%.3f°",
		len(f.Points), lo, hi, hi-lo, gap, float64(f.Finish-f.Start)/1e6, nextAngle)
}
