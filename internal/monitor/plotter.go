package monitor

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/lidarsweep/internal/frames"
	"github.com/banshee-data/lidarsweep/internal/monitoring"
)

// ErrInvalidPlotName is returned by Resolve for names that are not a plain
// PNG file name inside the plot directory.
var ErrInvalidPlotName = errors.New("invalid plot name")

// plotSize is the edge length of rendered frame images.
const plotSize = 6 * vg.Inch

// newFramePlot builds a square top-down scatter of the frame's points with
// the sensor at the origin.
func newFramePlot(f *frames.LabelledFrame) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s frame %d (%d points)", f.SensorID, f.Sequence, len(f.Points))
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"
	p.Add(plotter.NewGrid())

	maxAbs := 0.0
	pts := make(plotter.XYs, len(f.Points))
	for i, pt := range f.Points {
		pts[i].X, pts[i].Y = pt.X, pt.Y
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(pt.X), math.Abs(pt.Y)))
	}

	if len(pts) > 0 {
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("failed to create scatter: %w", err)
		}
		sc.GlyphStyle.Radius = vg.Points(1.5)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Color = color.RGBA{R: 31, G: 158, B: 137, A: 255}
		p.Add(sc)
	}

	origin, err := plotter.NewScatter(plotter.XYs{{X: 0, Y: 0}})
	if err != nil {
		return nil, fmt.Errorf("failed to create origin marker: %w", err)
	}
	origin.GlyphStyle.Radius = vg.Points(4)
	origin.GlyphStyle.Shape = draw.CrossGlyph{}
	origin.GlyphStyle.Color = color.RGBA{R: 200, A: 255}
	p.Add(origin)

	// Symmetric axes keep the sweep square.
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	p.X.Min, p.X.Max = -pad, pad
	p.Y.Min, p.Y.Max = -pad, pad
	return p, nil
}

// WriteFramePNG renders f as a PNG to w.
func WriteFramePNG(w io.Writer, f *frames.LabelledFrame) error {
	p, err := newFramePlot(f)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(plotSize, plotSize, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write plot: %w", err)
	}
	return nil
}

// FramePlotter saves every Nth frame it observes as a PNG in a directory.
type FramePlotter struct {
	mu       sync.Mutex
	dir      string
	every    int
	seen     int64
	written  int
	lastPath string
}

// NewFramePlotter creates dir if needed. every < 1 is treated as 1.
func NewFramePlotter(dir string, every int) (*FramePlotter, error) {
	if every < 1 {
		every = 1
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &FramePlotter{dir: dir, every: every}, nil
}

// Dir returns the output directory.
func (fp *FramePlotter) Dir() string { return fp.dir }

// Written returns how many plots have been saved.
func (fp *FramePlotter) Written() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.written
}

// LastPath returns the most recently written file, or "".
func (fp *FramePlotter) LastPath() string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.lastPath
}

// Observe counts f and saves it when it falls on the plotting interval. The
// first observed frame is always plotted. It returns the written path, or ""
// when the frame was skipped.
func (fp *FramePlotter) Observe(f *frames.LabelledFrame) (string, error) {
	fp.mu.Lock()
	fp.seen++
	due := (fp.seen-1)%int64(fp.every) == 0
	fp.mu.Unlock()
	if !due {
		return "", nil
	}

	p, err := newFramePlot(f)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_frame_%06d.png", sanitiseName(f.SensorID), f.Sequence)
	path := filepath.Join(fp.dir, name)
	if err := p.Save(plotSize, plotSize, path); err != nil {
		return "", fmt.Errorf("failed to save plot %s: %w", path, err)
	}

	fp.mu.Lock()
	fp.written++
	fp.lastPath = path
	fp.mu.Unlock()
	monitoring.Logf("saved frame plot %s", path)
	return path, nil
}

// Files lists the PNG files in the output directory, sorted by name.
func (fp *FramePlotter) Files() ([]string, error) {
	entries, err := os.ReadDir(fp.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read plot dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Resolve maps a plot file name to its path, refusing anything that would
// escape the output directory, including through symlinks.
func (fp *FramePlotter) Resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) ||
		!strings.EqualFold(filepath.Ext(name), ".png") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlotName, name)
	}

	dir, err := filepath.Abs(fp.dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve plot dir: %w", err)
	}
	canonicalDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve plot dir symlinks: %w", err)
	}
	canonicalPath, err := filepath.EvalSymlinks(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(canonicalDir, canonicalPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s escapes %s", ErrInvalidPlotName, name, fp.dir)
	}
	return canonicalPath, nil
}

// sanitiseName keeps sensor IDs usable as file name prefixes.
func sanitiseName(s string) string {
	if s == "" {
		return "sensor"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
