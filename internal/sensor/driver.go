// Package sensor drives one rotating range sensor over a serial link: it
// issues device commands, decodes the scan stream and turns it into samples
// or complete frames.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/lidarsweep/internal/frames"
	"github.com/banshee-data/lidarsweep/internal/monitoring"
	"github.com/banshee-data/lidarsweep/internal/protocol"
	"github.com/banshee-data/lidarsweep/internal/serialmux"
	"github.com/banshee-data/lidarsweep/internal/timeutil"
)

// ErrResponseTimeout is returned when a fixed-size reply does not arrive in time.
var ErrResponseTimeout = errors.New("timed out waiting for sensor response")

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("driver loop already started")

// Mode selects what Run delivers.
type Mode string

const (
	ModeFrames  Mode = "frames"
	ModeSamples Mode = "samples"
)

// DriverConfig configures a Driver.
type DriverConfig struct {
	SensorID         string
	Mode             Mode          // default: ModeFrames
	Scale            float64       // projection scale (default: 1.0)
	QualityThreshold *uint8        // samples below this quality are filtered before assembly (default: 1); 0 keeps everything
	ResponseTimeout  time.Duration // deadline for GetInfo / GetHealth replies (default: 1s)
	ReadTimeout      time.Duration // applied to ports implementing TimeoutSerialPorter (default: 100ms)
	SampleBuffer     int           // Samples channel capacity (default: 2048)
	FrameBuffer      int           // Frames channel capacity (default: 8)
	Stats            *monitoring.StreamStats
}

// DefaultQualityThreshold drops samples the device marks as invalid (quality 0).
const DefaultQualityThreshold uint8 = 1

// DefaultDriverConfig returns the configuration used when nothing is overridden.
func DefaultDriverConfig() DriverConfig {
	q := DefaultQualityThreshold
	return DriverConfig{
		SensorID:         "lidar-0",
		Mode:             ModeFrames,
		Scale:            1.0,
		QualityThreshold: &q,
		ResponseTimeout:  time.Second,
		ReadTimeout:      100 * time.Millisecond,
		SampleBuffer:     2048,
		FrameBuffer:      8,
	}
}

// Driver owns the command side of one sensor and the single consumer loop
// that turns scan chunks into output.
type Driver struct {
	port serialmux.SerialPorter
	cfg  DriverConfig

	writeMu sync.Mutex

	stream   *ScanStream
	builder  *frames.FrameBuilder
	stats    *monitoring.StreamStats
	sampleCh chan protocol.ScanSample
	frameCh  chan *frames.LabelledFrame

	runMu   sync.Mutex
	running bool

	infoMu sync.RWMutex
	info   *protocol.DeviceInfo
	health *protocol.Health
}

// NewDriver creates a Driver for port. Zero config fields take their defaults.
func NewDriver(port serialmux.SerialPorter, cfg DriverConfig) *Driver {
	def := DefaultDriverConfig()
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.Scale == 0 {
		cfg.Scale = def.Scale
	}
	if cfg.QualityThreshold == nil {
		cfg.QualityThreshold = def.QualityThreshold
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = def.ResponseTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.SampleBuffer <= 0 {
		cfg.SampleBuffer = def.SampleBuffer
	}
	if cfg.FrameBuffer <= 0 {
		cfg.FrameBuffer = def.FrameBuffer
	}
	if cfg.Stats == nil {
		cfg.Stats = monitoring.NewStreamStats()
	}

	if tp, ok := port.(serialmux.TimeoutSerialPorter); ok {
		if err := tp.SetReadTimeout(cfg.ReadTimeout); err != nil {
			monitoring.Logf("sensor %s: failed to set read timeout: %v", cfg.SensorID, err)
		}
	}

	return &Driver{
		port:   port,
		cfg:    cfg,
		stream: NewScanStream(),
		builder: frames.NewFrameBuilder(frames.FrameBuilderConfig{
			SensorID: cfg.SensorID,
			Scale:    cfg.Scale,
		}),
		stats:    cfg.Stats,
		sampleCh: make(chan protocol.ScanSample, cfg.SampleBuffer),
		frameCh:  make(chan *frames.LabelledFrame, cfg.FrameBuffer),
	}
}

// Config returns the effective configuration.
func (d *Driver) Config() DriverConfig { return d.cfg }

// GetQualityThreshold returns the threshold in effect, or the default when
// the field is unset.
func (c DriverConfig) GetQualityThreshold() uint8 {
	if c.QualityThreshold == nil {
		return DefaultQualityThreshold
	}
	return *c.QualityThreshold
}

// Stats returns the driver's stream counters.
func (d *Driver) Stats() *monitoring.StreamStats { return d.stats }

// Samples delivers every sample at or above the quality threshold in
// ModeSamples. It is closed when Run returns.
func (d *Driver) Samples() <-chan protocol.ScanSample { return d.sampleCh }

// Frames delivers completed frames in ModeFrames. It is closed when Run
// returns.
func (d *Driver) Frames() <-chan *frames.LabelledFrame { return d.frameCh }

// DeviceInfo returns the last successful GetInfo reply.
func (d *Driver) DeviceInfo() (protocol.DeviceInfo, bool) {
	d.infoMu.RLock()
	defer d.infoMu.RUnlock()
	if d.info == nil {
		return protocol.DeviceInfo{}, false
	}
	return *d.info, true
}

// LastHealth returns the last successful GetHealth reply.
func (d *Driver) LastHealth() (protocol.Health, bool) {
	d.infoMu.RLock()
	defer d.infoMu.RUnlock()
	if d.health == nil {
		return protocol.Health{}, false
	}
	return *d.health, true
}

func (d *Driver) send(cmd protocol.Command) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	frame := protocol.EncodeCommand(cmd)
	n, err := d.port.Write(frame)
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd, err)
	}
	if n != len(frame) {
		return fmt.Errorf("failed to send %s: %w", cmd, serialmux.ErrWriteFailed)
	}
	return nil
}

// request sends cmd and reads its fixed-size reply. It must not run while
// a ChunkReader is monitoring the same port.
func (d *Driver) request(ctx context.Context, cmd protocol.Command) ([]byte, error) {
	if r, ok := d.port.(serialmux.InputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			monitoring.Logf("sensor %s: failed to flush input: %v", d.cfg.SensorID, err)
		}
	}
	if err := d.send(cmd); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.ResponseTimeout)
	defer cancel()

	resp := make([]byte, cmd.ResponseSize())
	got := 0
	for got < len(resp) {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%s: %w after %d of %d bytes", cmd, ErrResponseTimeout, got, len(resp))
			}
			return nil, err
		}
		n, err := d.port.Read(resp[got:])
		got += n
		if err != nil {
			if errors.Is(err, io.EOF) && got < len(resp) {
				return nil, fmt.Errorf("%s: short reply (%d of %d bytes): %w", cmd, got, len(resp), io.ErrUnexpectedEOF)
			}
			if got < len(resp) {
				return nil, fmt.Errorf("%s: read failed: %w", cmd, err)
			}
		}
	}
	return resp, nil
}

// GetInfo queries the device identity.
func (d *Driver) GetInfo(ctx context.Context) (protocol.DeviceInfo, error) {
	resp, err := d.request(ctx, protocol.CmdGetInfo)
	if err != nil {
		return protocol.DeviceInfo{}, err
	}
	info, err := protocol.DecodeGetInfo(resp)
	if err != nil {
		return protocol.DeviceInfo{}, err
	}

	d.infoMu.Lock()
	d.info = &info
	d.infoMu.Unlock()
	return info, nil
}

// GetHealth queries the device health status.
func (d *Driver) GetHealth(ctx context.Context) (protocol.Health, error) {
	resp, err := d.request(ctx, protocol.CmdGetHealth)
	if err != nil {
		return protocol.Health{}, err
	}
	h, err := protocol.DecodeGetHealth(resp)
	if err != nil {
		return protocol.Health{}, err
	}

	d.infoMu.Lock()
	d.health = &h
	d.infoMu.Unlock()
	return h, nil
}

// SetMotor switches the spindle motor. The adapter's motor enable line is
// inverted: DTR low runs the motor. Ports without modem control lines are
// left alone.
func (d *Driver) SetMotor(on bool) error {
	mp, ok := d.port.(serialmux.MotorPorter)
	if !ok {
		return nil
	}
	if err := mp.SetDTR(!on); err != nil {
		return fmt.Errorf("failed to set motor %v: %w", on, err)
	}
	return nil
}

// StartScan starts the scan stream. Any partial sweep is discarded.
func (d *Driver) StartScan() error {
	d.builder.Reset()
	return d.send(protocol.CmdScan)
}

// Stop stops the scan stream.
func (d *Driver) Stop() error {
	return d.send(protocol.CmdStop)
}

// Reset soft-resets the device.
func (d *Driver) Reset() error {
	d.builder.Reset()
	return d.send(protocol.CmdReset)
}

// Run consumes chunks until ctx is cancelled or chunks is closed. It decodes
// samples, filters them by QualityThreshold and delivers either samples or
// frames depending on Mode. Delivery blocks on the consumer so ordering is
// kept; cancellation aborts a blocked send. Run may only be called once and
// closes Samples and Frames on return.
func (d *Driver) Run(ctx context.Context, chunks <-chan serialmux.Chunk) error {
	d.runMu.Lock()
	if d.running {
		d.runMu.Unlock()
		return ErrAlreadyRunning
	}
	d.running = true
	d.runMu.Unlock()

	defer close(d.sampleCh)
	defer close(d.frameCh)
	defer d.builder.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return nil
			}
			if err := d.handleChunk(ctx, chunk); err != nil {
				return err
			}
		}
	}
}

func (d *Driver) handleChunk(ctx context.Context, chunk serialmux.Chunk) error {
	before := d.stream.Discarded()
	samples := d.stream.Feed(chunk.Data, chunk.Timestamp)
	d.stats.AddBytes(len(chunk.Data), int(d.stream.Discarded()-before))

	threshold := d.cfg.GetQualityThreshold()
	filtered := 0
	for _, s := range samples {
		if s.Quality < threshold {
			filtered++
		}
	}
	// Counted up front so a cancelled delivery still shows in the totals.
	d.stats.AddSamples(len(samples), filtered)

	for _, s := range samples {
		if s.Quality < threshold {
			continue
		}

		if d.cfg.Mode == ModeSamples {
			select {
			case d.sampleCh <- s:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		lf := d.builder.AddSample(s)
		if lf == nil {
			continue
		}
		d.stats.AddFrame(len(lf.Points), lf.Finish-lf.Start)
		select {
		case d.frameCh <- lf:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// LogStatsLoop logs the driver counters every interval until ctx is done.
func (d *Driver) LogStatsLoop(ctx context.Context, clock timeutil.Clock, interval time.Duration) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			d.stats.LogSummary()
		}
	}
}
