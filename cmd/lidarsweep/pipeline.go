package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/banshee-data/lidarsweep/internal/config"
	"github.com/banshee-data/lidarsweep/internal/framedb"
	"github.com/banshee-data/lidarsweep/internal/frames"
	"github.com/banshee-data/lidarsweep/internal/monitor"
	"github.com/banshee-data/lidarsweep/internal/monitoring"
	"github.com/banshee-data/lidarsweep/internal/protocol"
	"github.com/banshee-data/lidarsweep/internal/sensor"
	"github.com/banshee-data/lidarsweep/internal/serialmux"
)

// pipelineOptions are the knobs that do not live in SensorConfig.
type pipelineOptions struct {
	Handshake     bool          // query health and info before scanning
	StatsInterval time.Duration // 0 disables periodic stats logging
	SampleOut     io.Writer     // destination for samples mode output
}

// pipeline holds the sinks fed by the frame consumer.
type pipeline struct {
	cfg       *config.SensorConfig
	db        *framedb.DB
	sessionID string
	latest    *monitor.LatestFrame
	plotter   *monitor.FramePlotter
}

// runPipeline drives port until ctx is cancelled or the port runs dry
// (replay captures). The port is closed on return.
func runPipeline(ctx context.Context, cfg *config.SensorConfig, port serialmux.SerialPorter, opts pipelineOptions) error {
	stats := monitoring.NewStreamStats()
	quality := cfg.GetQualityThreshold()
	driver := sensor.NewDriver(port, sensor.DriverConfig{
		SensorID:         cfg.GetSensorID(),
		Mode:             sensor.Mode(cfg.GetMode()),
		Scale:            cfg.GetScale(),
		QualityThreshold: &quality,
		ReadTimeout:      cfg.GetReadTimeout(),
		Stats:            stats,
	})
	reader := serialmux.NewChunkReader(port, nil)
	defer reader.Close()

	if cfg.GetMotorOnStart() {
		if err := driver.SetMotor(true); err != nil {
			return err
		}
		log.Printf("motor started")
	}

	var info protocol.DeviceInfo
	if opts.Handshake {
		h, err := driver.GetHealth(ctx)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		log.Printf("sensor health: %s (error code %d)", h.Status, h.ErrorCode)
		if h.Status == protocol.HealthError {
			return fmt.Errorf("sensor reports error state (code %d); reset or power-cycle it", h.ErrorCode)
		}

		info, err = driver.GetInfo(ctx)
		if err != nil {
			return fmt.Errorf("device info query failed: %w", err)
		}
		log.Printf("sensor model=%d firmware=%d.%d hardware=%d serial=%s",
			info.Model, info.FirmwareMajor, info.FirmwareMinor, info.Hardware, info.Serial)
	}

	p := &pipeline{cfg: cfg, latest: monitor.NewLatestFrame()}

	if path := cfg.GetDBPath(); path != "" {
		db, err := framedb.Open(path)
		if err != nil {
			return err
		}
		defer db.Close()
		p.db = db
		if p.sessionID, err = db.StartSession(cfg.GetSensorID(), info); err != nil {
			return err
		}
		log.Printf("recording session %s to %s", p.sessionID, path)
	}

	if dir := cfg.GetPlotDir(); dir != "" {
		plotter, err := monitor.NewFramePlotter(dir, cfg.GetPlotEvery())
		if err != nil {
			return err
		}
		p.plotter = plotter
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	subID, chunks := reader.SubscribeLossless()

	// Create a wait group for the HTTP server, serial monitor, stats and consumer routines
	var wg sync.WaitGroup

	ws := monitor.NewWebServer(monitor.WebServerConfig{
		Address:   cfg.GetListen(),
		SensorID:  cfg.GetSensorID(),
		SessionID: p.sessionID,
		Stats:     stats,
		Device:    driver,
		Latest:    p.latest,
		Plotter:   p.plotter,
		DB:        p.db,
	})
	reader.AttachAdminRoutes(ws.Mux())
	if p.db != nil {
		if err := p.db.AttachAdminRoutes(ws.Mux()); err != nil {
			return err
		}
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ws.Start(ctx); err != nil {
			log.Printf("HTTP server failed: %v", err)
		}
	}()

	// run the monitor routine to manage IO on the serial port; when it
	// ends, closing the subscription lets the driver drain and return
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := reader.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		reader.Unsubscribe(subID)
		log.Print("monitor routine terminated")
	}()

	if opts.StatsInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			driver.LogStatsLoop(ctx, nil, opts.StatsInterval)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if cfg.GetMode() == config.ModeSamples {
			p.consumeSamples(driver.Samples(), opts.SampleOut)
		} else {
			p.consumeFrames(driver.Frames())
		}
	}()

	// Run always executes so the output channels close and the consumer
	// goroutine finishes, even when the scan never started.
	startErr := driver.StartScan()
	if startErr != nil {
		cancel()
	}
	runErr := driver.Run(ctx, chunks)

	if err := driver.Stop(); err != nil {
		log.Printf("failed to stop scan: %v", err)
	}
	if cfg.GetMotorOnStart() {
		if err := driver.SetMotor(false); err != nil {
			log.Printf("failed to stop motor: %v", err)
		}
	}

	cancel()
	if err := reader.Close(); err != nil && !errors.Is(err, serialmux.ErrPortClosed) {
		log.Printf("failed to close serial port: %v", err)
	}
	wg.Wait()
	log.Printf("session totals: %s", monitoring.FormatSnapshot(stats.Totals()))

	if startErr != nil {
		return fmt.Errorf("failed to start scan: %w", startErr)
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func (p *pipeline) consumeFrames(ch <-chan *frames.LabelledFrame) {
	persist := p.db != nil && p.cfg.GetPersistFrames()
	for f := range ch {
		p.latest.Set(f)
		if persist {
			if err := p.db.RecordFrame(p.sessionID, f); err != nil {
				log.Printf("failed to record frame %d: %v", f.Sequence, err)
			}
		}
		if p.plotter != nil {
			if _, err := p.plotter.Observe(f); err != nil {
				log.Printf("failed to plot frame %d: %v", f.Sequence, err)
			}
		}
	}
}

// consumeSamples writes one CSV line per sample: angle, distance, quality,
// timestamp.
func (p *pipeline) consumeSamples(ch <-chan protocol.ScanSample, out io.Writer) {
	if out == nil {
		out = io.Discard
	}
	w := bufio.NewWriter(out)
	defer w.Flush()
	for s := range ch {
		fmt.Fprintf(w, "%.4f,%.2f,%d,%d\n", s.AngleDeg, s.DistanceMM, s.Quality, s.Timestamp)
	}
}
