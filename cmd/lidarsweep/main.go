package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/lidarsweep/internal/config"
	"github.com/banshee-data/lidarsweep/internal/frames"
	"github.com/banshee-data/lidarsweep/internal/sensor"
	"github.com/banshee-data/lidarsweep/internal/serialmux"
	"github.com/banshee-data/lidarsweep/internal/units"
	"github.com/banshee-data/lidarsweep/internal/version"
)

var (
	configFile    = flag.String("config", "", "Path to a .json, .yaml or .yml sensor config file")
	portPath      = flag.String("port", "", "Serial port device (e.g. /dev/ttyUSB0)")
	baudRate      = flag.Int("baud", 0, "Serial baud rate (default 115200)")
	listen        = flag.String("listen", "", "HTTP listen address (default :8082)")
	dbPath        = flag.String("db", "", "SQLite database for completed frames (empty disables recording)")
	mode          = flag.String("mode", "", "Output mode: frames or samples (samples are written to stdout as CSV)")
	scale         = flag.Float64("scale", 0, "Distance scale applied to Cartesian projection (e.g. 0.001 for metres)")
	distUnits     = flag.String("units", "", "Cartesian output unit: mm, cm, m, in or ft (ignored when -scale is set)")
	quality       = flag.Int("quality", 0, "Minimum sample quality, 0..63")
	plotDir       = flag.String("plot-dir", "", "Directory for PNG frame plots (empty disables plotting)")
	plotEvery     = flag.Int("plot-every", 0, "Plot every Nth frame (default 10)")
	replayFile    = flag.String("replay", "", "Replay a captured scan byte stream instead of opening a serial port")
	simulate      = flag.Int("simulate", 0, "Simulate a device emitting this many revolutions per scan request")
	listPorts     = flag.Bool("list-ports", false, "List available serial ports and exit")
	showVersion   = flag.Bool("version", false, "Print version information and exit")
	statsInterval = flag.Duration("stats-interval", 10*time.Second, "Interval between stream stats log lines (0 disables)")
	debugFrames   = flag.Bool("debug-frames", false, "Log frame assembly diagnostics to stderr")
)

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if *listPorts {
		ports, err := serialmux.ListPorts()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	if *debugFrames {
		frames.SetDebugLogger(os.Stderr)
	}

	setFlags := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	cfg, err := loadConfig(*configFile, setFlags)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	port, handshake, err := openSource(cfg)
	if err != nil {
		log.Fatalf("failed to open sensor: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("%s starting", version.String())
	if err := runPipeline(ctx, cfg, port, pipelineOptions{
		Handshake:     handshake,
		StatsInterval: *statsInterval,
		SampleOut:     os.Stdout,
	}); err != nil {
		log.Fatalf("sensor pipeline failed: %v", err)
	}
	log.Printf("graceful shutdown complete")
}

// loadConfig reads path (if any) and applies the flags named in set on top.
func loadConfig(path string, set map[string]bool) (*config.SensorConfig, error) {
	cfg := config.EmptySensorConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadSensorConfig(path); err != nil {
			return nil, err
		}
	}
	applyFlagOverrides(cfg, set)
	if set["units"] && !set["scale"] {
		v, err := units.ScaleFromMM(*distUnits)
		if err != nil {
			return nil, err
		}
		cfg.Scale = &v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.GetPort() == "" && *replayFile == "" && *simulate <= 0 {
		return nil, fmt.Errorf("a serial port is required (set -port, port in -config, -replay or -simulate)")
	}
	return cfg, nil
}

// applyFlagOverrides copies explicitly set flags into cfg.
func applyFlagOverrides(cfg *config.SensorConfig, set map[string]bool) {
	if set["port"] {
		v := *portPath
		cfg.Port = &v
	}
	if set["baud"] {
		v := *baudRate
		cfg.BaudRate = &v
	}
	if set["listen"] {
		v := *listen
		cfg.Listen = &v
	}
	if set["db"] {
		v := *dbPath
		cfg.DBPath = &v
	}
	if set["mode"] {
		v := *mode
		cfg.Mode = &v
	}
	if set["scale"] {
		v := *scale
		cfg.Scale = &v
	}
	if set["quality"] {
		v := *quality
		cfg.QualityThreshold = &v
	}
	if set["plot-dir"] {
		v := *plotDir
		cfg.PlotDir = &v
	}
	if set["plot-every"] {
		v := *plotEvery
		cfg.PlotEvery = &v
	}
}

// openSource returns the port to drive and whether it answers device
// queries. Replay captures carry only scan data.
func openSource(cfg *config.SensorConfig) (serialmux.SerialPorter, bool, error) {
	switch {
	case *replayFile != "":
		data, err := os.ReadFile(*replayFile)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read replay file: %w", err)
		}
		log.Printf("replaying %d bytes from %s", len(data), *replayFile)
		return replayPort(data), false, nil

	case *simulate > 0:
		sim := sensor.DefaultSimulatedPort()
		sim.Revolutions = *simulate
		log.Printf("simulating %d revolutions of %d points", sim.Revolutions, sim.PointsPerRev)
		return sim.Open(), true, nil

	default:
		opts, err := cfg.PortOptions().Normalise()
		if err != nil {
			return nil, false, err
		}
		port, err := serialmux.NewRealSerialPortFactory().Open(cfg.GetPort(), opts)
		if err != nil {
			return nil, false, err
		}
		log.Printf("opened %s at %s", cfg.GetPort(), opts)
		return port, true, nil
	}
}

func replayPort(data []byte) *serialmux.TestableSerialPort {
	port := serialmux.NewTestableSerialPort()
	port.AddReadData(data)
	return port
}
