package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/lidarsweep/internal/serialmux"
)

// Output modes for the sensor driver.
const (
	ModeFrames  = "frames"  // assemble complete sweeps
	ModeSamples = "samples" // pass every decoded sample through
)

const (
	defaultScale            = 1.0
	defaultQualityThreshold = 1
	defaultReadTimeout      = 100 * time.Millisecond
	defaultListen           = ":8082"
	defaultPlotEvery        = 10
	maxConfigFileSize       = 1 * 1024 * 1024 // 1MB
)

// SensorConfig is the on-disk configuration of one sensor pipeline. Unset
// fields are nil; the Get* accessors supply defaults. The same document can
// be written as JSON or YAML.
type SensorConfig struct {
	// Serial link
	Port     *string `json:"port,omitempty" yaml:"port,omitempty"`
	BaudRate *int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	DataBits *int    `json:"data_bits,omitempty" yaml:"data_bits,omitempty"`
	StopBits *int    `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty"`
	Parity   *string `json:"parity,omitempty" yaml:"parity,omitempty"`

	// Decoding and assembly
	SensorID         *string  `json:"sensor_id,omitempty" yaml:"sensor_id,omitempty"`
	Scale            *float64 `json:"scale,omitempty" yaml:"scale,omitempty"`
	QualityThreshold *int     `json:"quality_threshold,omitempty" yaml:"quality_threshold,omitempty"`
	Mode             *string  `json:"mode,omitempty" yaml:"mode,omitempty"`
	MotorOnStart     *bool    `json:"motor_on_start,omitempty" yaml:"motor_on_start,omitempty"`
	ReadTimeout      *string  `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"` // duration string like "100ms"

	// Outputs
	DBPath        *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	PersistFrames *bool   `json:"persist_frames,omitempty" yaml:"persist_frames,omitempty"`
	PlotDir       *string `json:"plot_dir,omitempty" yaml:"plot_dir,omitempty"`
	PlotEvery     *int    `json:"plot_every,omitempty" yaml:"plot_every,omitempty"`
	Listen        *string `json:"listen,omitempty" yaml:"listen,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptySensorConfig returns a SensorConfig with every field unset.
func EmptySensorConfig() *SensorConfig {
	return &SensorConfig{}
}

// DefaultSensorConfig returns a SensorConfig with every defaulted field set
// explicitly. Port, DBPath and PlotDir stay unset.
func DefaultSensorConfig() *SensorConfig {
	return &SensorConfig{
		BaudRate:         ptrInt(serialmux.DefaultBaudRate),
		DataBits:         ptrInt(8),
		StopBits:         ptrInt(1),
		Parity:           ptrString("N"),
		SensorID:         ptrString("lidar-0"),
		Scale:            ptrFloat64(defaultScale),
		QualityThreshold: ptrInt(defaultQualityThreshold),
		Mode:             ptrString(ModeFrames),
		MotorOnStart:     ptrBool(true),
		ReadTimeout:      ptrString(defaultReadTimeout.String()),
		PersistFrames:    ptrBool(true),
		PlotEvery:        ptrInt(defaultPlotEvery),
		Listen:           ptrString(defaultListen),
	}
}

// LoadSensorConfig loads a configuration from a .json, .yaml or .yml file.
func LoadSensorConfig(path string) (*SensorConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySensorConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *SensorConfig) Validate() error {
	if _, err := c.PortOptions().Normalise(); err != nil {
		return fmt.Errorf("invalid serial options: %w", err)
	}

	if c.Scale != nil && *c.Scale <= 0 {
		return fmt.Errorf("scale must be positive, got %f", *c.Scale)
	}

	if c.QualityThreshold != nil {
		if *c.QualityThreshold < 0 || *c.QualityThreshold > 63 {
			return fmt.Errorf("quality_threshold must be between 0 and 63, got %d", *c.QualityThreshold)
		}
	}

	if c.Mode != nil && *c.Mode != "" {
		if *c.Mode != ModeFrames && *c.Mode != ModeSamples {
			return fmt.Errorf("mode must be %q or %q, got %q", ModeFrames, ModeSamples, *c.Mode)
		}
	}

	if c.ReadTimeout != nil && *c.ReadTimeout != "" {
		d, err := time.ParseDuration(*c.ReadTimeout)
		if err != nil {
			return fmt.Errorf("invalid read_timeout '%s': %w", *c.ReadTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("read_timeout must be positive, got %s", d)
		}
	}

	if c.PlotEvery != nil && *c.PlotEvery < 1 {
		return fmt.Errorf("plot_every must be at least 1, got %d", *c.PlotEvery)
	}

	return nil
}

// PortOptions returns the serial options described by the config. Unset
// fields are left zero for PortOptions.Normalise to default.
func (c *SensorConfig) PortOptions() serialmux.PortOptions {
	var o serialmux.PortOptions
	if c.BaudRate != nil {
		o.BaudRate = *c.BaudRate
	}
	if c.DataBits != nil {
		o.DataBits = *c.DataBits
	}
	if c.StopBits != nil {
		o.StopBits = *c.StopBits
	}
	if c.Parity != nil {
		o.Parity = *c.Parity
	}
	return o
}

// GetPort returns the serial device path, or "" when unset.
func (c *SensorConfig) GetPort() string {
	if c.Port == nil {
		return ""
	}
	return *c.Port
}

// GetSensorID returns the sensor identifier or the default.
func (c *SensorConfig) GetSensorID() string {
	if c.SensorID == nil || *c.SensorID == "" {
		return "lidar-0"
	}
	return *c.SensorID
}

// GetScale returns the projection scale or the default.
func (c *SensorConfig) GetScale() float64 {
	if c.Scale == nil {
		return defaultScale
	}
	return *c.Scale
}

// GetQualityThreshold returns the minimum sample quality or the default.
func (c *SensorConfig) GetQualityThreshold() uint8 {
	if c.QualityThreshold == nil {
		return defaultQualityThreshold
	}
	return uint8(*c.QualityThreshold)
}

// GetMode returns the driver output mode or the default.
func (c *SensorConfig) GetMode() string {
	if c.Mode == nil || *c.Mode == "" {
		return ModeFrames
	}
	return *c.Mode
}

// GetMotorOnStart returns the motor_on_start value or the default.
func (c *SensorConfig) GetMotorOnStart() bool {
	if c.MotorOnStart == nil {
		return true
	}
	return *c.MotorOnStart
}

// GetReadTimeout parses and returns the ReadTimeout as a time.Duration.
func (c *SensorConfig) GetReadTimeout() time.Duration {
	if c.ReadTimeout == nil || *c.ReadTimeout == "" {
		return defaultReadTimeout
	}
	d, err := time.ParseDuration(*c.ReadTimeout)
	if err != nil || d <= 0 {
		return defaultReadTimeout
	}
	return d
}

// GetDBPath returns the frame database path, or "" when persistence is off.
func (c *SensorConfig) GetDBPath() string {
	if c.DBPath == nil {
		return ""
	}
	return *c.DBPath
}

// GetPersistFrames reports whether completed frames are written to the DB.
func (c *SensorConfig) GetPersistFrames() bool {
	if c.PersistFrames == nil {
		return true
	}
	return *c.PersistFrames
}

// GetPlotDir returns the PNG output directory, or "" when plotting is off.
func (c *SensorConfig) GetPlotDir() string {
	if c.PlotDir == nil {
		return ""
	}
	return *c.PlotDir
}

// GetPlotEvery returns how many frames elapse between plots.
func (c *SensorConfig) GetPlotEvery() int {
	if c.PlotEvery == nil {
		return defaultPlotEvery
	}
	return *c.PlotEvery
}

// GetListen returns the monitor HTTP listen address or the default.
func (c *SensorConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return defaultListen
	}
	return *c.Listen
}
