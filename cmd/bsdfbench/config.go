package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/optlab/bsdfbench/acquire"
	"github.com/optlab/bsdfbench/arduino"
	"github.com/optlab/bsdfbench/bsdf"
	"github.com/optlab/bsdfbench/camera"
	"github.com/optlab/bsdfbench/dark"
	"github.com/optlab/bsdfbench/exposure"
	"github.com/optlab/bsdfbench/frame"
	"github.com/optlab/bsdfbench/imgrec"
	"github.com/optlab/bsdfbench/motion"
	"github.com/optlab/bsdfbench/noise"
	"github.com/optlab/bsdfbench/roi"
	"github.com/optlab/bsdfbench/sweep"
	"github.com/optlab/bsdfbench/telemetry"
)

// CameraConfig selects and configures the frame source
type CameraConfig struct {
	// Source is one of sim or rawdir
	Source string `koanf:"source" yaml:"source"`

	// Dir holds the .raw files played back by the rawdir source
	Dir string `koanf:"dir" yaml:"dir"`

	// Width and Height are the size of the .raw files
	Width  int `koanf:"width" yaml:"width"`
	Height int `koanf:"height" yaml:"height"`

	Sim camera.SimConfig `koanf:"sim" yaml:"sim"`
}

// StageConfig configures the goniometer
type StageConfig struct {
	Arduino arduino.Config `koanf:"arduino" yaml:"arduino"`

	// Limits are soft limits per axis, keyed by axis name, e.g. DET_RAD
	Limits map[string]motion.Range `koanf:"limits" yaml:"limits"`
}

// SweepConfig holds the sweep recipe
type SweepConfig struct {
	Type  string      `koanf:"type" yaml:"type"`
	Steps sweep.Steps `koanf:"steps" yaml:"steps"`

	// Required is the number of accepted frames averaged at each position
	Required int `koanf:"required" yaml:"required"`

	OcclusionTolerance     float64 `koanf:"occlusionTolerance" yaml:"occlusionTolerance"`
	MaxConsecutiveFailures int     `koanf:"maxConsecutiveFailures" yaml:"maxConsecutiveFailures"`

	// Dark is either a nominal dark level in counts or "capture" to measure
	// it from the covered sensor before the sweep
	Dark string `koanf:"dark" yaml:"dark"`

	// DarkFrames is the number of frames averaged when capturing the dark level
	DarkFrames int `koanf:"darkFrames" yaml:"darkFrames"`
}

// ArchiveConfig configures the FITS archive of averaged frames
type ArchiveConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Root    string `koanf:"root" yaml:"root"`
	Prefix  string `koanf:"prefix" yaml:"prefix"`
}

// TelemetryConfig configures live publishing over MQTT
type TelemetryConfig struct {
	Enabled bool             `koanf:"enabled" yaml:"enabled"`
	MQTT    telemetry.Config `koanf:"mqtt" yaml:"mqtt"`
}

// Config is the complete configuration of the program
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"addr" yaml:"addr"`

	// Mock replaces the goniometer with a stage that only records commands
	Mock bool `koanf:"mock" yaml:"mock"`

	// Mosaic is the sensor's Bayer layout, BGGR or RGGB
	Mosaic string `koanf:"mosaic" yaml:"mosaic"`

	// ROIDiameter is the diameter of the circular region of interest, in
	// pixels of a channel plane
	ROIDiameter int `koanf:"roiDiameter" yaml:"roiDiameter"`

	Camera    CameraConfig        `koanf:"camera" yaml:"camera"`
	Stage     StageConfig         `koanf:"stage" yaml:"stage"`
	Exposure  exposure.Controller `koanf:"exposure" yaml:"exposure"`
	Noise     noise.Classifier    `koanf:"noise" yaml:"noise"`
	Sweep     SweepConfig         `koanf:"sweep" yaml:"sweep"`
	Archive   ArchiveConfig       `koanf:"archive" yaml:"archive"`
	Telemetry TelemetryConfig     `koanf:"telemetry" yaml:"telemetry"`

	// Output is the folder exported BSDF and error files are written to
	Output string `koanf:"output" yaml:"output"`

	// Journal is the path of the SQLite measurement journal, disabled if empty
	Journal string `koanf:"journal" yaml:"journal"`
}

// DefaultConfig runs against the simulated camera and the mock stage
func DefaultConfig() Config {
	return Config{
		Addr:        ":8000",
		Mock:        true,
		Mosaic:      frame.BGGR.String(),
		ROIDiameter: 10,
		Camera: CameraConfig{
			Source: "sim",
			Width:  2028,
			Height: 1520,
			Sim:    camera.DefaultSimConfig(),
		},
		Stage: StageConfig{
			Arduino: arduino.DefaultConfig(),
			Limits:  map[string]motion.Range{},
		},
		Exposure: exposure.Default(),
		Noise:    noise.Default(),
		Sweep: SweepConfig{
			Type:                   sweep.BRDF.String(),
			Steps:                  sweep.Uniform(10),
			Required:               5,
			OcclusionTolerance:     sweep.DefaultOcclusionTolerance,
			MaxConsecutiveFailures: 10,
			Dark:                   "0",
			DarkFrames:             10,
		},
		Archive: ArchiveConfig{
			Root:   filepath.Join("data", "frames"),
			Prefix: "pos",
		},
		Telemetry: TelemetryConfig{MQTT: telemetry.DefaultConfig()},
		Output:    "data",
		Journal:   filepath.Join("data", "journal.db"),
	}
}

// Bench is the hardware and recipe assembled from a Config
type Bench struct {
	Camera      camera.Camera
	Stage       motion.Stage
	Accumulator *acquire.Accumulator
	Recorder    *imgrec.Recorder
	Dark        *dark.Value
	Type        sweep.MeasurementType
	Grid        sweep.Grid
}

func (c Config) mosaic() (frame.Mosaic, error) {
	return frame.ParseMosaic(c.Mosaic)
}

func (c Config) camera(m frame.Mosaic) (camera.Camera, error) {
	switch strings.ToLower(c.Camera.Source) {
	case "", "sim":
		cfg := c.Camera.Sim
		cfg.Mosaic = m
		return camera.NewSim(cfg), nil
	case "rawdir":
		return camera.NewRawDir(c.Camera.Dir, c.Camera.Width, c.Camera.Height), nil
	default:
		return nil, fmt.Errorf("camera source %q not understood", c.Camera.Source)
	}
}

func (c Config) limits() (motion.Limits, error) {
	out := motion.Limits{}
	for k, v := range c.Stage.Limits {
		a, err := motion.ParseAxis(k)
		if err != nil {
			return nil, err
		}
		out[a] = v
	}
	return out, nil
}

func (c Config) stage() motion.Stage {
	if c.Mock {
		return motion.NewMock()
	}
	return arduino.New(c.Stage.Arduino)
}

func (c Config) recorder() *imgrec.Recorder {
	if c.Archive.Root == "" {
		return nil
	}
	r := imgrec.NewRecorder(c.Archive.Root, c.Archive.Prefix)
	r.Enabled = c.Archive.Enabled
	return r
}

// header is the BSDF file header for a measurement type
func (c Config) header(t sweep.MeasurementType) bsdf.Header {
	return bsdf.DefaultHeader(t)
}

// Build assembles the bench.  The camera is not initialized.
func (c Config) Build() (*Bench, error) {
	m, err := c.mosaic()
	if err != nil {
		return nil, err
	}
	cam, err := c.camera(m)
	if err != nil {
		return nil, err
	}
	lim, err := c.limits()
	if err != nil {
		return nil, err
	}
	stage := c.stage()
	if len(lim) > 0 {
		stage = motion.Limited{Stage: stage, Limits: lim}
	}
	typ, err := sweep.ParseMeasurementType(c.Sweep.Type)
	if err != nil {
		return nil, err
	}
	grid, err := sweep.NewGrid(typ, c.Sweep.Steps)
	if err != nil {
		return nil, err
	}

	exp := c.Exposure
	exp.Mosaic = m
	b := &Bench{
		Camera:   cam,
		Stage:    stage,
		Recorder: c.recorder(),
		Dark:     &dark.Value{},
		Type:     typ,
		Grid:     grid,
		Accumulator: &acquire.Accumulator{
			Exposure: exp,
			Noise:    c.Noise,
			ROI:      roi.NewEngine(c.ROIDiameter),
			Mosaic:   m,
			Required: c.Sweep.Required,
		},
	}
	if b.Recorder != nil && b.Recorder.Enabled {
		b.Accumulator.Archive = b.Recorder
	}
	if !strings.EqualFold(strings.TrimSpace(c.Sweep.Dark), "capture") {
		v, err := dark.ParseNominal(c.Sweep.Dark)
		if err != nil {
			return nil, err
		}
		b.Dark.Set(v)
	}
	return b, nil
}

// Context is the sweep context of the bench
func (b *Bench) Context(c Config) *sweep.Context {
	return &sweep.Context{
		Type:                   b.Type,
		Camera:                 b.Camera,
		Stage:                  b.Stage,
		Grid:                   b.Grid,
		Dark:                   b.Dark,
		Accumulator:            b.Accumulator,
		OcclusionTolerance:     c.Sweep.OcclusionTolerance,
		MaxConsecutiveFailures: c.Sweep.MaxConsecutiveFailures,
	}
}
