package camera

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/optlab/bsdfbench/frame"
	"github.com/optlab/bsdfbench/mathx"
)

// SimConfig describes a simulated sensor
type SimConfig struct {
	Width  int          `koanf:"width" yaml:"width"`
	Height int          `koanf:"height" yaml:"height"`
	Mosaic frame.Mosaic `koanf:"-" yaml:"-"`

	// SpotSigma is the width of the Gaussian spot, in pixels
	SpotSigma float64 `koanf:"spotSigma" yaml:"spotSigma"`

	// Response is the spot peak, in counts per millisecond of exposure
	Response float64 `koanf:"response" yaml:"response"`

	// Gains scales Response for the R, G, and B sites
	Gains [3]float64 `koanf:"gains" yaml:"gains"`

	// Background is a constant pedestal added to every pixel, in counts
	Background float64 `koanf:"background" yaml:"background"`

	// NoiseStd is the standard deviation of additive Gaussian noise, in counts
	NoiseStd float64 `koanf:"noiseStd" yaml:"noiseStd"`

	// Seed seeds the noise generator so runs are reproducible
	Seed int64 `koanf:"seed" yaml:"seed"`

	// Exposure is the exposure time after Initialize
	Exposure time.Duration `koanf:"exposure" yaml:"exposure"`
}

// DefaultSimConfig returns a small sensor with a spot that saturates at
// roughly 10 ms of exposure
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Width:     64,
		Height:    48,
		Mosaic:    frame.BGGR,
		SpotSigma: 12,
		Response:  100,
		Gains:     [3]float64{0.6, 1, 0.4},
		Seed:      1,
		Exposure:  2 * time.Millisecond,
	}
}

// Sim is a deterministic simulated sensor.  Frames hold a Gaussian spot at
// the center whose brightness is linear in exposure time and saturates at
// frame.MaxValue.  It is safe for concurrent use.
type Sim struct {
	cfg SimConfig

	mu          sync.Mutex
	init        bool
	exposure    time.Duration
	scale       float64
	rng         *rand.Rand
	static      int
	failures    int
	faults      map[int]Fault
	captures    int
	expSettings []time.Duration
}

// NewSim returns a new simulated camera
func NewSim(cfg SimConfig) *Sim {
	return &Sim{cfg: cfg, scale: 1, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// Initialize satisfies Camera
func (s *Sim) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Width <= 0 || s.cfg.Height <= 0 || s.cfg.Width%2 != 0 || s.cfg.Height%2 != 0 {
		return fmt.Errorf("simulated sensor must have positive even dimensions, got %dx%d", s.cfg.Width, s.cfg.Height)
	}
	s.init = true
	s.exposure = s.cfg.Exposure
	return nil
}

// Finalize satisfies Camera
func (s *Sim) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init = false
	return nil
}

// Initialized satisfies Camera
func (s *Sim) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.init
}

// GetRes satisfies Camera
func (s *Sim) GetRes() ([2]int, error) {
	return [2]int{s.cfg.Width, s.cfg.Height}, nil
}

// GetExposureTime satisfies Camera
func (s *Sim) GetExposureTime() (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.init {
		return 0, ErrNotInitialized
	}
	return s.exposure, nil
}

// SetExposureTime satisfies Camera
func (s *Sim) SetExposureTime(t time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.init {
		return ErrNotInitialized
	}
	if t <= 0 {
		return fmt.Errorf("exposure time must be positive, got %v", t)
	}
	s.exposure = t
	s.expSettings = append(s.expSettings, t)
	return nil
}

// SetScale scales the brightness of the scene, for example to mimic the
// angular falloff of a sample
func (s *Sim) SetScale(f float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scale = f
}

// InjectStatic makes the next n captures return frames of uniform random
// noise, as a sensor with a bad link would
func (s *Sim) InjectStatic(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.static += n
}

// InjectFailures makes the next n captures fail with ErrNoFrame
func (s *Sim) InjectFailures(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures += n
}

// Fault is a failure mode the simulated sensor can be told to exhibit
type Fault int

const (
	// FaultStatic returns a frame of uniform random noise
	FaultStatic Fault = iota + 1

	// FaultFail fails the capture with ErrNoFrame
	FaultFail
)

// InjectAt schedules a fault for the given capture numbers.  Captures are
// numbered from 1 in the order Capture is called; see Captures.
func (s *Sim) InjectAt(f Fault, captures ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults == nil {
		s.faults = make(map[int]Fault)
	}
	for _, n := range captures {
		s.faults[n] = f
	}
}

// Captures returns the number of Capture calls made so far
func (s *Sim) Captures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures
}

// ExposureHistory returns every exposure time set since construction
func (s *Sim) ExposureHistory() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.expSettings...)
}

// Capture satisfies Camera
func (s *Sim) Capture(ctx context.Context) (frame.Raw, error) {
	if err := ctx.Err(); err != nil {
		return frame.Raw{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.init {
		return frame.Raw{}, ErrNotInitialized
	}
	s.captures++
	fault := s.faults[s.captures]
	if fault == FaultFail || (fault == 0 && s.failures > 0) {
		if fault == 0 {
			s.failures--
		}
		return frame.Raw{}, ErrNoFrame
	}
	w, h := s.cfg.Width, s.cfg.Height
	pix := make([]uint16, w*h)
	if fault == FaultStatic || (fault == 0 && s.static > 0) {
		if fault == 0 {
			s.static--
		}
		for i := range pix {
			pix[i] = uint16(s.rng.Intn(frame.MaxValue + 1))
		}
		return frame.Raw{Width: w, Height: h, Pix: pix}, nil
	}

	idx := frame.MosaicIndices(w, h, s.cfg.Mosaic)
	gain := make([]float64, w*h)
	for _, i := range idx.R {
		gain[i] = s.cfg.Gains[0]
	}
	for _, i := range idx.G1 {
		gain[i] = s.cfg.Gains[1]
	}
	for _, i := range idx.G2 {
		gain[i] = s.cfg.Gains[1]
	}
	for _, i := range idx.B {
		gain[i] = s.cfg.Gains[2]
	}

	ms := float64(s.exposure) / float64(time.Millisecond)
	peak := s.cfg.Response * ms * s.scale
	cy, cx := float64(h)/2, float64(w)/2
	twoSigmaSq := 2 * s.cfg.SpotSigma * s.cfg.SpotSigma
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dy, dx := float64(y)-cy, float64(x)-cx
			v := s.cfg.Background
			if twoSigmaSq > 0 {
				v += peak * gain[y*w+x] * math.Exp(-(dx*dx+dy*dy)/twoSigmaSq)
			}
			if s.cfg.NoiseStd > 0 {
				v += s.rng.NormFloat64() * s.cfg.NoiseStd
			}
			pix[y*w+x] = uint16(mathx.Clamp(math.Round(v), 0, frame.MaxValue))
		}
	}
	return frame.Raw{Width: w, Height: h, Pix: pix}, nil
}
