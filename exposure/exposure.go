// Package exposure tunes a camera's exposure time so that the brightest
// pixels of the dominant color channel land in a target window.
package exposure

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/optlab/bsdfbench/camera"
	"github.com/optlab/bsdfbench/frame"
)

// Window is the acceptable range for the top-percentile mean, in counts
type Window struct {
	Min float64 `koanf:"min" yaml:"min"`
	Max float64 `koanf:"max" yaml:"max"`
}

// Mid returns the center of the window
func (w Window) Mid() float64 {
	return (w.Min + w.Max) / 2
}

// Contains returns true if Min <= v <= Max
func (w Window) Contains(v float64) bool {
	return v >= w.Min && v <= w.Max
}

// Controller holds the tuning parameters
type Controller struct {
	Window Window `koanf:"window" yaml:"window"`

	// MaxAttempts bounds the number of probe frames per call to Tune
	MaxAttempts int `koanf:"maxAttempts" yaml:"maxAttempts"`

	// ScalingFactor converts the relative deviation into a step size
	ScalingFactor float64 `koanf:"scalingFactor" yaml:"scalingFactor"`

	// MinStep is the smallest change made to the exposure time
	MinStep time.Duration `koanf:"minStep" yaml:"minStep"`

	// MinExposure is a floor on the exposure time
	MinExposure time.Duration `koanf:"minExposure" yaml:"minExposure"`

	// MaxExposure is a ceiling on the exposure time, unbounded if zero
	MaxExposure time.Duration `koanf:"maxExposure" yaml:"maxExposure"`

	// TopFraction is the fraction of brightest pixels averaged
	TopFraction float64 `koanf:"topFraction" yaml:"topFraction"`

	// Settle is the time allowed after a change before the next probe
	Settle time.Duration `koanf:"settle" yaml:"settle"`

	Mosaic frame.Mosaic `koanf:"-" yaml:"-"`
}

// Default returns a controller calibrated for a 10-bit sensor
func Default() Controller {
	return Controller{
		Window:        Window{Min: 818, Max: 921},
		MaxAttempts:   10,
		ScalingFactor: 1,
		MinStep:       10 * time.Microsecond,
		MinExposure:   10 * time.Microsecond,
		TopFraction:   0.05,
		Settle:        100 * time.Millisecond,
		Mosaic:        frame.BGGR,
	}
}

// Outcome describes the result of tuning
type Outcome struct {
	Converged bool          `json:"converged"`
	Exposure  time.Duration `json:"exposure"`
	Attempts  int           `json:"attempts"`
	TopMean   float64       `json:"topMean"`
	Channel   int           `json:"channel"`
}

// TopMean returns the index of the dominant channel (highest mean) of p and
// the mean of its brightest fraction of pixels
func TopMean(p frame.Planes, fraction float64) (int, float64) {
	chans := p.Channels()
	dom := 0
	best := math.Inf(-1)
	for i, c := range chans {
		if m := c.Mean(); m > best {
			best = m
			dom = i
		}
	}
	vals := append([]float64(nil), chans[dom].Pix...)
	if len(vals) == 0 {
		return dom, 0
	}
	sort.Float64s(vals)
	cut := stat.Quantile(1-fraction, stat.Empirical, vals, nil)
	i := sort.SearchFloat64s(vals, cut)
	return dom, stat.Mean(vals[i:], nil)
}

// Tune adjusts the exposure of cam until the top-percentile mean of the
// dominant channel is inside the window, or the attempt budget runs out.
// Running out is not an error; Outcome.Converged reports it.  Failed probe
// captures consume an attempt.
func (c Controller) Tune(ctx context.Context, cam camera.Exposer) (Outcome, error) {
	var out Outcome
	exp, err := cam.GetExposureTime()
	if err != nil {
		return out, fmt.Errorf("reading exposure time: %w", err)
	}
	mid := c.Window.Mid()
	for out.Attempts < c.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out.Attempts++
		out.Exposure = exp
		raw, err := cam.Capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			log.Printf("exposure probe %d failed: %s", out.Attempts, err)
			continue
		}
		planes, err := frame.Split(raw, c.Mosaic)
		if err != nil {
			log.Printf("exposure probe %d unusable: %s", out.Attempts, err)
			continue
		}
		out.Channel, out.TopMean = TopMean(planes, c.TopFraction)
		if c.Window.Contains(out.TopMean) {
			out.Converged = true
			return out, nil
		}

		dev := (out.TopMean - mid) / mid
		step := time.Duration(float64(exp) * c.ScalingFactor * math.Abs(dev))
		if step < c.MinStep {
			step = c.MinStep
		}
		if dev < 0 {
			exp += step
		} else {
			exp -= step
		}
		if exp < c.MinExposure {
			exp = c.MinExposure
		}
		if c.MaxExposure > 0 && exp > c.MaxExposure {
			exp = c.MaxExposure
		}
		if err := cam.SetExposureTime(exp); err != nil {
			return out, fmt.Errorf("setting exposure time to %v: %w", exp, err)
		}
		out.Exposure = exp
		if err := sleep(ctx, c.Settle); err != nil {
			return out, err
		}
	}
	return out, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
