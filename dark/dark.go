// Package dark holds the dark-frame level subtracted from every frame of a
// sweep, and captures it from a covered sensor.
package dark

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/optlab/bsdfbench/camera"
	"github.com/optlab/bsdfbench/frame"
)

// NominalError is generated when a manually entered dark value is not usable
type NominalError struct {
	Input  string
	Reason string
}

// Error satisfies the error interface
func (e *NominalError) Error() string {
	return fmt.Sprintf("dark value %q: %s", e.Input, e.Reason)
}

// Value is a dark level that may be unset.  It is set once before a sweep
// and read throughout it.  It is safe for concurrent use.
type Value struct {
	mu  sync.RWMutex
	v   float64
	set bool
}

// Set stores v
func (d *Value) Set(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.v = v
	d.set = true
}

// Clear returns the value to the unset state
func (d *Value) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.v = 0
	d.set = false
}

// Get returns the value and whether it has been set
func (d *Value) Get() (float64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.v, d.set
}

// IsSet is true once Set has been called
func (d *Value) IsSet() bool {
	_, ok := d.Get()
	return ok
}

// ParseNominal validates a manually entered dark level.  It must be a number
// within the sensor's range.
func ParseNominal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &NominalError{Input: s, Reason: "not a number"}
	}
	if v < 0 {
		return 0, &NominalError{Input: s, Reason: "must not be negative"}
	}
	if v > frame.MaxValue {
		return 0, &NominalError{Input: s, Reason: fmt.Sprintf("exceeds sensor maximum %d", frame.MaxValue)}
	}
	return v, nil
}

// Capture grabs n frames from a covered sensor and returns their mean level
// along with the averaged frame.  Frames that fail to capture are retried up
// to n more times.
func Capture(ctx context.Context, cam camera.Camera, n int) (float64, frame.Float, error) {
	if n <= 0 {
		return 0, frame.Float{}, fmt.Errorf("dark frame count must be positive, got %d", n)
	}
	var (
		frames []frame.Float
		errs   int
	)
	for len(frames) < n {
		if err := ctx.Err(); err != nil {
			return 0, frame.Float{}, err
		}
		raw, err := cam.Capture(ctx)
		if err != nil {
			errs++
			if errs > n {
				return 0, frame.Float{}, fmt.Errorf("capturing dark frame: %w", err)
			}
			continue
		}
		frames = append(frames, frame.SubtractDark(raw, 0))
	}
	avg, err := frame.Average(frames)
	if err != nil {
		return 0, frame.Float{}, err
	}
	var sum float64
	for _, v := range avg.Pix {
		sum += v
	}
	return sum / float64(len(avg.Pix)), avg, nil
}
