// Package roi computes intensity statistics over a fixed circular region of
// interest at the center of a color plane.
package roi

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/optlab/bsdfbench/frame"
)

// ErrNoSignal is generated when the mean inside the ROI is zero, so the
// relative error is undefined.  Callers treat it as "no signal".
var ErrNoSignal = errors.New("roi mean is zero, relative error undefined")

// Result holds the statistics of one channel
type Result struct {
	// Mean is the mean intensity inside the ROI
	Mean float64 `json:"mean"`

	// RelErr is the standard error of the mean divided by the mean
	RelErr float64 `json:"relErr"`

	// N is the number of pixels inside the ROI
	N int `json:"n"`
}

// Mask is a precomputed circular pixel mask
type Mask struct {
	Width    int
	Height   int
	Diameter int

	// Indices are the flat indices of pixels inside the disk
	Indices []int
}

// NewMask builds a disk of the given diameter centered at (height/2, width/2)
func NewMask(width, height, diameter int) Mask {
	r := diameter / 2
	cy, cx := height/2, width/2
	m := Mask{Width: width, Height: height, Diameter: diameter}
	for y := cy - r; y <= cy+r; y++ {
		if y < 0 || y >= height {
			continue
		}
		for x := cx - r; x <= cx+r; x++ {
			if x < 0 || x >= width {
				continue
			}
			dy, dx := y-cy, x-cx
			if dx*dx+dy*dy <= r*r {
				m.Indices = append(m.Indices, y*width+x)
			}
		}
	}
	return m
}

// Apply computes the statistics of p inside the mask
func (m Mask) Apply(p frame.Plane) (Result, error) {
	if p.Width != m.Width || p.Height != m.Height {
		return Result{}, fmt.Errorf("mask is %dx%d but plane is %dx%d", m.Width, m.Height, p.Width, p.Height)
	}
	n := len(m.Indices)
	if n == 0 {
		return Result{}, fmt.Errorf("mask of diameter %d is empty for a %dx%d plane", m.Diameter, m.Width, m.Height)
	}
	vals := make([]float64, n)
	for i, idx := range m.Indices {
		vals[i] = p.Pix[idx]
	}
	mean, std := stat.PopMeanStdDev(vals, nil)
	if mean == 0 {
		return Result{N: n}, ErrNoSignal
	}
	return Result{
		Mean:   mean,
		RelErr: std / (math.Sqrt(float64(n)) * mean),
		N:      n,
	}, nil
}

// Mean computes ROI statistics of p with a fresh mask
func Mean(p frame.Plane, diameter int) (Result, error) {
	return NewMask(p.Width, p.Height, diameter).Apply(p)
}

// Engine caches masks per plane size.  The diameter is fixed for an
// instrument, so repeated calls for the same frame size are deterministic.
// It is safe for concurrent use.
type Engine struct {
	Diameter int

	mu    sync.Mutex
	masks map[[2]int]Mask
}

// NewEngine returns an engine for the given ROI diameter in pixels
func NewEngine(diameter int) *Engine {
	return &Engine{Diameter: diameter, masks: make(map[[2]int]Mask)}
}

func (e *Engine) mask(width, height int) Mask {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.masks == nil {
		e.masks = make(map[[2]int]Mask)
	}
	key := [2]int{width, height}
	m, ok := e.masks[key]
	if !ok {
		m = NewMask(width, height, e.Diameter)
		e.masks[key] = m
	}
	return m
}

// Mean computes ROI statistics of one plane
func (e *Engine) Mean(p frame.Plane) (Result, error) {
	return e.mask(p.Width, p.Height).Apply(p)
}

// Channels computes the statistics of R, G, and B.  The returned errors are
// per channel; a nil slot means the channel succeeded.
func (e *Engine) Channels(p frame.Planes) ([3]Result, [3]error) {
	var (
		res  [3]Result
		errs [3]error
	)
	for i, plane := range p.Channels() {
		res[i], errs[i] = e.Mean(plane)
	}
	return res, errs
}
