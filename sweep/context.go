package sweep

import (
	"errors"
	"fmt"

	"github.com/optlab/bsdfbench/acquire"
	"github.com/optlab/bsdfbench/camera"
	"github.com/optlab/bsdfbench/dark"
	"github.com/optlab/bsdfbench/motion"
)

var (
	// ErrCameraNotReady is generated when the camera is missing or not initialized
	ErrCameraNotReady = errors.New("camera not initialized")

	// ErrDarkUnset is generated when no dark level has been captured or entered
	ErrDarkUnset = errors.New("dark level not set")

	// ErrEmptyGrid is generated when an axis of the grid has no angles
	ErrEmptyGrid = errors.New("angle grid is empty")

	// ErrNoStage is generated when no motor stage is configured
	ErrNoStage = errors.New("no motor stage")

	// ErrNoAccumulator is generated when no acquisition recipe is configured
	ErrNoAccumulator = errors.New("no accumulator")
)

// PreconditionError is returned before any motion when a sweep cannot start
type PreconditionError struct {
	Err error
}

// Error satisfies error
func (e *PreconditionError) Error() string {
	return fmt.Sprintf("sweep precondition failed: %s", e.Err)
}

// Unwrap allows errors.Is to match the underlying sentinel
func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// DefaultOcclusionTolerance is the angular distance, in degrees, inside which
// the detector is considered to block the light
const DefaultOcclusionTolerance = 2

// Context is everything a sweep needs
type Context struct {
	Type        MeasurementType
	Camera      camera.Camera
	Stage       motion.Stage
	Grid        Grid
	Dark        *dark.Value
	Accumulator *acquire.Accumulator

	// OcclusionTolerance is in degrees; see Occluded
	OcclusionTolerance float64

	// MaxConsecutiveFailures is the number of back-to-back motor or capture
	// failures tolerated before the sweep is abandoned.  Zero means no limit.
	MaxConsecutiveFailures int
}

// Validate checks the sweep can start
func (c *Context) Validate() error {
	switch {
	case c.Camera == nil || !c.Camera.Initialized():
		return &PreconditionError{ErrCameraNotReady}
	case c.Dark == nil || !c.Dark.IsSet():
		return &PreconditionError{ErrDarkUnset}
	case c.Grid.Positions() == 0:
		return &PreconditionError{ErrEmptyGrid}
	case c.Stage == nil:
		return &PreconditionError{ErrNoStage}
	case c.Accumulator == nil:
		return &PreconditionError{ErrNoAccumulator}
	}
	return nil
}
