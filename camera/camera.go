/*Package camera describes the interface the acquisition engine uses to drive
a sensor, along with a simulated sensor and a playback source for recorded
RAW10 dumps.

Exposure times are time.Durations at the interface; drivers that speak
microseconds convert at the boundary.
*/
package camera

import (
	"context"
	"errors"
	"time"

	"github.com/optlab/bsdfbench/frame"
)

var (
	// ErrNotInitialized is generated when a camera is used before Initialize
	ErrNotInitialized = errors.New("camera not initialized")

	// ErrNoFrame is generated when the sensor returned nothing for a capture
	ErrNoFrame = errors.New("camera returned no frame")
)

// Camera is the set of operations the engine needs from a sensor
type Camera interface {
	// Initialize prepares the camera for capture.  This may have myriad side
	// effects, such as the allocation of buffers or the start of a stream.
	Initialize() error

	// Finalize stops the camera and releases its resources
	Finalize() error

	// Initialized is true between Initialize and Finalize
	Initialized() bool

	// GetRes gets the (W, H) of frames returned by Capture
	GetRes() ([2]int, error)

	// Capture grabs one frame.  The returned frame is owned by the caller.
	Capture(context.Context) (frame.Raw, error)

	// GetExposureTime gets the current exposure time
	GetExposureTime() (time.Duration, error)

	// SetExposureTime sets the exposure time
	SetExposureTime(time.Duration) error
}

// Exposer is the subset of Camera used to tune exposure
type Exposer interface {
	Capture(context.Context) (frame.Raw, error)
	GetExposureTime() (time.Duration, error)
	SetExposureTime(time.Duration) error
}
