// Package motion contains the abstract interface for the goniometer stages
// that position the light source and the detector, plus soft limits and a mock
// stage for use without hardware.
package motion

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Axis names one of the four rotation axes
type Axis string

const (
	// LightAzimuthal is the light source's azimuthal axis (angle of incidence)
	LightAzimuthal Axis = "LIGHT_AZ"

	// LightRadial is the light source's radial axis (sample rotation)
	LightRadial Axis = "LIGHT_RAD"

	// DetectorAzimuthal is the detector's azimuthal axis (scatter azimuth)
	DetectorAzimuthal Axis = "DET_AZ"

	// DetectorRadial is the detector's radial axis (scatter radial)
	DetectorRadial Axis = "DET_RAD"
)

// Axes lists every axis, light first
var Axes = []Axis{LightRadial, LightAzimuthal, DetectorAzimuthal, DetectorRadial}

// ParseAxis converts a case-insensitive axis name into an Axis
func ParseAxis(s string) (Axis, error) {
	a := Axis(strings.ToUpper(s))
	for _, known := range Axes {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown axis %q", s)
}

// Stage describes a set of methods on the goniometer's motor controller.
// Commands are synchronous; each returns once the controller has acknowledged
// the command and the stage has settled.
type Stage interface {
	// MoveAbs moves an axis to an absolute position in degrees and returns
	// the controller's acknowledgment
	MoveAbs(context.Context, Axis, float64) (string, error)

	// Offset returns an axis to its park position
	Offset(context.Context, Axis) error

	// Reset resets the controller
	Reset(context.Context) error
}

// MoveCommand formats the telegram that moves axis a to deg
func MoveCommand(a Axis, deg float64) string {
	return string(a) + ":" + strconv.FormatFloat(deg, 'f', -1, 64)
}

// OffsetCommand formats the telegram that parks axis a
func OffsetCommand(a Axis) string {
	return string(a) + ":OFFSET"
}

// ResetCommand is the telegram that resets the controller
const ResetCommand = "RESET"

// LimitError is generated when a move falls outside an axis' soft limits
type LimitError struct {
	Axis     Axis
	Pos      float64
	Min, Max float64
}

// Error satisfies the error interface
func (e LimitError) Error() string {
	return fmt.Sprintf("axis %s position %g outside limits [%g, %g]", e.Axis, e.Pos, e.Min, e.Max)
}

// Range is a closed interval of positions, in degrees
type Range struct {
	Min float64 `koanf:"min" yaml:"min"`
	Max float64 `koanf:"max" yaml:"max"`
}

// Limits holds soft limits per axis.  Axes without an entry are unlimited.
type Limits map[Axis]Range

// Check returns a LimitError if pos is outside the limits of axis a
func (l Limits) Check(a Axis, pos float64) error {
	r, ok := l[a]
	if !ok {
		return nil
	}
	if pos < r.Min || pos > r.Max {
		return LimitError{Axis: a, Pos: pos, Min: r.Min, Max: r.Max}
	}
	return nil
}

// Limited wraps a Stage and refuses moves that violate Limits before they
// reach the controller
type Limited struct {
	Stage
	Limits Limits
}

// MoveAbs checks the limits then forwards to the wrapped stage
func (l Limited) MoveAbs(ctx context.Context, a Axis, pos float64) (string, error) {
	if err := l.Limits.Check(a, pos); err != nil {
		return "", err
	}
	return l.Stage.MoveAbs(ctx, a, pos)
}
