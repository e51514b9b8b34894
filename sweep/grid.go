package sweep

import (
	"fmt"
	"math"
	"strings"

	"github.com/optlab/bsdfbench/acquire"
	"github.com/optlab/bsdfbench/mathx"
)

// keyUnit is the resolution angles are rounded to before use as map keys
const keyUnit = 1e-6

// MeasurementType selects reflection, transmission, or both
type MeasurementType int

const (
	// BRDF measures light scattered back from the sample
	BRDF MeasurementType = iota

	// BTDF measures light transmitted through the sample
	BTDF

	// Both sweeps reflection and transmission in one run
	Both
)

// Range returns the first and last angle of the type, in degrees
func (m MeasurementType) Range() (start, end float64) {
	switch m {
	case BTDF:
		return 188, 355
	case Both:
		return 8, 355
	default:
		return 8, 175
	}
}

// String satisfies fmt.Stringer
func (m MeasurementType) String() string {
	switch m {
	case BRDF:
		return "BRDF"
	case BTDF:
		return "BTDF"
	case Both:
		return "Both"
	default:
		return fmt.Sprintf("MeasurementType(%d)", int(m))
	}
}

// MarshalText satisfies encoding.TextMarshaler
func (m MeasurementType) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText satisfies encoding.TextUnmarshaler
func (m *MeasurementType) UnmarshalText(b []byte) error {
	v, err := ParseMeasurementType(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMeasurementType converts a case-insensitive name into a MeasurementType
func ParseMeasurementType(s string) (MeasurementType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BRDF":
		return BRDF, nil
	case "BTDF":
		return BTDF, nil
	case "BOTH":
		return Both, nil
	}
	return 0, fmt.Errorf("unknown measurement type %q, must be one of BRDF, BTDF, Both", s)
}

// StepOptions are the step sizes offered to an operator, in degrees
var StepOptions = []float64{2, 5, 10, 100}

// StepCount is the number of angles one axis takes for the given type and step
func StepCount(m MeasurementType, step float64) int {
	if step <= 0 {
		return 0
	}
	start, end := m.Range()
	return int((end-start)/step) + 1
}

// Steps holds the step size of each axis, in degrees
type Steps struct {
	LightRadial       float64 `koanf:"lightRadial" yaml:"lightRadial" json:"lightRadial"`
	LightAzimuthal    float64 `koanf:"lightAzimuthal" yaml:"lightAzimuthal" json:"lightAzimuthal"`
	DetectorAzimuthal float64 `koanf:"detectorAzimuthal" yaml:"detectorAzimuthal" json:"detectorAzimuthal"`
	DetectorRadial    float64 `koanf:"detectorRadial" yaml:"detectorRadial" json:"detectorRadial"`
}

// Uniform returns Steps with the same step on every axis
func Uniform(step float64) Steps {
	return Steps{step, step, step, step}
}

// Grid is the set of angles each axis visits, in the order visited
type Grid struct {
	LightRadial       []float64 `json:"lightRadial"`
	LightAzimuthal    []float64 `json:"lightAzimuthal"`
	DetectorAzimuthal []float64 `json:"detectorAzimuthal"`
	DetectorRadial    []float64 `json:"detectorRadial"`
}

// NewGrid builds the grid for a measurement type.  Every axis spans the
// type's range starting at its first angle.
func NewGrid(m MeasurementType, s Steps) (Grid, error) {
	var (
		g   Grid
		err error
	)
	if g.LightRadial, err = axis(m, s.LightRadial); err != nil {
		return Grid{}, fmt.Errorf("light radial: %w", err)
	}
	if g.LightAzimuthal, err = axis(m, s.LightAzimuthal); err != nil {
		return Grid{}, fmt.Errorf("light azimuthal: %w", err)
	}
	if g.DetectorAzimuthal, err = axis(m, s.DetectorAzimuthal); err != nil {
		return Grid{}, fmt.Errorf("detector azimuthal: %w", err)
	}
	if g.DetectorRadial, err = axis(m, s.DetectorRadial); err != nil {
		return Grid{}, fmt.Errorf("detector radial: %w", err)
	}
	return g, nil
}

func axis(m MeasurementType, step float64) ([]float64, error) {
	if step <= 0 || math.IsNaN(step) || math.IsInf(step, 0) {
		return nil, fmt.Errorf("step must be a positive number of degrees, got %v", step)
	}
	start, _ := m.Range()
	n := StepCount(m, step)
	out := make([]float64, n)
	for i := range out {
		out[i] = mathx.Round(start+float64(i)*step, keyUnit)
	}
	return out, nil
}

// Positions is the number of positions in the grid, occluded ones included
func (g Grid) Positions() int {
	return len(g.LightRadial) * len(g.LightAzimuthal) * len(g.DetectorAzimuthal) * len(g.DetectorRadial)
}

// Key identifies a position.  Build keys with NewKey so that angles compare
// equal after floating point arithmetic.
type Key struct {
	LightRadial       float64 `json:"lightRadial"`
	LightAzimuthal    float64 `json:"lightAzimuthal"`
	DetectorAzimuthal float64 `json:"detectorAzimuthal"`
	DetectorRadial    float64 `json:"detectorRadial"`
}

// NewKey returns a key with each angle rounded to a microdegree
func NewKey(lightRad, lightAz, detAz, detRad float64) Key {
	return Key{
		LightRadial:       mathx.Round(lightRad, keyUnit),
		LightAzimuthal:    mathx.Round(lightAz, keyUnit),
		DetectorAzimuthal: mathx.Round(detAz, keyUnit),
		DetectorRadial:    mathx.Round(detRad, keyUnit),
	}
}

// Tag converts the key to the label an acquisition carries
func (k Key) Tag() acquire.Tag {
	return acquire.Tag{
		LightRadial:       k.LightRadial,
		LightAzimuthal:    k.LightAzimuthal,
		DetectorAzimuthal: k.DetectorAzimuthal,
		DetectorRadial:    k.DetectorRadial,
	}
}

// String satisfies fmt.Stringer
func (k Key) String() string {
	return k.Tag().String()
}

// Occluded is true when the detector would sit in the illumination path, that
// is when both its angles are within tol of the light's
func Occluded(k Key, tol float64) bool {
	return math.Abs(k.LightAzimuthal-k.DetectorAzimuthal) < tol &&
		math.Abs(k.LightRadial-k.DetectorRadial) < tol
}

// RGB is one value per color channel
type RGB struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// Results holds the per-position means and relative errors of a sweep.  Means
// and Errors always have the same keys; Order lists them as recorded.
type Results struct {
	Means  map[Key]RGB
	Errors map[Key]RGB
	Order  []Key
}

// NewResults returns empty Results
func NewResults() Results {
	return Results{Means: make(map[Key]RGB), Errors: make(map[Key]RGB)}
}

// Record stores the mean and error of one position
func (r *Results) Record(k Key, mean, relErr RGB) {
	if r.Means == nil {
		r.Means = make(map[Key]RGB)
		r.Errors = make(map[Key]RGB)
	}
	if _, seen := r.Means[k]; !seen {
		r.Order = append(r.Order, k)
	}
	r.Means[k] = mean
	r.Errors[k] = relErr
}

// Len is the number of recorded positions
func (r Results) Len() int {
	return len(r.Order)
}

// Copy returns a deep copy
func (r Results) Copy() Results {
	out := Results{
		Means:  make(map[Key]RGB, len(r.Means)),
		Errors: make(map[Key]RGB, len(r.Errors)),
		Order:  append([]Key(nil), r.Order...),
	}
	for k, v := range r.Means {
		out.Means[k] = v
	}
	for k, v := range r.Errors {
		out.Errors[k] = v
	}
	return out
}

// MeanErrors is the per-channel mean of the relative errors, zero when empty
func (r Results) MeanErrors() RGB {
	var sum RGB
	if len(r.Order) == 0 {
		return sum
	}
	for _, k := range r.Order {
		e := r.Errors[k]
		sum.R += e.R
		sum.G += e.G
		sum.B += e.B
	}
	n := float64(len(r.Order))
	return RGB{sum.R / n, sum.G / n, sum.B / n}
}
