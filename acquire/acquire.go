/*Package acquire turns one goniometer position into per-channel intensity
statistics: it tunes exposure, captures a set of frames, discards those the
noise classifier flags, dark-subtracts and averages the rest, and reduces the
average over the region of interest.
*/
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/optlab/bsdfbench/camera"
	"github.com/optlab/bsdfbench/exposure"
	"github.com/optlab/bsdfbench/frame"
	"github.com/optlab/bsdfbench/imgrec"
	"github.com/optlab/bsdfbench/noise"
	"github.com/optlab/bsdfbench/roi"
)

var (
	// ErrNotTuned is generated when exposure tuning did not converge.  The
	// position should be skipped.
	ErrNotTuned = errors.New("exposure did not converge")

	// ErrNoFrames is generated when every capture was rejected or failed.
	// The position should be skipped.
	ErrNoFrames = errors.New("no frames accepted")
)

// channel names, in Planes order
var channelNames = [3]string{"R", "G", "B"}

// Tag identifies the position a sample was taken at, in degrees
type Tag struct {
	LightRadial       float64
	LightAzimuthal    float64
	DetectorAzimuthal float64
	DetectorRadial    float64
}

// String satisfies fmt.Stringer
func (t Tag) String() string {
	return fmt.Sprintf("light_rad=%g light_az=%g det_az=%g det_rad=%g",
		t.LightRadial, t.LightAzimuthal, t.DetectorAzimuthal, t.DetectorRadial)
}

// Cards returns FITS header cards describing the position
func (t Tag) Cards() []fitsio.Card {
	return []fitsio.Card{
		{Name: "LIGHTRAD", Value: t.LightRadial, Comment: "light radial angle [deg]"},
		{Name: "LIGHTAZ", Value: t.LightAzimuthal, Comment: "light azimuthal angle [deg]"},
		{Name: "DETAZ", Value: t.DetectorAzimuthal, Comment: "detector azimuthal angle [deg]"},
		{Name: "DETRAD", Value: t.DetectorRadial, Comment: "detector radial angle [deg]"},
	}
}

// Sample is the reduced measurement at one position
type Sample struct {
	R roi.Result `json:"r"`
	G roi.Result `json:"g"`
	B roi.Result `json:"b"`

	// Accepted is the number of frames averaged
	Accepted int `json:"accepted"`

	// Attempts is the number of captures made, not counting exposure probes
	Attempts int `json:"attempts"`

	// Partial is true when fewer than the required frames were accepted
	Partial bool `json:"partial"`

	// NoSignal flags channels whose ROI mean was zero
	NoSignal [3]bool `json:"noSignal"`

	Exposure time.Duration `json:"exposure"`

	// Averaged is the dark-subtracted mean frame
	Averaged frame.Float `json:"-"`

	// ArchivePath is where the averaged frame was written, if anywhere
	ArchivePath string `json:"archivePath,omitempty"`
}

// Means returns the R, G, B ROI means
func (s *Sample) Means() [3]float64 {
	return [3]float64{s.R.Mean, s.G.Mean, s.B.Mean}
}

// RelErrs returns the R, G, B relative errors
func (s *Sample) RelErrs() [3]float64 {
	return [3]float64{s.R.RelErr, s.G.RelErr, s.B.RelErr}
}

// Accumulator holds the per-position acquisition recipe
type Accumulator struct {
	Exposure exposure.Controller
	Noise    noise.Classifier
	ROI      *roi.Engine
	Mosaic   frame.Mosaic

	// Required is the number of accepted frames averaged at each position.
	// At most three times as many captures are attempted.
	Required int

	// Archive, if not nil, receives the averaged frame of every position
	Archive imgrec.Archiver
}

// Accumulate measures one position.  ErrNotTuned and ErrNoFrames mean the
// position should be skipped; a partial result is returned without error.
func (a *Accumulator) Accumulate(ctx context.Context, cam camera.Camera, dark float64, tag Tag) (*Sample, error) {
	if a.Required <= 0 {
		return nil, fmt.Errorf("required frame count must be positive, got %d", a.Required)
	}
	tune, err := a.Exposure.Tune(ctx, cam)
	if err != nil {
		return nil, fmt.Errorf("tuning exposure: %w", err)
	}
	if !tune.Converged {
		return nil, fmt.Errorf("%w after %d attempts, top mean %.1f at %v", ErrNotTuned, tune.Attempts, tune.TopMean, tune.Exposure)
	}

	s := &Sample{Exposure: tune.Exposure}
	frames := make([]frame.Float, 0, a.Required)
	budget := 3 * a.Required
	for len(frames) < a.Required && s.Attempts < budget {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.Attempts++
		raw, err := cam.Capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("%s: capture %d failed: %s", tag, s.Attempts, err)
			continue
		}
		if v := a.Noise.Assess(raw); v.Static {
			log.Printf("%s: capture %d rejected as static noise (variance %.1f, entropy %.2f)", tag, s.Attempts, v.Variance, v.Entropy)
			continue
		}
		frames = append(frames, frame.SubtractDark(raw, dark))
	}
	s.Accepted = len(frames)
	if s.Accepted == 0 {
		return nil, fmt.Errorf("%w in %d attempts", ErrNoFrames, s.Attempts)
	}
	if s.Accepted < a.Required {
		s.Partial = true
		log.Printf("%s: only %d of %d frames accepted, averaging what there is", tag, s.Accepted, a.Required)
	}

	s.Averaged, err = frame.Average(frames)
	if err != nil {
		return nil, err
	}
	planes, err := frame.SplitFloat(s.Averaged, a.Mosaic)
	if err != nil {
		return nil, err
	}
	res, errs := a.ROI.Channels(planes)
	for i, err := range errs {
		if err == nil {
			continue
		}
		if !errors.Is(err, roi.ErrNoSignal) {
			return nil, fmt.Errorf("%s ROI: %w", channelNames[i], err)
		}
		s.NoSignal[i] = true
		res[i] = roi.Result{N: res[i].N}
		log.Printf("%s: no signal in %s channel", tag, channelNames[i])
	}
	s.R, s.G, s.B = res[0], res[1], res[2]

	if a.Archive != nil {
		cards := append(tag.Cards(),
			fitsio.Card{Name: "EXPTIME", Value: s.Exposure.Seconds(), Comment: "exposure time [s]"},
			fitsio.Card{Name: "NFRAMES", Value: s.Accepted, Comment: "frames averaged"},
			fitsio.Card{Name: "DARKLVL", Value: dark, Comment: "dark level subtracted [counts]"},
		)
		s.ArchivePath, err = a.Archive.Archive(s.Averaged.Raw(), cards)
		if err != nil {
			log.Printf("%s: archiving averaged frame: %s", tag, err)
		}
	}
	return s, nil
}
