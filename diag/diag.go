/*Package diag contains bench diagnostics that are not part of a sweep: spot
location, radial intensity profile, and channel histograms of a single frame.
They are used when aligning the optics and when checking a capture by eye.
*/
package diag

import (
	"errors"
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/optlab/bsdfbench/frame"
	"github.com/optlab/bsdfbench/noise"
	"github.com/optlab/bsdfbench/roi"
)

// ErrEmpty is generated for frames with no pixels
var ErrEmpty = errors.New("empty frame")

// DefaultThresholdRatio is the fraction of the peak above which a pixel is
// considered part of the spot
const DefaultThresholdRatio = 0.5

// PlaneOf views a raw frame as a single plane of floats
func PlaneOf(r frame.Raw) frame.Plane {
	pix := make([]float64, len(r.Pix))
	for i, v := range r.Pix {
		pix[i] = float64(v)
	}
	return frame.Plane{Width: r.Width, Height: r.Height, Pix: pix}
}

// Centroid locates the spot: the center of the pixels brighter than ratio
// times the peak.  Pixels are weighted equally.
func Centroid(p frame.Plane, ratio float64) (y, x float64, err error) {
	if len(p.Pix) == 0 || p.Width == 0 {
		return 0, 0, ErrEmpty
	}
	thresh := floats.Max(p.Pix) * ratio
	var ys, xs []float64
	for i, v := range p.Pix {
		if v > thresh {
			ys = append(ys, float64(i/p.Width))
			xs = append(xs, float64(i%p.Width))
		}
	}
	if len(ys) == 0 {
		return 0, 0, fmt.Errorf("no pixel above %.1f: %w", thresh, roi.ErrNoSignal)
	}
	return stat.Mean(ys, nil), stat.Mean(xs, nil), nil
}

// RadialProfile is the mean intensity in one-pixel rings about (cy, cx).
// Radii beyond bins-1 fall in the last bin; empty bins are zero.
func RadialProfile(p frame.Plane, cy, cx float64, bins int) []float64 {
	sum := make([]float64, bins)
	n := make([]float64, bins)
	if bins <= 0 {
		return sum
	}
	for i, v := range p.Pix {
		dy, dx := float64(i/p.Width)-cy, float64(i%p.Width)-cx
		r := int(math.Hypot(dy, dx))
		if r > bins-1 {
			r = bins - 1
		}
		sum[r] += v
		n[r]++
	}
	for i := range sum {
		if n[i] > 0 {
			sum[i] /= n[i]
		}
	}
	return sum
}

// Report summarizes one frame
type Report struct {
	Width, Height int
	Mean          float64
	CentroidY     float64
	CentroidX     float64
	ROI           [3]roi.Result
	ROIErr        [3]error
	Noise         noise.Verdict
	Profile       []float64
	Planes        frame.Planes
}

// Inspect computes a Report.  A frame with no bright pixels still yields a
// report; its centroid is the frame center.
func Inspect(r frame.Raw, m frame.Mosaic, roiDiameter int, nc noise.Classifier, bins int) (Report, error) {
	rep := Report{Width: r.Width, Height: r.Height, Mean: r.Mean(), Noise: nc.Assess(r)}
	planes, err := frame.Split(r, m)
	if err != nil {
		return rep, err
	}
	rep.Planes = planes
	rep.ROI, rep.ROIErr = roi.NewEngine(roiDiameter).Channels(planes)

	p := PlaneOf(r)
	rep.CentroidY, rep.CentroidX, err = Centroid(p, DefaultThresholdRatio)
	if err != nil {
		rep.CentroidY, rep.CentroidX = float64(r.Height/2), float64(r.Width/2)
	}
	rep.Profile = RadialProfile(p, rep.CentroidY, rep.CentroidX, bins)
	return rep, nil
}

var channelColors = [3]color.Color{
	color.RGBA{R: 200, A: 255},
	color.RGBA{G: 160, A: 255},
	color.RGBA{B: 200, A: 255},
}

// PlotHistograms saves overlaid histograms of the three channels.  The
// format follows the extension of fn.
func PlotHistograms(planes frame.Planes, bins int, title, fn string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Intensity (counts)"
	p.Y.Label.Text = "Pixels"
	for i, ch := range planes.Channels() {
		h, err := plotter.NewHist(plotter.Values(ch.Pix), bins)
		if err != nil {
			return fmt.Errorf("%s histogram: %w", [3]string{"R", "G", "B"}[i], err)
		}
		h.FillColor = nil
		h.LineStyle.Color = channelColors[i]
		h.LineStyle.Width = vg.Points(1)
		p.Add(h)
		p.Legend.Add([3]string{"R", "G", "B"}[i], h)
	}
	p.Legend.Top = true
	return p.Save(8*vg.Inch, 4*vg.Inch, fn)
}

// PlotProfile saves a radial profile as a line plot
func PlotProfile(profile []float64, title, fn string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Radius (pixels)"
	p.Y.Label.Text = "Average intensity (counts)"
	pts := make(plotter.XYs, len(profile))
	for i, v := range profile {
		pts[i] = plotter.XY{X: float64(i), Y: v}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	p.Add(line, plotter.NewGrid())
	return p.Save(8*vg.Inch, 4*vg.Inch, fn)
}
