// Package noise flags captured frames that are corrupted by static or
// structural noise, using a local-variance and an entropy heuristic.
//
// Both checks work on 8-bit samples, v*255/1023, so the thresholds are in
// 8-bit gray units whatever the sensor depth.
package noise

import (
	"image"
	"math"

	"github.com/disintegration/gift"
	"gonum.org/v1/gonum/stat"

	"github.com/optlab/bsdfbench/frame"
)

// DefaultRefSize is the edge length frames are resized to before the
// local-variance check
const DefaultRefSize = 256

// Classifier holds the thresholds of the two checks.  A frame is flagged when
// either check exceeds its threshold.
type Classifier struct {
	// VarianceThreshold is the limit on the variance of the residual between
	// the resized frame and its blurred copy
	VarianceThreshold float64 `koanf:"varianceThreshold" yaml:"varianceThreshold"`

	// EntropyThreshold is the limit on the Shannon entropy of the frame, in bits
	EntropyThreshold float64 `koanf:"entropyThreshold" yaml:"entropyThreshold"`

	// RefSize is the reference edge length, in pixels
	RefSize int `koanf:"refSize" yaml:"refSize"`

	// BlurSigma is the standard deviation of the Gaussian blur, in pixels
	BlurSigma float64 `koanf:"blurSigma" yaml:"blurSigma"`
}

// Default returns a classifier with the calibrated thresholds.  The blur
// sigma matches a 5x5 kernel.  A clean spot frame has an entropy of 5 to 7
// bits, uniform static close to 8.
func Default() Classifier {
	return Classifier{
		VarianceThreshold: 100,
		EntropyThreshold:  7.5,
		RefSize:           DefaultRefSize,
		BlurSigma:         1.1,
	}
}

// Verdict is the outcome of assessing one frame
type Verdict struct {
	Variance float64 `json:"variance"`
	Entropy  float64 `json:"entropy"`

	// VarianceFlag is true when Variance exceeded its threshold
	VarianceFlag bool `json:"varianceFlag"`

	// EntropyFlag is true when Entropy exceeded its threshold
	EntropyFlag bool `json:"entropyFlag"`

	// Static is VarianceFlag || EntropyFlag
	Static bool `json:"static"`
}

// Assess runs both checks on r.  r is not modified.
func (c Classifier) Assess(r frame.Raw) Verdict {
	v := Verdict{
		Variance: c.LocalVariance(r),
		Entropy:  Entropy(r),
	}
	v.VarianceFlag = v.Variance > c.VarianceThreshold
	v.EntropyFlag = v.Entropy > c.EntropyThreshold
	v.Static = v.VarianceFlag || v.EntropyFlag
	return v
}

// IsStatic is shorthand for Assess(r).Static
func (c Classifier) IsStatic(r frame.Raw) bool {
	return c.Assess(r).Static
}

// LocalVariance resizes r to RefSize x RefSize, blurs it, and returns the
// population variance of |resized - blurred|
func (c Classifier) LocalVariance(r frame.Raw) float64 {
	if r.Width == 0 || r.Height == 0 {
		return 0
	}
	size := c.RefSize
	if size <= 0 {
		size = DefaultRefSize
	}
	src := toGray(r)

	rs := gift.New(gift.Resize(size, size, gift.LinearResampling))
	resized := image.NewGray(rs.Bounds(src.Bounds()))
	rs.Draw(resized, src)

	bl := gift.New(gift.GaussianBlur(float32(c.BlurSigma)))
	blurred := image.NewGray(bl.Bounds(resized.Bounds()))
	bl.Draw(blurred, resized)

	n := size * size
	diff := make([]float64, n)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			a := float64(resized.GrayAt(x, y).Y)
			b := float64(blurred.GrayAt(x, y).Y)
			diff[y*size+x] = math.Abs(a - b)
		}
	}
	return stat.PopVariance(diff, nil)
}

// Entropy returns the Shannon entropy of the 8-bit sample distribution of r,
// in bits.  It is at most 8.
func Entropy(r frame.Raw) float64 {
	if len(r.Pix) == 0 {
		return 0
	}
	var hist [256]float64
	for _, v := range r.Pix {
		hist[to8(v)]++
	}
	p := make([]float64, 0, len(hist))
	n := float64(len(r.Pix))
	for _, h := range hist {
		if h > 0 {
			p = append(p, h/n)
		}
	}
	return stat.Entropy(p) / math.Ln2
}

// to8 rescales a sensor sample to 8 bits
func to8(v uint16) uint8 {
	if v >= frame.MaxValue {
		return math.MaxUint8
	}
	return uint8(uint32(v) * math.MaxUint8 / frame.MaxValue)
}

func toGray(r frame.Raw) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, r.Width, r.Height))
	for y := 0; y < r.Height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < r.Width; x++ {
			row[x] = to8(r.Pix[y*r.Width+x])
		}
	}
	return img
}
