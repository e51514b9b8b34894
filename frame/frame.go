/*Package frame holds raw sensor frames and the operations used to turn them
into per-channel intensity planes.

The sensor delivers 10-bit samples, either already widened to 16-bit by the
driver or packed in the RAW10 layout used for on-disk dumps.  Both end up as a
Raw, a row-major strided []uint16.
*/
package frame

import (
	"fmt"
	"math"
)

const (
	// MaxValue is the largest sample a 10-bit sensor can produce
	MaxValue = 1023

	// pixelsPerGroup is the number of pixels held in one RAW10 group
	pixelsPerGroup = 4

	// bytesPerGroup is the number of bytes in one RAW10 group
	bytesPerGroup = 5
)

// FormatError is generated when a buffer does not match the layout it claims
// to have
type FormatError struct {
	// Reason describes the inconsistency
	Reason string
}

// Error satisfies the error interface
func (e *FormatError) Error() string {
	return "frame format: " + e.Reason
}

func formatErrorf(format string, args ...interface{}) error {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}

// Raw is a frame of sensor samples.  The data is row major and strided by
// Width.  A Raw should be treated as immutable once returned from a camera.
type Raw struct {
	Width  int
	Height int
	Pix    []uint16
}

// At returns the sample at row y, column x
func (r Raw) At(y, x int) uint16 {
	return r.Pix[y*r.Width+x]
}

// Mean returns the mean value of all samples in the frame
func (r Raw) Mean() float64 {
	if len(r.Pix) == 0 {
		return 0
	}
	var sum float64
	for _, v := range r.Pix {
		sum += float64(v)
	}
	return sum / float64(len(r.Pix))
}

// FromU16 wraps a driver-native slice of samples as a Raw.  The slice is not
// copied.
func FromU16(pix []uint16, width, height int) (Raw, error) {
	if width <= 0 || height <= 0 {
		return Raw{}, formatErrorf("invalid dimensions %dx%d", width, height)
	}
	if len(pix) != width*height {
		return Raw{}, formatErrorf("have %d samples, expected %dx%d=%d", len(pix), width, height, width*height)
	}
	return Raw{Width: width, Height: height, Pix: pix}, nil
}

// PackedSize returns the number of bytes a RAW10 frame of the given size occupies
func PackedSize(width, height int) int {
	return width * height * 10 / 8
}

// Decode10 unpacks a RAW10 buffer.  Every group of four pixels is stored in
// five bytes: the high 8 bits of each pixel, then one byte holding the two low
// bits of all four, pixel 0 in the most significant pair.
func Decode10(buf []byte, width, height int) (Raw, error) {
	if width <= 0 || height <= 0 {
		return Raw{}, formatErrorf("invalid dimensions %dx%d", width, height)
	}
	npix := width * height
	if npix%pixelsPerGroup != 0 {
		return Raw{}, formatErrorf("%d pixels is not a whole number of 4-pixel groups", npix)
	}
	if len(buf)%bytesPerGroup != 0 {
		return Raw{}, formatErrorf("buffer length %d is not a multiple of %d", len(buf), bytesPerGroup)
	}
	if want := PackedSize(width, height); len(buf) != want {
		return Raw{}, formatErrorf("buffer length %d, expected %d for %dx%d", len(buf), want, width, height)
	}
	pix := make([]uint16, npix)
	p := 0
	for g := 0; g < len(buf); g += bytesPerGroup {
		low := buf[g+4]
		for i := 0; i < pixelsPerGroup; i++ {
			shift := uint(6 - 2*i)
			pix[p] = uint16(buf[g+i])<<2 | uint16(low>>shift)&0x03
			p++
		}
	}
	return Raw{Width: width, Height: height, Pix: pix}, nil
}

// Pack10 is the inverse of Decode10
func Pack10(r Raw) ([]byte, error) {
	if len(r.Pix)%pixelsPerGroup != 0 {
		return nil, formatErrorf("%d pixels is not a whole number of 4-pixel groups", len(r.Pix))
	}
	out := make([]byte, len(r.Pix)/pixelsPerGroup*bytesPerGroup)
	o := 0
	for p := 0; p < len(r.Pix); p += pixelsPerGroup {
		var low byte
		for i := 0; i < pixelsPerGroup; i++ {
			v := r.Pix[p+i]
			if v > MaxValue {
				return nil, formatErrorf("sample %d at index %d exceeds 10 bits", v, p+i)
			}
			out[o+i] = byte(v >> 2)
			low |= byte(v&0x03) << uint(6-2*i)
		}
		out[o+4] = low
		o += bytesPerGroup
	}
	return out, nil
}

// Float is a frame of floating point samples, produced by dark subtraction
// and averaging
type Float struct {
	Width  int
	Height int
	Pix    []float64
}

// SubtractDark returns max(r - dark, 0) elementwise
func SubtractDark(r Raw, dark float64) Float {
	out := make([]float64, len(r.Pix))
	for i, v := range r.Pix {
		out[i] = math.Max(float64(v)-dark, 0)
	}
	return Float{Width: r.Width, Height: r.Height, Pix: out}
}

// Average returns the elementwise mean of frames, which must all share a size
func Average(frames []Float) (Float, error) {
	if len(frames) == 0 {
		return Float{}, formatErrorf("no frames to average")
	}
	w, h := frames[0].Width, frames[0].Height
	sum := make([]float64, w*h)
	for idx, f := range frames {
		if f.Width != w || f.Height != h || len(f.Pix) != len(sum) {
			return Float{}, formatErrorf("frame %d is %dx%d, expected %dx%d", idx, f.Width, f.Height, w, h)
		}
		for i, v := range f.Pix {
			sum[i] += v
		}
	}
	n := float64(len(frames))
	for i := range sum {
		sum[i] /= n
	}
	return Float{Width: w, Height: h, Pix: sum}, nil
}

// Raw rounds the frame back to 16-bit samples, clamping to [0, 65535]
func (f Float) Raw() Raw {
	pix := make([]uint16, len(f.Pix))
	for i, v := range f.Pix {
		v = math.Round(v)
		if v < 0 {
			v = 0
		} else if v > math.MaxUint16 {
			v = math.MaxUint16
		}
		pix[i] = uint16(v)
	}
	return Raw{Width: f.Width, Height: f.Height, Pix: pix}
}
