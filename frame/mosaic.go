package frame

import "fmt"

// Mosaic is the color filter tiling of the sensor.  It is a fixed property
// of the sensor configuration and is never inferred from image content.
type Mosaic int

const (
	// BGGR has blue at (even row, even col) and red at (odd row, odd col)
	BGGR Mosaic = iota

	// RGGB has red at (even row, even col) and blue at (odd row, odd col)
	RGGB
)

// String satisfies fmt.Stringer
func (m Mosaic) String() string {
	switch m {
	case BGGR:
		return "BGGR"
	case RGGB:
		return "RGGB"
	default:
		return fmt.Sprintf("Mosaic(%d)", int(m))
	}
}

// ParseMosaic converts a name such as "BGGR" or "SBGGR10" into a Mosaic
func ParseMosaic(s string) (Mosaic, error) {
	switch s {
	case "BGGR", "bggr", "SBGGR10":
		return BGGR, nil
	case "RGGB", "rggb", "SRGGB10":
		return RGGB, nil
	}
	return BGGR, fmt.Errorf("unknown mosaic %q, must be BGGR or RGGB", s)
}

// offsets returns the (row, col) offsets within a 2x2 tile of the red,
// first green, second green, and blue sites
func (m Mosaic) offsets() (r, g1, g2, b [2]int) {
	if m == RGGB {
		return [2]int{0, 0}, [2]int{0, 1}, [2]int{1, 0}, [2]int{1, 1}
	}
	return [2]int{1, 1}, [2]int{0, 1}, [2]int{1, 0}, [2]int{0, 0}
}

// Plane is one color channel, at half the resolution of the source frame
type Plane struct {
	Width  int
	Height int
	Pix    []float64
}

// At returns the value at row y, column x
func (p Plane) At(y, x int) float64 {
	return p.Pix[y*p.Width+x]
}

// Mean returns the mean of the plane
func (p Plane) Mean() float64 {
	if len(p.Pix) == 0 {
		return 0
	}
	var sum float64
	for _, v := range p.Pix {
		sum += v
	}
	return sum / float64(len(p.Pix))
}

// Planes holds the three color planes of a frame
type Planes struct {
	R Plane
	G Plane
	B Plane
}

// Channels returns the planes in R, G, B order
func (p Planes) Channels() [3]Plane {
	return [3]Plane{p.R, p.G, p.B}
}

// Indices holds the flat pixel indices that feed each mosaic site
type Indices struct {
	R  []int
	G1 []int
	G2 []int
	B  []int
}

// MosaicIndices returns the flat indices of a width x height frame that are
// sampled for each color site
func MosaicIndices(width, height int, m Mosaic) Indices {
	ro, g1o, g2o, bo := m.offsets()
	n := (width / 2) * (height / 2)
	idx := Indices{
		R:  make([]int, 0, n),
		G1: make([]int, 0, n),
		G2: make([]int, 0, n),
		B:  make([]int, 0, n),
	}
	for y := 0; y+1 < height; y += 2 {
		for x := 0; x+1 < width; x += 2 {
			idx.R = append(idx.R, (y+ro[0])*width+x+ro[1])
			idx.G1 = append(idx.G1, (y+g1o[0])*width+x+g1o[1])
			idx.G2 = append(idx.G2, (y+g2o[0])*width+x+g2o[1])
			idx.B = append(idx.B, (y+bo[0])*width+x+bo[1])
		}
	}
	return idx
}

// Split sub-samples a raw frame into color planes
func Split(r Raw, m Mosaic) (Planes, error) {
	pix := make([]float64, len(r.Pix))
	for i, v := range r.Pix {
		pix[i] = float64(v)
	}
	return SplitFloat(Float{Width: r.Width, Height: r.Height, Pix: pix}, m)
}

// SplitFloat sub-samples a floating point frame into color planes.
// G is the mean of the two green sites of each tile.
func SplitFloat(f Float, m Mosaic) (Planes, error) {
	if f.Width%2 != 0 || f.Height%2 != 0 || f.Width == 0 || f.Height == 0 {
		return Planes{}, formatErrorf("cannot split %dx%d frame, dimensions must be even", f.Width, f.Height)
	}
	if len(f.Pix) != f.Width*f.Height {
		return Planes{}, formatErrorf("have %d samples, expected %d", len(f.Pix), f.Width*f.Height)
	}
	idx := MosaicIndices(f.Width, f.Height, m)
	w, h := f.Width/2, f.Height/2
	planes := Planes{
		R: Plane{Width: w, Height: h, Pix: make([]float64, len(idx.R))},
		G: Plane{Width: w, Height: h, Pix: make([]float64, len(idx.G1))},
		B: Plane{Width: w, Height: h, Pix: make([]float64, len(idx.B))},
	}
	for i := range idx.R {
		planes.R.Pix[i] = f.Pix[idx.R[i]]
		planes.G.Pix[i] = (f.Pix[idx.G1[i]] + f.Pix[idx.G2[i]]) / 2
		planes.B.Pix[i] = f.Pix[idx.B[i]]
	}
	return planes, nil
}
