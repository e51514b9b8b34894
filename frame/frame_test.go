package frame_test

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/optlab/bsdfbench/frame"
)

func ExampleDecode10() {
	// four pixels: 0x3FF, 0x000, 0x201, 0x0AA
	buf := []byte{0xFF, 0x00, 0x80, 0x2A, 0xC6}
	r, err := frame.Decode10(buf, 4, 1)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(r.Pix)
	// Output: [1023 0 513 170]
}

func TestRaw10RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, dims := range [][2]int{{4, 1}, {8, 2}, {16, 6}, {12, 12}} {
		w, h := dims[0], dims[1]
		pix := make([]uint16, w*h)
		for i := range pix {
			pix[i] = uint16(rng.Intn(frame.MaxValue + 1))
		}
		packed, err := frame.Pack10(frame.Raw{Width: w, Height: h, Pix: pix})
		if err != nil {
			t.Fatalf("pack %dx%d: %v", w, h, err)
		}
		if len(packed) != frame.PackedSize(w, h) {
			t.Errorf("packed length %d, expected %d", len(packed), frame.PackedSize(w, h))
		}
		r, err := frame.Decode10(packed, w, h)
		if err != nil {
			t.Fatalf("decode %dx%d: %v", w, h, err)
		}
		if diff := cmp.Diff(pix, r.Pix); diff != "" {
			t.Errorf("round trip mismatch for %dx%d (-want +got):\n%s", w, h, diff)
		}
		repacked, err := frame.Pack10(r)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(packed, repacked); diff != "" {
			t.Errorf("repack mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDecode10RejectsBadLengths(t *testing.T) {
	cases := []struct {
		name   string
		buflen int
		w, h   int
	}{
		{"not multiple of 5", 9, 4, 2},
		{"wrong total", 15, 4, 2},
		{"pixels not grouped", 5, 3, 1},
		{"zero dims", 0, 0, 0},
	}
	for _, c := range cases {
		_, err := frame.Decode10(make([]byte, c.buflen), c.w, c.h)
		var ferr *frame.FormatError
		if !errors.As(err, &ferr) {
			t.Errorf("%s: expected FormatError, got %v", c.name, err)
		}
	}
}

func TestPack10RejectsOverflow(t *testing.T) {
	_, err := frame.Pack10(frame.Raw{Width: 4, Height: 1, Pix: []uint16{0, 1024, 0, 0}})
	var ferr *frame.FormatError
	if !errors.As(err, &ferr) {
		t.Errorf("expected FormatError for 11-bit sample, got %v", err)
	}
}

func TestFromU16LengthMismatch(t *testing.T) {
	if _, err := frame.FromU16(make([]uint16, 7), 4, 2); err == nil {
		t.Error("expected error for 7 samples in a 4x2 frame")
	}
	r, err := frame.FromU16(make([]uint16, 8), 4, 2)
	if err != nil || r.Width != 4 || r.Height != 2 {
		t.Errorf("unexpected result %+v, %v", r, err)
	}
}

func TestMosaicIndicesDisjointAndCovering(t *testing.T) {
	for _, m := range []frame.Mosaic{frame.BGGR, frame.RGGB} {
		w, h := 8, 6
		idx := frame.MosaicIndices(w, h, m)
		seen := make(map[int]int)
		for _, set := range [][]int{idx.R, idx.G1, idx.G2, idx.B} {
			for _, i := range set {
				seen[i]++
			}
		}
		if len(seen) != w*h {
			t.Errorf("%s: covered %d pixels, expected %d", m, len(seen), w*h)
		}
		for i, n := range seen {
			if n != 1 {
				t.Errorf("%s: pixel %d sampled %d times", m, i, n)
			}
		}
	}
}

func TestSplitBGGR(t *testing.T) {
	// one 2x2 tile per plane pixel: B=10 G1=20 G2=40 R=80
	w, h := 4, 4
	pix := make([]uint16, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			switch {
			case y%2 == 0 && x%2 == 0:
				pix[y*w+x] = 10
			case y%2 == 0:
				pix[y*w+x] = 20
			case x%2 == 0:
				pix[y*w+x] = 40
			default:
				pix[y*w+x] = 80
			}
		}
	}
	planes, err := frame.Split(frame.Raw{Width: w, Height: h, Pix: pix}, frame.BGGR)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{80, 80, 80, 80}
	if diff := cmp.Diff(want, planes.R.Pix); diff != "" {
		t.Errorf("R (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{30, 30, 30, 30}, planes.G.Pix); diff != "" {
		t.Errorf("G (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{10, 10, 10, 10}, planes.B.Pix); diff != "" {
		t.Errorf("B (-want +got):\n%s", diff)
	}
	if planes.R.Width != 2 || planes.R.Height != 2 {
		t.Errorf("plane is %dx%d, expected 2x2", planes.R.Width, planes.R.Height)
	}
}

func TestSplitRejectsOddDimensions(t *testing.T) {
	if _, err := frame.Split(frame.Raw{Width: 3, Height: 2, Pix: make([]uint16, 6)}, frame.BGGR); err == nil {
		t.Error("expected error splitting an odd-width frame")
	}
}

func TestSubtractDarkClampsAtZero(t *testing.T) {
	r := frame.Raw{Width: 2, Height: 2, Pix: []uint16{0, 5, 64, 1023}}
	f := frame.SubtractDark(r, 10)
	want := []float64{0, 0, 54, 1013}
	if diff := cmp.Diff(want, f.Pix); diff != "" {
		t.Errorf("dark subtraction (-want +got):\n%s", diff)
	}
}

func TestAverage(t *testing.T) {
	a := frame.Float{Width: 2, Height: 1, Pix: []float64{1, 3}}
	b := frame.Float{Width: 2, Height: 1, Pix: []float64{3, 5}}
	avg, err := frame.Average([]frame.Float{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{2, 4}, avg.Pix); diff != "" {
		t.Errorf("average (-want +got):\n%s", diff)
	}
	if _, err := frame.Average(nil); err == nil {
		t.Error("expected error averaging zero frames")
	}
	c := frame.Float{Width: 1, Height: 2, Pix: []float64{1, 1}}
	if _, err := frame.Average([]frame.Float{a, c}); err == nil {
		t.Error("expected error averaging mismatched frames")
	}
}

func TestParseMosaic(t *testing.T) {
	m, err := frame.ParseMosaic("SRGGB10")
	if err != nil || m != frame.RGGB {
		t.Errorf("got %v, %v", m, err)
	}
	if _, err := frame.ParseMosaic("GRBG"); err == nil {
		t.Error("expected error for unsupported mosaic")
	}
}
