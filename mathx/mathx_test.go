package mathx_test

import (
	"fmt"
	"testing"

	"github.com/optlab/bsdfbench/mathx"
)

func ExampleRound() {
	fmt.Println(mathx.Round(12.3456, 0.01))
	fmt.Println(mathx.Round(-2.5, 1))
	// Output:
	// 12.35
	// -3
}

func TestClamp(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{-1, 0},
		{0.5, 0.5},
		{2, 1},
	}
	for _, c := range cases {
		if got := mathx.Clamp(c.in, 0, 1); got != c.want {
			t.Errorf("Clamp(%v) = %v, expected %v", c.in, got, c.want)
		}
	}
}
