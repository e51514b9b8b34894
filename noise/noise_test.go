package noise_test

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optlab/bsdfbench/camera"
	"github.com/optlab/bsdfbench/frame"
	"github.com/optlab/bsdfbench/noise"
)

func randomFrame(w, h int, seed int64) frame.Raw {
	rng := rand.New(rand.NewSource(seed))
	pix := make([]uint16, w*h)
	for i := range pix {
		pix[i] = uint16(rng.Intn(frame.MaxValue + 1))
	}
	return frame.Raw{Width: w, Height: h, Pix: pix}
}

func constFrame(w, h int, v uint16) frame.Raw {
	pix := make([]uint16, w*h)
	for i := range pix {
		pix[i] = v
	}
	return frame.Raw{Width: w, Height: h, Pix: pix}
}

func TestNoiseFrameIsFlaggedByBothChecks(t *testing.T) {
	v := noise.Default().Assess(randomFrame(256, 256, 7))
	assert.True(t, v.VarianceFlag, "variance %f", v.Variance)
	assert.True(t, v.EntropyFlag, "entropy %f", v.Entropy)
	assert.True(t, v.Static)
}

func TestConstantFrameIsNotFlagged(t *testing.T) {
	v := noise.Default().Assess(constFrame(128, 96, 600))
	assert.False(t, v.Static)
	assert.Equal(t, 0., v.Entropy)
	assert.InDelta(t, 0., v.Variance, 1e-9)
}

func TestAssessDoesNotMutateInput(t *testing.T) {
	r := randomFrame(64, 48, 3)
	before := append([]uint16(nil), r.Pix...)
	noise.Default().IsStatic(r)
	require.Equal(t, before, r.Pix)
}

func TestEntropyOfTwoLevelFrameIsOneBit(t *testing.T) {
	r := constFrame(8, 8, 0)
	for i := 0; i < len(r.Pix); i += 2 {
		r.Pix[i] = 1023
	}
	assert.InDelta(t, 1., noise.Entropy(r), 1e-12)
}

func TestEntropyIsBoundedByEightBits(t *testing.T) {
	e := noise.Entropy(randomFrame(128, 128, 11))
	assert.LessOrEqual(t, e, 8.)
	assert.Greater(t, e, noise.Default().EntropyThreshold)
}

func TestAdjacentLevelsShareABin(t *testing.T) {
	assert.Equal(t, 0., noise.Entropy(frame.Raw{Width: 2, Height: 1, Pix: []uint16{0, 4}}))
}

func TestCleanSpotIsNotFlagged(t *testing.T) {
	cam := camera.NewSim(camera.DefaultSimConfig())
	require.NoError(t, cam.Initialize())
	c := noise.Default()
	for _, ms := range []int{2, 5, 9, 12} {
		require.NoError(t, cam.SetExposureTime(time.Duration(ms)*time.Millisecond))
		r, err := cam.Capture(context.Background())
		require.NoError(t, err)
		v := c.Assess(r)
		assert.False(t, v.Static, "%d ms: %+v", ms, v)
	}

	cam.InjectStatic(1)
	r, err := cam.Capture(context.Background())
	require.NoError(t, err)
	assert.True(t, c.IsStatic(r), "injected static")
}

func TestThresholdsAreConfigurable(t *testing.T) {
	c := noise.Default()
	c.EntropyThreshold = 9
	c.VarianceThreshold = math.Inf(1)
	assert.False(t, c.IsStatic(randomFrame(64, 64, 5)))
}
