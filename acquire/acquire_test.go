package acquire_test

import (
	"context"
	"errors"
	"io/ioutil"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optlab/bsdfbench/acquire"
	"github.com/optlab/bsdfbench/camera"
	"github.com/optlab/bsdfbench/exposure"
	"github.com/optlab/bsdfbench/frame"
	"github.com/optlab/bsdfbench/imgrec"
	"github.com/optlab/bsdfbench/noise"
	"github.com/optlab/bsdfbench/roi"
)

// flatSim returns a simulated sensor seeing a uniform field, so every channel
// mean is set by its gain alone
func flatSim(t *testing.T, gains [3]float64) *camera.Sim {
	cfg := camera.DefaultSimConfig()
	cfg.SpotSigma = 1e6
	cfg.Gains = gains
	sim := camera.NewSim(cfg)
	require.NoError(t, sim.Initialize())
	return sim
}

func newAccumulator() *acquire.Accumulator {
	exp := exposure.Default()
	exp.Settle = 0
	return &acquire.Accumulator{
		Exposure: exp,
		Noise:    noise.Default(),
		ROI:      roi.NewEngine(10),
		Mosaic:   frame.BGGR,
		Required: 4,
	}
}

var tag = acquire.Tag{LightRadial: 10, LightAzimuthal: 20, DetectorAzimuthal: 50, DetectorRadial: 30}

func TestAccumulateAcceptsCleanSpot(t *testing.T) {
	sim := camera.NewSim(camera.DefaultSimConfig())
	require.NoError(t, sim.Initialize())
	a := newAccumulator()
	s, err := a.Accumulate(context.Background(), sim, 0, tag)
	require.NoError(t, err)
	assert.Equal(t, a.Required, s.Accepted)
	assert.Equal(t, a.Required, s.Attempts, "no clean frame is rejected")
	assert.False(t, s.Partial)
	assert.Greater(t, s.G.Mean, s.B.Mean)
}

func TestAccumulateAveragesAcceptedFrames(t *testing.T) {
	sim := flatSim(t, [3]float64{1, 1, 1})
	a := newAccumulator()
	s, err := a.Accumulate(context.Background(), sim, 100, tag)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Accepted)
	assert.Equal(t, 4, s.Attempts)
	assert.False(t, s.Partial)
	for i, m := range s.Means() {
		assert.True(t, m > 700 && m < 830, "channel %d mean %f", i, m)
	}
	assert.InDelta(t, s.R.Mean, s.G.Mean, 1)
}

// pretune converges the exposure so that Accumulate takes exactly one probe,
// and returns the number of the first accumulation capture
func pretune(t *testing.T, a *acquire.Accumulator, sim *camera.Sim) int {
	_, err := a.Exposure.Tune(context.Background(), sim)
	require.NoError(t, err)
	return sim.Captures() + 2
}

func span(first, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = first + i
	}
	return out
}

func TestStaticFramesAreRejectedAndReplaced(t *testing.T) {
	sim := flatSim(t, [3]float64{1, 1, 1})
	a := newAccumulator()
	ctx := context.Background()
	sim.InjectAt(camera.FaultStatic, span(pretune(t, a, sim), 3)...)
	s, err := a.Accumulate(ctx, sim, 0, tag)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Accepted)
	assert.Equal(t, 7, s.Attempts)
}

func TestPartialWhenBudgetRunsOut(t *testing.T) {
	sim := flatSim(t, [3]float64{1, 1, 1})
	a := newAccumulator()
	ctx := context.Background()
	sim.InjectAt(camera.FaultStatic, span(pretune(t, a, sim), 10)...)
	s, err := a.Accumulate(ctx, sim, 0, tag)
	require.NoError(t, err)
	assert.True(t, s.Partial)
	assert.Equal(t, 2, s.Accepted)
	assert.Equal(t, 12, s.Attempts)
}

func TestNoFramesIsSkip(t *testing.T) {
	sim := flatSim(t, [3]float64{1, 1, 1})
	a := newAccumulator()
	ctx := context.Background()
	sim.InjectAt(camera.FaultFail, span(pretune(t, a, sim), 12)...)
	_, err := a.Accumulate(ctx, sim, 0, tag)
	assert.True(t, errors.Is(err, acquire.ErrNoFrames), "got %v", err)
}

func TestNotTunedIsSkip(t *testing.T) {
	sim := flatSim(t, [3]float64{0, 0, 0})
	a := newAccumulator()
	_, err := a.Accumulate(context.Background(), sim, 0, tag)
	assert.True(t, errors.Is(err, acquire.ErrNotTuned), "got %v", err)
	assert.Equal(t, 10, sim.Captures(), "only exposure probes are taken")
}

func TestDarkChannelIsNoSignal(t *testing.T) {
	sim := flatSim(t, [3]float64{0, 1, 1})
	a := newAccumulator()
	a.Noise.VarianceThreshold = math.Inf(1)
	s, err := a.Accumulate(context.Background(), sim, 0, tag)
	require.NoError(t, err)
	assert.Equal(t, [3]bool{true, false, false}, s.NoSignal)
	assert.Equal(t, 0., s.R.Mean)
	assert.Equal(t, 0., s.R.RelErr)
	assert.Greater(t, s.G.Mean, 0.)
}

func TestAveragedFrameIsArchived(t *testing.T) {
	dir, err := ioutil.TempDir("", "acquire")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	sim := flatSim(t, [3]float64{1, 1, 1})
	a := newAccumulator()
	a.Archive = imgrec.NewRecorder(dir, "pos")
	s, err := a.Accumulate(context.Background(), sim, 0, tag)
	require.NoError(t, err)
	require.NotEmpty(t, s.ArchivePath)
	_, err = os.Stat(s.ArchivePath)
	assert.NoError(t, err)
}
