package sweep_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optlab/bsdfbench/acquire"
	"github.com/optlab/bsdfbench/camera"
	"github.com/optlab/bsdfbench/dark"
	"github.com/optlab/bsdfbench/exposure"
	"github.com/optlab/bsdfbench/frame"
	"github.com/optlab/bsdfbench/motion"
	"github.com/optlab/bsdfbench/noise"
	"github.com/optlab/bsdfbench/roi"
	"github.com/optlab/bsdfbench/sweep"
)

func TestStepCount(t *testing.T) {
	cases := []struct {
		typ  sweep.MeasurementType
		step float64
		want int
	}{
		{sweep.BRDF, 10, 17},
		{sweep.BRDF, 2, 84},
		{sweep.BTDF, 5, 34},
		{sweep.Both, 100, 4},
		{sweep.BRDF, 0, 0},
	}
	for _, c := range cases {
		if got := sweep.StepCount(c.typ, c.step); got != c.want {
			t.Errorf("StepCount(%s, %v) = %d, expected %d", c.typ, c.step, got, c.want)
		}
	}
}

func TestNewGrid(t *testing.T) {
	g, err := sweep.NewGrid(sweep.BTDF, sweep.Steps{100, 50, 100, 100})
	require.NoError(t, err)
	want := sweep.Grid{
		LightRadial:       []float64{188, 288},
		LightAzimuthal:    []float64{188, 238, 288, 338},
		DetectorAzimuthal: []float64{188, 288},
		DetectorRadial:    []float64{188, 288},
	}
	if diff := cmp.Diff(want, g); diff != "" {
		t.Errorf("grid mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 32, g.Positions())

	_, err = sweep.NewGrid(sweep.BRDF, sweep.Steps{10, 10, 0, 10})
	assert.Error(t, err)
}

func TestParseMeasurementType(t *testing.T) {
	for _, s := range []string{"brdf", "BTDF", " both "} {
		m, err := sweep.ParseMeasurementType(s)
		require.NoError(t, err)
		assert.Equal(t, m.String(), fmt.Sprint(m))
	}
	_, err := sweep.ParseMeasurementType("BSSRDF")
	assert.Error(t, err)
}

func TestOccluded(t *testing.T) {
	assert.True(t, sweep.Occluded(sweep.NewKey(10, 10, 11, 11), 2))
	assert.False(t, sweep.Occluded(sweep.NewKey(10, 10, 50, 11), 2))
	assert.False(t, sweep.Occluded(sweep.NewKey(10, 10, 11, 30), 2))
	assert.False(t, sweep.Occluded(sweep.NewKey(10, 10, 12, 12), 2), "tolerance is exclusive")
}

func TestKeysAreStable(t *testing.T) {
	assert.Equal(t, sweep.NewKey(8, 8, 8, 8), sweep.NewKey(0.1*80, 8, 8, 8))
}

// rig is a simulated bench: a flat-field sensor, a mock stage, and a dark level
type rig struct {
	cam   *camera.Sim
	stage *motion.Mock
	ctx   *sweep.Context
}

func newRig(t *testing.T, g sweep.Grid) *rig {
	cfg := camera.DefaultSimConfig()
	cfg.SpotSigma = 1e6
	cfg.Gains = [3]float64{1, 1, 1}
	cam := camera.NewSim(cfg)
	require.NoError(t, cam.Initialize())

	exp := exposure.Default()
	exp.Settle = 0
	var d dark.Value
	d.Set(0)
	stage := motion.NewMock()
	return &rig{
		cam:   cam,
		stage: stage,
		ctx: &sweep.Context{
			Type:   sweep.BRDF,
			Camera: cam,
			Stage:  stage,
			Grid:   g,
			Dark:   &d,
			Accumulator: &acquire.Accumulator{
				Exposure: exp,
				Noise:    noise.Default(),
				ROI:      roi.NewEngine(10),
				Mosaic:   frame.BGGR,
				Required: 2,
			},
			OcclusionTolerance: sweep.DefaultOcclusionTolerance,
		},
	}
}

func TestSweepOverSpotRecordsEveryOpenPosition(t *testing.T) {
	g, err := sweep.NewGrid(sweep.BRDF, sweep.Steps{100, 100, 50, 100})
	require.NoError(t, err)
	r := newRig(t, g)
	cam := camera.NewSim(camera.DefaultSimConfig())
	require.NoError(t, cam.Initialize())
	r.ctx.Camera = cam

	run := sweep.NewRunner()
	sum, err := run.Run(context.Background(), r.ctx)
	require.NoError(t, err)
	assert.Equal(t, sweep.Completed, sum.State)
	occluded := 0
	for _, lr := range g.LightRadial {
		for _, la := range g.LightAzimuthal {
			for _, da := range g.DetectorAzimuthal {
				for _, dr := range g.DetectorRadial {
					if sweep.Occluded(sweep.NewKey(lr, la, da, dr), sweep.DefaultOcclusionTolerance) {
						occluded++
					}
				}
			}
		}
	}
	assert.Equal(t, occluded, sum.Skipped)
	assert.Equal(t, g.Positions()-occluded, sum.Recorded)
}

func TestOccludedPositionIsNeverMeasured(t *testing.T) {
	r := newRig(t, sweep.Grid{
		LightRadial:       []float64{10},
		LightAzimuthal:    []float64{10},
		DetectorAzimuthal: []float64{11, 50},
		DetectorRadial:    []float64{11},
	})
	run := sweep.NewRunner()
	sum, err := run.Run(context.Background(), r.ctx)
	require.NoError(t, err)
	assert.Equal(t, sweep.Completed, sum.State)
	assert.Equal(t, 1, sum.Recorded)
	assert.Equal(t, 1, sum.Skipped)

	res := run.Results()
	_, ok := res.Means[sweep.NewKey(10, 10, 11, 11)]
	assert.False(t, ok)
	_, ok = res.Means[sweep.NewKey(10, 10, 50, 11)]
	assert.True(t, ok)

	want := []string{
		"LIGHT_RAD:10",
		"LIGHT_AZ:10",
		"DET_AZ:11",
		"DET_AZ:50",
		"DET_RAD:11",
		"DET_AZ:OFFSET",
		"DET_RAD:OFFSET",
	}
	if diff := cmp.Diff(want, r.stage.Commands()); diff != "" {
		t.Errorf("command sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestResultsFollowGridOrder(t *testing.T) {
	r := newRig(t, sweep.Grid{
		LightRadial:       []float64{8},
		LightAzimuthal:    []float64{8, 108},
		DetectorAzimuthal: []float64{58},
		DetectorRadial:    []float64{58, 158},
	})
	run := sweep.NewRunner()
	_, err := run.Run(context.Background(), r.ctx)
	require.NoError(t, err)
	res := run.Results()
	want := []sweep.Key{
		sweep.NewKey(8, 8, 58, 58),
		sweep.NewKey(8, 8, 58, 158),
		sweep.NewKey(8, 108, 58, 58),
		sweep.NewKey(8, 108, 58, 158),
	}
	if diff := cmp.Diff(want, res.Order); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, res.Means, 4)
	assert.Len(t, res.Errors, 4)
	for _, k := range res.Order {
		assert.Greater(t, res.Means[k].G, 0.)
	}
	st := run.Status()
	assert.Equal(t, sweep.Completed, st.State)
	assert.Equal(t, 4, st.Position)
	assert.Equal(t, 4, st.Total)
}

func TestStopKeepsEarlierResults(t *testing.T) {
	r := newRig(t, sweep.Grid{
		LightRadial:       []float64{10},
		LightAzimuthal:    []float64{10},
		DetectorAzimuthal: []float64{50, 60, 70},
		DetectorRadial:    []float64{11},
	})
	run := sweep.NewRunner()
	r.stage.OnMove = func(a motion.Axis, pos float64) {
		if a == motion.DetectorAzimuthal && pos == 60 {
			run.Stop()
		}
	}
	sum, err := run.Run(context.Background(), r.ctx)
	require.NoError(t, err)
	assert.Equal(t, sweep.Stopped, sum.State)
	assert.Equal(t, sweep.Stopped, run.Status().State)

	res := run.Results()
	require.Equal(t, 1, res.Len())
	assert.Equal(t, sweep.NewKey(10, 10, 50, 11), res.Order[0])

	cmds := r.stage.Commands()
	assert.Equal(t, "DET_AZ:60", cmds[len(cmds)-1], "no motion after the stop request")
}

func TestCancelledContextStops(t *testing.T) {
	r := newRig(t, sweep.Grid{
		LightRadial:       []float64{10},
		LightAzimuthal:    []float64{10},
		DetectorAzimuthal: []float64{50, 60},
		DetectorRadial:    []float64{11},
	})
	ctx, cancel := context.WithCancel(context.Background())
	r.stage.OnMove = func(a motion.Axis, pos float64) {
		if a == motion.DetectorAzimuthal && pos == 60 {
			cancel()
		}
	}
	run := sweep.NewRunner()
	sum, err := run.Run(ctx, r.ctx)
	require.NoError(t, err)
	assert.Equal(t, sweep.Stopped, sum.State)
	assert.Equal(t, 1, run.Results().Len())
}

func TestPreconditionsAbortBeforeMotion(t *testing.T) {
	grid := sweep.Grid{
		LightRadial:       []float64{10},
		LightAzimuthal:    []float64{10},
		DetectorAzimuthal: []float64{50},
		DetectorRadial:    []float64{11},
	}
	cases := []struct {
		name   string
		mutate func(*rig)
		want   error
	}{
		{"camera", func(r *rig) { require.NoError(t, r.cam.Finalize()) }, sweep.ErrCameraNotReady},
		{"dark", func(r *rig) { r.ctx.Dark.Clear() }, sweep.ErrDarkUnset},
		{"grid", func(r *rig) { r.ctx.Grid.DetectorRadial = nil }, sweep.ErrEmptyGrid},
		{"stage", func(r *rig) { r.ctx.Stage = nil }, sweep.ErrNoStage},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := newRig(t, grid)
			c.mutate(r)
			run := sweep.NewRunner()
			_, err := run.Run(context.Background(), r.ctx)
			var perr *sweep.PreconditionError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.True(t, errors.Is(err, c.want))
			assert.Empty(t, r.stage.Commands())
			assert.Equal(t, 0, r.cam.Captures())
			assert.Equal(t, sweep.Failed, run.Status().State)
		})
	}
}

func TestMotorFailureSkipsSubtree(t *testing.T) {
	r := newRig(t, sweep.Grid{
		LightRadial:       []float64{10},
		LightAzimuthal:    []float64{10},
		DetectorAzimuthal: []float64{50, 60},
		DetectorRadial:    []float64{11, 31},
	})
	r.stage.Fail = func(cmd string) error {
		if cmd == "DET_AZ:50" {
			return errors.New("stall")
		}
		return nil
	}
	run := sweep.NewRunner()
	sum, err := run.Run(context.Background(), r.ctx)
	require.NoError(t, err)
	assert.Equal(t, sweep.Completed, sum.State)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, 2, sum.Recorded)
	res := run.Results()
	_, ok := res.Means[sweep.NewKey(10, 10, 60, 31)]
	assert.True(t, ok)
	assert.Contains(t, run.Status().LastError, "stall")
}

func TestTooManyFailuresFails(t *testing.T) {
	r := newRig(t, sweep.Grid{
		LightRadial:       []float64{10},
		LightAzimuthal:    []float64{10},
		DetectorAzimuthal: []float64{50},
		DetectorRadial:    []float64{11, 21, 31, 41, 51},
	})
	r.ctx.MaxConsecutiveFailures = 2
	r.stage.Fail = func(cmd string) error {
		if cmd[:4] == "DET_" && cmd != "DET_AZ:50" {
			return errors.New("no ack")
		}
		return nil
	}
	run := sweep.NewRunner()
	sum, err := run.Run(context.Background(), r.ctx)
	assert.True(t, errors.Is(err, sweep.ErrTooManyFailures), "got %v", err)
	assert.Equal(t, sweep.Failed, sum.State)
	assert.Equal(t, 3, sum.Skipped)
	assert.Equal(t, 0, r.cam.Captures())
}

type recorder struct {
	mu       sync.Mutex
	started  int
	recorded []sweep.Key
	skipped  []error
	finished []sweep.Summary
}

func (r *recorder) SweepStarted(sweep.RunInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recorder) PositionRecorded(k sweep.Key, _ *acquire.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, k)
}

func (r *recorder) PositionSkipped(_ sweep.Key, reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped = append(r.skipped, reason)
}

func (r *recorder) SweepFinished(s sweep.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, s)
}

func TestObserversSeeEveryPosition(t *testing.T) {
	r := newRig(t, sweep.Grid{
		LightRadial:       []float64{10},
		LightAzimuthal:    []float64{10},
		DetectorAzimuthal: []float64{11, 50},
		DetectorRadial:    []float64{11},
	})
	a, b := &recorder{}, &recorder{}
	run := sweep.NewRunner(a, b)
	_, err := run.Run(context.Background(), r.ctx)
	require.NoError(t, err)
	for _, obs := range []*recorder{a, b} {
		assert.Equal(t, 1, obs.started)
		assert.Equal(t, []sweep.Key{sweep.NewKey(10, 10, 50, 11)}, obs.recorded)
		require.Len(t, obs.skipped, 1)
		assert.True(t, errors.Is(obs.skipped[0], sweep.ErrOccluded))
		require.Len(t, obs.finished, 1)
		assert.NotEmpty(t, obs.finished[0].ID)
	}
}

func TestStartIsExclusive(t *testing.T) {
	r := newRig(t, sweep.Grid{
		LightRadial:       []float64{10},
		LightAzimuthal:    []float64{10},
		DetectorAzimuthal: []float64{50},
		DetectorRadial:    []float64{11},
	})
	entered := make(chan struct{})
	release := make(chan struct{})
	r.stage.OnMove = func(a motion.Axis, pos float64) {
		if a == motion.LightRadial {
			close(entered)
			<-release
		}
	}
	run := sweep.NewRunner()
	require.NoError(t, run.Start(context.Background(), r.ctx))
	<-entered
	assert.True(t, run.Running())
	_, err := run.Run(context.Background(), r.ctx)
	assert.Equal(t, sweep.ErrAlreadyRunning, err)
	assert.Equal(t, sweep.ErrAlreadyRunning, run.Start(context.Background(), r.ctx))
	close(release)

	deadline := time.Now().Add(10 * time.Second)
	for run.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, sweep.Completed, run.Status().State)
}

func TestStopRightAfterStartHalts(t *testing.T) {
	g, err := sweep.NewGrid(sweep.BRDF, sweep.Uniform(50))
	require.NoError(t, err)
	r := newRig(t, g)
	run := sweep.NewRunner()
	require.NoError(t, run.Start(context.Background(), r.ctx))
	run.Stop()

	deadline := time.Now().Add(10 * time.Second)
	for run.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.False(t, run.Running())
	st := run.Status()
	assert.Equal(t, sweep.Stopped, st.State)
	assert.Less(t, st.Recorded+st.Skipped, st.Total)
}

func TestStaleStopDoesNotHaltNextRun(t *testing.T) {
	r := newRig(t, sweep.Grid{
		LightRadial:       []float64{10},
		LightAzimuthal:    []float64{10},
		DetectorAzimuthal: []float64{50},
		DetectorRadial:    []float64{11},
	})
	run := sweep.NewRunner()
	run.Stop()
	sum, err := run.Run(context.Background(), r.ctx)
	require.NoError(t, err)
	assert.Equal(t, sweep.Completed, sum.State)
	assert.Equal(t, 1, sum.Recorded)
}

func TestResultsCopyIsIndependent(t *testing.T) {
	res := sweep.NewResults()
	k := sweep.NewKey(8, 8, 50, 50)
	res.Record(k, sweep.RGB{1, 2, 3}, sweep.RGB{0.1, 0.2, 0.3})
	res.Record(sweep.NewKey(8, 8, 60, 50), sweep.RGB{1, 2, 3}, sweep.RGB{0.3, 0.4, 0.5})
	cp := res.Copy()
	cp.Means[k] = sweep.RGB{}
	assert.Equal(t, sweep.RGB{1, 2, 3}, res.Means[k])
	e := res.MeanErrors()
	assert.InDelta(t, 0.2, e.R, 1e-12)
	assert.InDelta(t, 0.3, e.G, 1e-12)
	assert.InDelta(t, 0.4, e.B, 1e-12)
}
