package store_test

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optlab/bsdfbench/acquire"
	"github.com/optlab/bsdfbench/roi"
	"github.com/optlab/bsdfbench/store"
	"github.com/optlab/bsdfbench/sweep"
)

func openJournal(t *testing.T) *store.Journal {
	dir, err := ioutil.TempDir("", "journal")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	j, err := store.Open(filepath.Join(dir, "bsdfbench.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalRoundTrip(t *testing.T) {
	j := openJournal(t)
	grid := sweep.Grid{
		LightRadial:       []float64{8},
		LightAzimuthal:    []float64{8},
		DetectorAzimuthal: []float64{8, 58},
		DetectorRadial:    []float64{58},
	}
	started := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	info := sweep.RunInfo{ID: "run-1", Type: sweep.BTDF, Grid: grid, Positions: 2, Dark: 12.5, Started: started}
	j.SweepStarted(info)

	k1, k2 := sweep.NewKey(8, 8, 8, 58), sweep.NewKey(8, 8, 58, 58)
	j.PositionRecorded(k1, &acquire.Sample{
		R:        roi.Result{Mean: 1, RelErr: 0.01},
		G:        roi.Result{Mean: 2, RelErr: 0.02},
		B:        roi.Result{Mean: 3, RelErr: 0.03},
		Accepted: 4,
		Exposure: 5 * time.Millisecond,
	})
	j.PositionSkipped(k2, errors.New("exposure did not converge"))
	j.SweepFinished(sweep.Summary{RunInfo: info, State: sweep.Completed, Recorded: 1, Skipped: 1, Finished: started.Add(time.Minute)})

	runs, err := j.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	r := runs[0]
	assert.Equal(t, "run-1", r.ID)
	assert.Equal(t, sweep.BTDF, r.Type)
	assert.Equal(t, "completed", r.State)
	assert.True(t, started.Equal(r.Started))
	assert.True(t, started.Add(time.Minute).Equal(r.Finished))
	if diff := cmp.Diff(grid, r.Grid); diff != "" {
		t.Errorf("grid mismatch (-want +got):\n%s", diff)
	}

	res, err := j.Load("run-1")
	require.NoError(t, err)
	assert.Equal(t, []sweep.Key{k1}, res.Order)
	assert.Equal(t, sweep.RGB{R: 1, G: 2, B: 3}, res.Means[k1])
	assert.Equal(t, sweep.RGB{R: 0.01, G: 0.02, B: 0.03}, res.Errors[k1])

	skips, err := j.Skips("run-1")
	require.NoError(t, err)
	require.Len(t, skips, 1)
	assert.Equal(t, k2, skips[0].Key)
	assert.Equal(t, "exposure did not converge", skips[0].Reason)
}

func TestGetRunMissing(t *testing.T) {
	j := openJournal(t)
	_, err := j.GetRun("nope")
	assert.Error(t, err)
}
