package store_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optlab/bsdfbench/acquire"
	"github.com/optlab/bsdfbench/roi"
	"github.com/optlab/bsdfbench/store"
	"github.com/optlab/bsdfbench/sweep"
)

func TestHTTPJournal(t *testing.T) {
	j := openJournal(t)
	grid := sweep.Grid{
		LightRadial:       []float64{8},
		LightAzimuthal:    []float64{8},
		DetectorAzimuthal: []float64{58},
		DetectorRadial:    []float64{8, 58},
	}
	info := sweep.RunInfo{ID: "abc", Type: sweep.BRDF, Grid: grid, Positions: 2, Started: time.Now()}
	j.SweepStarted(info)
	j.PositionRecorded(sweep.NewKey(8, 8, 58, 8), &acquire.Sample{
		R: roi.Result{Mean: 1}, G: roi.Result{Mean: 2}, B: roi.Result{Mean: 3},
	})
	j.PositionSkipped(sweep.NewKey(8, 8, 58, 58), errors.New("no frames"))
	j.SweepFinished(sweep.Summary{RunInfo: info, State: sweep.Completed, Recorded: 1, Skipped: 1, Finished: time.Now()})

	r := chi.NewRouter()
	store.NewHTTPJournal(j).RT().Bind(r)
	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	w := get("/runs")
	require.Equal(t, http.StatusOK, w.Code)
	var runs []store.Run
	require.NoError(t, json.NewDecoder(w.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "abc", runs[0].ID)

	w = get("/runs/abc/skips")
	var skips []store.Skip
	require.NoError(t, json.NewDecoder(w.Body).Decode(&skips))
	require.Len(t, skips, 1)
	assert.Equal(t, "no frames", skips[0].Reason)

	w = get("/runs/abc/bsdf")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, strings.Count(w.Body.String(), "DataEnd"))

	w = get("/runs/abc/errors")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "light_az,light_rad,det_az,det_rad"))

	assert.Equal(t, http.StatusNotFound, get("/runs/nope").Code)
}
