// Package sweep provides an HTTP interface to start, stop, and follow sweeps
// and to download their results
package sweep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"go/types"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/optlab/bsdfbench/bsdf"
	"github.com/optlab/bsdfbench/dark"
	"github.com/optlab/bsdfbench/generichttp"
	"github.com/optlab/bsdfbench/sweep"
)

// StartRequest is the body of POST /start.  Step applies to every axis for
// which Steps holds zero.
type StartRequest struct {
	Type  string      `json:"type"`
	Step  float64     `json:"step"`
	Steps sweep.Steps `json:"steps"`
}

// steps resolves the per-axis steps of the request
func (s StartRequest) steps() sweep.Steps {
	out := s.Steps
	for _, p := range []*float64{&out.LightRadial, &out.LightAzimuthal, &out.DetectorAzimuthal, &out.DetectorRadial} {
		if *p == 0 {
			*p = s.Step
		}
	}
	return out
}

// ResultEntry is one position in the JSON form of results
type ResultEntry struct {
	Key    sweep.Key `json:"key"`
	Mean   sweep.RGB `json:"mean"`
	RelErr sweep.RGB `json:"relErr"`
}

// HTTPSweep wraps a sweep.Runner in an HTTP interface
type HTTPSweep struct {
	Runner *sweep.Runner

	// Template holds everything about a sweep except its type and grid
	Template sweep.Context

	// DarkFrames is the number of frames averaged by POST /dark/capture
	DarkFrames int

	// OutDir is where POST /export writes files
	OutDir string

	Header bsdf.Header

	mu   sync.Mutex
	last *sweep.Context

	RouteTable generichttp.RouteTable
}

// NewHTTPSweep returns a new HTTP wrapper around a runner
func NewHTTPSweep(r *sweep.Runner, tmpl sweep.Context, hdr bsdf.Header, outDir string, darkFrames int) *HTTPSweep {
	h := &HTTPSweep{Runner: r, Template: tmpl, Header: hdr, OutDir: outDir, DarkFrames: darkFrames}
	h.RouteTable = generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/start"}:        h.Start,
		{Method: http.MethodPost, Path: "/stop"}:         h.Stop,
		{Method: http.MethodGet, Path: "/status"}:        h.Status,
		{Method: http.MethodGet, Path: "/results"}:       h.Results,
		{Method: http.MethodGet, Path: "/bsdf"}:          h.BSDF,
		{Method: http.MethodGet, Path: "/errors"}:        h.Errors,
		{Method: http.MethodPost, Path: "/export"}:       h.Export,
		{Method: http.MethodGet, Path: "/step-count"}:    StepCount,
		{Method: http.MethodGet, Path: "/dark"}:          h.GetDark,
		{Method: http.MethodPost, Path: "/dark"}:         h.SetDark,
		{Method: http.MethodPost, Path: "/dark/capture"}: h.CaptureDark,
		{Method: http.MethodGet, Path: "/step-options"}:  StepOptions,
		{Method: http.MethodGet, Path: "/positions"}:     generichttp.GetInt(h.positions),

		{Method: http.MethodGet, Path: "/occlusion-tolerance"}:  generichttp.GetFloat(h.occlusionTolerance),
		{Method: http.MethodPost, Path: "/occlusion-tolerance"}: generichttp.SetFloat(h.setOcclusionTolerance),
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h *HTTPSweep) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Start builds a grid from the request body and starts a sweep in the
// background.  A running sweep is 409, an unmet precondition 412.
func (h *HTTPSweep) Start(w http.ResponseWriter, r *http.Request) {
	req := StartRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		generichttp.BadRequest(w, err)
		return
	}
	typ, err := sweep.ParseMeasurementType(req.Type)
	if err != nil {
		generichttp.BadRequest(w, err)
		return
	}
	grid, err := sweep.NewGrid(typ, req.steps())
	if err != nil {
		generichttp.BadRequest(w, err)
		return
	}
	h.mu.Lock()
	c := h.Template
	h.mu.Unlock()
	c.Type = typ
	c.Grid = grid

	err = h.Runner.Start(context.Background(), &c)
	var perr *sweep.PreconditionError
	switch {
	case errors.Is(err, sweep.ErrAlreadyRunning):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.As(err, &perr):
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.mu.Lock()
	h.last = &c
	h.mu.Unlock()
	generichttp.ReplyJSON(w, struct {
		Positions int `json:"positions"`
	}{grid.Positions()})
}

// Stop asks the running sweep to stop
func (h *HTTPSweep) Stop(w http.ResponseWriter, r *http.Request) {
	h.Runner.Stop()
	w.WriteHeader(http.StatusOK)
}

// Status replies with the runner status
func (h *HTTPSweep) Status(w http.ResponseWriter, r *http.Request) {
	generichttp.ReplyJSON(w, h.Runner.Status())
}

// Results replies with the recorded positions in recording order
func (h *HTTPSweep) Results(w http.ResponseWriter, r *http.Request) {
	res := h.Runner.Results()
	out := make([]ResultEntry, len(res.Order))
	for i, k := range res.Order {
		out[i] = ResultEntry{Key: k, Mean: res.Means[k], RelErr: res.Errors[k]}
	}
	generichttp.ReplyJSON(w, out)
}

func (h *HTTPSweep) lastSweep(w http.ResponseWriter) (*sweep.Context, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		http.Error(w, "no sweep has been started", http.StatusNotFound)
		return nil, false
	}
	return h.last, true
}

func (h *HTTPSweep) header(t sweep.MeasurementType) bsdf.Header {
	hdr := h.Header
	hdr.ScatterType = bsdf.ScatterTypeFor(t)
	hdr.Generated = time.Now()
	return hdr
}

// BSDF replies with the tabular BSDF of the current or last sweep
func (h *HTTPSweep) BSDF(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lastSweep(w)
	if !ok {
		return
	}
	res := h.Runner.Results()
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Disposition", "attachment; filename=measurement.bsdf")
	if err := bsdf.Write(w, h.header(c.Type), c.Grid, res.Means); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Errors replies with the relative error report of the current or last sweep
func (h *HTTPSweep) Errors(w http.ResponseWriter, r *http.Request) {
	res := h.Runner.Results()
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=relative_errors.csv")
	if err := bsdf.WriteErrors(w, res.Order, res.Errors); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Export writes the BSDF and error report of the last sweep to OutDir.  The
// body may hold {"str": stem}; the run ID is used otherwise.
func (h *HTTPSweep) Export(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lastSweep(w)
	if !ok {
		return
	}
	str := generichttp.StrT{}
	if r.ContentLength != 0 {
		err := json.NewDecoder(r.Body).Decode(&str)
		defer r.Body.Close()
		if err != nil {
			generichttp.BadRequest(w, err)
			return
		}
	}
	stem := str.Str
	if stem == "" {
		stem = h.Runner.Status().ID
	}
	b, csv, err := bsdf.Export(h.OutDir, stem, h.header(c.Type), c.Grid, h.Runner.Results())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.ReplyJSON(w, struct {
		BSDF   string `json:"bsdf"`
		Errors string `json:"errors"`
	}{b, csv})
}

// StepCount replies with the number of angles per axis for the query
// parameters type and step
func StepCount(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	typ, err := sweep.ParseMeasurementType(q.Get("type"))
	if err != nil {
		generichttp.BadRequest(w, err)
		return
	}
	step, err := strconv.ParseFloat(q.Get("step"), 64)
	if err != nil || step <= 0 {
		generichttp.BadRequest(w, fmt.Errorf("step must be a positive number, got %q", q.Get("step")))
		return
	}
	hp := generichttp.HumanPayload{T: types.Int, Int: sweep.StepCount(typ, step)}
	hp.EncodeAndRespond(w, r)
}

// StepOptions replies with the step sizes offered to an operator
func StepOptions(w http.ResponseWriter, r *http.Request) {
	generichttp.ReplyJSON(w, sweep.StepOptions)
}

// positions is the size of the grid of the current or last sweep
func (h *HTTPSweep) positions() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return 0, nil
	}
	return h.last.Grid.Positions(), nil
}

func (h *HTTPSweep) occlusionTolerance() (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Template.OcclusionTolerance, nil
}

// setOcclusionTolerance applies to sweeps started afterwards
func (h *HTTPSweep) setOcclusionTolerance(f float64) error {
	if f < 0 {
		return fmt.Errorf("occlusion tolerance must not be negative, got %g", f)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Template.OcclusionTolerance = f
	return nil
}

// GetDark replies with the dark level, 404 if unset
func (h *HTTPSweep) GetDark(w http.ResponseWriter, r *http.Request) {
	v, ok := h.Template.Dark.Get()
	if !ok {
		http.Error(w, sweep.ErrDarkUnset.Error(), http.StatusNotFound)
		return
	}
	hp := generichttp.HumanPayload{T: types.Float64, Float: v}
	hp.EncodeAndRespond(w, r)
}

// SetDark sets a nominal dark level from {"f64": value}
func (h *HTTPSweep) SetDark(w http.ResponseWriter, r *http.Request) {
	if h.Runner.Running() {
		http.Error(w, sweep.ErrAlreadyRunning.Error(), http.StatusConflict)
		return
	}
	f := generichttp.FloatT{}
	err := json.NewDecoder(r.Body).Decode(&f)
	defer r.Body.Close()
	if err != nil {
		generichttp.BadRequest(w, err)
		return
	}
	v, err := dark.ParseNominal(strconv.FormatFloat(f.F64, 'g', -1, 64))
	if err != nil {
		generichttp.BadRequest(w, err)
		return
	}
	h.Template.Dark.Set(v)
	w.WriteHeader(http.StatusOK)
}

// CaptureDark captures the dark level from the covered sensor.  The body may
// hold {"int": n} to override the number of frames.
func (h *HTTPSweep) CaptureDark(w http.ResponseWriter, r *http.Request) {
	if h.Runner.Running() {
		http.Error(w, sweep.ErrAlreadyRunning.Error(), http.StatusConflict)
		return
	}
	n := h.DarkFrames
	if r.ContentLength != 0 {
		i := generichttp.IntT{}
		err := json.NewDecoder(r.Body).Decode(&i)
		defer r.Body.Close()
		if err != nil {
			generichttp.BadRequest(w, err)
			return
		}
		if i.Int > 0 {
			n = i.Int
		}
	}
	if h.Template.Camera == nil || !h.Template.Camera.Initialized() {
		http.Error(w, sweep.ErrCameraNotReady.Error(), http.StatusPreconditionFailed)
		return
	}
	v, _, err := dark.Capture(r.Context(), h.Template.Camera, n)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.Template.Dark.Set(v)
	hp := generichttp.HumanPayload{T: types.Float64, Float: v}
	hp.EncodeAndRespond(w, r)
}
