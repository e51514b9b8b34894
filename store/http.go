package store

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/optlab/bsdfbench/bsdf"
	"github.com/optlab/bsdfbench/generichttp"
)

// HTTPJournal exposes a journal read-only over HTTP
type HTTPJournal struct {
	J *Journal

	RouteTable generichttp.RouteTable
}

// NewHTTPJournal returns a new HTTP wrapper around a journal
func NewHTTPJournal(j *Journal) HTTPJournal {
	h := HTTPJournal{J: j}
	h.RouteTable = generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/runs"}:             h.GetRuns,
		{Method: http.MethodGet, Path: "/runs/{id}"}:        h.GetRun,
		{Method: http.MethodGet, Path: "/runs/{id}/skips"}:  h.GetSkips,
		{Method: http.MethodGet, Path: "/runs/{id}/bsdf"}:   h.GetBSDF,
		{Method: http.MethodGet, Path: "/runs/{id}/errors"}: h.GetErrors,
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPJournal) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h HTTPJournal) run(w http.ResponseWriter, r *http.Request) (Run, bool) {
	run, err := h.J.GetRun(chi.URLParam(r, "id"))
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "no such run", http.StatusNotFound)
		return Run{}, false
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return Run{}, false
	}
	return run, true
}

// GetRuns replies with every run, newest first
func (h HTTPJournal) GetRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.J.Runs()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []Run{}
	}
	generichttp.ReplyJSON(w, runs)
}

// GetRun replies with one run
func (h HTTPJournal) GetRun(w http.ResponseWriter, r *http.Request) {
	if run, ok := h.run(w, r); ok {
		generichttp.ReplyJSON(w, run)
	}
}

// GetSkips replies with the skipped positions of a run
func (h HTTPJournal) GetSkips(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	skips, err := h.J.Skips(run.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if skips == nil {
		skips = []Skip{}
	}
	generichttp.ReplyJSON(w, skips)
}

// GetBSDF replies with the tabular BSDF of a run
func (h HTTPJournal) GetBSDF(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	res, err := h.J.Load(run.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hdr := bsdf.DefaultHeader(run.Type)
	hdr.Generated = run.Started
	w.Header().Set("Content-Type", "text/plain")
	if err = bsdf.Write(w, hdr, run.Grid, res.Means); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetErrors replies with the relative error report of a run
func (h HTTPJournal) GetErrors(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	res, err := h.J.Load(run.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	if err = bsdf.WriteErrors(w, res.Order, res.Errors); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
