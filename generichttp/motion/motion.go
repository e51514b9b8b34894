// Package motion provides an HTTP interface to the goniometer stage
package motion

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/go-chi/chi"

	"github.com/optlab/bsdfbench/generichttp"
	"github.com/optlab/bsdfbench/motion"
)

var (
	errClamped = errors.New("requested position violates software limits, aborted")
)

// HTTPStage wraps a stage in an HTTP interface
type HTTPStage struct {
	Stage motion.Stage

	RouteTable generichttp.RouteTable
}

// NewHTTPStage returns a new HTTP wrapper around a stage
func NewHTTPStage(s motion.Stage) HTTPStage {
	h := HTTPStage{Stage: s}
	h.RouteTable = generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/axis/{axis}/pos"}:    SetPos(s),
		{Method: http.MethodPost, Path: "/axis/{axis}/offset"}: Offset(s),
		{Method: http.MethodPost, Path: "/reset"}:              Reset(s),
		{Method: http.MethodGet, Path: "/axes"}:                GetAxes,
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPStage) RT() generichttp.RouteTable {
	return h.RouteTable
}

// GetAxes replies with the names of the axes
func GetAxes(w http.ResponseWriter, r *http.Request) {
	generichttp.ReplyJSON(w, motion.Axes)
}

func popAxis(r *http.Request) (motion.Axis, error) {
	return motion.ParseAxis(chi.URLParam(r, "axis"))
}

// SetPos returns an HTTP handler func that moves an axis to the absolute
// position {"f64": deg} and replies with the controller's acknowledgment
func SetPos(s motion.Stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis, err := popAxis(r)
		if err != nil {
			generichttp.BadRequest(w, err)
			return
		}
		f := generichttp.FloatT{}
		err = json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			generichttp.BadRequest(w, err)
			return
		}
		ack, err := s.MoveAbs(r.Context(), axis, f.F64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		generichttp.ReplyJSON(w, generichttp.StrT{Str: ack})
	}
}

// Offset returns an HTTP handler func that parks an axis
func Offset(s motion.Stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis, err := popAxis(r)
		if err != nil {
			generichttp.BadRequest(w, err)
			return
		}
		if err = s.Offset(r.Context(), axis); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Reset returns an HTTP handler func that resets the controller
func Reset(s motion.Stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Reset(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// LimitMiddleware imposes axis-specific soft limits on moves requested over
// HTTP
type LimitMiddleware struct {
	Limits motion.Limits
}

// Check verifies if a motion would violate the axis limit, if it exists,
// and if it does, responds with StatusBadRequest
// otherwise, flows control to the next handler
func (l LimitMiddleware) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/pos") || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		// the router has not matched yet, so pull the axis from the path
		parts := strings.Split(strings.TrimSuffix(r.URL.Path, "/pos"), "/")
		axis, err := motion.ParseAxis(parts[len(parts)-1])
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := l.Limits[axis]; !ok {
			next.ServeHTTP(w, r)
			return
		}
		// downstream functions want the body too
		bodyContent, _ := ioutil.ReadAll(r.Body)
		r.Body.Close()
		r.Body = ioutil.NopCloser(bytes.NewBuffer(bodyContent))
		f := generichttp.FloatT{}
		if err = json.NewDecoder(bytes.NewReader(bodyContent)).Decode(&f); err != nil {
			generichttp.BadRequest(w, err)
			return
		}
		if err = l.Limits.Check(axis, f.F64); err != nil {
			http.Error(w, errClamped.Error()+": "+err.Error(), http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Inject places a /axis/{axis}/limits route on the table of the HTTPer
func (l LimitMiddleware) Inject(h generichttp.HTTPer) {
	h.RT()[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/limits"}] = l.GetLimits
}

// GetLimits replies with the limits of an axis, null if it has none
func (l LimitMiddleware) GetLimits(w http.ResponseWriter, r *http.Request) {
	axis, err := popAxis(r)
	if err != nil {
		generichttp.BadRequest(w, err)
		return
	}
	lim, ok := l.Limits[axis]
	if !ok {
		generichttp.ReplyJSON(w, nil)
		return
	}
	generichttp.ReplyJSON(w, lim)
}
