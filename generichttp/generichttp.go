// Package generichttp defines the route table and payload types shared by the
// HTTP wrappers of the bench, and helpers that wrap getter and setter
// functions as handlers
package generichttp

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi"
)

// MethodPath is a struct containing an HTTP method and a URL path
type MethodPath struct {
	Method, Path string
}

// RouteTable maps method+path pairs to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints lists the routes in a RouteTable, sorted by path then method
func (rt RouteTable) Endpoints() []string {
	keys := make([]MethodPath, 0, len(rt))
	for k := range rt {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Path == keys[j].Path {
			return keys[i].Method < keys[j].Method
		}
		return keys[i].Path < keys[j].Path
	})
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.Method + " " + k.Path
	}
	return out
}

// Bind binds every route in the table to r, plus GET /endpoints which
// lists them
func (rt RouteTable) Bind(r chi.Router) {
	for mp, fcn := range rt {
		r.MethodFunc(mp.Method, mp.Path, fcn)
	}
	r.Get("/endpoints", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rt.Endpoints()); err != nil {
			fstr := fmt.Sprintf("error encoding list of routes to json %q", err)
			log.Println(fstr)
			http.Error(w, fstr, http.StatusInternalServerError)
		}
	})
}

// HTTPer is an interface which allows types to yield their route tables
type HTTPer interface {
	RT() RouteTable
}

// FloatT is a struct with a single float64 field
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single int field
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single string field
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single bool field
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload holds one value of a basic type and encodes it as the matching
// single-field JSON object
type HumanPayload struct {
	T      types.BasicKind
	Bool   bool
	Float  float64
	Int    int
	String string
}

// EncodeAndRespond encodes the payload to JSON and writes it to w.
// Errors are logged and replied with status 500.
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var v interface{}
	switch hp.T {
	case types.Bool:
		v = BoolT{Bool: hp.Bool}
	case types.Float64:
		v = FloatT{F64: hp.Float}
	case types.Int:
		v = IntT{Int: hp.Int}
	case types.String:
		v = StrT{Str: hp.String}
	default:
		http.Error(w, fmt.Sprintf("unsupported payload kind %v", hp.T), http.StatusInternalServerError)
		return
	}
	ReplyJSON(w, v)
}

// ReplyJSON encodes v as the response body
func ReplyJSON(w http.ResponseWriter, v interface{}) {
	buf, err := json.Marshal(v)
	if err != nil {
		fstr := fmt.Sprintf("error encoding data to json %q", err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(buf)
}

// GetFloat calls a float-getting function and returns the response
// as json {'f64': value}
func GetFloat(fcn func() (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := HumanPayload{T: types.Float64, Float: f}
		hp.EncodeAndRespond(w, r)
	}
}

// SetFloat parses a JSON input of {'f64': value} and
// calls fcn with it
func SetFloat(fcn func(float64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(f.F64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetInt calls an int-getting function and returns the response
// as json {'int': value}
func GetInt(fcn func() (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := HumanPayload{T: types.Int, Int: i}
		hp.EncodeAndRespond(w, r)
	}
}

// GetBool calls a bool-getting function and returns the response
// as json {'bool': value}
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := HumanPayload{T: types.Bool, Bool: b}
		hp.EncodeAndRespond(w, r)
	}
}

// SubMuxSanitize converts a stem such as "omc/camera/" into the mount point
// "/omc/camera"
func SubMuxSanitize(str string) string {
	str = strings.Trim(str, "/")
	return "/" + str
}

// BadRequest replies with the error and status 400
func BadRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}
