// Package camera provides a generic HTTP interface to the bench camera
package camera

import (
	"encoding/json"
	"go/types"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"github.com/astrogo/fitsio"

	cam "github.com/optlab/bsdfbench/camera"
	"github.com/optlab/bsdfbench/diag"
	"github.com/optlab/bsdfbench/exposure"
	"github.com/optlab/bsdfbench/frame"
	"github.com/optlab/bsdfbench/generichttp"
	"github.com/optlab/bsdfbench/imgrec"
	"github.com/optlab/bsdfbench/noise"
)

// HTTPCamera wraps a camera in an HTTP interface
type HTTPCamera struct {
	Cam cam.Camera

	// Recorder, if not nil and enabled, keeps a copy of every FITS frame served
	Recorder *imgrec.Recorder

	Exposure    exposure.Controller
	Noise       noise.Classifier
	Mosaic      frame.Mosaic
	ROIDiameter int

	RouteTable generichttp.RouteTable
}

// NewHTTPCamera returns a new HTTP wrapper around a camera
func NewHTTPCamera(c cam.Camera, rec *imgrec.Recorder, exp exposure.Controller, nc noise.Classifier, roiDiameter int) HTTPCamera {
	w := HTTPCamera{Cam: c, Recorder: rec, Exposure: exp, Noise: nc, Mosaic: exp.Mosaic, ROIDiameter: roiDiameter}
	rt := generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/initialize"}:    Initialize(c),
		{Method: http.MethodPost, Path: "/finalize"}:      Finalize(c),
		{Method: http.MethodGet, Path: "/initialized"}:    generichttp.GetBool(func() (bool, error) { return c.Initialized(), nil }),
		{Method: http.MethodGet, Path: "/resolution"}:     GetRes(c),
		{Method: http.MethodGet, Path: "/exposure-time"}:  GetExposureTime(c),
		{Method: http.MethodPost, Path: "/exposure-time"}: SetExposureTime(c),
		{Method: http.MethodGet, Path: "/frame"}:          GetFrame(c, rec),
		{Method: http.MethodGet, Path: "/frame/stats"}:    w.FrameStats,
		{Method: http.MethodPost, Path: "/tune"}:          w.Tune,
	}
	w.RouteTable = rt
	if rec != nil {
		imgrec.NewHTTPWrapper(rec).Inject(w)
	}
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPCamera) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Initialize starts the camera on a POST request
func Initialize(c cam.Camera) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.Initialize(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Finalize stops the camera on a POST request
func Finalize(c cam.Camera) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.Finalize(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetRes returns the frame size as JSON {"width": w, "height": h}
func GetRes(c cam.Camera) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := c.GetRes()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		generichttp.ReplyJSON(w, struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		}{res[0], res[1]})
	}
}

// parseExposure parses a duration such as "25ms"; bare numbers are seconds
func parseExposure(s string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// SetExposureTime sets the exposure time on a POST request.
// it can be provided either as a query parameter exposureTime, formatted in a
// way that is parseable by golang/time.ParseDuration, or a json payload with
// key f64, holding the exposure time in seconds.
func SetExposureTime(c cam.Exposer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		texp := r.URL.Query().Get("exposureTime")
		var (
			d   time.Duration
			err error
		)
		if texp == "" {
			f := generichttp.FloatT{}
			err = json.NewDecoder(r.Body).Decode(&f)
			defer r.Body.Close()
			d = time.Duration(f.F64 * float64(time.Second))
		} else {
			d, err = parseExposure(texp)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err = c.SetExposureTime(d); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetExposureTime gets the exposure time, in seconds, on a GET request
func GetExposureTime(c cam.Exposer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := c.GetExposureTime()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: f.Seconds()}
		hp.EncodeAndRespond(w, r)
	}
}

// gray8 scales a 10-bit frame to 8 bits for display
func gray8(img frame.Raw) *image.Gray {
	buf := make([]byte, len(img.Pix))
	for i, v := range img.Pix {
		if v > frame.MaxValue {
			v = frame.MaxValue
		}
		buf[i] = byte(v >> 2)
	}
	return &image.Gray{Pix: buf, Stride: img.Width, Rect: image.Rect(0, 0, img.Width, img.Height)}
}

// GetFrame takes a picture and returns it on a GET request.
//
// the image format may be specified in a query parameter fmt, one of jpg, png,
// or fits; default to jpg.  jpg and png are scaled to 8 bits.
//
// the exposure time may be specified as a query parameter exposureTime in any
// time-looking format, such as "25ms" or "10us".  A bare number is seconds.
// if no exposure time is provided, the existing value is used.
func GetFrame(c cam.Camera, rec *imgrec.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if texp := q.Get("exposureTime"); texp != "" {
			T, err := parseExposure(texp)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err = c.SetExposureTime(T); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		format := q.Get("fmt")
		if format == "" {
			format = "jpg"
		}
		if format != "jpg" && format != "png" && format != "fits" {
			http.Error(w, "fmt must be one of jpg, png, fits", http.StatusBadRequest)
			return
		}
		img, err := c.Capture(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		switch format {
		case "jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			w.WriteHeader(http.StatusOK)
			jpeg.Encode(w, gray8(img), nil)
		case "png":
			w.Header().Set("Content-Type", "image/png")
			w.WriteHeader(http.StatusOK)
			png.Encode(w, gray8(img))
		case "fits":
			var cards []fitsio.Card
			if texp, err := c.GetExposureTime(); err == nil {
				cards = append(cards, fitsio.Card{Name: "EXPTIME", Value: texp.Seconds(), Comment: "exposure time [s]"})
			}
			if rec != nil && rec.IsEnabled() && rec.Root != "" {
				if _, err := rec.Archive(img, cards); err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
			}
			hdr := w.Header()
			hdr.Set("Content-Type", "image/fits")
			hdr.Set("Content-Disposition", "attachment; filename=image.fits")
			if err := imgrec.WriteFits(w, cards, img); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}
	}
}

// channelStats is the JSON form of one channel's ROI statistics
type channelStats struct {
	Mean   float64 `json:"mean"`
	RelErr float64 `json:"relErr"`
	N      int     `json:"n"`
	Error  string  `json:"error,omitempty"`
}

// FrameStats captures a frame and replies with its ROI statistics, spot
// centroid, and noise verdict
func (h HTTPCamera) FrameStats(w http.ResponseWriter, r *http.Request) {
	img, err := h.Cam.Capture(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	rep, err := diag.Inspect(img, h.Mosaic, h.ROIDiameter, h.Noise, 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := struct {
		Mean     float64         `json:"mean"`
		Centroid [2]float64      `json:"centroid"`
		Channels [3]channelStats `json:"channels"`
		Noise    noise.Verdict   `json:"noise"`
	}{Mean: rep.Mean, Centroid: [2]float64{rep.CentroidY, rep.CentroidX}, Noise: rep.Noise}
	for i, res := range rep.ROI {
		out.Channels[i] = channelStats{Mean: res.Mean, RelErr: res.RelErr, N: res.N}
		if rep.ROIErr[i] != nil {
			out.Channels[i].Error = rep.ROIErr[i].Error()
		}
	}
	generichttp.ReplyJSON(w, out)
}

// Tune runs the exposure controller and replies with its outcome
func (h HTTPCamera) Tune(w http.ResponseWriter, r *http.Request) {
	out, err := h.Exposure.Tune(r.Context(), h.Cam)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.ReplyJSON(w, out)
}
