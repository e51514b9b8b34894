// Package imgrec contains an image recorder used to automatically save frames
// to disk as FITS files.
package imgrec

import (
	"encoding/json"
	"fmt"
	"go/types"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/snksoft/crc"

	"github.com/optlab/bsdfbench/frame"
	"github.com/optlab/bsdfbench/generichttp"
)

// Archiver stores a frame along with header metadata and returns where it
// went
type Archiver interface {
	Archive(img frame.Raw, cards []fitsio.Card) (string, error)
}

// Recorder records image sequences with incrementing filenames in yyyy-mm-dd
// subfolders.  It is safe for concurrent use.
type Recorder struct {
	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// Enabled is a flag unused by this struct that allows consumers to disable its use in their code
	Enabled bool

	mu sync.Mutex

	// counter is the internally incrementing counter
	counter int

	// timeFldr is the subfolder with yyyy-mm-dd format
	timeFldr string
}

// NewRecorder returns a recorder that continues numbering from the files
// already in today's folder
func NewRecorder(root, prefix string) *Recorder {
	r := &Recorder{Root: root, Prefix: prefix, Enabled: true}
	r.mu.Lock()
	r.updateFolder()
	r.incr()
	r.mu.Unlock()
	return r
}

// updateFolder checks the current time and updates the folder as needed
func (r *Recorder) updateFolder() {
	now := time.Now()
	y, m, d := now.Year(), now.Month(), now.Day()
	fldr := fmt.Sprintf("%04d-%02d-%02d", y, m, d)
	if fldr != r.timeFldr {
		r.timeFldr = fldr
		r.counter = 0
	}
}

// mkDir makes the folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := path.Join(r.Root, r.timeFldr)
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// Archive writes img as the next file in the sequence.  The header carries
// the given cards plus DATACRC, the CRC-32 of the pixel data.
func (r *Recorder) Archive(img frame.Raw, cards []fitsio.Card) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateFolder()
	fldr, err := r.mkDir()
	if err != nil {
		return "", err
	}
	if r.counter == 0 {
		r.incr()
	}
	fn := path.Join(fldr, fmt.Sprintf("%s%06d.fits", r.Prefix, r.counter))
	fid, err := os.Create(fn)
	if err != nil {
		return "", err
	}
	defer fid.Close()
	if err = WriteFits(fid, cards, img); err != nil {
		return "", err
	}
	r.counter++
	return fn, nil
}

// Incr updates the filename counter; it scans the folder to do so.  If there is an error, the counter is not incremented
func (r *Recorder) Incr() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateFolder()
	r.incr()
}

func (r *Recorder) incr() {
	dn, _ := r.mkDir()
	files, err := ioutil.ReadDir(dn)
	if err != nil {
		return
	}
	count := 0
	for _, file := range files {
		// skip directories, non-fits, and wrong prefix
		if file.IsDir() {
			continue
		}
		fn := file.Name()
		if !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		bit := strings.TrimPrefix(fn, r.Prefix)
		bit = bit[:len(bit)-5] // pop fits
		n, err := strconv.Atoi(bit)
		if err != nil {
			continue
		}
		if count < n {
			count = n
		}
	}
	r.counter = count + 1
}

// DataCRC returns the CRC-32 of the samples of img, big endian as stored in FITS
func DataCRC(img frame.Raw) uint32 {
	buf := make([]byte, 2*len(img.Pix))
	for i, v := range img.Pix {
		buf[2*i] = byte(v >> 8)
		buf[2*i+1] = byte(v)
	}
	return uint32(crc.CalculateCRC(crc.CRC32, buf))
}

// WriteFits streams a single-frame FITS file to w.  Samples are stored as
// int16 with BZERO=32768.
func WriteFits(w io.Writer, metadata []fitsio.Card, img frame.Raw) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(16, []int{img.Width, img.Height})
	defer im.Close()
	metadata = append(metadata,
		fitsio.Card{Name: "BZERO", Value: 32768},
		fitsio.Card{Name: "BSCALE", Value: 1.0},
		fitsio.Card{Name: "DATACRC", Value: fmt.Sprintf("%08x", DataCRC(img)), Comment: "CRC-32 of the unsigned samples"},
	)
	if err = im.Header().Append(metadata...); err != nil {
		return err
	}
	buf := make([]int16, len(img.Pix))
	for idx, v := range img.Pix {
		// underflow on uint16 produces the wrapping the FITS standard expects
		buf[idx] = int16(v - 32768)
	}
	if err = im.Write(buf); err != nil {
		return err
	}
	return fits.Write(im)
}

// HTTPWrapper is an HTTP wrapper around an image recorder that allows the folder and prefix to be changed on the fly
//
// it does not implement generichttp.HTTPer, offering an Inject method allowing it to be injected
// into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// SetRoot updates the root folder of the recorder
func (h HTTPWrapper) SetRoot(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec := h.Recorder
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.Root = str.Str
	rec.timeFldr = ""
	rec.updateFolder()
	if _, err = rec.mkDir(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec.incr()
	w.WriteHeader(http.StatusOK)
}

// GetRoot gets the recorder's root folder and sends it back as JSON
func (h HTTPWrapper) GetRoot(w http.ResponseWriter, r *http.Request) {
	h.Recorder.mu.Lock()
	root := h.Recorder.Root
	h.Recorder.mu.Unlock()
	hp := generichttp.HumanPayload{T: types.String, String: root}
	hp.EncodeAndRespond(w, r)
}

// SetPrefix updates the filename prefix of the recorder
func (h HTTPWrapper) SetPrefix(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Recorder.mu.Lock()
	defer h.Recorder.mu.Unlock()
	h.Recorder.Prefix = str.Str
	h.Recorder.incr()
	w.WriteHeader(http.StatusOK)
}

// GetPrefix gets the recorder's prefix and sends it back as JSON
func (h HTTPWrapper) GetPrefix(w http.ResponseWriter, r *http.Request) {
	h.Recorder.mu.Lock()
	prefix := h.Recorder.Prefix
	h.Recorder.mu.Unlock()
	hp := generichttp.HumanPayload{T: types.String, String: prefix}
	hp.EncodeAndRespond(w, r)
}

// GetEnabled returns the Recorder's Enabled field
func (h HTTPWrapper) GetEnabled(w http.ResponseWriter, r *http.Request) {
	h.Recorder.mu.Lock()
	en := h.Recorder.Enabled
	h.Recorder.mu.Unlock()
	hp := generichttp.HumanPayload{T: types.Bool, Bool: en}
	hp.EncodeAndRespond(w, r)
}

// SetEnabled sets the recorder's Enabled field
func (h HTTPWrapper) SetEnabled(w http.ResponseWriter, r *http.Request) {
	bT := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&bT)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Recorder.mu.Lock()
	h.Recorder.Enabled = bT.Bool
	h.Recorder.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// IsEnabled reports the Enabled field under the lock
func (r *Recorder) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Enabled
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix, and
// /autowrite/enabled to the HTTPer which manipulate this wrapper's recorder
func (h HTTPWrapper) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = h.SetRoot
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = h.GetRoot
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = h.SetPrefix
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = h.GetPrefix
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/enabled"}] = h.SetEnabled
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/enabled"}] = h.GetEnabled
}
