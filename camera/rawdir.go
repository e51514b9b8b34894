package camera

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/optlab/bsdfbench/frame"
)

// RawDir replays RAW10 dumps from a directory, in lexical order, wrapping
// around at the end.  Exposure settings are accepted and recorded but have no
// effect on the data.
type RawDir struct {
	Dir    string
	Width  int
	Height int

	mu       sync.Mutex
	files    []string
	next     int
	init     bool
	exposure time.Duration
}

// NewRawDir returns a playback source for the .raw files in dir
func NewRawDir(dir string, width, height int) *RawDir {
	return &RawDir{Dir: dir, Width: width, Height: height, exposure: time.Millisecond}
}

// Initialize scans the directory
func (r *RawDir) Initialize() error {
	infos, err := ioutil.ReadDir(r.Dir)
	if err != nil {
		return err
	}
	var files []string
	for _, fi := range infos {
		if fi.IsDir() || !strings.EqualFold(filepath.Ext(fi.Name()), ".raw") {
			continue
		}
		files = append(files, filepath.Join(r.Dir, fi.Name()))
	}
	if len(files) == 0 {
		return fmt.Errorf("no .raw files in %s", r.Dir)
	}
	sort.Strings(files)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = files
	r.next = 0
	r.init = true
	return nil
}

// Finalize satisfies Camera
func (r *RawDir) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init = false
	return nil
}

// Initialized satisfies Camera
func (r *RawDir) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.init
}

// GetRes satisfies Camera
func (r *RawDir) GetRes() ([2]int, error) {
	return [2]int{r.Width, r.Height}, nil
}

// GetExposureTime satisfies Camera
func (r *RawDir) GetExposureTime() (time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exposure, nil
}

// SetExposureTime satisfies Camera
func (r *RawDir) SetExposureTime(t time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exposure = t
	return nil
}

// Capture decodes the next file
func (r *RawDir) Capture(ctx context.Context) (frame.Raw, error) {
	if err := ctx.Err(); err != nil {
		return frame.Raw{}, err
	}
	r.mu.Lock()
	if !r.init {
		r.mu.Unlock()
		return frame.Raw{}, ErrNotInitialized
	}
	fn := r.files[r.next]
	r.next = (r.next + 1) % len(r.files)
	r.mu.Unlock()
	return ReadRaw10(fn, r.Width, r.Height)
}

// ReadRaw10 reads and decodes one RAW10 file
func ReadRaw10(fn string, width, height int) (frame.Raw, error) {
	f, err := os.Open(fn)
	if err != nil {
		return frame.Raw{}, err
	}
	defer f.Close()
	buf, err := ioutil.ReadAll(f)
	if err != nil {
		return frame.Raw{}, err
	}
	raw, err := frame.Decode10(buf, width, height)
	if err != nil {
		return frame.Raw{}, fmt.Errorf("%s: %w", fn, err)
	}
	return raw, nil
}
