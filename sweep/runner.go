/*Package sweep drives the four goniometer axes through an angle grid and
records the per-channel intensity measured at every unoccluded position.

Axes are visited outermost first: light radial, light azimuthal, detector
azimuthal, detector radial.  A move is always acknowledged before the camera
is used, and the detector is parked after each light position.
*/
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/optlab/bsdfbench/acquire"
	"github.com/optlab/bsdfbench/motion"
)

var (
	// ErrAlreadyRunning is generated when a sweep is started while another runs
	ErrAlreadyRunning = errors.New("a sweep is already running")

	// ErrTooManyFailures is generated when a sweep is abandoned because the
	// hardware keeps failing
	ErrTooManyFailures = errors.New("too many consecutive failures")

	// ErrOccluded is the reason given for positions where the detector blocks
	// the light
	ErrOccluded = errors.New("detector occludes the light")
)

// etaWeight is the weight of the newest position duration in the ETA average
const etaWeight = 0.2

// State is the lifecycle state of a Runner
type State int32

const (
	// Idle means no sweep has run yet
	Idle State = iota

	// Running means a sweep is in progress
	Running

	// Completed means the last sweep visited every position
	Completed

	// Stopped means the last sweep was stopped by request
	Stopped

	// Failed means the last sweep could not start or was abandoned
	Failed
)

// String satisfies fmt.Stringer
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MarshalText satisfies encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a snapshot of a Runner
type Status struct {
	ID        string        `json:"id"`
	State     State         `json:"state"`
	Position  int           `json:"position"`
	Total     int           `json:"total"`
	Recorded  int           `json:"recorded"`
	Skipped   int           `json:"skipped"`
	ETA       time.Duration `json:"eta"`
	LastError string        `json:"lastError,omitempty"`
	Started   time.Time     `json:"started"`
}

// Runner executes sweeps one at a time.  Status, Results, and Stop may be
// called from any goroutine.
type Runner struct {
	// Observer, if not nil, is told about every sweep event
	Observer Observer

	busy int32
	stop int32

	mu      sync.Mutex
	status  Status
	results Results
	avg     time.Duration
}

// NewRunner returns an idle Runner reporting to the given observers
func NewRunner(obs ...Observer) *Runner {
	r := &Runner{results: NewResults()}
	if len(obs) > 0 {
		r.Observer = Observers(obs)
	}
	return r
}

// Stop asks the running sweep to halt.  No further motion is commanded once
// the sweep reaches the next position boundary.  Results are kept.
func (r *Runner) Stop() {
	atomic.StoreInt32(&r.stop, 1)
}

// Status returns a snapshot of progress
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Results returns a copy of the results of the current or last sweep
func (r *Runner) Results() Results {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results.Copy()
}

// Running is true while a sweep holds the runner
func (r *Runner) Running() bool {
	return atomic.LoadInt32(&r.busy) == 1
}

// Run executes a sweep and blocks until it ends.  A stopped sweep returns a
// nil error; check Summary.State.
func (r *Runner) Run(ctx context.Context, c *Context) (Summary, error) {
	if !atomic.CompareAndSwapInt32(&r.busy, 0, 1) {
		return Summary{}, ErrAlreadyRunning
	}
	defer atomic.StoreInt32(&r.busy, 0)
	atomic.StoreInt32(&r.stop, 0)
	return r.run(ctx, c)
}

// Start validates c and runs the sweep in a new goroutine.  Precondition
// failures are returned directly.
func (r *Runner) Start(ctx context.Context, c *Context) error {
	if !atomic.CompareAndSwapInt32(&r.busy, 0, 1) {
		return ErrAlreadyRunning
	}
	if err := c.Validate(); err != nil {
		r.setFailed(err)
		atomic.StoreInt32(&r.busy, 0)
		return err
	}
	// cleared before the goroutine exists so a Stop right after Start holds
	atomic.StoreInt32(&r.stop, 0)
	go func() {
		defer atomic.StoreInt32(&r.busy, 0)
		if _, err := r.run(ctx, c); err != nil {
			log.Printf("sweep ended with error: %s", err)
		}
	}()
	return nil
}

func (r *Runner) setFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.State = Failed
	r.status.LastError = err.Error()
}

func (r *Runner) observer() Observer {
	if r.Observer == nil {
		return Observers(nil)
	}
	return r.Observer
}

func (r *Runner) stopping(ctx context.Context) bool {
	return atomic.LoadInt32(&r.stop) == 1 || ctx.Err() != nil
}

func (r *Runner) run(ctx context.Context, c *Context) (Summary, error) {
	if err := c.Validate(); err != nil {
		r.setFailed(err)
		return Summary{State: Failed, Err: err.Error()}, err
	}
	darkLvl, _ := c.Dark.Get()
	p := &pass{
		r:   r,
		c:   c,
		obs: r.observer(),
		info: RunInfo{
			ID:        uuid.New().String(),
			Type:      c.Type,
			Grid:      c.Grid,
			Positions: c.Grid.Positions(),
			Dark:      darkLvl,
			Started:   time.Now(),
		},
	}
	r.mu.Lock()
	r.results = NewResults()
	r.avg = 0
	r.status = Status{ID: p.info.ID, State: Running, Total: p.info.Positions, Started: p.info.Started}
	r.mu.Unlock()

	log.Printf("sweep %s started: %s, %d positions, dark level %.2f", p.info.ID, c.Type, p.info.Positions, darkLvl)
	p.obs.SweepStarted(p.info)
	p.execute(ctx, darkLvl)

	state := Completed
	switch {
	case p.fatal != nil:
		state = Failed
	case r.stopping(ctx):
		state = Stopped
	}
	r.mu.Lock()
	r.status.State = state
	r.status.ETA = 0
	sum := Summary{
		RunInfo:  p.info,
		State:    state,
		Recorded: r.status.Recorded,
		Skipped:  r.status.Skipped,
		Finished: time.Now(),
	}
	if p.fatal != nil {
		sum.Err = p.fatal.Error()
	}
	r.mu.Unlock()

	log.Printf("sweep %s %s: %d recorded, %d skipped", sum.ID, state, sum.Recorded, sum.Skipped)
	p.obs.SweepFinished(sum)
	return sum, p.fatal
}

// pass is the bookkeeping of one sweep
type pass struct {
	r    *Runner
	c    *Context
	obs  Observer
	info RunInfo

	consecutive int
	fatal       error
}

func (p *pass) execute(ctx context.Context, darkLvl float64) {
	g := p.c.Grid
	stage := p.c.Stage
	for _, lr := range g.LightRadial {
		if p.halted(ctx) {
			return
		}
		if _, err := stage.MoveAbs(ctx, motion.LightRadial, lr); err != nil {
			p.skipSubtree([]float64{lr}, g.LightAzimuthal, g.DetectorAzimuthal, g.DetectorRadial, err)
			continue
		}
		for _, la := range g.LightAzimuthal {
			if p.halted(ctx) {
				return
			}
			if _, err := stage.MoveAbs(ctx, motion.LightAzimuthal, la); err != nil {
				p.skipSubtree([]float64{lr}, []float64{la}, g.DetectorAzimuthal, g.DetectorRadial, err)
				continue
			}
			for _, da := range g.DetectorAzimuthal {
				if p.halted(ctx) {
					return
				}
				if _, err := stage.MoveAbs(ctx, motion.DetectorAzimuthal, da); err != nil {
					p.skipSubtree([]float64{lr}, []float64{la}, []float64{da}, g.DetectorRadial, err)
					continue
				}
				for _, dr := range g.DetectorRadial {
					if p.halted(ctx) {
						return
					}
					p.position(ctx, NewKey(lr, la, da, dr), darkLvl)
				}
			}
			if p.halted(ctx) {
				return
			}
			p.park(ctx)
		}
	}
}

// halted is true once the sweep must not command further motion
func (p *pass) halted(ctx context.Context) bool {
	return p.fatal != nil || p.r.stopping(ctx)
}

func (p *pass) position(ctx context.Context, k Key, darkLvl float64) {
	if Occluded(k, p.c.OcclusionTolerance) {
		p.skip(k, ErrOccluded, 0)
		return
	}
	start := time.Now()
	if _, err := p.c.Stage.MoveAbs(ctx, motion.DetectorRadial, k.DetectorRadial); err != nil {
		p.failure(err)
		p.skip(k, err, time.Since(start))
		return
	}
	s, err := p.c.Accumulator.Accumulate(ctx, p.c.Camera, darkLvl, k.Tag())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if !errors.Is(err, acquire.ErrNotTuned) {
			p.failure(err)
		}
		p.skip(k, err, time.Since(start))
		return
	}
	p.record(k, s, time.Since(start))
}

// park returns the detector to its offset so the light axes can move freely
func (p *pass) park(ctx context.Context) {
	for _, a := range []motion.Axis{motion.DetectorAzimuthal, motion.DetectorRadial} {
		if err := p.c.Stage.Offset(ctx, a); err != nil {
			log.Printf("returning %s to offset: %s", a, err)
			p.failure(err)
		}
	}
}

func (p *pass) skipSubtree(lrs, las, das, drs []float64, err error) {
	log.Printf("motor move failed, skipping %d positions: %s", len(lrs)*len(las)*len(das)*len(drs), err)
	p.failure(err)
	for _, lr := range lrs {
		for _, la := range las {
			for _, da := range das {
				for _, dr := range drs {
					p.mark(NewKey(lr, la, da, dr), err, 0)
				}
			}
		}
	}
}

func (p *pass) skip(k Key, reason error, took time.Duration) {
	if !errors.Is(reason, ErrOccluded) {
		log.Printf("%s: skipped: %s", k, reason)
	}
	p.mark(k, reason, took)
}

// mark records a skipped position without logging it
func (p *pass) mark(k Key, reason error, took time.Duration) {
	p.r.mu.Lock()
	p.r.status.Position++
	p.r.status.Skipped++
	if !errors.Is(reason, ErrOccluded) && p.fatal == nil {
		p.r.status.LastError = reason.Error()
	}
	p.r.advance(took)
	p.r.mu.Unlock()
	p.obs.PositionSkipped(k, reason)
}

func (p *pass) record(k Key, s *acquire.Sample, took time.Duration) {
	p.consecutive = 0
	m, e := s.Means(), s.RelErrs()
	p.r.mu.Lock()
	p.r.results.Record(k, RGB{m[0], m[1], m[2]}, RGB{e[0], e[1], e[2]})
	p.r.status.Position++
	p.r.status.Recorded++
	p.r.advance(took)
	p.r.mu.Unlock()
	p.obs.PositionRecorded(k, s)
}

// failure counts a hardware failure and abandons the sweep past the limit
func (p *pass) failure(err error) {
	p.consecutive++
	max := p.c.MaxConsecutiveFailures
	if max > 0 && p.consecutive > max && p.fatal == nil {
		p.fatal = fmt.Errorf("%w: %d in a row, last: %v", ErrTooManyFailures, p.consecutive, err)
		p.r.mu.Lock()
		p.r.status.LastError = p.fatal.Error()
		p.r.mu.Unlock()
	}
}

// advance folds a position duration into the ETA.  r.mu must be held.
func (r *Runner) advance(took time.Duration) {
	if took > 0 {
		if r.avg == 0 {
			r.avg = took
		} else {
			r.avg = time.Duration(etaWeight*float64(took) + (1-etaWeight)*float64(r.avg))
		}
	}
	remaining := r.status.Total - r.status.Position
	if remaining < 0 {
		remaining = 0
	}
	r.status.ETA = r.avg * time.Duration(remaining)
}
