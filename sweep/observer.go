package sweep

import (
	"time"

	"github.com/optlab/bsdfbench/acquire"
)

// RunInfo describes a sweep as it starts
type RunInfo struct {
	ID        string          `json:"id"`
	Type      MeasurementType `json:"type"`
	Grid      Grid            `json:"grid"`
	Positions int             `json:"positions"`
	Dark      float64         `json:"dark"`
	Started   time.Time       `json:"started"`
}

// Summary describes a sweep as it ends
type Summary struct {
	RunInfo
	State    State     `json:"state"`
	Recorded int       `json:"recorded"`
	Skipped  int       `json:"skipped"`
	Finished time.Time `json:"finished"`
	Err      string    `json:"error,omitempty"`
}

// Observer follows the progress of a sweep.  Methods are called from the
// sweep goroutine and should return promptly.
type Observer interface {
	SweepStarted(RunInfo)
	PositionRecorded(Key, *acquire.Sample)
	PositionSkipped(Key, error)
	SweepFinished(Summary)
}

// Observers fans events out to each member in order
type Observers []Observer

// SweepStarted satisfies Observer
func (o Observers) SweepStarted(info RunInfo) {
	for _, obs := range o {
		obs.SweepStarted(info)
	}
}

// PositionRecorded satisfies Observer
func (o Observers) PositionRecorded(k Key, s *acquire.Sample) {
	for _, obs := range o {
		obs.PositionRecorded(k, s)
	}
}

// PositionSkipped satisfies Observer
func (o Observers) PositionSkipped(k Key, reason error) {
	for _, obs := range o {
		obs.PositionSkipped(k, reason)
	}
}

// SweepFinished satisfies Observer
func (o Observers) SweepFinished(s Summary) {
	for _, obs := range o {
		obs.SweepFinished(s)
	}
}
