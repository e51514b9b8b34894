package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/theckman/yacspin"

	"github.com/optlab/bsdfbench/acquire"
	"github.com/optlab/bsdfbench/sweep"
)

// progress follows a sweep on the terminal
type progress struct {
	spin *yacspin.Spinner

	mu       sync.Mutex
	total    int
	done     int
	skipped  int
	started  time.Time
	lastStep time.Time
	avg      time.Duration
}

func newProgress() (*progress, error) {
	cfg := yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " sweep",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	}
	s, err := yacspin.New(cfg)
	if err != nil {
		return nil, err
	}
	return &progress{spin: s}, nil
}

// SweepStarted satisfies sweep.Observer
func (p *progress) SweepStarted(info sweep.RunInfo) {
	p.mu.Lock()
	p.total = info.Positions
	p.started = info.Started
	p.lastStep = time.Now()
	p.mu.Unlock()
	p.spin.Message(fmt.Sprintf("%s run %s, %d positions", info.Type, info.ID, info.Positions))
	p.spin.Start()
}

func (p *progress) step(k sweep.Key, skipped bool) {
	p.mu.Lock()
	now := time.Now()
	d := now.Sub(p.lastStep)
	p.lastStep = now
	if p.avg == 0 {
		p.avg = d
	} else {
		p.avg = (4*p.avg + d) / 5
	}
	p.done++
	if skipped {
		p.skipped++
	}
	eta := time.Duration(p.total-p.done) * p.avg
	msg := fmt.Sprintf("%d/%d (%d skipped) at %s, eta %s", p.done, p.total, p.skipped, k, eta.Round(time.Second))
	p.mu.Unlock()
	p.spin.Message(msg)
}

// PositionRecorded satisfies sweep.Observer
func (p *progress) PositionRecorded(k sweep.Key, s *acquire.Sample) { p.step(k, false) }

// PositionSkipped satisfies sweep.Observer
func (p *progress) PositionSkipped(k sweep.Key, reason error) { p.step(k, true) }

// SweepFinished satisfies sweep.Observer
func (p *progress) SweepFinished(sum sweep.Summary) {
	msg := fmt.Sprintf("%s: %d recorded, %d skipped in %s", sum.State, sum.Recorded, sum.Skipped, sum.Finished.Sub(sum.Started).Round(time.Second))
	if sum.State == sweep.Failed {
		p.spin.StopFailMessage(msg + ": " + sum.Err)
		p.spin.StopFail()
		return
	}
	p.spin.StopMessage(msg)
	p.spin.Stop()
}
