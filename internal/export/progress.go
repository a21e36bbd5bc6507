package export

import (
	"sync"

	"github.com/bobarin/framecast/internal/models"
)

// Tracker forwards progress to the caller while enforcing the shared
// protocol: percent never decreases, stages only advance and none is
// skipped, nothing follows complete, and a failed run never reaches
// complete.
type Tracker struct {
	mu      sync.Mutex
	fn      models.ProgressFunc
	stage   models.Stage
	percent float64
	failed  bool
}

func NewTracker(fn models.ProgressFunc) *Tracker {
	return &Tracker{fn: fn}
}

func (t *Tracker) Report(p models.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failed || t.stage == models.StageComplete {
		return
	}
	order := p.Stage.Order()
	if order < 0 {
		return
	}

	cur := t.stage.Order()
	if order < cur {
		p.Stage = t.stage
		order = cur
	}
	if p.Percent < t.percent {
		p.Percent = t.percent
	}
	if p.Percent > 100 {
		p.Percent = 100
	}

	for s := cur + 1; s < order; s++ {
		t.emit(models.Progress{Stage: models.Stages[s], Percent: t.percent})
	}

	t.stage = p.Stage
	t.percent = p.Percent
	t.emit(p)
}

// Stage is a shorthand for Report without frame counters.
func (t *Tracker) Stage(s models.Stage, percent float64, msg string) {
	t.Report(models.Progress{Stage: s, Percent: percent, Message: msg})
}

// Complete emits the terminal event at 100%.
func (t *Tracker) Complete(msg string) {
	t.Stage(models.StageComplete, 100, msg)
}

// Fail suppresses every later event.
func (t *Tracker) Fail() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed = true
}

// Percent returns the last emitted percent.
func (t *Tracker) Percent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percent
}

func (t *Tracker) emit(p models.Progress) {
	if t.fn != nil {
		t.fn(p)
	}
}

// band maps a 0-1 fraction into [lo, hi].
func band(lo, hi, frac float64) float64 {
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return lo + (hi-lo)*frac
}
