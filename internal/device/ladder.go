package device

import (
	"sync"

	"github.com/ledgate/ledgate/pkg/errors"
	"github.com/ledgate/ledgate/pkg/types"
	"github.com/ledgate/ledgate/pkg/utils"
)

// Step is one acquisition in a Ladder. Release may be nil for steps that
// hold nothing once acquired.
type Step struct {
	Name    string
	Acquire func() error
	Release func()
}

// Ladder acquires an ordered list of resources and releases the acquired
// prefix in reverse order. held always counts a contiguous prefix of steps.
type Ladder struct {
	mu      sync.Mutex
	steps   []Step
	held    int
	logger  *utils.Logger
	metrics types.MetricsCollector
}

// NewLadder creates a ladder over steps, which run in slice order.
func NewLadder(steps []Step, logger *utils.Logger) *Ladder {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Ladder{
		steps:  steps,
		logger: logger.WithComponent("ladder"),
	}
}

// SetMetrics records per-step outcomes on m.
func (l *Ladder) SetMetrics(m types.MetricsCollector) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics = m
}

// Acquire runs every step in order. When step k fails the k-1 steps already
// held are released in reverse order and an ACQUISITION_FAILED error naming
// step k is returned; nothing is held afterwards.
func (l *Ladder) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held != 0 {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "ladder already holds resources").
			WithComponent("ladder").
			WithOperation("acquire").
			WithDetail("held", l.held)
	}

	for i, step := range l.steps {
		if err := step.Acquire(); err != nil {
			l.record(step.Name, false)
			l.logger.WithFields(map[string]interface{}{
				errors.DetailStep:      step.Name,
				errors.DetailStepIndex: i + 1,
				"error":                err.Error(),
			}).Error("Step %s failed, rolling back %d held steps", step.Name, l.held)
			l.unwind()
			return errors.NewAcquisitionFailure(step.Name, i, err)
		}
		l.held = i + 1
		l.record(step.Name, true)
		l.logger.WithField(errors.DetailStep, step.Name).Debug("Acquired %s", step.Name)
	}
	return nil
}

// Release releases every held step in reverse order. It is a no-op when
// nothing is held, so calling it twice is safe.
func (l *Ladder) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unwind()
}

// Held returns the names of the held steps in acquisition order.
func (l *Ladder) Held() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := make([]string, 0, l.held)
	for _, step := range l.steps[:l.held] {
		names = append(names, step.Name)
	}
	return names
}

// Len returns the number of steps in the ladder.
func (l *Ladder) Len() int {
	return len(l.steps)
}

// unwind must be called with mu held.
func (l *Ladder) unwind() {
	for l.held > 0 {
		step := l.steps[l.held-1]
		l.held--
		if step.Release == nil {
			continue
		}
		l.logger.WithField(errors.DetailStep, step.Name).Warn("Releasing %s", step.Name)
		step.Release()
	}
}

func (l *Ladder) record(step string, success bool) {
	if l.metrics != nil {
		l.metrics.RecordLadderStep(step, success)
	}
}
