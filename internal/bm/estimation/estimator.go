// Package estimation turns run counters into a completion ratio between 0 and 1.
package estimation

import (
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/benchforge/bmdriver/internal/common/util"
)

const DefaultCheckPeriod = 5 * time.Second

type CompletionEstimator interface {
	// GetCompletion returns the completion of the run, always within [0, 1].
	GetCompletion() float64
	// IsStarted reports whether any result, successful or not, has been recorded.
	IsStarted() bool
	IsCompleted() bool
	GetResultsSuccess() int64
	GetResultsFail() int64
}

// OutcomeCounter counts results by outcome.
type OutcomeCounter interface {
	CountResultsBySuccess() (int64, error)
	CountResultsByFailure() (int64, error)
}

type Options struct {
	// CheckPeriod is the minimum time between two reads of the underlying counters.
	CheckPeriod time.Duration
	Clock       util.Clock
}

func (o Options) withDefaults() Options {
	if o.CheckPeriod < 0 {
		o.CheckPeriod = 0
	} else if o.CheckPeriod == 0 {
		o.CheckPeriod = DefaultCheckPeriod
	}
	if o.Clock == nil {
		o.Clock = &util.DefaultClock{}
	}
	return o
}

// cachingEstimator reads the counters at most once per check period and serves the cached values in between.
// A failed read keeps the previous values, so estimators never surface counter errors to callers.
type cachingEstimator struct {
	name     string
	outcomes OutcomeCounter
	compute  func() (float64, error)
	options  Options

	mu         sync.Mutex
	checked    bool
	lastCheck  time.Time
	completion float64
	success    int64
	fail       int64
}

func newCachingEstimator(name string, outcomes OutcomeCounter, options Options, compute func() (float64, error)) *cachingEstimator {
	return &cachingEstimator{
		name:     name,
		outcomes: outcomes,
		compute:  compute,
		options:  options.withDefaults(),
	}
}

func (e *cachingEstimator) refresh() {
	now := e.options.Clock.Now()
	if e.checked && now.Sub(e.lastCheck) < e.options.CheckPeriod {
		return
	}
	e.checked = true
	e.lastCheck = now

	logger := log.WithField("estimator", e.name)
	if success, err := e.outcomes.CountResultsBySuccess(); err != nil {
		logger.WithError(err).Warn("Failed to count successful results; keeping previous value")
	} else {
		e.success = success
	}
	if fail, err := e.outcomes.CountResultsByFailure(); err != nil {
		logger.WithError(err).Warn("Failed to count failed results; keeping previous value")
	} else {
		e.fail = fail
	}
	completion, err := e.compute()
	if err != nil {
		logger.WithError(err).Warn("Failed to estimate completion; keeping previous value")
		return
	}
	e.completion = clamp(e.name, completion)
}

func (e *cachingEstimator) GetCompletion() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refresh()
	return e.completion
}

func (e *cachingEstimator) IsStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refresh()
	return e.success > 0 || e.fail > 0
}

func (e *cachingEstimator) IsCompleted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refresh()
	return e.completion >= 1.0
}

func (e *cachingEstimator) GetResultsSuccess() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refresh()
	return e.success
}

func (e *cachingEstimator) GetResultsFail() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refresh()
	return e.fail
}

func clamp(name string, ratio float64) float64 {
	switch {
	case math.IsNaN(ratio):
		log.WithField("estimator", name).Warn("Completion is not a number; reporting 0")
		return 0
	case ratio < 0:
		log.WithField("estimator", name).Warnf("Completion %.4f is below 0; reporting 0", ratio)
		return 0
	case ratio > 1:
		return 1
	}
	return ratio
}

// ratio returns actual/target, capping actual at target. Overshoot usually means the target was
// configured too low, so it is logged.
func ratio(name string, what string, actual int64, target int64) float64 {
	if target <= 0 {
		return 1.0
	}
	if actual > target {
		log.WithField("estimator", name).Warnf("The number of %s exceeds the target: %d exceeds %d", what, actual, target)
		actual = target
	}
	if actual < 0 {
		actual = 0
	}
	return float64(actual) / float64(target)
}
