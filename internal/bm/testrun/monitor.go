package testrun

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/bm/estimation"
	"github.com/benchforge/bmdriver/internal/common/bmerrors"
	"github.com/benchforge/bmdriver/internal/common/util"
)

type MonitorConfig struct {
	CheckPeriod time.Duration `validate:"gt=0"`
	// MaxTestTime is measured from the scheduled start. Zero disables the limit.
	MaxTestTime time.Duration
	// StartGracePeriod is how long after its scheduled start a run may still be SCHEDULED.
	StartGracePeriod time.Duration
	// InactivityWindow is how long the result counters may stay unchanged. Zero disables the check.
	InactivityWindow time.Duration
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		CheckPeriod:      time.Second,
		MaxTestTime:      300000 * time.Millisecond,
		StartGracePeriod: 10 * time.Second,
		InactivityWindow: 60 * time.Second,
	}
}

// Monitor starts a scheduled run when its time comes, completes it once the estimator says so and
// stops it when the watchdog sees it stuck.
type Monitor struct {
	config    MonitorConfig
	machine   *StateMachine
	estimator estimation.CompletionEstimator
	clock     util.Clock

	progress       int64
	lastProgressAt time.Time
}

func NewMonitor(config MonitorConfig, machine *StateMachine, estimator estimation.CompletionEstimator, clock util.Clock) *Monitor {
	return &Monitor{
		config:    config,
		machine:   machine,
		estimator: estimator,
		clock:     clock,
		progress:  -1,
	}
}

// Run checks the run every CheckPeriod until it ends. It returns *bmerrors.ErrRunTimeout if the
// watchdog stopped the run.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.CheckPeriod)
	defer ticker.Stop()
	for {
		done, err := m.Check()
		if err != nil || done {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Check performs one round of monitoring and reports whether the run has ended.
func (m *Monitor) Check() (bool, error) {
	state, err := m.machine.State()
	if err != nil {
		return false, m.recoverable(err)
	}
	now := m.clock.Now()

	switch state {
	case domain.NotScheduled:
		return false, nil
	case domain.Scheduled:
		return false, m.checkScheduled(now)
	case domain.Started:
		return m.checkStarted(now)
	default:
		return true, nil
	}
}

func (m *Monitor) checkScheduled(now time.Time) error {
	scheduled, ok, err := m.machine.Scheduled()
	if err != nil {
		return m.recoverable(err)
	}
	if !ok || now.Before(scheduled) {
		return nil
	}
	_, err = m.machine.Transition(domain.Started)
	var invalid *bmerrors.ErrInvalidTransition
	if err == nil || errors.As(err, &invalid) {
		// Another driver moved the run on; the next check sees where to.
		return nil
	}
	if late := now.Sub(scheduled); late >= m.config.StartGracePeriod {
		return m.stop("failed to start", late)
	}
	return m.recoverable(err)
}

func (m *Monitor) checkStarted(now time.Time) (bool, error) {
	if m.estimator.IsCompleted() {
		_, err := m.machine.Transition(domain.Completed)
		var invalid *bmerrors.ErrInvalidTransition
		if err != nil && !errors.As(err, &invalid) {
			return false, m.recoverable(err)
		}
		log.Infof("Test run completed (%d succeeded, %d failed)", m.estimator.GetResultsSuccess(), m.estimator.GetResultsFail())
		return true, nil
	}

	if m.config.MaxTestTime > 0 {
		scheduled, ok, err := m.machine.Scheduled()
		if err != nil {
			return false, m.recoverable(err)
		}
		if ok && now.Sub(scheduled) > m.config.MaxTestTime {
			return true, m.stop("exceeded the maximum test time", now.Sub(scheduled))
		}
	}

	progress := m.estimator.GetResultsSuccess() + m.estimator.GetResultsFail()
	if progress != m.progress {
		m.progress = progress
		m.lastProgressAt = now
	}
	if idle := now.Sub(m.lastProgressAt); m.config.InactivityWindow > 0 && idle >= m.config.InactivityWindow {
		return true, m.stop("made no progress", idle)
	}
	return false, nil
}

func (m *Monitor) stop(reason string, elapsed time.Duration) error {
	timeout := &bmerrors.ErrRunTimeout{Reason: reason, Elapsed: elapsed}
	log.WithError(timeout).Error("Stopping test run")
	if _, err := m.machine.Transition(domain.Stopped); err != nil {
		log.WithError(err).Warn("Failed to stop test run")
	}
	return errors.WithStack(timeout)
}

// recoverable swallows store outages, which are retried on the next check.
func (m *Monitor) recoverable(err error) error {
	if bmerrors.IsRetryable(err) {
		log.WithError(err).Warn("Test run check failed; retrying")
		return nil
	}
	return err
}
