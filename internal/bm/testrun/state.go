// Package testrun drives the lifecycle of a test run.
package testrun

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/bm/repository"
	"github.com/benchforge/bmdriver/internal/common/bmerrors"
	"github.com/benchforge/bmdriver/internal/common/util"
)

// maxTransitionAttempts bounds retries when another driver changes the state concurrently.
const maxTransitionAttempts = 10

var transitions = map[domain.TestRunState][]domain.TestRunState{
	domain.NotScheduled: {domain.NotScheduled, domain.Scheduled},
	domain.Scheduled:    {domain.NotScheduled, domain.Scheduled, domain.Started, domain.Stopped},
	domain.Started:      {domain.Started, domain.Stopped, domain.Completed},
	domain.Stopped:      {domain.Stopped},
	domain.Completed:    {domain.Completed},
}

func CanTransition(from domain.TestRunState, to domain.TestRunState) bool {
	return slices.Contains(transitions[from], to)
}

// Transition returns to if the lifecycle allows moving there from from.
func Transition(from domain.TestRunState, to domain.TestRunState) (domain.TestRunState, error) {
	if !CanTransition(from, to) {
		return from, errors.WithStack(&bmerrors.ErrInvalidTransition{From: string(from), To: string(to)})
	}
	return to, nil
}

// StateMachine moves a persisted test run between states. Transitions are checked against the
// lifecycle and applied with a compare-and-set, so concurrent drivers can't skip a check.
type StateMachine struct {
	repo  repository.RunStateRepository
	clock util.Clock
	mu    sync.Mutex
}

func NewStateMachine(repo repository.RunStateRepository, clock util.Clock) *StateMachine {
	return &StateMachine{repo: repo, clock: clock}
}

func (m *StateMachine) State() (domain.TestRunState, error) {
	return m.repo.GetState()
}

// Transition moves the run to next and returns the state it left. On failure the stored state is unchanged.
func (m *StateMachine) Transition(next domain.TestRunState) (domain.TestRunState, error) {
	return m.transition(next, func(current domain.TestRunState) (bool, error) {
		return m.repo.CompareAndSetState(current, next)
	})
}

// Schedule moves the run to SCHEDULED together with its start time, so no reader sees one without the other.
func (m *StateMachine) Schedule(at time.Time) error {
	_, err := m.transition(domain.Scheduled, func(current domain.TestRunState) (bool, error) {
		return m.repo.CompareAndSchedule(current, util.Millis(at))
	})
	return err
}

func (m *StateMachine) transition(next domain.TestRunState, swap func(current domain.TestRunState) (bool, error)) (domain.TestRunState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		current, err := m.repo.GetState()
		if err != nil {
			return "", err
		}
		if _, err := Transition(current, next); err != nil {
			return current, err
		}
		swapped, err := swap(current)
		if err != nil {
			return current, err
		}
		if swapped {
			if current != next {
				log.Infof("Test run moved from %s to %s", current, next)
			}
			return current, nil
		}
	}
	return "", errors.Errorf("state of test run kept changing while moving to %s", next)
}

// Scheduled returns the scheduled start of the run; ok is false if it was never scheduled.
func (m *StateMachine) Scheduled() (at time.Time, ok bool, err error) {
	scheduled, err := m.repo.GetScheduled()
	if err != nil || scheduled == 0 {
		return time.Time{}, false, err
	}
	return util.FromMillis(scheduled), true, nil
}
