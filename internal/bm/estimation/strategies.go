package estimation

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/common/bmerrors"
	"github.com/benchforge/bmdriver/internal/common/util"
)

type FirstResultCounter interface {
	OutcomeCounter
	GetFirstResult() (*domain.EventRecord, error)
}

// ElapsedTimeEstimator measures completion as the time since the first result over the configured duration.
type ElapsedTimeEstimator struct {
	*cachingEstimator
}

func NewElapsedTimeEstimator(results FirstResultCounter, duration time.Duration, options Options) *ElapsedTimeEstimator {
	options = options.withDefaults()
	clock := options.Clock
	return &ElapsedTimeEstimator{
		cachingEstimator: newCachingEstimator("elapsed", results, options, func() (float64, error) {
			first, err := results.GetFirstResult()
			if err != nil {
				return 0, err
			}
			if first == nil {
				return 0, nil
			}
			if duration <= 0 {
				return 1, nil
			}
			elapsed := util.Millis(clock.Now()) - first.StartTime
			completion := float64(elapsed) / float64(duration.Milliseconds())
			log.WithField("estimator", "elapsed").Debugf("Test run is %3.2f%% complete", completion*100)
			return completion, nil
		}),
	}
}

type EventResultCounter interface {
	OutcomeCounter
	CountResultsByEventName(eventName string) (int64, error)
}

// EventCountEstimator measures completion as the number of results of one event over a target count.
type EventCountEstimator struct {
	*cachingEstimator
}

func NewEventCountEstimator(results EventResultCounter, eventName string, target int64, options Options) *EventCountEstimator {
	name := fmt.Sprintf("events(%s)", eventName)
	return &EventCountEstimator{
		cachingEstimator: newCachingEstimator(name, results, options, func() (float64, error) {
			if target <= 0 {
				return 1, nil
			}
			count, err := results.CountResultsByEventName(eventName)
			if err != nil {
				return 0, err
			}
			return ratio(name, fmt.Sprintf("results for event '%s'", eventName), count, target), nil
		}),
	}
}

type CompletedSessionCounter interface {
	CompletedSessionsCount() (int64, error)
}

// SessionCountEstimator measures completion as the number of completed sessions over a target count.
type SessionCountEstimator struct {
	*cachingEstimator
}

func NewSessionCountEstimator(results OutcomeCounter, sessions CompletedSessionCounter, target int64, options Options) *SessionCountEstimator {
	return &SessionCountEstimator{
		cachingEstimator: newCachingEstimator("sessions", results, options, func() (float64, error) {
			if target <= 0 {
				return 1, nil
			}
			count, err := sessions.CompletedSessionsCount()
			if err != nil {
				return 0, err
			}
			return ratio("sessions", "completed sessions", count, target), nil
		}),
	}
}

type TotalResultCounter interface {
	OutcomeCounter
	CountResults() (int64, error)
}

type EventCounter interface {
	Count() (int64, error)
}

// UnknownEstimator is used when nothing better is known about the run: it is complete once there
// are results and no events are left.
type UnknownEstimator struct {
	*cachingEstimator
}

func NewUnknownEstimator(results TotalResultCounter, events EventCounter, options Options) *UnknownEstimator {
	return &UnknownEstimator{
		cachingEstimator: newCachingEstimator("unknown", results, options, func() (float64, error) {
			count, err := results.CountResults()
			if err != nil || count == 0 {
				return 0, err
			}
			remaining, err := events.Count()
			if err != nil {
				return 0, err
			}
			if remaining == 0 {
				return 1, nil
			}
			return 0, nil
		}),
	}
}

// CompoundEstimator reports the highest completion of its estimators. Result counts are read once
// for the compound rather than once per child.
type CompoundEstimator struct {
	*cachingEstimator
	estimators []CompletionEstimator
}

func NewCompoundEstimator(results OutcomeCounter, estimators []CompletionEstimator, options Options) (*CompoundEstimator, error) {
	if len(estimators) == 0 {
		return nil, errors.WithStack(&bmerrors.ErrInvalidArgument{
			Name:    "estimators",
			Value:   estimators,
			Message: "a compound estimator needs at least one estimator",
		})
	}
	children := append([]CompletionEstimator{}, estimators...)
	return &CompoundEstimator{
		estimators: children,
		cachingEstimator: newCachingEstimator("compound", results, options, func() (float64, error) {
			max := 0.0
			for _, estimator := range children {
				if completion := estimator.GetCompletion(); completion > max {
					max = completion
				}
			}
			log.WithField("estimator", "compound").Debugf("Test run is %3.2f%% complete", max*100)
			return max, nil
		}),
	}, nil
}

func (e *CompoundEstimator) Estimators() []CompletionEstimator {
	return e.estimators
}
