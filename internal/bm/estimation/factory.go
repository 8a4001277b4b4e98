package estimation

import (
	"time"

	"github.com/pkg/errors"

	"github.com/benchforge/bmdriver/internal/common/bmerrors"
)

type Type string

const (
	Elapsed  Type = "elapsed"
	Events   Type = "events"
	Sessions Type = "sessions"
	Unknown  Type = "unknown"
)

// Config selects one completion strategy.
type Config struct {
	Type Type `validate:"oneof=elapsed events sessions unknown"`
	// Duration of the run, used by Elapsed.
	Duration time.Duration
	// EventName whose results are counted by Events.
	EventName string
	// Target count of results (Events) or completed sessions (Sessions).
	Target int64
}

// Counters provides every counter any strategy may read.
type Counters interface {
	FirstResultCounter
	EventResultCounter
	TotalResultCounter
	CompletedSessionCounter
	EventCounter
}

// New builds the estimator for configs. No configs selects Unknown; several are combined in a CompoundEstimator.
func New(configs []Config, counters Counters, options Options) (CompletionEstimator, error) {
	if len(configs) == 0 {
		return NewUnknownEstimator(counters, counters, options), nil
	}
	estimators := make([]CompletionEstimator, 0, len(configs))
	for _, config := range configs {
		estimator, err := newEstimator(config, counters, options)
		if err != nil {
			return nil, err
		}
		estimators = append(estimators, estimator)
	}
	if len(estimators) == 1 {
		return estimators[0], nil
	}
	return NewCompoundEstimator(counters, estimators, options)
}

func newEstimator(config Config, counters Counters, options Options) (CompletionEstimator, error) {
	switch config.Type {
	case Elapsed:
		return NewElapsedTimeEstimator(counters, config.Duration, options), nil
	case Events:
		if config.EventName == "" {
			return nil, errors.WithStack(&bmerrors.ErrInvalidArgument{
				Name:    "EventName",
				Value:   config.EventName,
				Message: "event count completion needs an event name",
			})
		}
		return NewEventCountEstimator(counters, config.EventName, config.Target, options), nil
	case Sessions:
		return NewSessionCountEstimator(counters, counters, config.Target, options), nil
	case Unknown:
		return NewUnknownEstimator(counters, counters, options), nil
	}
	return nil, errors.WithStack(&bmerrors.ErrInvalidArgument{
		Name:    "Type",
		Value:   config.Type,
		Message: "unknown completion estimator type",
	})
}
