package selector

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/bm/processor"
	"github.com/benchforge/bmdriver/internal/common/bmerrors"
	"github.com/benchforge/bmdriver/internal/common/util"
)

// WeightedEventSelector picks the next event at random from a fixed set of weighted successors.
type WeightedEventSelector struct {
	eventFactory
	successors []EventSuccessor
	selector   *RandomWeightedSelector[EventSuccessor]
}

func NewWeightedEventSelector(name string, registry processor.Registry, successors []EventSuccessor, clock util.Clock, seed int64) (*WeightedEventSelector, error) {
	selector := NewRandomWeightedSelector[EventSuccessor](util.NewThreadsafeRand(seed))
	for _, successor := range successors {
		if successor.EventName == "" {
			return nil, invalidSuccessor(successor.String(), "event name is empty")
		}
		if !isFinite(successor.Weight) {
			return nil, invalidSuccessor(successor.String(), "weighting must be a finite number")
		}
		selector.Add(successor.Weight, successor)
	}
	if selector.Size() == 0 {
		return nil, errors.WithStack(&bmerrors.ErrInvalidArgument{
			Name:    "successors",
			Value:   fmt.Sprint(successors),
			Message: fmt.Sprintf("event selector %q has no successor with a positive weight", name),
		})
	}
	return &WeightedEventSelector{
		eventFactory: eventFactory{name: name, registry: registry, clock: clock},
		successors:   successors,
		selector:     selector,
	}, nil
}

func (s *WeightedEventSelector) NextEvent(input interface{}, response interface{}) (*domain.Event, error) {
	successor, ok := s.selector.Next()
	if !ok {
		return nil, nil
	}
	return s.createEvent(successor, input, response)
}

func (s *WeightedEventSelector) Size() int {
	return s.selector.Size()
}

// Validate returns *bmerrors.ErrUnknownEvent if a successor isn't bound to any processor.
func (s *WeightedEventSelector) Validate() error {
	return s.validate(s.successors)
}
