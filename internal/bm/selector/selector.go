// Package selector chooses the event that follows a processed event.
package selector

import (
	"encoding/json"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/bm/processor"
	"github.com/benchforge/bmdriver/internal/common/bmerrors"
	"github.com/benchforge/bmdriver/internal/common/util"
)

type EventSelector interface {
	Name() string
	// NextEvent returns the event following an event that had input as data and produced response.
	// A nil event ends the chain.
	NextEvent(input interface{}, response interface{}) (*domain.Event, error)
	// Size is the number of successors the selector can choose from.
	Size() int
}

// eventFactory turns the name chosen by a selector into an event.
type eventFactory struct {
	name     string
	registry processor.Registry
	clock    util.Clock
}

func (f *eventFactory) Name() string {
	return f.name
}

func (f *eventFactory) createEvent(successor EventSuccessor, input interface{}, response interface{}) (*domain.Event, error) {
	if processor.IsNoop(successor.EventName) {
		return nil, nil
	}
	p, ok := f.registry.GetProcessor(successor.EventName)
	if !ok {
		return nil, errors.WithStack(&bmerrors.ErrUnknownEvent{EventName: successor.EventName, Selector: f.name})
	}

	data := response
	if creator, ok := p.(processor.DataCreator); ok {
		created := creator.CreateData(input, response)
		if created.Status != processor.StatusSuccess {
			log.WithField("selector", f.name).Debugf("No '%s' event created: %s", successor.EventName, created.Status)
			return nil, nil
		}
		data = created.Data
	}

	event := &domain.Event{
		Name:          successor.EventName,
		ScheduledTime: util.Millis(f.clock.Now().Add(successor.Delay)),
	}
	setData(event, data)
	return event, nil
}

// validate checks that every successor is either bound to a processor or ends the chain.
func (f *eventFactory) validate(successors []EventSuccessor) error {
	for _, successor := range successors {
		if processor.IsNoop(successor.EventName) {
			continue
		}
		if _, ok := f.registry.GetProcessor(successor.EventName); !ok {
			return errors.WithStack(&bmerrors.ErrUnknownEvent{EventName: successor.EventName, Selector: f.name})
		}
	}
	return nil
}

// setData stores data as the transportable payload if it can be encoded as JSON, and as
// a local payload otherwise.
func setData(event *domain.Event, data interface{}) {
	switch d := data.(type) {
	case nil:
	case json.RawMessage:
		event.Data = d
	case []byte:
		if json.Valid(d) {
			event.Data = d
		} else {
			event.LocalData = d
		}
	default:
		raw, err := json.Marshal(d)
		if err != nil {
			event.LocalData = d
			return
		}
		event.Data = raw
	}
}
