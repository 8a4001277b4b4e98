// Package scenario turns the configured events into processors and event selectors.
package scenario

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/benchforge/bmdriver/internal/bm/configuration"
	"github.com/benchforge/bmdriver/internal/bm/processor"
	"github.com/benchforge/bmdriver/internal/bm/selector"
	"github.com/benchforge/bmdriver/internal/common/bmerrors"
	"github.com/benchforge/bmdriver/internal/common/util"
)

type Scenario struct {
	Registry  *processor.MapRegistry
	selectors map[string]selector.EventSelector
}

// Selector returns nil for events whose processor chooses its own successors.
func (s *Scenario) Selector(eventName string) selector.EventSelector {
	return s.selectors[eventName]
}

// Build registers a processor for every configured event, then creates their selectors. Every
// successor must name a configured event or noop.
func Build(events []configuration.EventConfig, sessions processor.SessionStarter, clock util.Clock, seed int64) (*Scenario, error) {
	s := &Scenario{
		Registry:  processor.NewMapRegistry(),
		selectors: map[string]selector.EventSelector{},
	}
	for _, event := range events {
		if _, exists := s.Registry.GetProcessor(event.Name); exists {
			return nil, errors.WithStack(&bmerrors.ErrAlreadyExists{Type: "event", Value: event.Name})
		}
		p, err := newProcessor(event, sessions, clock)
		if err != nil {
			return nil, err
		}
		s.Registry.Register(event.Name, p)
	}

	for i, event := range events {
		eventSeed := seed + int64(i)*7919
		var (
			eventSelector selector.EventSelector
			err           error
		)
		switch {
		case len(event.Routes) > 0:
			eventSelector, err = s.routedSelector(event, clock, eventSeed)
		case len(event.Successors) > 0:
			eventSelector, err = s.weightedSelector(event.Name, event.Successors, clock, eventSeed)
		default:
			continue
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "event %s", event.Name)
		}
		s.selectors[event.Name] = eventSelector
	}
	return s, nil
}

func newProcessor(event configuration.EventConfig, sessions processor.SessionStarter, clock util.Clock) (processor.Processor, error) {
	options := processor.DefaultOptions()
	if event.Options != nil {
		options = *event.Options
	}
	needsOutput := func() error {
		if event.OutputEvent == "" {
			return errors.WithStack(&bmerrors.ErrInvalidArgument{
				Name:    "OutputEvent",
				Value:   event.OutputEvent,
				Message: fmt.Sprintf("processor %s of event %s needs an output event", event.Processor, event.Name),
			})
		}
		return nil
	}

	switch event.Processor {
	case "nothing":
		return processor.NewDoNothing(event.Name, options), nil
	case "sleep":
		return processor.NewSleep(event.Name, options, event.Duration), nil
	case "terminate":
		return processor.NewTerminate(event.Name, options), nil
	case "redirect":
		if err := needsOutput(); err != nil {
			return nil, err
		}
		return processor.NewRedirect(event.Name, options, event.OutputEvent), nil
	case "raise":
		if err := needsOutput(); err != nil {
			return nil, err
		}
		return processor.NewRaiseEvents(event.Name, options, event.OutputEvent, event.Count, event.TimeBetween, clock), nil
	case "sessions":
		if err := needsOutput(); err != nil {
			return nil, err
		}
		return processor.NewCreateSessions(event.Name, options, event.OutputEvent, event.Count, event.TimeBetween, sessions, clock), nil
	}
	return nil, errors.WithStack(&bmerrors.ErrInvalidArgument{
		Name:    "Processor",
		Value:   event.Processor,
		Message: fmt.Sprintf("unknown processor for event %s", event.Name),
	})
}

func (s *Scenario) weightedSelector(name string, successors []selector.EventSuccessor, clock util.Clock, seed int64) (*selector.WeightedEventSelector, error) {
	weighted, err := selector.NewWeightedEventSelector(name, s.Registry, successors, clock, seed)
	if err != nil {
		return nil, err
	}
	if err := weighted.Validate(); err != nil {
		return nil, err
	}
	return weighted, nil
}

func (s *Scenario) routedSelector(event configuration.EventConfig, clock util.Clock, seed int64) (selector.EventSelector, error) {
	if event.RouteField == "" {
		return nil, errors.WithStack(&bmerrors.ErrInvalidArgument{Name: "RouteField", Value: "", Message: "routes need a route field"})
	}
	routes := maps.Keys(event.Routes)
	slices.Sort(routes)
	selectors := make([]selector.EventSelector, 0, len(routes))
	for i, route := range routes {
		routeSelector, err := s.weightedSelector(strings.ToLower(route), event.Routes[route], clock, seed+int64(i))
		if err != nil {
			return nil, errors.WithMessagef(err, "route %s", route)
		}
		selectors = append(selectors, routeSelector)
	}
	return selector.NewDataDependentEventSelector(event.Name, fieldRouter(event.RouteField), selectors...), nil
}

// fieldRouter routes on the value of one top level field of the response data. Route names are
// matched case-insensitively.
func fieldRouter(field string) selector.Router {
	return func(_ interface{}, response interface{}) (string, error) {
		values, err := asMap(response)
		if err != nil {
			return "", err
		}
		value, ok := values[field]
		if !ok {
			return "", errors.WithStack(&bmerrors.ErrNotFound{Type: "response field", Value: field})
		}
		return strings.ToLower(fmt.Sprint(value)), nil
	}
}

func asMap(data interface{}) (map[string]interface{}, error) {
	switch d := data.(type) {
	case map[string]interface{}:
		return d, nil
	case nil:
		return nil, errors.New("response has no data to route on")
	}
	raw, ok := data.(json.RawMessage)
	if !ok {
		var err error
		raw, err = json.Marshal(data)
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}
	values := map[string]interface{}{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, errors.Wrap(err, "response data is not an object")
	}
	return values, nil
}
