package selector

import (
	"github.com/pkg/errors"

	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/common/bmerrors"
)

// Router returns the name of the selector that chooses the next event for the given input and response.
type Router func(input interface{}, response interface{}) (string, error)

// DataDependentEventSelector delegates to one of several named selectors, chosen by inspecting the event chain's data.
type DataDependentEventSelector struct {
	name      string
	router    Router
	selectors map[string]EventSelector
}

func NewDataDependentEventSelector(name string, router Router, selectors ...EventSelector) *DataDependentEventSelector {
	byName := make(map[string]EventSelector, len(selectors))
	for _, s := range selectors {
		byName[s.Name()] = s
	}
	return &DataDependentEventSelector{name: name, router: router, selectors: byName}
}

func (s *DataDependentEventSelector) Name() string {
	return s.name
}

func (s *DataDependentEventSelector) NextEvent(input interface{}, response interface{}) (*domain.Event, error) {
	route, err := s.router(input, response)
	if err != nil {
		return nil, errors.WithMessagef(err, "error routing event selector %q", s.name)
	}
	selector, ok := s.selectors[route]
	if !ok {
		return nil, errors.WithStack(&bmerrors.ErrNotFound{Type: "event selector", Value: route, Message: "referenced by " + s.name})
	}
	return selector.NextEvent(input, response)
}

// GetNamedEventSelector returns nil if there is no selector with this name.
func (s *DataDependentEventSelector) GetNamedEventSelector(name string) EventSelector {
	return s.selectors[name]
}

func (s *DataDependentEventSelector) Size() int {
	size := 0
	for _, selector := range s.selectors {
		size += selector.Size()
	}
	return size
}
