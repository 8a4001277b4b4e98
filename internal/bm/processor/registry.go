package processor

import (
	"strings"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// NoopEventName ends an event chain when chosen as a successor.
const NoopEventName = "noop"

// IsNoop returns true for successor names that end the chain.
func IsNoop(eventName string) bool {
	return eventName == "" || strings.EqualFold(eventName, NoopEventName)
}

type Registry interface {
	// GetProcessor returns the processor bound to eventName and whether there is one.
	GetProcessor(eventName string) (Processor, bool)
	EventNames() []string
}

// MapRegistry is a Registry that can be modified while in use.
type MapRegistry struct {
	mu         sync.RWMutex
	processors map[string]Processor
}

func NewMapRegistry() *MapRegistry {
	return &MapRegistry{processors: map[string]Processor{}}
}

// Register binds processor to eventName, replacing any previous binding.
func (r *MapRegistry) Register(eventName string, processor Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[eventName] = processor
}

func (r *MapRegistry) GetProcessor(eventName string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[eventName]
	return p, ok
}

func (r *MapRegistry) EventNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := maps.Keys(r.processors)
	slices.Sort(names)
	return names
}

// Resolve returns the processor for eventName, falling back to one that fails every event.
func Resolve(registry Registry, eventName string) Processor {
	if p, ok := registry.GetProcessor(eventName); ok {
		return p
	}
	return NewUnknown(eventName)
}
