// Package processor defines the work bound to an event name and the registry used to look it up.
package processor

import (
	"context"
	"time"

	"github.com/benchforge/bmdriver/internal/bm/domain"
)

// Options controls how the outcome of a processor is handled.
type Options struct {
	// WarnDelay is the execution time above which the result is recorded with a warning.
	WarnDelay time.Duration
	// Chart marks results of this processor for inclusion in charts.
	Chart bool
	// AutoCloseSessionId ends the session when no successor carries it on.
	AutoCloseSessionId bool
	// AutoPropagateSessionId hands the session on when the processor produces exactly one successor.
	AutoPropagateSessionId bool
	// PersistResponse records the full response rather than only its message.
	PersistResponse bool
}

func DefaultOptions() Options {
	return Options{
		WarnDelay:              time.Second,
		Chart:                  true,
		AutoCloseSessionId:     true,
		AutoPropagateSessionId: true,
	}
}

// Response is what a processor reports after handling an event.
type Response struct {
	Success bool
	Message string
	// Data is the JSON serializable response payload, passed on to the event selector.
	Data interface{}
	// PersistAsString records the response as "<message> : <json data>" rather than as a JSON object.
	PersistAsString bool
	// NextEvents are successors chosen by the processor itself. They are only used when no
	// event selector is configured for the event.
	NextEvents []*domain.Event
}

func Success(message string, data interface{}, nextEvents ...*domain.Event) *Response {
	return &Response{Success: true, Message: message, Data: data, NextEvents: nextEvents}
}

func Failure(message string, data interface{}) *Response {
	return &Response{Success: false, Message: message, Data: data}
}

// Processor executes events of one name.
type Processor interface {
	Name() string
	Options() Options
	ProcessEvent(ctx context.Context, event *domain.Event) (*Response, error)
}

// DataStatus reports whether a DataCreator could produce input for the next event.
type DataStatus int

const (
	StatusSuccess DataStatus = iota
	StatusInvalidInput
	StatusInputNotAvailable
)

func (s DataStatus) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidInput:
		return "INVALIDINPUT"
	case StatusInputNotAvailable:
		return "INPUT_NOT_AVAILABLE"
	}
	return "UNKNOWN"
}

type DataObject struct {
	Status DataStatus
	Data   interface{}
}

// DataCreator is implemented by processors that build their own input from the previous event
// and the response it produced.
type DataCreator interface {
	CreateData(input interface{}, response interface{}) DataObject
}

// Base carries the name and options shared by all processors.
type Base struct {
	name    string
	options Options
}

func NewBase(name string, options Options) Base {
	return Base{name: name, options: options}
}

func (b Base) Name() string {
	return b.name
}

func (b Base) Options() Options {
	return b.options
}
