// Package work executes a single claimed event from start to finish.
package work

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"

	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/bm/logservice"
	"github.com/benchforge/bmdriver/internal/bm/processor"
	"github.com/benchforge/bmdriver/internal/bm/selector"
	"github.com/benchforge/bmdriver/internal/common/bmerrors"
	"github.com/benchforge/bmdriver/internal/common/util"
)

type EventStore interface {
	PutEvent(event *domain.Event) (string, error)
	DeleteEvent(id string) (bool, error)
}

type SessionTracker interface {
	StartSession(data string) (string, error)
	EndSession(id string) error
	GetSessionStartTime(id string) (int64, error)
	GetSessionEndTime(id string) (int64, error)
}

type ResultRecorder interface {
	RecordResult(record *domain.EventRecord) error
}

// SelectorLookup returns the selector choosing successors of the named event, or nil if the
// processor of that event chooses its own successors.
type SelectorLookup func(eventName string) selector.EventSelector

type Config struct {
	DriverId string
	// MaxSessionTime is the age after which a session's chain is no longer continued. Zero disables the limit.
	MaxSessionTime time.Duration
}

// EventWork runs claimed events through their processor, continues or ends their session, records
// the outcome and publishes successors. It is safe for concurrent use; each call to Process handles
// one event.
type EventWork struct {
	config    Config
	registry  processor.Registry
	selectors SelectorLookup
	events    EventStore
	sessions  SessionTracker
	results   ResultRecorder
	log       *logservice.RunLog
	clock     util.Clock
}

func NewEventWork(
	config Config,
	registry processor.Registry,
	selectors SelectorLookup,
	events EventStore,
	sessions SessionTracker,
	results ResultRecorder,
	log *logservice.RunLog,
	clock util.Clock,
) *EventWork {
	return &EventWork{
		config:    config,
		registry:  registry,
		selectors: selectors,
		events:    events,
		sessions:  sessions,
		results:   results,
		log:       log,
		clock:     clock,
	}
}

// Outcome summarises one processed event.
type Outcome struct {
	Record     *domain.EventRecord
	Successors int
}

// Process executes event, which must already have been claimed by this driver.
// Processing failures are recorded rather than returned. The returned error is only set for
// failures that indicate a configuration or logic problem, such as a successor event without a processor
// or an unknown session.
func (w *EventWork) Process(ctx context.Context, event *domain.Event) (*Outcome, error) {
	p := processor.Resolve(w.registry, event.Name)
	options := p.Options()
	start := w.clock.Now()
	startMillis := util.Millis(start)

	var reportErr error

	session, err := w.resolveSession(event)
	if err != nil {
		reportErr = err
	}

	var response *processor.Response
	var processErr error
	if err == nil {
		response, processErr = invoke(ctx, p, event)
	} else {
		processErr = err
	}
	duration := w.clock.Now().Sub(start)

	successors, err := w.successors(event, session, response, processErr)
	if err != nil && reportErr == nil {
		reportErr = err
	}

	propagate := session != nil && options.AutoPropagateSessionId && len(successors) == 1 &&
		(successors[0].SessionId == "" || successors[0].SessionId == session.Id)
	if session != nil && session.IsActive() && !propagate && !continuesSession(successors, session.Id) &&
		(len(successors) == 0 || options.AutoCloseSessionId || ownSessions(successors)) {
		w.endSession(session.Id)
	}

	record := w.record(event, startMillis, duration, options, response, processErr)
	if err := w.results.RecordResult(record); err != nil {
		w.log.Errorf("Failed to record result of event %s (%s): %v", event.Id, event.Name, err)
	}

	published := 0
	for _, next := range successors {
		if propagate && next.SessionId == "" && session != nil {
			next.SessionId = session.Id
		}
		if _, err := w.events.PutEvent(next); err != nil {
			w.log.Errorf("Failed to publish event '%s' following event %s: %v", next.Name, event.Id, err)
			continue
		}
		published++
	}
	if _, err := w.events.DeleteEvent(event.Id); err != nil {
		w.log.Warnf("Failed to delete processed event %s: %v", event.Id, err)
	}

	return &Outcome{Record: record, Successors: published}, reportErr
}

func continuesSession(successors []*domain.Event, sessionId string) bool {
	for _, next := range successors {
		if next.SessionId == sessionId {
			return true
		}
	}
	return false
}

// ownSessions reports whether every successor is bound to a session of its own.
func ownSessions(successors []*domain.Event) bool {
	for _, next := range successors {
		if next.SessionId == "" {
			return false
		}
	}
	return true
}

func (w *EventWork) resolveSession(event *domain.Event) (*domain.SessionData, error) {
	if event.SessionId == "" {
		id, err := w.sessions.StartSession("")
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to start session for event %s", event.Id)
		}
		event.SessionId = id
		return &domain.SessionData{Id: id, StartTime: util.Millis(w.clock.Now()), EndTime: domain.SessionActive}, nil
	}
	startTime, err := w.sessions.GetSessionStartTime(event.SessionId)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load session of event %s", event.Id)
	}
	endTime, err := w.sessions.GetSessionEndTime(event.SessionId)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load session of event %s", event.Id)
	}
	return &domain.SessionData{Id: event.SessionId, StartTime: startTime, EndTime: endTime}, nil
}

func (w *EventWork) successors(event *domain.Event, session *domain.SessionData, response *processor.Response, processErr error) ([]*domain.Event, error) {
	switch {
	case processErr != nil:
		w.log.Warnf("Processing of event %s (%s) failed: %v", event.Id, event.Name, processErr)
		return nil, nil
	case response == nil:
		w.log.Warnf("Response is null for event %s (%s)", event.Id, event.Name)
		return nil, nil
	case session == nil:
		return nil, nil
	case session.EndTime > 0:
		w.log.Debugf("Session %s of event %s already ended; no further events", session.Id, event.Id)
		return nil, nil
	case w.expired(session):
		w.log.Debugf("Session %s of event %s exceeded %s; no further events", session.Id, event.Id, w.config.MaxSessionTime)
		return nil, nil
	}

	eventSelector := w.selectors(event.Name)
	if eventSelector == nil {
		return response.NextEvents, nil
	}
	if !response.Success {
		return nil, nil
	}
	next, err := eventSelector.NextEvent(event.Payload(), response.Data)
	if err != nil {
		w.log.Errorf("Event selector of '%s' failed: %v", event.Name, err)
		return nil, err
	}
	if next == nil {
		return nil, nil
	}
	return []*domain.Event{next}, nil
}

func (w *EventWork) expired(session *domain.SessionData) bool {
	if w.config.MaxSessionTime <= 0 {
		return false
	}
	return util.Millis(w.clock.Now()) >= session.StartTime+w.config.MaxSessionTime.Milliseconds()
}

func (w *EventWork) endSession(id string) {
	err := w.sessions.EndSession(id)
	var ended *bmerrors.ErrSessionEnded
	switch {
	case err == nil:
	case errors.As(err, &ended):
		w.log.Warnf("Session %s was already ended: %v", id, err)
	default:
		w.log.Errorf("Failed to end session %s: %v", id, err)
	}
}

func (w *EventWork) record(event *domain.Event, start int64, duration time.Duration, options processor.Options, response *processor.Response, processErr error) *domain.EventRecord {
	record := &domain.EventRecord{
		DriverId:   w.config.DriverId,
		Success:    processErr == nil && response != nil && response.Success,
		StartTime:  start,
		StartDelay: start - event.ScheduledTime,
		Duration:   duration.Milliseconds(),
		Chart:      options.Chart,
		Event:      event.Copy(),
	}
	if options.WarnDelay > 0 && duration > options.WarnDelay {
		record.Warning = fmt.Sprintf("Event processing exceeded warning threshold by %dms.", (duration - options.WarnDelay).Milliseconds())
	}

	var data interface{}
	switch {
	case processErr != nil:
		data = processErr.Error()
	case response == nil:
		data = "Response is null"
	case options.PersistResponse:
		data = persistableResponse(response)
	default:
		data = response.Message
	}
	raw, err := json.Marshal(data)
	if err != nil {
		raw, _ = json.Marshal(fmt.Sprintf("%s : unserializable response of type %T", response.Message, response.Data))
	}
	record.Data = raw
	return record
}

type persistedResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func persistableResponse(response *processor.Response) interface{} {
	if !response.PersistAsString {
		return &persistedResponse{Success: response.Success, Message: response.Message, Data: response.Data}
	}
	data, err := json.Marshal(response.Data)
	if err != nil {
		data = []byte(fmt.Sprintf("%q", fmt.Sprint(response.Data)))
	}
	if response.Message == "" {
		return string(data)
	}
	return response.Message + " : " + string(data)
}

// invoke runs the processor, converting a panic into an error.
func invoke(ctx context.Context, p processor.Processor, event *domain.Event) (response *processor.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("processor of '%s' panicked: %v\n%s", event.Name, r, debug.Stack())
			response = nil
		}
	}()
	return p.ProcessEvent(ctx, event)
}
