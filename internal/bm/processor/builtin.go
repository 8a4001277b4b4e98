package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/common/util"
)

type DoNothing struct {
	Base
}

func NewDoNothing(name string, options Options) *DoNothing {
	return &DoNothing{Base: NewBase(name, options)}
}

func (p *DoNothing) ProcessEvent(_ context.Context, _ *domain.Event) (*Response, error) {
	return Success("Did nothing", nil), nil
}

// Unknown is used for events that have no processor bound to them. Every event fails.
type Unknown struct {
	Base
}

func NewUnknown(eventName string) *Unknown {
	return &Unknown{Base: NewBase(eventName, DefaultOptions())}
}

func (p *Unknown) ProcessEvent(_ context.Context, event *domain.Event) (*Response, error) {
	return Failure(fmt.Sprintf("No processor bound to event '%s'", event.Name), nil), nil
}

// Sleep waits for a fixed time and succeeds, passing its input on unchanged.
type Sleep struct {
	Base
	duration time.Duration
}

func NewSleep(name string, options Options, duration time.Duration) *Sleep {
	return &Sleep{Base: NewBase(name, options), duration: duration}
}

func (p *Sleep) ProcessEvent(ctx context.Context, event *domain.Event) (*Response, error) {
	select {
	case <-time.After(p.duration):
		return Success(fmt.Sprintf("Slept for %s", p.duration), event.Payload()), nil
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

// Terminate ends the event chain.
type Terminate struct {
	Base
}

func NewTerminate(name string, options Options) *Terminate {
	return &Terminate{Base: NewBase(name, options)}
}

func (p *Terminate) ProcessEvent(_ context.Context, _ *domain.Event) (*Response, error) {
	return Success("Terminated event chain", nil), nil
}

// Redirect renames an event, keeping its data and session.
type Redirect struct {
	Base
	outputEvent string
}

func NewRedirect(name string, options Options, outputEvent string) *Redirect {
	return &Redirect{Base: NewBase(name, options), outputEvent: outputEvent}
}

func (p *Redirect) ProcessEvent(_ context.Context, event *domain.Event) (*Response, error) {
	next := &domain.Event{
		Name:          p.outputEvent,
		ScheduledTime: event.ScheduledTime,
		Data:          event.Data,
		LocalData:     event.LocalData,
	}
	return Success(fmt.Sprintf("Redirected to '%s'", p.outputEvent), nil, next), nil
}

// RaiseEvents publishes a number of events of one name, spaced out in time.
type RaiseEvents struct {
	Base
	outputEvent string
	count       int
	timeBetween time.Duration
	clock       util.Clock
}

func NewRaiseEvents(name string, options Options, outputEvent string, count int, timeBetween time.Duration, clock util.Clock) *RaiseEvents {
	return &RaiseEvents{
		Base:        NewBase(name, options),
		outputEvent: outputEvent,
		count:       count,
		timeBetween: timeBetween,
		clock:       clock,
	}
}

func (p *RaiseEvents) ProcessEvent(_ context.Context, event *domain.Event) (*Response, error) {
	now := util.Millis(p.clock.Now())
	next := make([]*domain.Event, 0, p.count)
	for i := 0; i < p.count; i++ {
		next = append(next, &domain.Event{
			Name:          p.outputEvent,
			ScheduledTime: now + int64(i)*p.timeBetween.Milliseconds(),
			Data:          event.Data,
		})
	}
	return Success(fmt.Sprintf("Raised %d '%s' events", p.count, p.outputEvent), nil, next...), nil
}

// SessionStarter starts sessions on behalf of CreateSessions.
type SessionStarter interface {
	StartSession(data string) (string, error)
}

// CreateSessions starts a number of sessions up front and publishes the first event of each,
// spaced out in time.
type CreateSessions struct {
	Base
	outputEvent string
	count       int
	timeBetween time.Duration
	sessions    SessionStarter
	clock       util.Clock
}

func NewCreateSessions(name string, options Options, outputEvent string, count int, timeBetween time.Duration, sessions SessionStarter, clock util.Clock) *CreateSessions {
	return &CreateSessions{
		Base:        NewBase(name, options),
		outputEvent: outputEvent,
		count:       count,
		timeBetween: timeBetween,
		sessions:    sessions,
		clock:       clock,
	}
}

func (p *CreateSessions) ProcessEvent(_ context.Context, event *domain.Event) (*Response, error) {
	now := util.Millis(p.clock.Now())
	next := make([]*domain.Event, 0, p.count)
	for i := 0; i < p.count; i++ {
		sessionId, err := p.sessions.StartSession(string(event.Data))
		if err != nil {
			return nil, errors.WithMessagef(err, "started %d of %d sessions", i, p.count)
		}
		next = append(next, &domain.Event{
			Name:          p.outputEvent,
			ScheduledTime: now + int64(i)*p.timeBetween.Milliseconds(),
			Data:          event.Data,
			SessionId:     sessionId,
		})
	}
	return Success(fmt.Sprintf("Created %d sessions starting with '%s'", p.count, p.outputEvent), nil, next...), nil
}
