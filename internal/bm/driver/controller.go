// Package driver claims events from the shared store and runs them on a bounded pool of workers.
package driver

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/bm/logservice"
	"github.com/benchforge/bmdriver/internal/bm/metrics"
	"github.com/benchforge/bmdriver/internal/bm/repository"
	"github.com/benchforge/bmdriver/internal/bm/work"
	"github.com/benchforge/bmdriver/internal/common/bmerrors"
	"github.com/benchforge/bmdriver/internal/common/util"
)

const (
	// StartEventId is shared by all drivers so that only one of them seeds a run.
	StartEventId   = "000000000000000000000001"
	StartEventName = "start"
)

type Config struct {
	Threads                  int     `validate:"gt=0"`
	EventsPerSecondPerThread float64 `validate:"gt=0"`
	// AssignedEventGracePeriod is how long an event pinned to another driver waits before this driver takes it over.
	AssignedEventGracePeriod time.Duration
	// IdlePollInterval is the wait before claiming again after the queue was found empty.
	IdlePollInterval time.Duration `validate:"gt=0"`
	RetryAttempts    uint          `validate:"gt=0"`
	RetryDelay       time.Duration
}

func DefaultConfig() Config {
	return Config{
		Threads:                  8,
		EventsPerSecondPerThread: 2,
		AssignedEventGracePeriod: 5000 * time.Millisecond,
		IdlePollInterval:         500 * time.Millisecond,
		RetryAttempts:            5,
		RetryDelay:               100 * time.Millisecond,
	}
}

type EventProcessor interface {
	Process(ctx context.Context, event *domain.Event) (*work.Outcome, error)
}

type StartRecorder interface {
	CountResultsByEventName(eventName string) (int64, error)
}

type RunState interface {
	State() (domain.TestRunState, error)
}

// EventController is the claim loop of one driver. Claims are rate limited to
// Threads*EventsPerSecondPerThread per second and at most Threads events are processed at a time.
type EventController struct {
	config   Config
	driverId string
	events   repository.EventRepository
	results  StartRecorder
	runState RunState
	work     EventProcessor
	metrics  *metrics.Metrics
	log      *logservice.RunLog
	clock    util.Clock

	staleDriversMutex sync.Mutex
	staleDrivers      map[string]bool
}

func NewEventController(
	config Config,
	driverId string,
	events repository.EventRepository,
	results StartRecorder,
	runState RunState,
	work EventProcessor,
	metrics *metrics.Metrics,
	log *logservice.RunLog,
	clock util.Clock,
) *EventController {
	return &EventController{
		config:       config,
		driverId:     driverId,
		events:       events,
		results:      results,
		runState:     runState,
		work:         work,
		metrics:      metrics,
		log:          log,
		clock:        clock,
		staleDrivers: map[string]bool{},
	}
}

// Run waits for the test run to start, then claims and processes events until ctx is cancelled,
// the run ends or an event fails in a way that makes continuing pointless.
func (c *EventController) Run(ctx context.Context) error {
	started, err := c.awaitStart(ctx)
	if err != nil || !started {
		return err
	}
	c.log.Infof("Driver %s processing events with %d threads", c.driverId, c.config.Threads)

	limiter := rate.NewLimiter(rate.Limit(float64(c.config.Threads)*c.config.EventsPerSecondPerThread), c.config.Threads)
	workers := semaphore.NewWeighted(int64(c.config.Threads))
	g, ctx := errgroup.WithContext(ctx)

	for ctx.Err() == nil {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		if err := workers.Acquire(ctx, 1); err != nil {
			break
		}
		event, err := c.claim(ctx)
		if err != nil {
			workers.Release(1)
			if ctx.Err() != nil {
				break
			}
			c.log.Errorf("Failed to claim event: %v", err)
			c.idle(ctx)
			continue
		}
		if event == nil {
			workers.Release(1)
			if !c.onEmptyQueue(ctx) {
				break
			}
			continue
		}

		g.Go(func() error {
			defer workers.Release(1)
			return c.process(ctx, event)
		})
	}
	err = g.Wait()
	c.log.Infof("Driver %s stopped processing events", c.driverId)
	return err
}

func (c *EventController) process(ctx context.Context, event *domain.Event) error {
	outcome, err := c.work.Process(ctx, event)
	if outcome != nil && c.metrics != nil {
		c.metrics.RecordEvent(outcome.Record, outcome.Successors)
	}
	if err == nil {
		return nil
	}
	if bmerrors.IsFatal(err) {
		c.log.Log(logservice.Fatal, err.Error())
		return err
	}
	c.log.Errorf("Error processing event %s (%s): %v", event.Id, event.Name, err)
	return nil
}

// awaitStart polls the run state until the run is started. It returns false if the run ended or ctx was cancelled first.
func (c *EventController) awaitStart(ctx context.Context) (bool, error) {
	for {
		state, err := c.runState.State()
		switch {
		case err != nil && !bmerrors.IsRetryable(err):
			return false, err
		case err != nil:
			log.WithError(err).Warn("Failed to read test run state")
		case state == domain.Started:
			return true, nil
		case state.IsTerminal():
			c.log.Infof("Test run is %s; driver %s has nothing to do", state, c.driverId)
			return false, nil
		}
		if !c.idle(ctx) {
			return false, nil
		}
	}
}

// onEmptyQueue seeds the run if nobody has, and otherwise waits for more events.
// It returns false when the driver should stop.
func (c *EventController) onEmptyQueue(ctx context.Context) bool {
	recorded, err := c.results.CountResultsByEventName(StartEventName)
	if err != nil {
		c.log.Warnf("Failed to check for the start event: %v", err)
	} else if recorded == 0 {
		c.seed()
		return ctx.Err() == nil
	}

	state, err := c.runState.State()
	if err == nil && state.IsTerminal() {
		c.log.Infof("Test run is %s; stopping driver %s", state, c.driverId)
		return false
	}
	c.log.Debugf("No events available for driver %s", c.driverId)
	return c.idle(ctx)
}

func (c *EventController) seed() {
	start := &domain.Event{
		Id:            StartEventId,
		Name:          StartEventName,
		ScheduledTime: util.Millis(c.clock.Now()),
	}
	_, err := c.events.PutEvent(start)
	var duplicate *bmerrors.ErrDuplicateEvent
	switch {
	case err == nil:
		c.log.Infof("Driver %s published the start event", c.driverId)
	case errors.As(err, &duplicate):
		// Another driver got there first.
	default:
		c.log.Warnf("Failed to publish the start event: %v", err)
	}
}

// claim returns the next event for this driver. Events of its own or of no driver in particular come
// first; events pinned to other drivers are taken over once they are older than the grace period.
func (c *EventController) claim(ctx context.Context) (*domain.Event, error) {
	var event *domain.Event
	err := retry.Do(
		func() error {
			start := c.clock.Now()
			now := util.Millis(start)
			next, err := c.events.NextEvent(c.driverId, now)
			if err != nil {
				c.recordStoreError("claim event")
				return err
			}
			stale := false
			if next == nil {
				next, err = c.events.NextStaleEvent(c.driverId, now-c.config.AssignedEventGracePeriod.Milliseconds())
				if err != nil {
					c.recordStoreError("claim stale event")
					return err
				}
				stale = next != nil
			}
			if c.metrics != nil {
				c.metrics.RecordClaim(c.clock.Now().Sub(start), next != nil, stale)
			}
			if stale {
				c.logStaleDriver(next.DriverAffinity)
			}
			event = next
			return nil
		},
		retry.Attempts(c.config.RetryAttempts),
		retry.Delay(c.config.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && bmerrors.IsRetryable(err)
		}),
	)
	return event, err
}

func (c *EventController) logStaleDriver(driverId string) {
	c.staleDriversMutex.Lock()
	defer c.staleDriversMutex.Unlock()
	if c.staleDrivers[driverId] {
		return
	}
	c.staleDrivers[driverId] = true
	c.log.Warnf("Driver %s is taking over events assigned to driver %s, which has not claimed them within %s",
		c.driverId, driverId, c.config.AssignedEventGracePeriod)
}

func (c *EventController) recordStoreError(operation string) {
	if c.metrics != nil {
		c.metrics.RecordStoreError(operation)
	}
}

// idle waits for IdlePollInterval and returns false if ctx was cancelled in the meantime.
func (c *EventController) idle(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.config.IdlePollInterval):
		return true
	}
}
