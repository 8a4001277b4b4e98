package driver

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/bm/logservice"
	"github.com/benchforge/bmdriver/internal/bm/metrics"
	"github.com/benchforge/bmdriver/internal/bm/processor"
	"github.com/benchforge/bmdriver/internal/bm/repository"
	"github.com/benchforge/bmdriver/internal/bm/selector"
	"github.com/benchforge/bmdriver/internal/bm/testrun"
	"github.com/benchforge/bmdriver/internal/bm/work"
	"github.com/benchforge/bmdriver/internal/common/bmerrors"
	"github.com/benchforge/bmdriver/internal/common/util"
)

const driverId = "driverA"

type fixture struct {
	controller *EventController
	events     *repository.RedisEventRepository
	results    *repository.RedisResultRepository
	machine    *testrun.StateMachine
	registry   *processor.MapRegistry
	selectors  map[string]selector.EventSelector
}

func (f *fixture) start(t *testing.T) {
	require.NoError(t, f.machine.Schedule(time.Now()))
	_, err := f.machine.Transition(domain.Started)
	require.NoError(t, err)
}

func TestEventController_ProcessesRun(t *testing.T) {
	withController(t, func(f *fixture) {
		clock := &util.DefaultClock{}
		f.registry.Register(StartEventName, processor.NewRaiseEvents(StartEventName, processor.DefaultOptions(), "session", 10, 0, clock))
		f.registry.Register("session", processor.NewDoNothing("session", processor.DefaultOptions()))
		f.registry.Register("logout", processor.NewDoNothing("logout", processor.DefaultOptions()))
		s, err := selector.NewWeightedEventSelector("session", f.registry, []selector.EventSuccessor{{EventName: "logout", Weight: 1}}, clock, 1)
		require.NoError(t, err)
		f.selectors["session"] = s
		f.start(t)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- f.controller.Run(ctx) }()

		assert.Eventually(t, func() bool {
			count, err := f.results.CountResults()
			return err == nil && count == 21
		}, 10*time.Second, 10*time.Millisecond)
		cancel()
		require.NoError(t, <-done)

		for name, expected := range map[string]int64{StartEventName: 1, "session": 10, "logout": 10} {
			count, err := f.results.CountResultsByEventName(name)
			require.NoError(t, err)
			assert.Equal(t, expected, count, name)
		}
		failed, err := f.results.CountResultsByFailure()
		require.NoError(t, err)
		assert.Zero(t, failed)
		remaining, err := f.events.Count()
		require.NoError(t, err)
		assert.Zero(t, remaining)
	})
}

func TestEventController_StopsOnUnknownSuccessor(t *testing.T) {
	withController(t, func(f *fixture) {
		f.registry.Register(StartEventName, processor.NewDoNothing(StartEventName, processor.DefaultOptions()))
		s, err := selector.NewWeightedEventSelector(StartEventName, f.registry, []selector.EventSuccessor{{EventName: "typo", Weight: 1}}, &util.DefaultClock{}, 1)
		require.NoError(t, err)
		f.selectors[StartEventName] = s
		f.start(t)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = f.controller.Run(ctx)
		var unknown *bmerrors.ErrUnknownEvent
		assert.True(t, errors.As(err, &unknown), "unexpected error %v", err)
	})
}

func TestEventController_TakesOverStaleEvents(t *testing.T) {
	withController(t, func(f *fixture) {
		f.registry.Register(StartEventName, processor.NewDoNothing(StartEventName, processor.DefaultOptions()))
		f.registry.Register("orphan", processor.NewDoNothing("orphan", processor.DefaultOptions()))
		_, err := f.events.PutEvent(&domain.Event{
			Name:           "orphan",
			ScheduledTime:  util.Millis(time.Now().Add(-time.Minute)),
			DriverAffinity: "driverB",
		})
		require.NoError(t, err)
		f.start(t)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- f.controller.Run(ctx) }()

		assert.Eventually(t, func() bool {
			count, err := f.results.CountResultsByEventName("orphan")
			return err == nil && count == 1
		}, 10*time.Second, 10*time.Millisecond)
		cancel()
		require.NoError(t, <-done)

		records, err := f.results.GetResults("orphan", 0, 1)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, driverId, records[0].DriverId)
	})
}

func TestEventController_SeedsStartEventOnce(t *testing.T) {
	withController(t, func(f *fixture) {
		f.controller.seed()
		f.controller.seed()

		count, err := f.events.Count()
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
		start, err := f.events.GetEvent(StartEventId)
		require.NoError(t, err)
		require.NotNil(t, start)
		assert.Equal(t, StartEventName, start.Name)
	})
}

func TestEventController_EndedRunHasNothingToDo(t *testing.T) {
	withController(t, func(f *fixture) {
		require.NoError(t, f.machine.Schedule(time.Now()))
		_, err := f.machine.Transition(domain.Stopped)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		require.NoError(t, f.controller.Run(ctx))

		count, err := f.events.Count()
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func withController(t *testing.T, action func(f *fixture)) {
	db, err := miniredis.Run()
	require.NoError(t, err)
	defer db.Close()
	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	defer client.Close()

	namespace := repository.Namespace{Test: "test", Run: "run"}
	clock := &util.DefaultClock{}
	sessions, err := repository.NewRedisSessionRepository(client, namespace, clock, 64)
	require.NoError(t, err)

	f := &fixture{
		events:    repository.NewRedisEventRepository(client, namespace, driverId, time.Minute),
		results:   repository.NewRedisResultRepository(client, namespace),
		machine:   testrun.NewStateMachine(repository.NewRedisRunStateRepository(client, namespace), clock),
		registry:  processor.NewMapRegistry(),
		selectors: map[string]selector.EventSelector{},
	}
	runLog := logservice.NewLogService(nil, logservice.Info, clock).For(driverId, namespace.Test, namespace.Run)
	eventWork := work.NewEventWork(
		work.Config{DriverId: driverId},
		f.registry,
		func(eventName string) selector.EventSelector { return f.selectors[eventName] },
		f.events,
		sessions,
		f.results,
		runLog,
		clock,
	)
	config := Config{
		Threads:                  4,
		EventsPerSecondPerThread: 1000,
		AssignedEventGracePeriod: 5 * time.Second,
		IdlePollInterval:         10 * time.Millisecond,
		RetryAttempts:            3,
		RetryDelay:               time.Millisecond,
	}
	f.controller = NewEventController(
		config, driverId, f.events, f.results, f.machine, eventWork,
		metrics.NewMetrics(metrics.MetricPrefix, prometheus.NewRegistry()), runLog, clock)
	action(f)
}
