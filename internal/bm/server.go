package bm

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/benchforge/bmdriver/internal/bm/configuration"
	"github.com/benchforge/bmdriver/internal/bm/driver"
	"github.com/benchforge/bmdriver/internal/bm/estimation"
	"github.com/benchforge/bmdriver/internal/bm/logservice"
	"github.com/benchforge/bmdriver/internal/bm/metrics"
	"github.com/benchforge/bmdriver/internal/bm/repository"
	"github.com/benchforge/bmdriver/internal/bm/scenario"
	"github.com/benchforge/bmdriver/internal/bm/testrun"
	"github.com/benchforge/bmdriver/internal/bm/work"
	"github.com/benchforge/bmdriver/internal/common/health"
	"github.com/benchforge/bmdriver/internal/common/task"
	"github.com/benchforge/bmdriver/internal/common/util"
)

// Serve runs one driver of the configured test run until the run ends or ctx is cancelled.
func Serve(ctx context.Context, config *configuration.BmDriverConfig, healthChecks *health.MultiChecker) error {
	driverId := config.DriverId
	if driverId == "" {
		driverId = util.NewDriverId()
	}
	logger := log.WithFields(log.Fields{"driver": driverId, "test": config.Test, "run": config.Run})
	logger.Info("Benchmark driver starting")
	defer logger.Info("Benchmark driver shutting down")

	// We call startupCompleteCheck.MarkComplete() when all services have been started.
	startupCompleteCheck := health.NewStartupCompleteChecker()
	healthChecks.Add(startupCompleteCheck)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	clock := &util.DefaultClock{}
	stores, err := OpenStores(ctx, config, driverId, clock)
	if err != nil {
		return err
	}
	defer stores.Close()
	for _, checker := range stores.HealthCheckers() {
		healthChecks.Add(checker)
	}

	minLevel, err := logservice.ParseLevel(config.RunLogLevel)
	if err != nil {
		return err
	}
	runLog := logservice.NewLogService(stores.Logs, minLevel, clock).For(driverId, config.Test, config.Run)

	events, err := scenario.Build(config.Events, stores.Sessions, clock, time.Now().UnixNano())
	if err != nil {
		return errors.WithMessage(err, "invalid event configuration")
	}

	estimator, err := estimation.New(config.Completion, &runCounters{
		ResultRepository: stores.Results,
		events:           stores.Events,
		sessions:         stores.Sessions,
	}, estimation.Options{CheckPeriod: config.CompletionCheckPeriod, Clock: clock})
	if err != nil {
		return errors.WithMessage(err, "invalid completion configuration")
	}

	driverMetrics := metrics.NewMetrics(metrics.MetricPrefix, prometheus.DefaultRegisterer)
	taskManager := task.NewBackgroundTaskManager(metrics.MetricPrefix)
	taskManager.Register(func() { driverMetrics.RefreshCompletion(estimator) }, refreshInterval(config.CompletionCheckPeriod), "refresh_completion")
	defer taskManager.StopAll(time.Second)

	eventWork := work.NewEventWork(
		work.Config{DriverId: driverId, MaxSessionTime: config.MaxSessionTime},
		events.Registry,
		events.Selector,
		stores.Events,
		stores.Sessions,
		stores.Results,
		runLog,
		clock,
	)
	machine := testrun.NewStateMachine(stores.RunState, clock)
	monitor := testrun.NewMonitor(config.Monitor, machine, estimator, clock)
	controller := driver.NewEventController(config.Driver, driverId, stores.Events, stores.Results, machine, eventWork, driverMetrics, runLog, clock)

	// The controller stops with the monitor, which returns once the run has ended.
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	services := []func() error{
		func() error {
			defer stopRun()
			return monitor.Run(ctx)
		},
		func() error {
			return controller.Run(runCtx)
		},
	}
	for _, service := range services {
		g.Go(service)
	}
	startupCompleteCheck.MarkComplete()

	return g.Wait()
}

// runCounters gives the estimators read access to every counter of the run.
type runCounters struct {
	repository.ResultRepository
	events   repository.EventRepository
	sessions repository.SessionRepository
}

func (c *runCounters) Count() (int64, error) {
	return c.events.Count()
}

func (c *runCounters) CompletedSessionsCount() (int64, error) {
	return c.sessions.CompletedSessionsCount()
}

func refreshInterval(checkPeriod time.Duration) time.Duration {
	if checkPeriod <= 0 {
		return estimation.DefaultCheckPeriod
	}
	return checkPeriod
}
