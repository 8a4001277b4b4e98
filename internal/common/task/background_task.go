package task

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

type task struct {
	name     string
	function func()
	interval time.Duration
	stop     chan struct{}
}

// BackgroundTaskManager runs functions periodically until stopped.
// Register and StopAll should be called from a single goroutine.
type BackgroundTaskManager struct {
	tasks    []*task
	latency  *prometheus.HistogramVec
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewBackgroundTaskManager(metricsPrefix string) *BackgroundTaskManager {
	return &BackgroundTaskManager{
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricsPrefix + "background_task_latency_seconds",
				Help:    "Latency of periodic background tasks in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"task"}),
	}
}

// Register runs backgroundTask immediately and then every interval.
func (m *BackgroundTaskManager) Register(backgroundTask func(), interval time.Duration, name string) {
	t := &task{
		name:     name,
		function: backgroundTask,
		interval: interval,
		stop:     make(chan struct{}),
	}
	m.tasks = append(m.tasks, t)
	m.wg.Add(1)
	go m.run(t)
}

// StopAll stops every task and waits up to timeout for running invocations to finish.
// It returns true if the timeout elapsed first.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	m.stopOnce.Do(func() {
		for _, t := range m.tasks {
			close(t.stop)
		}
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()
	select {
	case <-done:
		return false
	case <-time.After(timeout):
		log.Warnf("Background tasks did not stop within %s", timeout)
		return true
	}
}

func (m *BackgroundTaskManager) run(t *task) {
	defer m.wg.Done()
	observer := m.latency.WithLabelValues(t.name)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		start := time.Now()
		t.function()
		observer.Observe(time.Since(start).Seconds())
		select {
		case <-ticker.C:
		case <-t.stop:
			return
		}
	}
}
