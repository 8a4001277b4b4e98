package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/bm/estimation"
)

const MetricPrefix = "bm_driver_"

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

type Metrics struct {
	eventsProcessed *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	eventStartDelay *prometheus.HistogramVec
	eventsPublished prometheus.Counter
	claimLatency    prometheus.Histogram
	emptyClaims     prometheus.Counter
	staleClaims     prometheus.Counter
	storeErrors     *prometheus.CounterVec
	completion      prometheus.Gauge
	resultsRecorded *prometheus.GaugeVec
}

// NewMetrics registers the driver metrics with registerer.
func NewMetrics(prefix string, registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		eventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "events_processed_total",
			Help: "Number of events processed by this driver grouped by event name and outcome",
		}, []string{"event", "outcome"}),
		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "event_duration_seconds",
			Help:    "Time taken to process an event",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"event"}),
		eventStartDelay: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "event_start_delay_seconds",
			Help:    "Time between the scheduled time of an event and the start of its processing",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"event"}),
		eventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "events_published_total",
			Help: "Number of successor events published by this driver",
		}),
		claimLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "claim_latency_seconds",
			Help:    "Time taken to claim the next event",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		emptyClaims: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "empty_claims_total",
			Help: "Number of claims that found no eligible event",
		}),
		staleClaims: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "stale_claims_total",
			Help: "Number of events taken over from other drivers after the grace period",
		}),
		storeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "store_errors_total",
			Help: "Number of store errors grouped by operation",
		}, []string{"operation"}),
		completion: factory.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "run_completion_ratio",
			Help: "Estimated completion of the test run between 0 and 1",
		}),
		resultsRecorded: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "run_results",
			Help: "Number of results recorded for the test run by all drivers grouped by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) RecordEvent(record *domain.EventRecord, published int) {
	outcome := OutcomeFailure
	if record.Success {
		outcome = OutcomeSuccess
	}
	name := record.EventName()
	m.eventsProcessed.WithLabelValues(name, outcome).Inc()
	m.eventDuration.WithLabelValues(name).Observe(millisToSeconds(record.Duration))
	if record.StartDelay > 0 {
		m.eventStartDelay.WithLabelValues(name).Observe(millisToSeconds(record.StartDelay))
	}
	m.eventsPublished.Add(float64(published))
}

func (m *Metrics) RecordClaim(latency time.Duration, found bool, stale bool) {
	m.claimLatency.Observe(latency.Seconds())
	if !found {
		m.emptyClaims.Inc()
	}
	if stale {
		m.staleClaims.Inc()
	}
}

func (m *Metrics) RecordStoreError(operation string) {
	m.storeErrors.WithLabelValues(operation).Inc()
}

// RefreshCompletion copies the current estimate into the completion gauges.
func (m *Metrics) RefreshCompletion(estimator estimation.CompletionEstimator) {
	m.completion.Set(estimator.GetCompletion())
	m.resultsRecorded.WithLabelValues(OutcomeSuccess).Set(float64(estimator.GetResultsSuccess()))
	m.resultsRecorded.WithLabelValues(OutcomeFailure).Set(float64(estimator.GetResultsFail()))
}

func millisToSeconds(millis int64) float64 {
	return float64(millis) / 1000
}
