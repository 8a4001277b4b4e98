package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/benchforge/bmdriver/internal/bm/domain"
)

type fixedEstimator struct{}

func (fixedEstimator) GetCompletion() float64   { return 0.25 }
func (fixedEstimator) IsStarted() bool          { return true }
func (fixedEstimator) IsCompleted() bool        { return false }
func (fixedEstimator) GetResultsSuccess() int64 { return 30 }
func (fixedEstimator) GetResultsFail() int64    { return 2 }

func TestRecordEvent(t *testing.T) {
	m := NewMetrics(MetricPrefix, prometheus.NewRegistry())

	m.RecordEvent(&domain.EventRecord{Success: true, Duration: 20, StartDelay: 5, Event: &domain.Event{Name: "login"}}, 1)
	m.RecordEvent(&domain.EventRecord{Success: true, Duration: 40, Event: &domain.Event{Name: "login"}}, 2)
	m.RecordEvent(&domain.EventRecord{Success: false, Duration: 10, Event: &domain.Event{Name: "search"}}, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsProcessed.WithLabelValues("login", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsProcessed.WithLabelValues("search", OutcomeFailure)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.eventsPublished))
}

func TestRecordClaim(t *testing.T) {
	m := NewMetrics(MetricPrefix, prometheus.NewRegistry())

	m.RecordClaim(time.Millisecond, true, false)
	m.RecordClaim(time.Millisecond, false, false)
	m.RecordClaim(time.Millisecond, true, true)
	m.RecordStoreError("claim event")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.emptyClaims))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.staleClaims))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeErrors.WithLabelValues("claim event")))
}

func TestRefreshCompletion(t *testing.T) {
	m := NewMetrics(MetricPrefix, prometheus.NewRegistry())
	m.RefreshCompletion(fixedEstimator{})

	assert.Equal(t, 0.25, testutil.ToFloat64(m.completion))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.resultsRecorded.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.resultsRecorded.WithLabelValues(OutcomeFailure)))
}
