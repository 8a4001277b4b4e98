package bm

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchforge/bmdriver/internal/bm/configuration"
	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/common/util"
)

func TestOpenStores_ClearKeepsRunState(t *testing.T) {
	withStores(t, func(stores *Stores) {
		_, err := stores.Events.PutEvent(&domain.Event{Name: "login", ScheduledTime: 1})
		require.NoError(t, err)
		require.NoError(t, stores.Results.RecordResult(&domain.EventRecord{
			Success: true, StartTime: 1, Event: &domain.Event{Name: "login"},
		}))
		_, err = stores.Sessions.StartSession("")
		require.NoError(t, err)
		require.NoError(t, stores.Logs.Append(&domain.LogEntry{Time: 1, Level: "INFO", Message: "started"}))
		ok, err := stores.RunState.CompareAndSetState(domain.NotScheduled, domain.Scheduled)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, stores.Clear())

		events, err := stores.Events.Count()
		require.NoError(t, err)
		assert.Zero(t, events)
		results, err := stores.Results.CountResults()
		require.NoError(t, err)
		assert.Zero(t, results)
		sessions, err := stores.Sessions.AllSessionsCount()
		require.NoError(t, err)
		assert.Zero(t, sessions)
		logs, err := stores.Logs.GetLogs(10)
		require.NoError(t, err)
		assert.Empty(t, logs)

		state, err := stores.RunState.GetState()
		require.NoError(t, err)
		assert.Equal(t, domain.Scheduled, state)
	})
}

func TestOpenStores_HealthCheckers(t *testing.T) {
	withStores(t, func(stores *Stores) {
		checkers := stores.HealthCheckers()
		require.Len(t, checkers, 1)
		assert.NoError(t, checkers[0].Check())
	})
}

func TestRunCounters(t *testing.T) {
	withStores(t, func(stores *Stores) {
		counters := &runCounters{ResultRepository: stores.Results, events: stores.Events, sessions: stores.Sessions}

		_, err := stores.Events.PutEvent(&domain.Event{Name: "search", ScheduledTime: 1})
		require.NoError(t, err)
		id, err := stores.Sessions.StartSession("")
		require.NoError(t, err)
		require.NoError(t, stores.Sessions.EndSession(id))

		events, err := counters.Count()
		require.NoError(t, err)
		assert.Equal(t, int64(1), events)
		completed, err := counters.CompletedSessionsCount()
		require.NoError(t, err)
		assert.Equal(t, int64(1), completed)
	})
}

func TestRefreshInterval(t *testing.T) {
	assert.Equal(t, 2*time.Second, refreshInterval(2*time.Second))
	assert.Equal(t, 5*time.Second, refreshInterval(0))
	assert.Equal(t, 5*time.Second, refreshInterval(-time.Second))
}

func withStores(t *testing.T, action func(stores *Stores)) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	config := &configuration.BmDriverConfig{
		Test:             "sample",
		Run:              "run1",
		Redis:            redis.UniversalOptions{Addrs: []string{mr.Addr()}},
		EventStore:       configuration.RedisStore,
		ResultStore:      configuration.RedisStore,
		RunLogMaxEntries: 100,
		SessionCacheSize: 16,
		LocalDataTTL:     time.Minute,
	}
	stores, err := OpenStores(context.Background(), config, "driver-a", util.NewDummyClock(time.UnixMilli(1_600_000_000_000)))
	require.NoError(t, err)
	defer stores.Close()

	action(stores)
}
