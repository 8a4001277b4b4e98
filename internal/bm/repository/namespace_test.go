package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/common/util"
)

func TestNamespace_Key(t *testing.T) {
	assert.Equal(t, "bm:{test:run}:Event:Ids", testNamespace.key("Event:Ids"))
	assert.Equal(t, "test.run", testNamespace.String())
}

func TestNamespace_EveryKeyOfARunSharesOneHashTag(t *testing.T) {
	withRedis(func(db redis.UniversalClient) {
		clock := util.NewDummyClock(time.UnixMilli(1_600_000_000_000))
		events := NewRedisEventRepository(db, testNamespace, "driverA", time.Minute)
		sessions, err := NewRedisSessionRepository(db, testNamespace, clock, 4)
		require.NoError(t, err)

		id, err := events.PutEvent(&domain.Event{Name: "login", ScheduledTime: 1})
		require.NoError(t, err)
		_, err = events.NextEvent("driverA", 1)
		require.NoError(t, err)
		sessionId, err := sessions.StartSession("")
		require.NoError(t, err)
		require.NoError(t, sessions.EndSession(sessionId))
		require.NoError(t, NewRedisResultRepository(db, testNamespace).RecordResult(&domain.EventRecord{
			StartTime: 1, Event: &domain.Event{Id: id, Name: "login"},
		}))
		require.NoError(t, NewRedisLogRepository(db, testNamespace, 10).Append(&domain.LogEntry{Message: "hello"}))
		_, err = NewRedisRunStateRepository(db, testNamespace).CompareAndSetState(domain.NotScheduled, domain.Scheduled)
		require.NoError(t, err)

		keys, err := db.Keys("*").Result()
		require.NoError(t, err)
		require.NotEmpty(t, keys)
		for _, key := range keys {
			assert.True(t, strings.HasPrefix(key, "bm:{test:run}:"), key)
		}
	})
}
