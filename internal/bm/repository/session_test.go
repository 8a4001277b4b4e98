package repository

import (
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/common/bmerrors"
	"github.com/benchforge/bmdriver/internal/common/util"
)

func TestSessionLifecycle(t *testing.T) {
	clock := util.NewDummyClock(time.UnixMilli(10_000))
	withSessionRepository(clock, func(r *RedisSessionRepository) {
		id, err := r.StartSession("user=alice")
		require.NoError(t, err)

		session, err := r.GetSession(id)
		require.NoError(t, err)
		assert.Equal(t, &domain.SessionData{Id: id, Data: "user=alice", StartTime: 10_000, EndTime: domain.SessionActive}, session)

		clock.Advance(250 * time.Millisecond)
		elapsed, err := r.GetSessionElapsedTime(id)
		require.NoError(t, err)
		assert.Equal(t, int64(250), elapsed)

		require.NoError(t, r.SetSessionData(id, "user=bob"))
		data, err := r.GetSessionData(id)
		require.NoError(t, err)
		assert.Equal(t, "user=bob", data)

		assertSessionCounts(t, r, 1, 0, 1)

		clock.Advance(250 * time.Millisecond)
		require.NoError(t, r.EndSession(id))

		endTime, err := r.GetSessionEndTime(id)
		require.NoError(t, err)
		assert.Equal(t, int64(10_500), endTime)

		startTime, err := r.GetSessionStartTime(id)
		require.NoError(t, err)
		assert.Equal(t, int64(10_000), startTime)

		clock.Advance(time.Hour)
		elapsed, err = r.GetSessionElapsedTime(id)
		require.NoError(t, err)
		assert.Equal(t, int64(500), elapsed)

		assertSessionCounts(t, r, 0, 1, 1)
	})
}

func TestEndSession_Twice(t *testing.T) {
	clock := util.NewDummyClock(time.UnixMilli(10_000))
	withSessionRepository(clock, func(r *RedisSessionRepository) {
		id, err := r.StartSession("")
		require.NoError(t, err)
		require.NoError(t, r.EndSession(id))

		err = r.EndSession(id)
		var ended *bmerrors.ErrSessionEnded
		require.True(t, errors.As(err, &ended))
		assert.Equal(t, int64(10_000), ended.EndTime)

		assertSessionCounts(t, r, 0, 1, 1)
	})
}

func TestUnknownSession(t *testing.T) {
	withSessionRepository(&util.DefaultClock{}, func(r *RedisSessionRepository) {
		var notFound *bmerrors.ErrNotFound

		err := r.EndSession("missing")
		assert.True(t, errors.As(err, &notFound))

		err = r.SetSessionData("missing", "data")
		assert.True(t, errors.As(err, &notFound))

		_, err = r.GetSessionData("missing")
		assert.True(t, errors.As(err, &notFound))

		_, err = r.GetSessionStartTime("missing")
		assert.True(t, errors.As(err, &notFound))

		_, err = r.GetSession("missing")
		assert.True(t, errors.As(err, &notFound))
	})
}

func TestEndSession_ConcurrentCallersEndOnce(t *testing.T) {
	withSessionRepository(&util.DefaultClock{}, func(r *RedisSessionRepository) {
		id, err := r.StartSession("")
		require.NoError(t, err)

		const callers = 10
		results := make(chan error, callers)
		wg := sync.WaitGroup{}
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- r.EndSession(id)
			}()
		}
		wg.Wait()
		close(results)

		succeeded := 0
		for err := range results {
			if err == nil {
				succeeded++
			} else {
				var ended *bmerrors.ErrSessionEnded
				assert.True(t, errors.As(err, &ended))
			}
		}
		assert.Equal(t, 1, succeeded)
	})
}

func TestClearSessions(t *testing.T) {
	withSessionRepository(&util.DefaultClock{}, func(r *RedisSessionRepository) {
		for i := 0; i < 3; i++ {
			_, err := r.StartSession("")
			require.NoError(t, err)
		}
		require.NoError(t, r.Clear())
		assertSessionCounts(t, r, 0, 0, 0)
	})
}

func assertSessionCounts(t *testing.T, r *RedisSessionRepository, active, completed, all int64) {
	count, err := r.ActiveSessionsCount()
	require.NoError(t, err)
	assert.Equal(t, active, count, "active sessions")

	count, err = r.CompletedSessionsCount()
	require.NoError(t, err)
	assert.Equal(t, completed, count, "completed sessions")

	count, err = r.AllSessionsCount()
	require.NoError(t, err)
	assert.Equal(t, all, count, "all sessions")
}

func withSessionRepository(clock util.Clock, action func(r *RedisSessionRepository)) {
	withRedis(func(db redis.UniversalClient) {
		r, err := NewRedisSessionRepository(db, testNamespace, clock, 16)
		if err != nil {
			panic(err)
		}
		action(r)
	})
}
