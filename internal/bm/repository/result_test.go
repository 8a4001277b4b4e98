package repository

import (
	"testing"

	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchforge/bmdriver/internal/bm/domain"
)

func TestResultRepository_Counts(t *testing.T) {
	withResultRepository(func(r *RedisResultRepository) {
		first, err := r.GetFirstResult()
		require.NoError(t, err)
		assert.Nil(t, first)

		records := []*domain.EventRecord{
			{Success: true, StartTime: 300, Event: &domain.Event{Name: "query"}},
			{Success: false, StartTime: 100, Event: &domain.Event{Name: "start"}},
			{Success: true, StartTime: 200, Event: &domain.Event{Name: "query"}},
		}
		for _, record := range records {
			require.NoError(t, r.RecordResult(record))
			assert.NotEmpty(t, record.Id)
		}

		assertCount(t, 2, r.CountResultsBySuccess)
		assertCount(t, 1, r.CountResultsByFailure)
		assertCount(t, 3, r.CountResults)

		count, err := r.CountResultsByEventName("query")
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		count, err = r.CountResultsByEventName("missing")
		require.NoError(t, err)
		assert.Zero(t, count)

		first, err = r.GetFirstResult()
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, records[1].Id, first.Id)
		assert.Equal(t, "start", first.EventName())
	})
}

func TestResultRepository_GetResults(t *testing.T) {
	withResultRepository(func(r *RedisResultRepository) {
		for i := int64(0); i < 5; i++ {
			require.NoError(t, r.RecordResult(&domain.EventRecord{Success: true, StartTime: i, Event: &domain.Event{Name: "query"}}))
			require.NoError(t, r.RecordResult(&domain.EventRecord{Success: true, StartTime: i, Event: &domain.Event{Name: "other"}}))
		}

		page, err := r.GetResults("query", 1, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, int64(1), page[0].StartTime)
		assert.Equal(t, int64(2), page[1].StartTime)

		all, err := r.GetResults("", 0, 100)
		require.NoError(t, err)
		assert.Len(t, all, 10)

		empty, err := r.GetResults("query", 10, 5)
		require.NoError(t, err)
		assert.Empty(t, empty)

		require.NoError(t, r.Clear())
		assertCount(t, 0, r.CountResults)
		assertCount(t, 0, r.CountResultsBySuccess)
	})
}

func assertCount(t *testing.T, expected int64, count func() (int64, error)) {
	actual, err := count()
	require.NoError(t, err)
	assert.Equal(t, expected, actual)
}

func withResultRepository(action func(r *RedisResultRepository)) {
	withRedis(func(db redis.UniversalClient) {
		action(NewRedisResultRepository(db, testNamespace))
	})
}
