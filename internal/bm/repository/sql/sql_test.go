package sql

import (
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/bm/repository"
	"github.com/benchforge/bmdriver/internal/common/bmerrors"
	"github.com/benchforge/bmdriver/internal/common/database"
	"github.com/benchforge/bmdriver/internal/common/util"
)

func TestPostgresEventRepository_Claim(t *testing.T) {
	withTestDb(t, func(db *pgxpool.Pool, namespace repository.Namespace) {
		r := NewPostgresEventRepository(db, namespace, "driverA", 5*time.Second, time.Minute)

		for _, e := range []*domain.Event{
			{Name: "b", ScheduledTime: 200},
			{Name: "a1", ScheduledTime: 100},
			{Name: "a2", ScheduledTime: 100},
			{Name: "future", ScheduledTime: 10_000},
		} {
			_, err := r.PutEvent(e)
			require.NoError(t, err)
		}

		names := []string{}
		for {
			event, err := r.NextEvent("driverA", 1000)
			require.NoError(t, err)
			if event == nil {
				break
			}
			assert.Equal(t, "driverA", event.LockOwner)
			names = append(names, event.Name)
		}
		assert.Equal(t, []string{"a1", "a2", "b"}, names)

		count, err := r.Count()
		require.NoError(t, err)
		assert.Equal(t, int64(4), count)

		require.NoError(t, r.Clear())
		count, err = r.Count()
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestPostgresEventRepository_DuplicateAndDelete(t *testing.T) {
	withTestDb(t, func(db *pgxpool.Pool, namespace repository.Namespace) {
		r := NewPostgresEventRepository(db, namespace, "driverA", 5*time.Second, time.Minute)

		id, err := r.PutEvent(&domain.Event{Id: "000000000000000000000001", Name: "start", ScheduledTime: 1})
		require.NoError(t, err)
		_, err = r.PutEvent(&domain.Event{Id: id, Name: "start", ScheduledTime: 1})
		var duplicate *bmerrors.ErrDuplicateEvent
		assert.True(t, errors.As(err, &duplicate))

		deleted, err := r.DeleteEvent(id)
		require.NoError(t, err)
		assert.True(t, deleted)
		deleted, err = r.DeleteEvent(id)
		require.NoError(t, err)
		assert.False(t, deleted)

		event, err := r.GetEvent(id)
		require.NoError(t, err)
		assert.Nil(t, event)
	})
}

func TestPostgresEventRepository_Affinity(t *testing.T) {
	withTestDb(t, func(db *pgxpool.Pool, namespace repository.Namespace) {
		driverA := NewPostgresEventRepository(db, namespace, "driverA", 5*time.Second, time.Minute)
		driverB := NewPostgresEventRepository(db, namespace, "driverB", 5*time.Second, time.Minute)

		_, err := driverA.PutEvent(domain.NewLocalEvent("local", 1, "payload"))
		require.NoError(t, err)
		_, err = driverA.PutEvent(&domain.Event{Name: "pinned", ScheduledTime: 2, DriverAffinity: "driverA"})
		require.NoError(t, err)

		event, err := driverB.NextEvent("driverB", 10)
		require.NoError(t, err)
		assert.Nil(t, event)

		event, err = driverB.NextStaleEvent("driverB", 10)
		require.NoError(t, err)
		require.NotNil(t, event)
		assert.Equal(t, "pinned", event.Name)

		event, err = driverA.NextEvent("driverA", 10)
		require.NoError(t, err)
		require.NotNil(t, event)
		assert.Equal(t, "local", event.Name)
		assert.Equal(t, "payload", event.LocalData)
	})
}

func TestPostgresEventRepository_ConcurrentClaimsAreExclusive(t *testing.T) {
	withTestDb(t, func(db *pgxpool.Pool, namespace repository.Namespace) {
		r := NewPostgresEventRepository(db, namespace, "driverA", 5*time.Second, time.Minute)
		_, err := r.PutEvent(&domain.Event{Name: "contended", ScheduledTime: 1})
		require.NoError(t, err)

		var claimed int32
		mu := sync.Mutex{}
		wg := sync.WaitGroup{}
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				event, err := r.NextEvent("", 10)
				assert.NoError(t, err)
				if event != nil {
					mu.Lock()
					claimed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), claimed)
	})
}

func TestPostgresResultRepository(t *testing.T) {
	withTestDb(t, func(db *pgxpool.Pool, namespace repository.Namespace) {
		r := NewPostgresResultRepository(db, namespace, 5*time.Second)

		first, err := r.GetFirstResult()
		require.NoError(t, err)
		assert.Nil(t, first)

		require.NoError(t, r.RecordResult(&domain.EventRecord{Success: true, StartTime: 300, Event: &domain.Event{Name: "query"}}))
		require.NoError(t, r.RecordResult(&domain.EventRecord{Success: false, StartTime: 100, Event: &domain.Event{Name: "start"}}))
		require.NoError(t, r.RecordResult(&domain.EventRecord{Success: true, StartTime: 200, Event: &domain.Event{Name: "query"}}))

		count, err := r.CountResultsBySuccess()
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
		count, err = r.CountResultsByFailure()
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
		count, err = r.CountResultsByEventName("query")
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		first, err = r.GetFirstResult()
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, "start", first.EventName())

		page, err := r.GetResults("query", 1, 10)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, int64(300), page[0].StartTime)

		require.NoError(t, r.Clear())
		count, err = r.CountResults()
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

// withTestDb runs action against a namespace unique to the test, skipping the test if Postgres isn't running locally.
func withTestDb(t *testing.T, action func(db *pgxpool.Pool, namespace repository.Namespace)) {
	namespace := repository.Namespace{Test: t.Name(), Run: util.NewULID()}
	available, err := database.WithTestDb(func(db *pgxpool.Pool) error {
		action(db, namespace)
		return nil
	})
	if !available {
		t.Skip("postgres is not available on localhost:5432")
	}
	require.NoError(t, err)
}
