package repository

import (
	"strconv"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/benchforge/bmdriver/internal/bm/domain"
)

const runStateKey = "RunState"

// RunStateRepository persists the lifecycle state and the scheduled start time of a test run.
// It doesn't validate transitions; that is done by the caller before calling CompareAndSetState.
type RunStateRepository interface {
	// GetState returns domain.NotScheduled for runs that were never stored.
	GetState() (domain.TestRunState, error)
	// CompareAndSetState stores next only if the current state is expected.
	CompareAndSetState(expected domain.TestRunState, next domain.TestRunState) (bool, error)
	// GetScheduled returns the scheduled start time in epoch milliseconds, or 0 if not scheduled.
	GetScheduled() (int64, error)
	// CompareAndSchedule moves the run to SCHEDULED and stores its start time in one step, only if the
	// current state is expected.
	CompareAndSchedule(expected domain.TestRunState, scheduled int64) (bool, error)
}

type RedisRunStateRepository struct {
	db        redis.UniversalClient
	namespace Namespace
}

func NewRedisRunStateRepository(db redis.UniversalClient, namespace Namespace) *RedisRunStateRepository {
	return &RedisRunStateRepository{db: db, namespace: namespace}
}

func (repo *RedisRunStateRepository) GetState() (domain.TestRunState, error) {
	value, err := repo.db.HGet(repo.namespace.key(runStateKey), "state").Result()
	if isNil(err) {
		return domain.NotScheduled, nil
	}
	if err != nil {
		return "", storeError("get run state", err)
	}
	state, ok := domain.ParseTestRunState(value)
	if !ok {
		return "", errors.Errorf("unknown run state %q stored for %s", value, repo.namespace)
	}
	return state, nil
}

func (repo *RedisRunStateRepository) CompareAndSetState(expected domain.TestRunState, next domain.TestRunState) (bool, error) {
	swapped, err := int64Result(compareAndSetStateScript.Run(repo.db,
		[]string{repo.namespace.key(runStateKey)},
		string(expected), string(next), string(domain.NotScheduled)))
	if err != nil {
		return false, storeError("set run state", err)
	}
	return swapped == 1, nil
}

func (repo *RedisRunStateRepository) GetScheduled() (int64, error) {
	value, err := repo.db.HGet(repo.namespace.key(runStateKey), "scheduled").Result()
	if isNil(err) {
		return 0, nil
	}
	if err != nil {
		return 0, storeError("get run schedule", err)
	}
	scheduled, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "error decoding schedule of %s", repo.namespace)
	}
	return scheduled, nil
}

func (repo *RedisRunStateRepository) CompareAndSchedule(expected domain.TestRunState, scheduled int64) (bool, error) {
	swapped, err := int64Result(compareAndSetStateScript.Run(repo.db,
		[]string{repo.namespace.key(runStateKey)},
		string(expected), string(domain.Scheduled), string(domain.NotScheduled), scheduled))
	if err != nil {
		return false, storeError("schedule run", err)
	}
	return swapped == 1, nil
}

var compareAndSetStateScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'state')
if not current then
	current = ARGV[3]
end
if current ~= ARGV[1] then
	return 0
end
if ARGV[4] then
	redis.call('HMSET', KEYS[1], 'state', ARGV[2], 'scheduled', ARGV[4])
else
	redis.call('HSET', KEYS[1], 'state', ARGV[2])
end
return 1
`)
