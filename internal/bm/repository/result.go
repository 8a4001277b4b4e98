package repository

import (
	"encoding/json"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/common/util"
)

const (
	resultObjectsKey    = "Result:Objects"
	resultByStartKey    = "Result:ByStart"
	resultByEventPrefix = "Result:ByEvent:"
	resultSuccessKey    = "Result:Success"
	resultFailureKey    = "Result:Failure"
)

// ResultRepository stores the outcome of every executed event.
type ResultRepository interface {
	RecordResult(record *domain.EventRecord) error
	CountResultsBySuccess() (int64, error)
	CountResultsByFailure() (int64, error)
	CountResults() (int64, error)
	CountResultsByEventName(eventName string) (int64, error)
	// GetFirstResult returns the record with the earliest start time, or nil if nothing was recorded yet.
	GetFirstResult() (*domain.EventRecord, error)
	// GetResults pages through records in start time order. An empty eventName selects all events.
	GetResults(eventName string, skip int64, limit int64) ([]*domain.EventRecord, error)
	Clear() error
}

type RedisResultRepository struct {
	db        redis.UniversalClient
	namespace Namespace
}

func NewRedisResultRepository(db redis.UniversalClient, namespace Namespace) *RedisResultRepository {
	return &RedisResultRepository{db: db, namespace: namespace}
}

func (repo *RedisResultRepository) RecordResult(record *domain.EventRecord) error {
	if record.Id == "" {
		record.Id = util.NewULID()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return errors.WithStack(err)
	}

	counterKey := resultFailureKey
	if record.Success {
		counterKey = resultSuccessKey
	}
	score := float64(record.StartTime)

	pipe := repo.db.TxPipeline()
	pipe.HSet(repo.namespace.key(resultObjectsKey), record.Id, data)
	pipe.ZAdd(repo.namespace.key(resultByStartKey), redis.Z{Score: score, Member: record.Id})
	pipe.ZAdd(repo.namespace.key(resultByEventPrefix+record.EventName()), redis.Z{Score: score, Member: record.Id})
	pipe.Incr(repo.namespace.key(counterKey))
	if _, err := pipe.Exec(); err != nil {
		return storeError("record result", err)
	}
	return nil
}

func (repo *RedisResultRepository) CountResultsBySuccess() (int64, error) {
	return repo.counter(resultSuccessKey)
}

func (repo *RedisResultRepository) CountResultsByFailure() (int64, error) {
	return repo.counter(resultFailureKey)
}

func (repo *RedisResultRepository) CountResults() (int64, error) {
	count, err := repo.db.ZCard(repo.namespace.key(resultByStartKey)).Result()
	if err != nil {
		return 0, storeError("count results", err)
	}
	return count, nil
}

func (repo *RedisResultRepository) CountResultsByEventName(eventName string) (int64, error) {
	count, err := repo.db.ZCard(repo.namespace.key(resultByEventPrefix + eventName)).Result()
	if err != nil {
		return 0, storeError("count results by event name", err)
	}
	return count, nil
}

func (repo *RedisResultRepository) GetFirstResult() (*domain.EventRecord, error) {
	records, err := repo.GetResults("", 0, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func (repo *RedisResultRepository) GetResults(eventName string, skip int64, limit int64) ([]*domain.EventRecord, error) {
	if limit <= 0 {
		return []*domain.EventRecord{}, nil
	}
	indexKey := resultByStartKey
	if eventName != "" {
		indexKey = resultByEventPrefix + eventName
	}
	ids, err := repo.db.ZRange(repo.namespace.key(indexKey), skip, skip+limit-1).Result()
	if err != nil {
		return nil, storeError("get results", err)
	}
	if len(ids) == 0 {
		return []*domain.EventRecord{}, nil
	}
	values, err := repo.db.HMGet(repo.namespace.key(resultObjectsKey), ids...).Result()
	if err != nil {
		return nil, storeError("get results", err)
	}

	records := make([]*domain.EventRecord, 0, len(values))
	for i, value := range values {
		data, ok := value.(string)
		if !ok {
			return nil, errors.Errorf("missing result %s", ids[i])
		}
		record := &domain.EventRecord{}
		if err := json.Unmarshal([]byte(data), record); err != nil {
			return nil, errors.Wrapf(err, "error decoding result %s", ids[i])
		}
		records = append(records, record)
	}
	return records, nil
}

func (repo *RedisResultRepository) Clear() error {
	return deleteMatching(repo.db, "clear results", repo.namespace.key("Result"))
}

func (repo *RedisResultRepository) counter(key string) (int64, error) {
	count, err := repo.db.Get(repo.namespace.key(key)).Int64()
	if isNil(err) {
		return 0, nil
	}
	if err != nil {
		return 0, storeError("count results", err)
	}
	return count, nil
}
