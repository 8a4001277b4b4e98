package repository

import (
	"encoding/json"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/benchforge/bmdriver/internal/bm/domain"
)

const logKey = "Log"

// LogRepository keeps the most recent log lines of a test run, newest first.
type LogRepository interface {
	Append(entry *domain.LogEntry) error
	GetLogs(limit int64) ([]*domain.LogEntry, error)
	Clear() error
}

type RedisLogRepository struct {
	db         redis.UniversalClient
	namespace  Namespace
	maxEntries int64
}

func NewRedisLogRepository(db redis.UniversalClient, namespace Namespace, maxEntries int64) *RedisLogRepository {
	return &RedisLogRepository{db: db, namespace: namespace, maxEntries: maxEntries}
}

func (repo *RedisLogRepository) Append(entry *domain.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.WithStack(err)
	}
	pipe := repo.db.TxPipeline()
	pipe.LPush(repo.namespace.key(logKey), data)
	pipe.LTrim(repo.namespace.key(logKey), 0, repo.maxEntries-1)
	if _, err := pipe.Exec(); err != nil {
		return storeError("append log", err)
	}
	return nil
}

func (repo *RedisLogRepository) GetLogs(limit int64) ([]*domain.LogEntry, error) {
	if limit <= 0 {
		return []*domain.LogEntry{}, nil
	}
	values, err := repo.db.LRange(repo.namespace.key(logKey), 0, limit-1).Result()
	if err != nil {
		return nil, storeError("get logs", err)
	}
	entries := make([]*domain.LogEntry, 0, len(values))
	for _, value := range values {
		entry := &domain.LogEntry{}
		if err := json.Unmarshal([]byte(value), entry); err != nil {
			return nil, errors.Wrap(err, "error decoding log entry")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (repo *RedisLogRepository) Clear() error {
	return storeError("clear logs", repo.db.Del(repo.namespace.key(logKey)).Err())
}
