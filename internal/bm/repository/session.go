package repository

import (
	"strconv"

	"github.com/go-redis/redis"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/common/bmerrors"
	"github.com/benchforge/bmdriver/internal/common/util"
)

const (
	sessionObjectPrefix = "Session:"
	sessionActiveKey    = "Sessions:Active"
	sessionCompletedKey = "Sessions:Completed"
	sessionAllKey       = "Sessions:All"
)

// SessionRepository tracks the chains of events that belong together.
// Every operation is safe to call concurrently from any number of drivers.
type SessionRepository interface {
	StartSession(data string) (string, error)
	// EndSession fails with *bmerrors.ErrNotFound for unknown ids and with *bmerrors.ErrSessionEnded
	// if the session was already ended.
	EndSession(id string) error
	GetSession(id string) (*domain.SessionData, error)
	SetSessionData(id string, data string) error
	GetSessionData(id string) (string, error)
	GetSessionStartTime(id string) (int64, error)
	GetSessionEndTime(id string) (int64, error)
	GetSessionElapsedTime(id string) (int64, error)
	ActiveSessionsCount() (int64, error)
	CompletedSessionsCount() (int64, error)
	AllSessionsCount() (int64, error)
	Clear() error
}

type RedisSessionRepository struct {
	db         redis.UniversalClient
	namespace  Namespace
	clock      util.Clock
	startTimes *lru.Cache
}

func NewRedisSessionRepository(db redis.UniversalClient, namespace Namespace, clock util.Clock, startTimeCacheSize int) (*RedisSessionRepository, error) {
	startTimes, err := lru.New(startTimeCacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &RedisSessionRepository{
		db:         db,
		namespace:  namespace,
		clock:      clock,
		startTimes: startTimes,
	}, nil
}

func (repo *RedisSessionRepository) StartSession(data string) (string, error) {
	id := util.NewULID()
	startTime := util.Millis(repo.clock.Now())

	pipe := repo.db.TxPipeline()
	pipe.HMSet(repo.sessionKey(id), map[string]interface{}{
		"data":      data,
		"startTime": startTime,
		"endTime":   domain.SessionActive,
	})
	pipe.SAdd(repo.namespace.key(sessionActiveKey), id)
	pipe.SAdd(repo.namespace.key(sessionAllKey), id)
	if _, err := pipe.Exec(); err != nil {
		return "", storeError("start session", err)
	}
	repo.startTimes.Add(id, startTime)
	return id, nil
}

func (repo *RedisSessionRepository) EndSession(id string) error {
	endTime := util.Millis(repo.clock.Now())
	result, err := int64Result(endSessionScript.Run(repo.db,
		[]string{repo.sessionKey(id), repo.namespace.key(sessionActiveKey), repo.namespace.key(sessionCompletedKey)},
		id, endTime))
	if err != nil {
		return storeError("end session", err)
	}
	switch {
	case result == sessionMissing:
		return errors.WithStack(&bmerrors.ErrNotFound{Type: "session", Value: id})
	case result != sessionEnded:
		return errors.WithStack(&bmerrors.ErrSessionEnded{SessionId: id, EndTime: result})
	}
	return nil
}

func (repo *RedisSessionRepository) GetSession(id string) (*domain.SessionData, error) {
	fields, err := repo.db.HGetAll(repo.sessionKey(id)).Result()
	if err != nil {
		return nil, storeError("get session", err)
	}
	if len(fields) == 0 {
		return nil, errors.WithStack(&bmerrors.ErrNotFound{Type: "session", Value: id})
	}
	session := &domain.SessionData{Id: id, Data: fields["data"]}
	if session.StartTime, err = strconv.ParseInt(fields["startTime"], 10, 64); err != nil {
		return nil, errors.Wrapf(err, "error decoding start time of session %s", id)
	}
	if session.EndTime, err = strconv.ParseInt(fields["endTime"], 10, 64); err != nil {
		return nil, errors.Wrapf(err, "error decoding end time of session %s", id)
	}
	repo.startTimes.Add(id, session.StartTime)
	return session, nil
}

func (repo *RedisSessionRepository) SetSessionData(id string, data string) error {
	updated, err := int64Result(setSessionDataScript.Run(repo.db, []string{repo.sessionKey(id)}, data))
	if err != nil {
		return storeError("set session data", err)
	}
	if updated == 0 {
		return errors.WithStack(&bmerrors.ErrNotFound{Type: "session", Value: id})
	}
	return nil
}

func (repo *RedisSessionRepository) GetSessionData(id string) (string, error) {
	data, err := repo.db.HGet(repo.sessionKey(id), "data").Result()
	if isNil(err) {
		return "", errors.WithStack(&bmerrors.ErrNotFound{Type: "session", Value: id})
	}
	if err != nil {
		return "", storeError("get session data", err)
	}
	return data, nil
}

func (repo *RedisSessionRepository) GetSessionStartTime(id string) (int64, error) {
	if startTime, ok := repo.startTimes.Get(id); ok {
		return startTime.(int64), nil
	}
	startTime, err := repo.getTimeField(id, "startTime")
	if err != nil {
		return 0, err
	}
	repo.startTimes.Add(id, startTime)
	return startTime, nil
}

// GetSessionEndTime returns domain.SessionActive while the session is active.
func (repo *RedisSessionRepository) GetSessionEndTime(id string) (int64, error) {
	return repo.getTimeField(id, "endTime")
}

func (repo *RedisSessionRepository) GetSessionElapsedTime(id string) (int64, error) {
	session, err := repo.GetSession(id)
	if err != nil {
		return 0, err
	}
	return session.Elapsed(util.Millis(repo.clock.Now())), nil
}

func (repo *RedisSessionRepository) ActiveSessionsCount() (int64, error) {
	return repo.count(sessionActiveKey)
}

func (repo *RedisSessionRepository) CompletedSessionsCount() (int64, error) {
	return repo.count(sessionCompletedKey)
}

func (repo *RedisSessionRepository) AllSessionsCount() (int64, error) {
	return repo.count(sessionAllKey)
}

func (repo *RedisSessionRepository) Clear() error {
	repo.startTimes.Purge()
	return deleteMatching(repo.db, "clear sessions", repo.namespace.key("Session"))
}

func (repo *RedisSessionRepository) count(key string) (int64, error) {
	count, err := repo.db.SCard(repo.namespace.key(key)).Result()
	if err != nil {
		return 0, storeError("count sessions", err)
	}
	return count, nil
}

func (repo *RedisSessionRepository) getTimeField(id string, field string) (int64, error) {
	value, err := repo.db.HGet(repo.sessionKey(id), field).Result()
	if isNil(err) {
		return 0, errors.WithStack(&bmerrors.ErrNotFound{Type: "session", Value: id})
	}
	if err != nil {
		return 0, storeError("get session "+field, err)
	}
	t, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "error decoding %s of session %s", field, id)
	}
	return t, nil
}

func (repo *RedisSessionRepository) sessionKey(id string) string {
	return repo.namespace.key(sessionObjectPrefix + id)
}

const (
	sessionMissing int64 = -2
	sessionEnded   int64 = -1
)

// Returns -2 if the session doesn't exist, -1 if it was ended by this call and the previous end time otherwise.
var endSessionScript = redis.NewScript(`
local endTime = redis.call('HGET', KEYS[1], 'endTime')
if not endTime then
	return -2
end
if endTime ~= '-1' then
	return tonumber(endTime)
end
redis.call('HSET', KEYS[1], 'endTime', ARGV[2])
redis.call('SMOVE', KEYS[2], KEYS[3], ARGV[1])
return -1
`)

var setSessionDataScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[1])
return 1
`)
