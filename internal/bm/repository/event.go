package repository

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/common/bmerrors"
	"github.com/benchforge/bmdriver/internal/common/util"
)

const (
	eventObjectPrefix = "Event:"
	eventQueueKey     = "Event:Queue"
	eventIdsKey       = "Event:Ids"
	eventSequenceKey  = "Event:Sequence"
)

// EventRepository is the shared, lockable queue of scheduled events.
type EventRepository interface {
	// PutEvent stores an event and returns its id. An id is assigned if the event has none.
	PutEvent(event *domain.Event) (string, error)
	// NextEvent atomically claims the earliest event scheduled at or before maxScheduledTime that is
	// unclaimed and either unpinned or pinned to driverId. It returns nil if there is no such event.
	NextEvent(driverId string, maxScheduledTime int64) (*domain.Event, error)
	// NextStaleEvent claims the earliest event pinned to a driver other than driverId that is scheduled
	// at or before maxScheduledTime. Events whose payload never left their driver are not returned.
	NextStaleEvent(driverId string, maxScheduledTime int64) (*domain.Event, error)
	GetEvent(id string) (*domain.Event, error)
	DeleteEvent(id string) (bool, error)
	// Count returns the number of stored events, including claimed events that weren't deleted yet.
	Count() (int64, error)
	Clear() error
}

type RedisEventRepository struct {
	db        redis.UniversalClient
	namespace Namespace
	driverId  string
	clock     util.Clock
	localData *cache.Cache
}

func NewRedisEventRepository(db redis.UniversalClient, namespace Namespace, driverId string, localDataTTL time.Duration) *RedisEventRepository {
	return &RedisEventRepository{
		db:        db,
		namespace: namespace,
		driverId:  driverId,
		clock:     &util.DefaultClock{},
		localData: cache.New(localDataTTL, localDataTTL),
	}
}

func (repo *RedisEventRepository) PutEvent(event *domain.Event) (string, error) {
	if event.Name == "" {
		return "", errors.WithStack(&bmerrors.ErrInvalidArgument{Name: "Name", Value: event.Name, Message: "event name must not be empty"})
	}
	if event.IsLocal() {
		if event.DriverAffinity != "" && event.DriverAffinity != repo.driverId {
			return "", errors.WithStack(&bmerrors.ErrInvalidArgument{
				Name:    "DriverAffinity",
				Value:   event.DriverAffinity,
				Message: "events with local data can only be pinned to the driver that created them",
			})
		}
		event.DriverAffinity = repo.driverId
	}
	if event.Id == "" {
		event.Id = util.NewULID()
	}
	if event.ScheduledTime == 0 {
		event.ScheduledTime = util.Millis(repo.clock.Now())
	}

	stored := event.Copy()
	stored.LockOwner = ""
	stored.LockTime = 0
	eventData, err := json.Marshal(stored)
	if err != nil {
		return "", errors.WithStack(err)
	}

	local := "0"
	if event.IsLocal() {
		local = "1"
	}
	inserted, err := int64Result(putEventScript.Run(repo.db,
		[]string{repo.eventKey(event.Id), repo.namespace.key(eventQueueKey), repo.namespace.key(eventIdsKey), repo.namespace.key(eventSequenceKey)},
		event.Id, event.ScheduledTime, eventData, event.DriverAffinity, local))
	if err != nil {
		return "", storeError("put event", err)
	}
	if inserted == 0 {
		return "", errors.WithStack(&bmerrors.ErrDuplicateEvent{EventId: event.Id})
	}
	if event.IsLocal() {
		repo.localData.SetDefault(event.Id, event.LocalData)
	}
	return event.Id, nil
}

func (repo *RedisEventRepository) NextEvent(driverId string, maxScheduledTime int64) (*domain.Event, error) {
	return repo.claim(driverId, maxScheduledTime, false)
}

func (repo *RedisEventRepository) NextStaleEvent(driverId string, maxScheduledTime int64) (*domain.Event, error) {
	return repo.claim(driverId, maxScheduledTime, true)
}

func (repo *RedisEventRepository) claim(driverId string, maxScheduledTime int64, stale bool) (*domain.Event, error) {
	mode := "own"
	if stale {
		mode = "stale"
	}
	lockTime := util.Millis(repo.clock.Now())
	result, err := claimEventScript.Run(repo.db,
		[]string{repo.namespace.key(eventQueueKey)},
		maxScheduledTime, driverId, mode, lockTime, repo.namespace.key(eventObjectPrefix)).Result()
	if isNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("claim event", err)
	}
	id, ok := result.(string)
	if !ok {
		return nil, errors.Errorf("unexpected claim result %v of type %T", result, result)
	}
	return repo.GetEvent(id)
}

// GetEvent returns nil if there is no event with this id.
func (repo *RedisEventRepository) GetEvent(id string) (*domain.Event, error) {
	fields, err := repo.db.HGetAll(repo.eventKey(id)).Result()
	if err != nil {
		return nil, storeError("get event", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	event := &domain.Event{}
	if err := json.Unmarshal([]byte(fields["event"]), event); err != nil {
		return nil, errors.Wrapf(err, "error decoding event %s", id)
	}
	event.DriverAffinity = fields["affinity"]
	event.LockOwner = fields["lockOwner"]
	if lockTime, ok := fields["lockTime"]; ok {
		event.LockTime, err = strconv.ParseInt(lockTime, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "error decoding lock time of event %s", id)
		}
	}
	if localData, ok := repo.localData.Get(id); ok {
		event.LocalData = localData
	}
	return event, nil
}

func (repo *RedisEventRepository) DeleteEvent(id string) (bool, error) {
	deleted, err := int64Result(deleteEventScript.Run(repo.db,
		[]string{repo.eventKey(id), repo.namespace.key(eventQueueKey), repo.namespace.key(eventIdsKey)},
		id))
	if err != nil {
		return false, storeError("delete event", err)
	}
	repo.localData.Delete(id)
	return deleted == 1, nil
}

func (repo *RedisEventRepository) Count() (int64, error) {
	count, err := repo.db.SCard(repo.namespace.key(eventIdsKey)).Result()
	if err != nil {
		return 0, storeError("count events", err)
	}
	return count, nil
}

func (repo *RedisEventRepository) Clear() error {
	repo.localData.Flush()
	return deleteMatching(repo.db, "clear events", repo.namespace.key("Event"))
}

func (repo *RedisEventRepository) eventKey(id string) string {
	return repo.namespace.key(eventObjectPrefix + id)
}

// Queue members are "<zero padded insertion sequence>:<id>", so members sharing a score sort in insertion order.
var putEventScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
local sequence = tostring(redis.call('INCR', KEYS[4]))
local member = string.rep('0', 20 - string.len(sequence)) .. sequence .. ':' .. ARGV[1]
redis.call('HMSET', KEYS[1], 'event', ARGV[3], 'member', member, 'affinity', ARGV[4], 'local', ARGV[5])
redis.call('ZADD', KEYS[2], ARGV[2], member)
redis.call('SADD', KEYS[3], ARGV[1])
return 1
`)

var claimEventScript = redis.NewScript(`
local driver = ARGV[2]
local offset = 0
while true do
	local members = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', offset, 100)
	if #members == 0 then
		return false
	end
	for _, member in ipairs(members) do
		local id = string.sub(member, 22)
		local key = ARGV[5] .. id
		local affinity = redis.call('HGET', key, 'affinity')
		local pinned = affinity and affinity ~= ''
		local eligible
		if ARGV[3] == 'stale' then
			eligible = pinned and affinity ~= driver and redis.call('HGET', key, 'local') ~= '1'
		else
			eligible = (not pinned) or affinity == driver
		end
		if eligible then
			redis.call('ZREM', KEYS[1], member)
			redis.call('HMSET', key, 'lockOwner', driver, 'lockTime', ARGV[4])
			return id
		end
	end
	offset = offset + #members
end
`)

var deleteEventScript = redis.NewScript(`
local member = redis.call('HGET', KEYS[1], 'member')
if member then
	redis.call('ZREM', KEYS[2], member)
end
redis.call('SREM', KEYS[3], ARGV[1])
return redis.call('DEL', KEYS[1])
`)
