package sql

import (
	"context"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/bm/repository"
	"github.com/benchforge/bmdriver/internal/common/bmerrors"
	"github.com/benchforge/bmdriver/internal/common/util"
)

const createEventTable = `
create table bm_event (
	test_run text not null,
	id text not null,
	seq bigserial,
	name text not null,
	scheduled_time bigint not null,
	data bytea,
	driver_affinity text,
	local boolean not null default false,
	lock_owner text,
	lock_time bigint,
	session_id text,
	primary key (test_run, id)
);
create index bm_event_queue on bm_event (test_run, scheduled_time, seq) where lock_time is null;`

const eventColumns = `id, name, scheduled_time, data, driver_affinity, lock_owner, lock_time, session_id`

const claimEvent = `
update bm_event set lock_owner = $1, lock_time = $2
where test_run = $3 and id = (
	select id from bm_event
	where test_run = $3 and lock_time is null and scheduled_time <= $4
		and (coalesce(driver_affinity, '') = '' or driver_affinity = $1)
	order by scheduled_time, seq
	limit 1
	for update skip locked)
returning ` + eventColumns

const claimStaleEvent = `
update bm_event set lock_owner = $1, lock_time = $2
where test_run = $3 and id = (
	select id from bm_event
	where test_run = $3 and lock_time is null and scheduled_time <= $4
		and coalesce(driver_affinity, '') not in ('', $1) and not local
	order by scheduled_time, seq
	limit 1
	for update skip locked)
returning ` + eventColumns

// PostgresEventRepository is a repository.EventRepository for deployments that share a Postgres database
// instead of Redis. Rows are claimed with "for update skip locked", so concurrent drivers never block on each other.
type PostgresEventRepository struct {
	db        *pgxpool.Pool
	testRun   string
	driverId  string
	timeout   time.Duration
	clock     util.Clock
	localData *cache.Cache
}

var _ repository.EventRepository = &PostgresEventRepository{}

func NewPostgresEventRepository(db *pgxpool.Pool, namespace repository.Namespace, driverId string, timeout time.Duration, localDataTTL time.Duration) *PostgresEventRepository {
	return &PostgresEventRepository{
		db:        db,
		testRun:   namespace.String(),
		driverId:  driverId,
		timeout:   timeout,
		clock:     &util.DefaultClock{},
		localData: cache.New(localDataTTL, localDataTTL),
	}
}

func (repo *PostgresEventRepository) PutEvent(event *domain.Event) (string, error) {
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

	ctx, cancel := repo.context()
	defer cancel()
	err := withTable(ctx, repo.db, createEventTable, func() error {
		_, err := repo.db.Exec(ctx,
			`insert into bm_event (test_run, id, name, scheduled_time, data, driver_affinity, local, session_id)
			values ($1, $2, $3, $4, $5, $6, $7, $8)`,
			repo.testRun, event.Id, event.Name, event.ScheduledTime, []byte(event.Data),
			nullable(event.DriverAffinity), event.IsLocal(), nullable(event.SessionId))
		return err
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return "", errors.WithStack(&bmerrors.ErrDuplicateEvent{EventId: event.Id})
	}
	if err != nil {
		return "", storeError("put event", err)
	}
	if event.IsLocal() {
		repo.localData.SetDefault(event.Id, event.LocalData)
	}
	return event.Id, nil
}

func (repo *PostgresEventRepository) NextEvent(driverId string, maxScheduledTime int64) (*domain.Event, error) {
	return repo.claim(claimEvent, driverId, maxScheduledTime)
}

func (repo *PostgresEventRepository) NextStaleEvent(driverId string, maxScheduledTime int64) (*domain.Event, error) {
	return repo.claim(claimStaleEvent, driverId, maxScheduledTime)
}

func (repo *PostgresEventRepository) claim(query string, driverId string, maxScheduledTime int64) (*domain.Event, error) {
	ctx, cancel := repo.context()
	defer cancel()
	var event *domain.Event
	err := withTable(ctx, repo.db, createEventTable, func() error {
		var err error
		event, err = repo.scanEvent(repo.db.QueryRow(ctx, query, driverId, util.Millis(repo.clock.Now()), repo.testRun, maxScheduledTime))
		return err
	})
	if err != nil {
		return nil, storeError("claim event", err)
	}
	return event, nil
}

func (repo *PostgresEventRepository) GetEvent(id string) (*domain.Event, error) {
	ctx, cancel := repo.context()
	defer cancel()
	var event *domain.Event
	err := withTable(ctx, repo.db, createEventTable, func() error {
		var err error
		event, err = repo.scanEvent(repo.db.QueryRow(ctx,
			"select "+eventColumns+" from bm_event where test_run = $1 and id = $2", repo.testRun, id))
		return err
	})
	if err != nil {
		return nil, storeError("get event", err)
	}
	return event, nil
}

func (repo *PostgresEventRepository) DeleteEvent(id string) (bool, error) {
	ctx, cancel := repo.context()
	defer cancel()
	var deleted int64
	err := withTable(ctx, repo.db, createEventTable, func() error {
		tag, err := repo.db.Exec(ctx, "delete from bm_event where test_run = $1 and id = $2", repo.testRun, id)
		deleted = tag.RowsAffected()
		return err
	})
	if err != nil {
		return false, storeError("delete event", err)
	}
	repo.localData.Delete(id)
	return deleted > 0, nil
}

func (repo *PostgresEventRepository) Count() (int64, error) {
	ctx, cancel := repo.context()
	defer cancel()
	var count int64
	err := withTable(ctx, repo.db, createEventTable, func() error {
		return repo.db.QueryRow(ctx, "select count(*) from bm_event where test_run = $1", repo.testRun).Scan(&count)
	})
	if err != nil {
		return 0, storeError("count events", err)
	}
	return count, nil
}

func (repo *PostgresEventRepository) Clear() error {
	ctx, cancel := repo.context()
	defer cancel()
	repo.localData.Flush()
	err := withTable(ctx, repo.db, createEventTable, func() error {
		_, err := repo.db.Exec(ctx, "delete from bm_event where test_run = $1", repo.testRun)
		return err
	})
	return storeError("clear events", err)
}

// scanEvent returns nil if the row doesn't exist.
func (repo *PostgresEventRepository) scanEvent(row pgx.Row) (*domain.Event, error) {
	var (
		event     domain.Event
		data      []byte
		affinity  *string
		lockOwner *string
		lockTime  *int64
		sessionId *string
	)
	err := row.Scan(&event.Id, &event.Name, &event.ScheduledTime, &data, &affinity, &lockOwner, &lockTime, &sessionId)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		event.Data = data
	}
	event.DriverAffinity = deref(affinity)
	event.LockOwner = deref(lockOwner)
	event.SessionId = deref(sessionId)
	if lockTime != nil {
		event.LockTime = *lockTime
	}
	if localData, ok := repo.localData.Get(event.Id); ok {
		event.LocalData = localData
	}
	return &event, nil
}

func (repo *PostgresEventRepository) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), repo.timeout)
}
