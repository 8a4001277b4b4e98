package bm

import (
	"context"

	"github.com/go-redis/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/benchforge/bmdriver/internal/bm/configuration"
	"github.com/benchforge/bmdriver/internal/bm/repository"
	"github.com/benchforge/bmdriver/internal/bm/repository/sql"
	"github.com/benchforge/bmdriver/internal/common/database"
	"github.com/benchforge/bmdriver/internal/common/health"
	"github.com/benchforge/bmdriver/internal/common/util"
)

// Stores holds the repositories of one test run.
type Stores struct {
	Namespace repository.Namespace
	Events    repository.EventRepository
	Results   repository.ResultRepository
	Sessions  repository.SessionRepository
	RunState  repository.RunStateRepository
	Logs      repository.LogRepository

	redis    redis.UniversalClient
	postgres *pgxpool.Pool
}

// OpenStores connects to the configured stores. Close must be called once the stores are no longer used.
func OpenStores(ctx context.Context, config *configuration.BmDriverConfig, driverId string, clock util.Clock) (*Stores, error) {
	namespace := repository.Namespace{Test: config.Test, Run: config.Run}
	db := createRedisClient(&config.Redis)
	stores := &Stores{Namespace: namespace, redis: db}

	if config.EventStore == configuration.PostgresStore || config.ResultStore == configuration.PostgresStore {
		pool, err := database.OpenPgxPool(ctx, config.Postgres)
		if err != nil {
			stores.Close()
			return nil, err
		}
		stores.postgres = pool
	}

	if config.EventStore == configuration.PostgresStore {
		stores.Events = sql.NewPostgresEventRepository(stores.postgres, namespace, driverId, config.Postgres.Timeout, config.LocalDataTTL)
	} else {
		stores.Events = repository.NewRedisEventRepository(db, namespace, driverId, config.LocalDataTTL)
	}
	if config.ResultStore == configuration.PostgresStore {
		stores.Results = sql.NewPostgresResultRepository(stores.postgres, namespace, config.Postgres.Timeout)
	} else {
		stores.Results = repository.NewRedisResultRepository(db, namespace)
	}

	sessions, err := repository.NewRedisSessionRepository(db, namespace, clock, config.SessionCacheSize)
	if err != nil {
		stores.Close()
		return nil, err
	}
	stores.Sessions = sessions
	stores.RunState = repository.NewRedisRunStateRepository(db, namespace)
	stores.Logs = repository.NewRedisLogRepository(db, namespace, config.RunLogMaxEntries)
	return stores, nil
}

// HealthCheckers returns a checker per store connection.
func (s *Stores) HealthCheckers() []health.Checker {
	checkers := []health.Checker{
		health.CheckerFunc(func() error { return s.redis.Ping().Err() }),
	}
	if s.postgres != nil {
		checkers = append(checkers, health.CheckerFunc(func() error { return s.postgres.Ping(context.Background()) }))
	}
	return checkers
}

// Clear removes every event, result, session and log line of the run. The run state is kept.
func (s *Stores) Clear() error {
	for name, clear := range map[string]func() error{
		"events":   s.Events.Clear,
		"results":  s.Results.Clear,
		"sessions": s.Sessions.Clear,
		"logs":     s.Logs.Clear,
	} {
		if err := clear(); err != nil {
			log.WithError(err).Errorf("Failed to clear %s of %s", name, s.Namespace)
			return err
		}
	}
	return nil
}

func (s *Stores) Close() {
	if s.postgres != nil {
		s.postgres.Close()
	}
	util.CloseResource("redis", s.redis)
}

func createRedisClient(config *redis.UniversalOptions) redis.UniversalClient {
	return redis.NewUniversalClient(config)
}
