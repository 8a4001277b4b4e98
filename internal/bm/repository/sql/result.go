package sql

import (
	"context"
	"encoding/json"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/bm/repository"
	"github.com/benchforge/bmdriver/internal/common/util"
)

const createResultTable = `
create table bm_result (
	test_run text not null,
	id text not null,
	event_name text not null,
	success boolean not null,
	start_time bigint not null,
	record jsonb not null,
	primary key (test_run, id)
);
create index bm_result_start on bm_result (test_run, start_time);
create index bm_result_event on bm_result (test_run, event_name, start_time);`

var (
	dialect = goqu.Dialect("postgres")

	resultTable = goqu.T("bm_result")

	result_testRun   = goqu.C("test_run")
	result_id        = goqu.C("id")
	result_eventName = goqu.C("event_name")
	result_success   = goqu.C("success")
	result_startTime = goqu.C("start_time")
	result_record    = goqu.C("record")
)

type PostgresResultRepository struct {
	db      *pgxpool.Pool
	testRun string
	timeout time.Duration
}

var _ repository.ResultRepository = &PostgresResultRepository{}

func NewPostgresResultRepository(db *pgxpool.Pool, namespace repository.Namespace, timeout time.Duration) *PostgresResultRepository {
	return &PostgresResultRepository{
		db:      db,
		testRun: namespace.String(),
		timeout: timeout,
	}
}

func (repo *PostgresResultRepository) RecordResult(record *domain.EventRecord) error {
	if record.Id == "" {
		record.Id = util.NewULID()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return errors.WithStack(err)
	}
	sql, args, err := dialect.Insert(resultTable).
		Prepared(true).
		Rows(goqu.Record{
			"test_run":   repo.testRun,
			"id":         record.Id,
			"event_name": record.EventName(),
			"success":    record.Success,
			"start_time": record.StartTime,
			"record":     string(data),
		}).
		ToSQL()
	if err != nil {
		return errors.WithStack(err)
	}

	ctx, cancel := repo.context()
	defer cancel()
	err = withTable(ctx, repo.db, createResultTable, func() error {
		_, err := repo.db.Exec(ctx, sql, args...)
		return err
	})
	return storeError("record result", err)
}

func (repo *PostgresResultRepository) CountResultsBySuccess() (int64, error) {
	return repo.count(result_success.IsTrue())
}

func (repo *PostgresResultRepository) CountResultsByFailure() (int64, error) {
	return repo.count(result_success.IsFalse())
}

func (repo *PostgresResultRepository) CountResults() (int64, error) {
	return repo.count()
}

func (repo *PostgresResultRepository) CountResultsByEventName(eventName string) (int64, error) {
	return repo.count(result_eventName.Eq(eventName))
}

func (repo *PostgresResultRepository) GetFirstResult() (*domain.EventRecord, error) {
	records, err := repo.GetResults("", 0, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func (repo *PostgresResultRepository) GetResults(eventName string, skip int64, limit int64) ([]*domain.EventRecord, error) {
	if limit <= 0 {
		return []*domain.EventRecord{}, nil
	}
	ds := dialect.From(resultTable).
		Prepared(true).
		Select(result_record).
		Where(result_testRun.Eq(repo.testRun)).
		Order(result_startTime.Asc(), result_id.Asc()).
		Offset(uint(skip)).
		Limit(uint(limit))
	if eventName != "" {
		ds = ds.Where(result_eventName.Eq(eventName))
	}
	sql, args, err := ds.ToSQL()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	ctx, cancel := repo.context()
	defer cancel()
	records := []*domain.EventRecord{}
	err = withTable(ctx, repo.db, createResultTable, func() error {
		records = records[:0]
		rows, err := repo.db.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var data []byte
			if err := rows.Scan(&data); err != nil {
				return err
			}
			record := &domain.EventRecord{}
			if err := json.Unmarshal(data, record); err != nil {
				return errors.Wrap(err, "error decoding result")
			}
			records = append(records, record)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storeError("get results", err)
	}
	return records, nil
}

func (repo *PostgresResultRepository) Clear() error {
	sql, args, err := dialect.Delete(resultTable).
		Prepared(true).
		Where(result_testRun.Eq(repo.testRun)).
		ToSQL()
	if err != nil {
		return errors.WithStack(err)
	}
	ctx, cancel := repo.context()
	defer cancel()
	err = withTable(ctx, repo.db, createResultTable, func() error {
		_, err := repo.db.Exec(ctx, sql, args...)
		return err
	})
	return storeError("clear results", err)
}

func (repo *PostgresResultRepository) count(filters ...exp.Expression) (int64, error) {
	sql, args, err := dialect.From(resultTable).
		Prepared(true).
		Select(goqu.COUNT("*")).
		Where(append([]exp.Expression{result_testRun.Eq(repo.testRun)}, filters...)...).
		ToSQL()
	if err != nil {
		return 0, errors.WithStack(err)
	}

	ctx, cancel := repo.context()
	defer cancel()
	var count int64
	err = withTable(ctx, repo.db, createResultTable, func() error {
		err := repo.db.QueryRow(ctx, sql, args...).Scan(&count)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	})
	if err != nil {
		return 0, storeError("count results", err)
	}
	return count, nil
}

func (repo *PostgresResultRepository) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), repo.timeout)
}
