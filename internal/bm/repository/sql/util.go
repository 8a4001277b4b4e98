package sql

import (
	"context"
	"net"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/benchforge/bmdriver/internal/common/bmerrors"
)

// withTable runs action and, if the table it uses doesn't exist yet, creates it and runs action again.
func withTable(ctx context.Context, db *pgxpool.Pool, ddl string, action func() error) error {
	err := action()
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		if err := createTable(ctx, db, ddl); err != nil {
			return err
		}
		err = action()
	}
	return err
}

func createTable(ctx context.Context, db *pgxpool.Pool, ddl string) error {
	_, err := db.Exec(ctx, ddl)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgerrcode.DuplicateTable || pgErr.Code == pgerrcode.UniqueViolation) {
		// Another driver created it concurrently.
		return nil
	}
	return err
}

func storeError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if isConnectionError(err) {
		return errors.WithStack(&bmerrors.ErrStoreUnavailable{Operation: operation, Cause: err})
	}
	return errors.Wrapf(err, "error during %s", operation)
}

func isConnectionError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected ||
			pgErr.Code == pgerrcode.AdminShutdown ||
			pgErr.Code == pgerrcode.CannotConnectNow
	}
	return pgconn.SafeToRetry(err)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
