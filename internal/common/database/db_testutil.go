package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
)

// TestConfig points at the Postgres instance used by tests.
var TestConfig = PostgresConfig{
	Connection: map[string]string{
		"host":     "localhost",
		"port":     "5432",
		"user":     "postgres",
		"password": "psw",
		"dbname":   "postgres",
		"sslmode":  "disable",
	},
	Timeout: 5 * time.Second,
}

// WithTestDb connects to the test instance and runs action. The returned bool is false if
// Postgres isn't reachable, in which case action isn't run and callers should skip.
func WithTestDb(action func(db *pgxpool.Pool) error) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	db, err := OpenPgxPool(ctx, TestConfig)
	if err != nil {
		return false, nil
	}
	defer db.Close()
	return true, action(db)
}
