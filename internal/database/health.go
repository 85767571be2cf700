package database

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaeljc/nornir/internal/observability"
)

var (
	errNoPool   = errors.New("postgres pool not initialized")
	errNoBadger = errors.New("badger database not initialized")
	errClosed   = errors.New("badger database is closed")
)

// NewHealthChecker reports "postgres" as ready while the pool answers a ping.
func NewHealthChecker(pool *pgxpool.Pool) observability.Checker {
	return observability.CheckFunc{
		Component: "postgres",
		Fn: func(ctx context.Context) error {
			if pool == nil {
				return errNoPool
			}
			return pool.Ping(ctx)
		},
	}
}

// NewBadgerHealthChecker reports "badger" as ready until db is closed.
func NewBadgerHealthChecker(db *badger.DB) observability.Checker {
	return observability.CheckFunc{
		Component: "badger",
		Fn: func(ctx context.Context) error {
			switch {
			case db == nil:
				return errNoBadger
			case db.IsClosed():
				return errClosed
			}
			return ctx.Err()
		},
	}
}
