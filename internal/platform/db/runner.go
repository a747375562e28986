package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Runner executes fn atomically. Services depend on this instead of the
// pool so unit tests can substitute a passthrough.
type Runner func(ctx context.Context, fn func(ctx context.Context) error) error

// PoolRunner returns a Runner backed by InTx on the given pool.
func PoolRunner(pool *pgxpool.Pool) Runner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		return InTx(ctx, pool, fn)
	}
}

// PassthroughRunner runs fn without a transaction. For tests with
// in-memory repositories.
func PassthroughRunner() Runner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		return fn(ctx)
	}
}
