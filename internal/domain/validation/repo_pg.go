package validation

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labcore/labcore/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Create(ctx context.Context, v *ResultValidation) error {
	v.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO result_validation (id, result_id, level, validator_id, status, comments, validated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		v.ID, v.ResultID, v.Level, v.ValidatorID, v.Status, v.Comments, v.ValidatedAt)
	return err
}

func (r *repoPG) ListByResult(ctx context.Context, resultID uuid.UUID) ([]*ResultValidation, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, result_id, level, validator_id, status, comments, validated_at, created_at
		FROM result_validation WHERE result_id = $1 ORDER BY validated_at, created_at`, resultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ResultValidation
	for rows.Next() {
		var v ResultValidation
		if err := rows.Scan(&v.ID, &v.ResultID, &v.Level, &v.ValidatorID, &v.Status, &v.Comments, &v.ValidatedAt, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}
