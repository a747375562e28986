package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labcore/labcore/internal/platform/db"
	"github.com/labcore/labcore/internal/platform/laberr"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type testRepoPG struct{ pool *pgxpool.Pool }

func NewTestRepoPG(pool *pgxpool.Pool) TestRepository {
	return &testRepoPG{pool: pool}
}

func (r *testRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const testCols = `id, code, name, category, specimen_type, price, turnaround_minutes,
	requires_pathologist_review, is_active, created_at, updated_at`

func scanTest(row pgx.Row) (*LabTest, error) {
	var t LabTest
	err := row.Scan(&t.ID, &t.Code, &t.Name, &t.Category, &t.SpecimenType, &t.Price, &t.TurnaroundMinutes,
		&t.RequiresPathologistReview, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func (r *testRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabTest, error) {
	t, err := scanTest(r.conn(ctx).QueryRow(ctx, `SELECT `+testCols+` FROM lab_test WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, laberr.NotFound("lab test", id)
	}
	return t, err
}

func (r *testRepoPG) GetByCode(ctx context.Context, code string) (*LabTest, error) {
	t, err := scanTest(r.conn(ctx).QueryRow(ctx, `SELECT `+testCols+` FROM lab_test WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, laberr.NotFound("lab test", code)
	}
	return t, err
}

const paramCols = `id, test_id, code, name, unit, display_order,
	normal_low, normal_high, normal_text,
	critical_low, critical_high, panic_low, panic_high,
	delta_check_enabled, delta_percent_threshold, delta_absolute_threshold`

func scanParameter(row pgx.Row) (*LabTestParameter, error) {
	var p LabTestParameter
	err := row.Scan(&p.ID, &p.TestID, &p.Code, &p.Name, &p.Unit, &p.DisplayOrder,
		&p.NormalLow, &p.NormalHigh, &p.NormalText,
		&p.CriticalLow, &p.CriticalHigh, &p.PanicLow, &p.PanicHigh,
		&p.DeltaCheckEnabled, &p.DeltaPercentThreshold, &p.DeltaAbsoluteThreshold)
	return &p, err
}

func (r *testRepoPG) ListParameters(ctx context.Context, testID uuid.UUID) ([]*LabTestParameter, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+paramCols+` FROM lab_test_parameter WHERE test_id = $1 ORDER BY display_order, code`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var params []*LabTestParameter
	for rows.Next() {
		p, err := scanParameter(rows)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, rows.Err()
}

func (r *testRepoPG) GetParameter(ctx context.Context, id uuid.UUID) (*LabTestParameter, error) {
	p, err := scanParameter(r.conn(ctx).QueryRow(ctx,
		`SELECT `+paramCols+` FROM lab_test_parameter WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, laberr.NotFound("lab test parameter", id)
	}
	return p, err
}

type panelRepoPG struct{ pool *pgxpool.Pool }

func NewPanelRepoPG(pool *pgxpool.Pool) PanelRepository {
	return &panelRepoPG{pool: pool}
}

func (r *panelRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *panelRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabPanel, error) {
	var p LabPanel
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, code, name, price, is_active, created_at, updated_at FROM lab_panel WHERE id = $1`, id).
		Scan(&p.ID, &p.Code, &p.Name, &p.Price, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, laberr.NotFound("lab panel", id)
	}
	return &p, err
}

func (r *panelRepoPG) TestIDs(ctx context.Context, panelID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT test_id FROM lab_panel_test WHERE panel_id = $1 ORDER BY display_order`, panelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
