package alert

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

const alertCols = `id, result_id, parameter_id, order_id, patient_id, alert_type, severity,
	test_name, parameter_code, parameter_name, value, unit, reference_range, delta_percentage,
	notified_to, notification_method, notified_at,
	acknowledged_by, acknowledged_at, acknowledgment_notes,
	action_taken, resolved_by, resolved_at, escalated_at,
	version_id, created_at, updated_at`

func scanAlert(row pgx.Row) (*CriticalValueAlert, error) {
	var a CriticalValueAlert
	err := row.Scan(&a.ID, &a.ResultID, &a.ParameterID, &a.OrderID, &a.PatientID, &a.AlertType, &a.Severity,
		&a.TestName, &a.ParameterCode, &a.ParameterName, &a.Value, &a.Unit, &a.ReferenceRange, &a.DeltaPercentage,
		&a.NotifiedTo, &a.NotificationMethod, &a.NotifiedAt,
		&a.AcknowledgedBy, &a.AcknowledgedAt, &a.AcknowledgmentNotes,
		&a.ActionTaken, &a.ResolvedBy, &a.ResolvedAt, &a.EscalatedAt,
		&a.VersionID, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *CriticalValueAlert) error {
	a.ID = uuid.New()
	a.VersionID = 1
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO critical_value_alert (id, result_id, parameter_id, order_id, patient_id, alert_type, severity,
			test_name, parameter_code, parameter_name, value, unit, reference_range, delta_percentage,
			notified_to, notification_method, notified_at, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		a.ID, a.ResultID, a.ParameterID, a.OrderID, a.PatientID, a.AlertType, a.Severity,
		a.TestName, a.ParameterCode, a.ParameterName, a.Value, a.Unit, a.ReferenceRange, a.DeltaPercentage,
		a.NotifiedTo, a.NotificationMethod, a.NotifiedAt, a.VersionID)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*CriticalValueAlert, error) {
	a, err := scanAlert(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+alertCols+` FROM critical_value_alert WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, laberr.NotFound("critical value alert", id)
	}
	return a, err
}

func (r *repoPG) Update(ctx context.Context, a *CriticalValueAlert) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE critical_value_alert SET
			acknowledged_by=$2, acknowledged_at=$3, acknowledgment_notes=$4,
			action_taken=$5, resolved_by=$6, resolved_at=$7, escalated_at=$8,
			version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $9`,
		a.ID, a.AcknowledgedBy, a.AcknowledgedAt, a.AcknowledgmentNotes,
		a.ActionTaken, a.ResolvedBy, a.ResolvedAt, a.EscalatedAt, a.VersionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return laberr.Conflict("critical value alert", a.ID)
	}
	a.VersionID++
	return nil
}

func (r *repoPG) ListByResult(ctx context.Context, resultID uuid.UUID) ([]*CriticalValueAlert, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+alertCols+` FROM critical_value_alert WHERE result_id = $1 ORDER BY created_at`, resultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func (r *repoPG) ListUnacknowledged(ctx context.Context) ([]*CriticalValueAlert, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+alertCols+` FROM critical_value_alert
		WHERE acknowledged_at IS NULL AND resolved_at IS NULL
		ORDER BY notified_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*CriticalValueAlert, error) {
	var alerts []*CriticalValueAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
