package result

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

// =========== Result Repository ===========

type resultRepoPG struct{ pool *pgxpool.Pool }

func NewResultRepoPG(pool *pgxpool.Pool) ResultRepository {
	return &resultRepoPG{pool: pool}
}

const resultCols = `id, result_number, order_item_id, order_id, patient_id, specimen_id,
	test_id, test_code, test_name, status, interpretation,
	has_critical_values, has_panic_values, delta_check_flagged,
	requires_pathologist_review, review_notes, entered_by, entry_method,
	original_result_id, amendment_reason, amended_by, amended_at,
	finalized_by, finalized_at, cancelled_at, version_id, created_at, updated_at`

func scanResult(row pgx.Row) (*LabResult, error) {
	var r LabResult
	err := row.Scan(&r.ID, &r.ResultNumber, &r.OrderItemID, &r.OrderID, &r.PatientID, &r.SpecimenID,
		&r.TestID, &r.TestCode, &r.TestName, &r.Status, &r.Interpretation,
		&r.HasCriticalValues, &r.HasPanicValues, &r.DeltaCheckFlagged,
		&r.RequiresPathologistReview, &r.ReviewNotes, &r.EnteredBy, &r.EntryMethod,
		&r.OriginalResultID, &r.AmendmentReason, &r.AmendedBy, &r.AmendedAt,
		&r.FinalizedBy, &r.FinalizedAt, &r.CancelledAt, &r.VersionID, &r.CreatedAt, &r.UpdatedAt)
	return &r, err
}

func (p *resultRepoPG) Create(ctx context.Context, r *LabResult) error {
	r.ID = uuid.New()
	r.VersionID = 1
	_, err := conn(ctx, p.pool).Exec(ctx, `
		INSERT INTO lab_result (id, result_number, order_item_id, order_id, patient_id, specimen_id,
			test_id, test_code, test_name, status, interpretation,
			has_critical_values, has_panic_values, delta_check_flagged,
			requires_pathologist_review, review_notes, entered_by, entry_method,
			original_result_id, amendment_reason, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		r.ID, r.ResultNumber, r.OrderItemID, r.OrderID, r.PatientID, r.SpecimenID,
		r.TestID, r.TestCode, r.TestName, r.Status, r.Interpretation,
		r.HasCriticalValues, r.HasPanicValues, r.DeltaCheckFlagged,
		r.RequiresPathologistReview, r.ReviewNotes, r.EnteredBy, r.EntryMethod,
		r.OriginalResultID, r.AmendmentReason, r.VersionID)
	if isUniqueViolation(err) {
		return laberr.Duplicate("lab result", r.ResultNumber)
	}
	return err
}

func (p *resultRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabResult, error) {
	r, err := scanResult(conn(ctx, p.pool).QueryRow(ctx, `SELECT `+resultCols+` FROM lab_result WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, laberr.NotFound("lab result", id)
	}
	return r, err
}

func (p *resultRepoPG) GetByNumber(ctx context.Context, resultNumber string) (*LabResult, error) {
	r, err := scanResult(conn(ctx, p.pool).QueryRow(ctx, `SELECT `+resultCols+` FROM lab_result WHERE result_number = $1`, resultNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, laberr.NotFound("lab result", resultNumber)
	}
	return r, err
}

func (p *resultRepoPG) Update(ctx context.Context, r *LabResult) error {
	tag, err := conn(ctx, p.pool).Exec(ctx, `
		UPDATE lab_result SET status=$2, interpretation=$3,
			has_critical_values=$4, has_panic_values=$5, delta_check_flagged=$6,
			requires_pathologist_review=$7, review_notes=$8,
			amendment_reason=$9, amended_by=$10, amended_at=$11,
			finalized_by=$12, finalized_at=$13, cancelled_at=$14,
			version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $15`,
		r.ID, r.Status, r.Interpretation,
		r.HasCriticalValues, r.HasPanicValues, r.DeltaCheckFlagged,
		r.RequiresPathologistReview, r.ReviewNotes,
		r.AmendmentReason, r.AmendedBy, r.AmendedAt,
		r.FinalizedBy, r.FinalizedAt, r.CancelledAt, r.VersionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return laberr.Conflict("lab result", r.ID)
	}
	r.VersionID++
	return nil
}

func (p *resultRepoPG) ListByOrderItem(ctx context.Context, orderItemID uuid.UUID) ([]*LabResult, error) {
	rows, err := conn(ctx, p.pool).Query(ctx, `SELECT `+resultCols+` FROM lab_result WHERE order_item_id = $1 ORDER BY created_at`, orderItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*LabResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// PreviousValue orders by entry time with the result id as tiebreaker so
// the selection stays deterministic under concurrent entry.
func (p *resultRepoPG) PreviousValue(ctx context.Context, patientID, testID uuid.UUID, parameterCode string, excludeResultID uuid.UUID) (*float64, error) {
	var value *float64
	err := conn(ctx, p.pool).QueryRow(ctx, `
		SELECT rp.value_numeric
		FROM lab_result_parameter rp
		JOIN lab_result r ON r.id = rp.result_id
		WHERE r.patient_id = $1 AND r.test_id = $2 AND rp.parameter_code = $3
			AND r.id <> $4
			AND r.status NOT IN ('CANCELLED','ENTERED_IN_ERROR','AMENDED')
			AND rp.value_numeric IS NOT NULL
		ORDER BY rp.entered_at DESC, r.id DESC
		LIMIT 1`,
		patientID, testID, parameterCode, excludeResultID).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return value, err
}

// =========== Parameter Repository ===========

type parameterRepoPG struct{ pool *pgxpool.Pool }

func NewParameterRepoPG(pool *pgxpool.Pool) ParameterRepository {
	return &parameterRepoPG{pool: pool}
}

const parameterCols = `id, result_id, parameter_id, parameter_code, parameter_name, unit,
	value_numeric, value_text, reference_range, flag, previous_value, delta_percentage, delta_flagged,
	entered_by, entered_at, created_at`

func scanParameter(row pgx.Row) (*LabResultParameter, error) {
	var p LabResultParameter
	err := row.Scan(&p.ID, &p.ResultID, &p.ParameterID, &p.ParameterCode, &p.ParameterName, &p.Unit,
		&p.ValueNumeric, &p.ValueText, &p.ReferenceRange, &p.Flag, &p.PreviousValue, &p.DeltaPercentage, &p.DeltaFlagged,
		&p.EnteredBy, &p.EnteredAt, &p.CreatedAt)
	return &p, err
}

func (r *parameterRepoPG) Create(ctx context.Context, p *LabResultParameter) error {
	p.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO lab_result_parameter (id, result_id, parameter_id, parameter_code, parameter_name, unit,
			value_numeric, value_text, reference_range, flag, previous_value, delta_percentage, delta_flagged,
			entered_by, entered_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		p.ID, p.ResultID, p.ParameterID, p.ParameterCode, p.ParameterName, p.Unit,
		p.ValueNumeric, p.ValueText, p.ReferenceRange, p.Flag, p.PreviousValue, p.DeltaPercentage, p.DeltaFlagged,
		p.EnteredBy, p.EnteredAt)
	return err
}

func (r *parameterRepoPG) ListByResult(ctx context.Context, resultID uuid.UUID) ([]*LabResultParameter, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+parameterCols+` FROM lab_result_parameter WHERE result_id = $1 ORDER BY entered_at, created_at`, resultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var params []*LabResultParameter
	for rows.Next() {
		p, err := scanParameter(rows)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
