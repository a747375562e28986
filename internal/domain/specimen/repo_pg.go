package specimen

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const cols = `id, specimen_number, barcode, order_item_id, order_id, patient_id,
	specimen_type, status, quality_status,
	collected_by, collected_at, received_by, received_at,
	hemolyzed, lipemic, icteric, quality_notes, rejection_reason,
	storage_location, storage_temperature, stored_at,
	disposal_method, disposed_by, disposed_at,
	version_id, created_at, updated_at`

func scan(row pgx.Row) (*Specimen, error) {
	var sp Specimen
	err := row.Scan(&sp.ID, &sp.SpecimenNumber, &sp.Barcode, &sp.OrderItemID, &sp.OrderID, &sp.PatientID,
		&sp.SpecimenType, &sp.Status, &sp.QualityStatus,
		&sp.CollectedBy, &sp.CollectedAt, &sp.ReceivedBy, &sp.ReceivedAt,
		&sp.Hemolyzed, &sp.Lipemic, &sp.Icteric, &sp.QualityNotes, &sp.RejectionReason,
		&sp.StorageLocation, &sp.StorageTemperature, &sp.StoredAt,
		&sp.DisposalMethod, &sp.DisposedBy, &sp.DisposedAt,
		&sp.VersionID, &sp.CreatedAt, &sp.UpdatedAt)
	return &sp, err
}

func (r *repoPG) Create(ctx context.Context, sp *Specimen) error {
	sp.ID = uuid.New()
	sp.VersionID = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO specimen (id, specimen_number, barcode, order_item_id, order_id, patient_id,
			specimen_type, status, quality_status, collected_by, collected_at, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		sp.ID, sp.SpecimenNumber, sp.Barcode, sp.OrderItemID, sp.OrderID, sp.PatientID,
		sp.SpecimenType, sp.Status, sp.QualityStatus, sp.CollectedBy, sp.CollectedAt, sp.VersionID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return laberr.Duplicate("specimen barcode", sp.Barcode)
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Specimen, error) {
	sp, err := scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM specimen WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, laberr.NotFound("specimen", id)
	}
	return sp, err
}

func (r *repoPG) GetByBarcode(ctx context.Context, barcode string) (*Specimen, error) {
	sp, err := scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM specimen WHERE barcode = $1`, barcode))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, laberr.NotFound("specimen", barcode)
	}
	return sp, err
}

func (r *repoPG) Update(ctx context.Context, sp *Specimen) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE specimen SET status=$2, quality_status=$3,
			received_by=$4, received_at=$5,
			hemolyzed=$6, lipemic=$7, icteric=$8,
			quality_notes=$9, rejection_reason=$10,
			storage_location=$11, storage_temperature=$12, stored_at=$13,
			disposal_method=$14, disposed_by=$15, disposed_at=$16,
			version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $17`,
		sp.ID, sp.Status, sp.QualityStatus,
		sp.ReceivedBy, sp.ReceivedAt,
		sp.Hemolyzed, sp.Lipemic, sp.Icteric,
		sp.QualityNotes, sp.RejectionReason,
		sp.StorageLocation, sp.StorageTemperature, sp.StoredAt,
		sp.DisposalMethod, sp.DisposedBy, sp.DisposedAt,
		sp.VersionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return laberr.Conflict("specimen", sp.ID)
	}
	sp.VersionID++
	return nil
}

func (r *repoPG) ListByOrderItem(ctx context.Context, orderItemID uuid.UUID) ([]*Specimen, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+cols+` FROM specimen WHERE order_item_id = $1 ORDER BY collected_at`, orderItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var specimens []*Specimen
	for rows.Next() {
		sp, err := scan(rows)
		if err != nil {
			return nil, err
		}
		specimens = append(specimens, sp)
	}
	return specimens, rows.Err()
}
