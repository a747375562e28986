package order

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

// =========== Order Repository ===========

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository {
	return &orderRepoPG{pool: pool}
}

const orderCols = `id, order_number, patient_id, encounter_id, ordering_doctor_id, priority, status,
	is_recurring, parent_order_id, recurrence_pattern, recurrence_end_date, scheduled_date,
	notes, version_id, created_at, approved_at, completed_at, cancelled_at, updated_at`

func scanOrder(row pgx.Row) (*LabOrder, error) {
	var o LabOrder
	err := row.Scan(&o.ID, &o.OrderNumber, &o.PatientID, &o.EncounterID, &o.OrderingDoctorID, &o.Priority, &o.Status,
		&o.IsRecurring, &o.ParentOrderID, &o.RecurrencePattern, &o.RecurrenceEndDate, &o.ScheduledDate,
		&o.Notes, &o.VersionID, &o.CreatedAt, &o.ApprovedAt, &o.CompletedAt, &o.CancelledAt, &o.UpdatedAt)
	return &o, err
}

func (r *orderRepoPG) Create(ctx context.Context, o *LabOrder) error {
	o.ID = uuid.New()
	o.VersionID = 1
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO lab_order (id, order_number, patient_id, encounter_id, ordering_doctor_id, priority, status,
			is_recurring, parent_order_id, recurrence_pattern, recurrence_end_date, scheduled_date, notes, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		o.ID, o.OrderNumber, o.PatientID, o.EncounterID, o.OrderingDoctorID, o.Priority, o.Status,
		o.IsRecurring, o.ParentOrderID, o.RecurrencePattern, o.RecurrenceEndDate, o.ScheduledDate, o.Notes, o.VersionID)
	if isUniqueViolation(err) {
		return laberr.Duplicate("lab order", o.OrderNumber)
	}
	return err
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabOrder, error) {
	o, err := scanOrder(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+orderCols+` FROM lab_order WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, laberr.NotFound("lab order", id)
	}
	return o, err
}

func (r *orderRepoPG) GetByNumber(ctx context.Context, orderNumber string) (*LabOrder, error) {
	o, err := scanOrder(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+orderCols+` FROM lab_order WHERE order_number = $1`, orderNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, laberr.NotFound("lab order", orderNumber)
	}
	return o, err
}

func (r *orderRepoPG) Update(ctx context.Context, o *LabOrder) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE lab_order SET status=$2, priority=$3, scheduled_date=$4, notes=$5,
			approved_at=$6, completed_at=$7, cancelled_at=$8,
			version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $9`,
		o.ID, o.Status, o.Priority, o.ScheduledDate, o.Notes,
		o.ApprovedAt, o.CompletedAt, o.CancelledAt, o.VersionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return laberr.Conflict("lab order", o.ID)
	}
	o.VersionID++
	return nil
}

func (r *orderRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabOrder, int, error) {
	c := conn(ctx, r.pool)
	var total int
	if err := c.QueryRow(ctx, `SELECT COUNT(*) FROM lab_order WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := c.Query(ctx, `SELECT `+orderCols+` FROM lab_order WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []*LabOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	return orders, total, rows.Err()
}

// =========== Order Item Repository ===========

type itemRepoPG struct{ pool *pgxpool.Pool }

func NewItemRepoPG(pool *pgxpool.Pool) ItemRepository {
	return &itemRepoPG{pool: pool}
}

const itemCols = `id, order_id, test_id, panel_id, status, price, result_id, created_at, updated_at`

func scanItem(row pgx.Row) (*LabOrderItem, error) {
	var it LabOrderItem
	err := row.Scan(&it.ID, &it.OrderID, &it.TestID, &it.PanelID, &it.Status, &it.Price, &it.ResultID,
		&it.CreatedAt, &it.UpdatedAt)
	return &it, err
}

func (r *itemRepoPG) Create(ctx context.Context, item *LabOrderItem) error {
	item.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO lab_order_item (id, order_id, test_id, panel_id, status, price, result_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		item.ID, item.OrderID, item.TestID, item.PanelID, item.Status, item.Price, item.ResultID)
	return err
}

func (r *itemRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabOrderItem, error) {
	it, err := scanItem(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+itemCols+` FROM lab_order_item WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, laberr.NotFound("lab order item", id)
	}
	return it, err
}

func (r *itemRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*LabOrderItem, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+itemCols+` FROM lab_order_item WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*LabOrderItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *itemRepoPG) Update(ctx context.Context, item *LabOrderItem) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE lab_order_item SET status=$2, result_id=$3, updated_at=NOW() WHERE id = $1`,
		item.ID, item.Status, item.ResultID)
	return err
}

// =========== Status History Repository ===========

type historyRepoPG struct{ pool *pgxpool.Pool }

func NewHistoryRepoPG(pool *pgxpool.Pool) HistoryRepository {
	return &historyRepoPG{pool: pool}
}

func (r *historyRepoPG) Create(ctx context.Context, h *StatusHistory) error {
	h.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO lab_order_status_history (id, order_id, from_status, to_status, changed_by, reason, changed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		h.ID, h.OrderID, h.FromStatus, h.ToStatus, h.ChangedBy, h.Reason, h.ChangedAt)
	return err
}

func (r *historyRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*StatusHistory, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, order_id, from_status, to_status, changed_by, reason, changed_at
		FROM lab_order_status_history WHERE order_id = $1 ORDER BY changed_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*StatusHistory
	for rows.Next() {
		var h StatusHistory
		if err := rows.Scan(&h.ID, &h.OrderID, &h.FromStatus, &h.ToStatus, &h.ChangedBy, &h.Reason, &h.ChangedAt); err != nil {
			return nil, err
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
