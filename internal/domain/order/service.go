package order

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/labcore/labcore/internal/domain/catalog"
	"github.com/labcore/labcore/internal/platform/db"
	"github.com/labcore/labcore/internal/platform/idgen"
	"github.com/labcore/labcore/internal/platform/laberr"
	"github.com/labcore/labcore/pkg/pagination"
)

// CompletionListener receives the order-item-completion signal consumed by
// billing/reporting collaborators.
type CompletionListener interface {
	OrderItemCompleted(ctx context.Context, item *LabOrderItem) error
}

type Service struct {
	orders  OrderRepository
	items   ItemRepository
	history HistoryRepository
	tests   catalog.TestRepository
	panels  catalog.PanelRepository
	seq     idgen.Sequence
	run     db.Runner
	now     func() time.Time

	completionListeners []CompletionListener
}

func NewService(orders OrderRepository, items ItemRepository, history HistoryRepository,
	tests catalog.TestRepository, panels catalog.PanelRepository, seq idgen.Sequence, run db.Runner) *Service {
	return &Service{
		orders:  orders,
		items:   items,
		history: history,
		tests:   tests,
		panels:  panels,
		seq:     seq,
		run:     run,
		now:     time.Now,
	}
}

// AddCompletionListener registers a consumer of the item-completion signal.
func (s *Service) AddCompletionListener(l CompletionListener) {
	s.completionListeners = append(s.completionListeners, l)
}

// CreateOrder persists the order with one item per ordered test, expanding
// each panel into its constituent tests. Item prices are snapshotted from
// the catalog. The whole creation, including the first history record, is
// atomic.
func (s *Service) CreateOrder(ctx context.Context, o *LabOrder, testIDs, panelIDs []uuid.UUID) error {
	if o.PatientID == uuid.Nil {
		return laberr.Precondition("patient_id is required")
	}
	if o.OrderingDoctorID == uuid.Nil {
		return laberr.Precondition("ordering_doctor_id is required")
	}
	if len(testIDs) == 0 && len(panelIDs) == 0 {
		return laberr.Precondition("at least one test or panel is required")
	}
	if o.Priority == "" {
		o.Priority = PriorityRoutine
	}

	return s.run(ctx, func(ctx context.Context) error {
		seq, err := s.seq.Next(ctx, idgen.SeqLabOrder)
		if err != nil {
			return err
		}
		o.OrderNumber = idgen.OrderNumber(s.now(), seq)
		o.Status = StatusPending

		if err := s.orders.Create(ctx, o); err != nil {
			return err
		}

		for _, testID := range testIDs {
			if err := s.createItem(ctx, o.ID, testID, nil); err != nil {
				return err
			}
		}
		for _, panelID := range panelIDs {
			panel, err := s.panels.GetByID(ctx, panelID)
			if err != nil {
				return err
			}
			constituents, err := s.panels.TestIDs(ctx, panel.ID)
			if err != nil {
				return err
			}
			for _, testID := range constituents {
				if err := s.createItem(ctx, o.ID, testID, &panel.ID); err != nil {
					return err
				}
			}
		}

		return s.history.Create(ctx, &StatusHistory{
			OrderID:    o.ID,
			FromStatus: "",
			ToStatus:   StatusPending,
			ChangedBy:  "system",
			ChangedAt:  s.now(),
		})
	})
}

func (s *Service) createItem(ctx context.Context, orderID, testID uuid.UUID, panelID *uuid.UUID) error {
	test, err := s.tests.GetByID(ctx, testID)
	if err != nil {
		return err
	}
	if !test.IsActive {
		return laberr.Precondition("lab test %s is inactive", test.Code)
	}
	return s.items.Create(ctx, &LabOrderItem{
		OrderID: orderID,
		TestID:  test.ID,
		PanelID: panelID,
		Status:  ItemPending,
		Price:   test.Price,
	})
}

// UpdateOrderStatus validates the transition against the state machine,
// stamps the relevant timestamp, persists, and appends exactly one history
// record. Invalid edges fail without mutation.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, newStatus, changedBy, reason string) error {
	return s.run(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if err := ValidateTransition(o.Status, newStatus); err != nil {
			return err
		}

		from := o.Status
		o.Status = newStatus
		now := s.now()
		switch newStatus {
		case StatusScheduled:
			o.ApprovedAt = &now
		case StatusCompleted:
			o.CompletedAt = &now
		case StatusCancelled:
			o.CancelledAt = &now
		}
		if err := s.orders.Update(ctx, o); err != nil {
			return err
		}

		h := &StatusHistory{
			OrderID:    o.ID,
			FromStatus: from,
			ToStatus:   newStatus,
			ChangedBy:  changedBy,
			ChangedAt:  now,
		}
		if reason != "" {
			h.Reason = &reason
		}
		return s.history.Create(ctx, h)
	})
}

// CancelOrder cancels a not-yet-terminal order.
func (s *Service) CancelOrder(ctx context.Context, orderID uuid.UUID, cancelledBy, reason string) error {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status == StatusCompleted || o.Status == StatusCancelled {
		return laberr.InvalidTransition("lab order", o.Status, StatusCancelled)
	}
	return s.UpdateOrderStatus(ctx, orderID, StatusCancelled, cancelledBy, reason)
}

// CreateRecurringOrder clones a recurring parent into a fresh PENDING order
// carrying the same tests and panels, scheduled for scheduledDate. Prices
// are re-snapshotted from the current catalog.
func (s *Service) CreateRecurringOrder(ctx context.Context, parentOrderID uuid.UUID, scheduledDate time.Time) (*LabOrder, error) {
	parent, err := s.orders.GetByID(ctx, parentOrderID)
	if err != nil {
		return nil, err
	}
	if !parent.IsRecurring {
		return nil, laberr.Precondition("lab order %s is not recurring", parent.OrderNumber)
	}
	if parent.RecurrenceEndDate != nil && scheduledDate.After(*parent.RecurrenceEndDate) {
		return nil, laberr.Precondition("scheduled date %s is past the recurrence end date", scheduledDate.Format("2006-01-02"))
	}

	parentItems, err := s.items.ListByOrder(ctx, parentOrderID)
	if err != nil {
		return nil, err
	}

	// Panel-expanded items are recreated as direct test items on the clone;
	// the panel reference is kept for traceability.
	child := &LabOrder{
		PatientID:        parent.PatientID,
		EncounterID:      parent.EncounterID,
		OrderingDoctorID: parent.OrderingDoctorID,
		Priority:         parent.Priority,
		ParentOrderID:    &parent.ID,
		ScheduledDate:    &scheduledDate,
	}

	err = s.run(ctx, func(ctx context.Context) error {
		seq, err := s.seq.Next(ctx, idgen.SeqLabOrder)
		if err != nil {
			return err
		}
		child.OrderNumber = idgen.OrderNumber(s.now(), seq)
		child.Status = StatusPending

		if err := s.orders.Create(ctx, child); err != nil {
			return err
		}
		for _, item := range parentItems {
			test, err := s.tests.GetByID(ctx, item.TestID)
			if err != nil {
				return err
			}
			if err := s.items.Create(ctx, &LabOrderItem{
				OrderID: child.ID,
				TestID:  item.TestID,
				PanelID: item.PanelID,
				Status:  ItemPending,
				Price:   test.Price,
			}); err != nil {
				return err
			}
		}
		return s.history.Create(ctx, &StatusHistory{
			OrderID:    child.ID,
			FromStatus: "",
			ToStatus:   StatusPending,
			ChangedBy:  "system",
			ChangedAt:  s.now(),
		})
	})
	if err != nil {
		return nil, err
	}
	return child, nil
}

// AttachResult back-links an order item to its newly created result and
// moves the item to IN_PROGRESS. Called by result entry.
func (s *Service) AttachResult(ctx context.Context, itemID, resultID uuid.UUID) error {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return err
	}
	if item.Status == ItemCancelled {
		return laberr.InvalidTransition("lab order item", item.Status, ItemInProgress)
	}
	item.ResultID = &resultID
	item.Status = ItemInProgress
	return s.items.Update(ctx, item)
}

// CompleteItem marks an order item COMPLETED, emits the completion signal,
// and completes the parent order once every item is terminal.
func (s *Service) CompleteItem(ctx context.Context, itemID uuid.UUID, changedBy string) error {
	return s.run(ctx, func(ctx context.Context) error {
		item, err := s.items.GetByID(ctx, itemID)
		if err != nil {
			return err
		}
		if item.Status == ItemCompleted || item.Status == ItemCancelled {
			return laberr.InvalidTransition("lab order item", item.Status, ItemCompleted)
		}
		item.Status = ItemCompleted
		if err := s.items.Update(ctx, item); err != nil {
			return err
		}
		for _, l := range s.completionListeners {
			if err := l.OrderItemCompleted(ctx, item); err != nil {
				return err
			}
		}

		siblings, err := s.items.ListByOrder(ctx, item.OrderID)
		if err != nil {
			return err
		}
		for _, sib := range siblings {
			if sib.Status != ItemCompleted && sib.Status != ItemCancelled {
				return nil
			}
		}
		o, err := s.orders.GetByID(ctx, item.OrderID)
		if err != nil {
			return err
		}
		if o.Status == StatusInProgress {
			return s.UpdateOrderStatus(ctx, o.ID, StatusCompleted, changedBy, "all order items completed")
		}
		return nil
	})
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*LabOrder, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *Service) GetOrderByNumber(ctx context.Context, orderNumber string) (*LabOrder, error) {
	return s.orders.GetByNumber(ctx, orderNumber)
}

func (s *Service) ListItems(ctx context.Context, orderID uuid.UUID) ([]*LabOrderItem, error) {
	return s.items.ListByOrder(ctx, orderID)
}

func (s *Service) GetItem(ctx context.Context, itemID uuid.UUID) (*LabOrderItem, error) {
	return s.items.GetByID(ctx, itemID)
}

// GetStatusHistory returns the order's audit trail, oldest first.
func (s *Service) GetStatusHistory(ctx context.Context, orderID uuid.UUID) ([]*StatusHistory, error) {
	return s.history.ListByOrder(ctx, orderID)
}

func (s *Service) ListOrdersByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabOrder, int, error) {
	p := pagination.Normalize(limit, offset)
	return s.orders.ListByPatient(ctx, patientID, p.Limit, p.Offset)
}
