package specimen

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/labcore/labcore/internal/domain/catalog"
	"github.com/labcore/labcore/internal/domain/order"
	"github.com/labcore/labcore/internal/platform/db"
	"github.com/labcore/labcore/internal/platform/idgen"
	"github.com/labcore/labcore/internal/platform/laberr"
)

type Service struct {
	specimens      Repository
	items          order.ItemRepository
	orders         order.OrderRepository
	tests          catalog.TestRepository
	seq            idgen.Sequence
	run            db.Runner
	now            func() time.Time
	barcodeRetries int
}

func NewService(specimens Repository, items order.ItemRepository, orders order.OrderRepository,
	tests catalog.TestRepository, seq idgen.Sequence, run db.Runner, barcodeRetries int) *Service {
	if barcodeRetries < 1 {
		barcodeRetries = 1
	}
	return &Service{
		specimens:      specimens,
		items:          items,
		orders:         orders,
		tests:          tests,
		seq:            seq,
		run:            run,
		now:            time.Now,
		barcodeRetries: barcodeRetries,
	}
}

// CollectSpecimen registers a draw against an order item. The specimen
// number and barcode are generated here; on a barcode collision the
// barcode is regenerated with a fresh random suffix before the error
// surfaces.
func (s *Service) CollectSpecimen(ctx context.Context, orderItemID, collectedBy uuid.UUID, collectedAt time.Time) (*Specimen, error) {
	item, err := s.items.GetByID(ctx, orderItemID)
	if err != nil {
		return nil, err
	}
	o, err := s.orders.GetByID(ctx, item.OrderID)
	if err != nil {
		return nil, err
	}
	test, err := s.tests.GetByID(ctx, item.TestID)
	if err != nil {
		return nil, err
	}
	if collectedAt.IsZero() {
		collectedAt = s.now()
	}

	sp := &Specimen{
		OrderItemID:   item.ID,
		OrderID:       item.OrderID,
		PatientID:     o.PatientID,
		SpecimenType:  test.SpecimenType,
		Status:        StatusCollected,
		QualityStatus: QualityPending,
		CollectedBy:   collectedBy,
		CollectedAt:   collectedAt,
	}

	err = s.run(ctx, func(ctx context.Context) error {
		seq, err := s.seq.Next(ctx, idgen.SeqSpecimen)
		if err != nil {
			return err
		}
		sp.SpecimenNumber = idgen.SpecimenNumber(s.now(), seq)

		for attempt := 0; attempt < s.barcodeRetries; attempt++ {
			sp.Barcode, err = idgen.Barcode(s.now())
			if err != nil {
				return err
			}
			err = s.specimens.Create(ctx, sp)
			if !errors.Is(err, laberr.ErrDuplicateKey) {
				return err
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return sp, nil
}

// ReceiveSpecimen accessions a scanned specimen into the lab. The barcode
// check digit is verified before lookup; only COLLECTED specimens can be
// received.
func (s *Service) ReceiveSpecimen(ctx context.Context, barcode string, receivedBy uuid.UUID) (*Specimen, error) {
	if !idgen.VerifyBarcode(barcode) {
		return nil, laberr.Precondition("barcode %q failed check-digit verification", barcode)
	}
	sp, err := s.specimens.GetByBarcode(ctx, barcode)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(sp.Status, StatusReceived); err != nil {
		return nil, err
	}
	now := s.now()
	sp.Status = StatusReceived
	sp.ReceivedBy = &receivedBy
	sp.ReceivedAt = &now
	if err := s.specimens.Update(ctx, sp); err != nil {
		return nil, err
	}
	return sp, nil
}

// PerformQualityCheck records the quality assessment and interference
// flags. It is independent of the primary state machine but refuses
// terminal specimens, whose assessment is already settled.
func (s *Service) PerformQualityCheck(ctx context.Context, specimenID uuid.UUID, check QualityCheck) (*Specimen, error) {
	switch check.Status {
	case QualityAcceptable, QualityCompromised, QualityRejected:
	default:
		return nil, laberr.Precondition("invalid quality status %q", check.Status)
	}
	sp, err := s.specimens.GetByID(ctx, specimenID)
	if err != nil {
		return nil, err
	}
	if IsTerminal(sp.Status) {
		return nil, laberr.Precondition("specimen %s is %s", sp.SpecimenNumber, sp.Status)
	}
	sp.QualityStatus = check.Status
	sp.Hemolyzed = check.Hemolyzed
	sp.Lipemic = check.Lipemic
	sp.Icteric = check.Icteric
	if check.Notes != "" {
		sp.QualityNotes = &check.Notes
	}
	if err := s.specimens.Update(ctx, sp); err != nil {
		return nil, err
	}
	return sp, nil
}

// ProcessSpecimen moves a received, quality-acceptable specimen into
// processing.
func (s *Service) ProcessSpecimen(ctx context.Context, specimenID uuid.UUID) (*Specimen, error) {
	sp, err := s.specimens.GetByID(ctx, specimenID)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(sp.Status, StatusProcessing); err != nil {
		return nil, err
	}
	if sp.QualityStatus != QualityAcceptable {
		return nil, laberr.Precondition("specimen %s quality is %s, not ACCEPTABLE", sp.SpecimenNumber, sp.QualityStatus)
	}
	sp.Status = StatusProcessing
	if err := s.specimens.Update(ctx, sp); err != nil {
		return nil, err
	}
	return sp, nil
}

// CompleteProcessing marks analysis finished.
func (s *Service) CompleteProcessing(ctx context.Context, specimenID uuid.UUID) (*Specimen, error) {
	sp, err := s.specimens.GetByID(ctx, specimenID)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(sp.Status, StatusCompleted); err != nil {
		return nil, err
	}
	sp.Status = StatusCompleted
	if err := s.specimens.Update(ctx, sp); err != nil {
		return nil, err
	}
	return sp, nil
}

// RejectSpecimen is reachable from any non-terminal state and settles the
// quality status to REJECTED.
func (s *Service) RejectSpecimen(ctx context.Context, specimenID uuid.UUID, reason string) (*Specimen, error) {
	sp, err := s.specimens.GetByID(ctx, specimenID)
	if err != nil {
		return nil, err
	}
	if IsTerminal(sp.Status) {
		return nil, laberr.InvalidTransition("specimen", sp.Status, StatusRejected)
	}
	sp.Status = StatusRejected
	sp.QualityStatus = QualityRejected
	if reason != "" {
		sp.RejectionReason = &reason
	}
	if err := s.specimens.Update(ctx, sp); err != nil {
		return nil, err
	}
	return sp, nil
}

// StoreSpecimen records storage location and temperature without moving
// the primary state machine.
func (s *Service) StoreSpecimen(ctx context.Context, specimenID uuid.UUID, location string, temperature float64) (*Specimen, error) {
	sp, err := s.specimens.GetByID(ctx, specimenID)
	if err != nil {
		return nil, err
	}
	if sp.Status == StatusDiscarded {
		return nil, laberr.Precondition("specimen %s has been discarded", sp.SpecimenNumber)
	}
	now := s.now()
	sp.StorageLocation = &location
	sp.StorageTemperature = &temperature
	sp.StoredAt = &now
	if err := s.specimens.Update(ctx, sp); err != nil {
		return nil, err
	}
	return sp, nil
}

// DisposeSpecimen records the disposal. Specimens still in RECEIVED or
// PROCESSING transition to DISCARDED; a COMPLETED specimen keeps its
// terminal status and only the disposal metadata is recorded.
func (s *Service) DisposeSpecimen(ctx context.Context, specimenID, disposedBy uuid.UUID, method string) (*Specimen, error) {
	sp, err := s.specimens.GetByID(ctx, specimenID)
	if err != nil {
		return nil, err
	}
	if sp.DisposedAt != nil {
		return nil, laberr.Precondition("specimen %s is already disposed", sp.SpecimenNumber)
	}
	now := s.now()
	sp.DisposalMethod = &method
	sp.DisposedBy = &disposedBy
	sp.DisposedAt = &now
	if ValidateTransition(sp.Status, StatusDiscarded) == nil {
		sp.Status = StatusDiscarded
	}
	if err := s.specimens.Update(ctx, sp); err != nil {
		return nil, err
	}
	return sp, nil
}

func (s *Service) GetSpecimen(ctx context.Context, id uuid.UUID) (*Specimen, error) {
	return s.specimens.GetByID(ctx, id)
}

func (s *Service) GetByBarcode(ctx context.Context, barcode string) (*Specimen, error) {
	return s.specimens.GetByBarcode(ctx, barcode)
}

func (s *Service) ListByOrderItem(ctx context.Context, orderItemID uuid.UUID) ([]*Specimen, error) {
	return s.specimens.ListByOrderItem(ctx, orderItemID)
}
