package result

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/labcore/labcore/internal/domain/catalog"
	"github.com/labcore/labcore/internal/domain/order"
	"github.com/labcore/labcore/internal/domain/specimen"
	"github.com/labcore/labcore/internal/platform/db"
	"github.com/labcore/labcore/internal/platform/idgen"
	"github.com/labcore/labcore/internal/platform/laberr"
)

// OrderItems is the order-side collaboration result entry needs: resolving
// the item under test and back-linking it to its live result.
type OrderItems interface {
	GetItem(ctx context.Context, itemID uuid.UUID) (*order.LabOrderItem, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*order.LabOrder, error)
	AttachResult(ctx context.Context, itemID, resultID uuid.UUID) error
}

// Specimens resolves the specimen a result is reported against.
type Specimens interface {
	GetByID(ctx context.Context, id uuid.UUID) (*specimen.Specimen, error)
}

// FlagEvent is emitted once per parameter whose value is critical, panic
// or delta-flagged. Listeners run inside the entry transaction so alert
// records and result flags commit or roll back together.
type FlagEvent struct {
	Result    *LabResult
	Parameter *LabResultParameter
}

type FlagListener interface {
	ParameterFlagged(ctx context.Context, ev FlagEvent) error
}

type Service struct {
	results   ResultRepository
	params    ParameterRepository
	tests     catalog.TestRepository
	orders    OrderItems
	specimens Specimens
	seq       idgen.Sequence
	run       db.Runner
	now       func() time.Time
	listeners []FlagListener
}

func NewService(results ResultRepository, params ParameterRepository, tests catalog.TestRepository,
	orders OrderItems, specimens Specimens, seq idgen.Sequence, run db.Runner) *Service {
	return &Service{
		results:   results,
		params:    params,
		tests:     tests,
		orders:    orders,
		specimens: specimens,
		seq:       seq,
		run:       run,
		now:       time.Now,
	}
}

func (s *Service) AddFlagListener(l FlagListener) {
	s.listeners = append(s.listeners, l)
}

// CreateResult opens a PENDING result for an order item and back-links the
// item to it. Test identity and the pathologist-review requirement are
// snapshotted from the catalog.
func (s *Service) CreateResult(ctx context.Context, orderItemID, specimenID, enteredBy uuid.UUID, entryMethod string) (*LabResult, error) {
	item, err := s.orders.GetItem(ctx, orderItemID)
	if err != nil {
		return nil, err
	}
	o, err := s.orders.GetOrder(ctx, item.OrderID)
	if err != nil {
		return nil, err
	}
	sp, err := s.specimens.GetByID(ctx, specimenID)
	if err != nil {
		return nil, err
	}
	if sp.OrderItemID != item.ID {
		return nil, laberr.Precondition("specimen %s belongs to a different order item", sp.SpecimenNumber)
	}
	test, err := s.tests.GetByID(ctx, item.TestID)
	if err != nil {
		return nil, err
	}
	if entryMethod == "" {
		entryMethod = EntryManual
	}

	r := &LabResult{
		OrderItemID:               item.ID,
		OrderID:                   o.ID,
		PatientID:                 o.PatientID,
		SpecimenID:                sp.ID,
		TestID:                    test.ID,
		TestCode:                  test.Code,
		TestName:                  test.Name,
		Status:                    StatusPending,
		Interpretation:            FlagNormal,
		RequiresPathologistReview: test.RequiresPathologistReview,
		EnteredBy:                 enteredBy,
		EntryMethod:               entryMethod,
	}

	err = s.run(ctx, func(ctx context.Context) error {
		seq, err := s.seq.Next(ctx, idgen.SeqLabResult)
		if err != nil {
			return err
		}
		r.ResultNumber = idgen.ResultNumber(s.now(), seq)
		if err := s.results.Create(ctx, r); err != nil {
			return err
		}
		return s.orders.AttachResult(ctx, item.ID, r.ID)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// severityRank orders interpretation flags for aggregate escalation.
var severityRank = map[string]int{
	FlagNormal:   0,
	FlagAbnormal: 1,
	FlagCritical: 2,
	FlagPanic:    3,
}

// EnterResultParameters records a batch of analyte values. Each numeric
// value is classified against the catalog thresholds and, when the
// parameter has delta checking enabled, compared against the patient's
// most recent prior value. Aggregate flags escalate across batches and
// the result advances PENDING to PRELIMINARY. Flagged parameters raise a
// FlagEvent inside the same transaction.
func (s *Service) EnterResultParameters(ctx context.Context, resultID uuid.UUID, inputs []ParameterInput, enteredBy uuid.UUID) (*LabResult, error) {
	if len(inputs) == 0 {
		return nil, laberr.Precondition("no parameter values submitted")
	}
	r, err := s.results.GetByID(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusPending && r.Status != StatusPreliminary {
		return nil, laberr.Precondition("result %s is %s and cannot accept values", r.ResultNumber, r.Status)
	}

	err = s.run(ctx, func(ctx context.Context) error {
		now := s.now()
		var flagged []*LabResultParameter

		for _, in := range inputs {
			cp, err := s.tests.GetParameter(ctx, in.ParameterID)
			if err != nil {
				return err
			}
			if cp.TestID != r.TestID {
				return laberr.Precondition("parameter %s does not belong to test %s", cp.Code, r.TestCode)
			}
			if in.ValueNumeric == nil && in.ValueText == nil {
				return laberr.Precondition("parameter %s has no value", cp.Code)
			}

			p := &LabResultParameter{
				ResultID:       r.ID,
				ParameterID:    cp.ID,
				ParameterCode:  cp.Code,
				ParameterName:  cp.Name,
				Unit:           cp.Unit,
				ValueNumeric:   in.ValueNumeric,
				ValueText:      in.ValueText,
				ReferenceRange: cp.ReferenceRangeText(),
				Flag:           FlagNormal,
				EnteredBy:      enteredBy,
				EnteredAt:      now,
			}

			if in.ValueNumeric != nil {
				p.Flag = Classify(*in.ValueNumeric, cp)
				if cp.DeltaCheckEnabled {
					prev, err := s.results.PreviousValue(ctx, r.PatientID, r.TestID, cp.Code, r.ID)
					if err != nil {
						return err
					}
					p.PreviousValue = prev
					p.DeltaPercentage, p.DeltaFlagged = DeltaCheck(*in.ValueNumeric, prev,
						cp.DeltaPercentThreshold, cp.DeltaAbsoluteThreshold)
				}
			}

			if err := s.params.Create(ctx, p); err != nil {
				return err
			}

			if severityRank[p.Flag] > severityRank[r.Interpretation] {
				r.Interpretation = p.Flag
			}
			r.HasCriticalValues = r.HasCriticalValues || p.Flag == FlagCritical || p.Flag == FlagPanic
			r.HasPanicValues = r.HasPanicValues || p.Flag == FlagPanic
			r.DeltaCheckFlagged = r.DeltaCheckFlagged || p.DeltaFlagged

			if p.Flag == FlagCritical || p.Flag == FlagPanic || p.DeltaFlagged {
				flagged = append(flagged, p)
			}
		}

		if r.Status == StatusPending {
			if err := ValidateTransition(r.Status, StatusPreliminary); err != nil {
				return err
			}
			r.Status = StatusPreliminary
		}
		if err := s.results.Update(ctx, r); err != nil {
			return err
		}

		for _, p := range flagged {
			for _, l := range s.listeners {
				if err := l.ParameterFlagged(ctx, FlagEvent{Result: r, Parameter: p}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// AmendResult retires a FINAL or PRELIMINARY result and chains a new
// PRELIMINARY successor carrying the original's values, ready for
// correction and re-validation. The order item backlink moves to the
// successor.
func (s *Service) AmendResult(ctx context.Context, resultID uuid.UUID, reason string, amendedBy uuid.UUID) (*LabResult, error) {
	if reason == "" {
		return nil, laberr.Precondition("amendment reason is required")
	}
	orig, err := s.results.GetByID(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(orig.Status, StatusAmended); err != nil {
		return nil, err
	}

	now := s.now()
	successor := &LabResult{
		OrderItemID:               orig.OrderItemID,
		OrderID:                   orig.OrderID,
		PatientID:                 orig.PatientID,
		SpecimenID:                orig.SpecimenID,
		TestID:                    orig.TestID,
		TestCode:                  orig.TestCode,
		TestName:                  orig.TestName,
		Status:                    StatusPreliminary,
		Interpretation:            orig.Interpretation,
		HasCriticalValues:         orig.HasCriticalValues,
		HasPanicValues:            orig.HasPanicValues,
		DeltaCheckFlagged:         orig.DeltaCheckFlagged,
		RequiresPathologistReview: orig.RequiresPathologistReview,
		EnteredBy:                 amendedBy,
		EntryMethod:               orig.EntryMethod,
		OriginalResultID:          &orig.ID,
	}

	err = s.run(ctx, func(ctx context.Context) error {
		orig.Status = StatusAmended
		orig.AmendmentReason = &reason
		orig.AmendedBy = &amendedBy
		orig.AmendedAt = &now
		if err := s.results.Update(ctx, orig); err != nil {
			return err
		}

		seq, err := s.seq.Next(ctx, idgen.SeqLabResult)
		if err != nil {
			return err
		}
		successor.ResultNumber = idgen.ResultNumber(now, seq)
		if err := s.results.Create(ctx, successor); err != nil {
			return err
		}

		origParams, err := s.params.ListByResult(ctx, orig.ID)
		if err != nil {
			return err
		}
		for _, op := range origParams {
			cp := *op
			cp.ResultID = successor.ID
			if err := s.params.Create(ctx, &cp); err != nil {
				return err
			}
		}

		return s.orders.AttachResult(ctx, orig.OrderItemID, successor.ID)
	})
	if err != nil {
		return nil, err
	}
	return successor, nil
}

// CancelResult is terminal. Cancelling an already-cancelled result is
// rejected so operator error surfaces instead of silently passing.
func (s *Service) CancelResult(ctx context.Context, resultID uuid.UUID) (*LabResult, error) {
	return s.terminate(ctx, resultID, StatusCancelled)
}

// MarkEnteredInError is terminal. Used when a result was filed against
// the wrong patient or specimen.
func (s *Service) MarkEnteredInError(ctx context.Context, resultID uuid.UUID) (*LabResult, error) {
	return s.terminate(ctx, resultID, StatusEnteredInError)
}

func (s *Service) terminate(ctx context.Context, resultID uuid.UUID, status string) (*LabResult, error) {
	r, err := s.results.GetByID(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(r.Status, status); err != nil {
		return nil, err
	}
	now := s.now()
	r.Status = status
	r.CancelledAt = &now
	if err := s.results.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Finalize moves a PRELIMINARY result to FINAL with attribution. Called
// by the validation workflow once the required approvals exist.
func (s *Service) Finalize(ctx context.Context, resultID, finalizedBy uuid.UUID) (*LabResult, error) {
	r, err := s.results.GetByID(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(r.Status, StatusFinal); err != nil {
		return nil, err
	}
	now := s.now()
	r.Status = StatusFinal
	r.FinalizedBy = &finalizedBy
	r.FinalizedAt = &now
	if err := s.results.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// AppendReviewNote adds to the append-only review notes field. Existing
// notes are never overwritten.
func (s *Service) AppendReviewNote(ctx context.Context, resultID uuid.UUID, note string) error {
	if note == "" {
		return laberr.Precondition("review note is empty")
	}
	r, err := s.results.GetByID(ctx, resultID)
	if err != nil {
		return err
	}
	stamped := fmt.Sprintf("[%s] %s", s.now().UTC().Format(time.RFC3339), note)
	if r.ReviewNotes != nil && *r.ReviewNotes != "" {
		stamped = *r.ReviewNotes + "\n" + stamped
	}
	r.ReviewNotes = &stamped
	return s.results.Update(ctx, r)
}

// RequirePathologistReview latches the review requirement on. It never
// clears an already-set flag.
func (s *Service) RequirePathologistReview(ctx context.Context, resultID uuid.UUID) error {
	r, err := s.results.GetByID(ctx, resultID)
	if err != nil {
		return err
	}
	if r.RequiresPathologistReview {
		return nil
	}
	r.RequiresPathologistReview = true
	return s.results.Update(ctx, r)
}

func (s *Service) GetResult(ctx context.Context, id uuid.UUID) (*LabResult, error) {
	return s.results.GetByID(ctx, id)
}

func (s *Service) GetResultByNumber(ctx context.Context, resultNumber string) (*LabResult, error) {
	return s.results.GetByNumber(ctx, resultNumber)
}

func (s *Service) ListParameters(ctx context.Context, resultID uuid.UUID) ([]*LabResultParameter, error) {
	return s.params.ListByResult(ctx, resultID)
}

func (s *Service) ListByOrderItem(ctx context.Context, orderItemID uuid.UUID) ([]*LabResult, error) {
	return s.results.ListByOrderItem(ctx, orderItemID)
}

// GetAmendmentChain returns the full amendment history containing the given
// result, oldest first. The chain is assembled from the results of the same
// order item: each amendment links back to its predecessor through
// OriginalResultID.
func (s *Service) GetAmendmentChain(ctx context.Context, resultID uuid.UUID) ([]*LabResult, error) {
	r, err := s.results.GetByID(ctx, resultID)
	if err != nil {
		return nil, err
	}
	siblings, err := s.results.ListByOrderItem(ctx, r.OrderItemID)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*LabResult, len(siblings))
	successorOf := make(map[uuid.UUID]*LabResult, len(siblings))
	for _, sib := range siblings {
		byID[sib.ID] = sib
		if sib.OriginalResultID != nil {
			successorOf[*sib.OriginalResultID] = sib
		}
	}

	// Walk back to the root, then forward through the successors.
	root := r
	for root.OriginalResultID != nil {
		prev, ok := byID[*root.OriginalResultID]
		if !ok {
			break
		}
		root = prev
	}

	chain := []*LabResult{root}
	for cur := root; ; {
		next, ok := successorOf[cur.ID]
		if !ok {
			break
		}
		chain = append(chain, next)
		cur = next
	}
	return chain, nil
}

// CurrentForOrderItem returns the one live result for an order item: the
// tip of the amendment chain, skipping cancelled and entered-in-error
// results. Returns ErrNotFound when no live result exists.
func (s *Service) CurrentForOrderItem(ctx context.Context, orderItemID uuid.UUID) (*LabResult, error) {
	siblings, err := s.results.ListByOrderItem(ctx, orderItemID)
	if err != nil {
		return nil, err
	}
	amended := make(map[uuid.UUID]bool, len(siblings))
	for _, sib := range siblings {
		if sib.OriginalResultID != nil {
			amended[*sib.OriginalResultID] = true
		}
	}
	for _, sib := range siblings {
		if amended[sib.ID] {
			continue
		}
		switch sib.Status {
		case StatusCancelled, StatusEnteredInError:
			continue
		}
		return sib, nil
	}
	return nil, laberr.NotFound("current lab result for order item", orderItemID)
}
