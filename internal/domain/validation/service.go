package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/labcore/labcore/internal/domain/result"
	"github.com/labcore/labcore/internal/platform/db"
	"github.com/labcore/labcore/internal/platform/laberr"
)

// Results is the result-side collaboration the sign-off workflow drives:
// finalizing, annotating and cancelling the result under review.
type Results interface {
	GetResult(ctx context.Context, id uuid.UUID) (*result.LabResult, error)
	Finalize(ctx context.Context, resultID, finalizedBy uuid.UUID) (*result.LabResult, error)
	AppendReviewNote(ctx context.Context, resultID uuid.UUID, note string) error
	RequirePathologistReview(ctx context.Context, resultID uuid.UUID) error
	CancelResult(ctx context.Context, resultID uuid.UUID) (*result.LabResult, error)
}

// Orders receives the completion signal when a result reaches FINAL.
type Orders interface {
	CompleteItem(ctx context.Context, itemID uuid.UUID, changedBy string) error
}

// RepeatRequest is emitted when a validator issues NEEDS_REPEAT: the
// result is cancelled and specimen intake is asked to run the test again.
type RepeatRequest struct {
	ResultID    uuid.UUID
	OrderItemID uuid.UUID
	RequestedBy uuid.UUID
	Reason      string
}

type RepeatListener interface {
	RepeatTestRequested(ctx context.Context, req RepeatRequest) error
}

type Service struct {
	validations Repository
	results     Results
	orders      Orders
	run         db.Runner
	now         func() time.Time
	repeats     []RepeatListener
}

func NewService(validations Repository, results Results, orders Orders, run db.Runner) *Service {
	return &Service{
		validations: validations,
		results:     results,
		orders:      orders,
		run:         run,
		now:         time.Now,
	}
}

func (s *Service) AddRepeatListener(l RepeatListener) {
	s.repeats = append(s.repeats, l)
}

// ValidateResult appends one sign-off record and applies its effects.
// The current validation level is the level of the most recent approved
// record; a new validation may target at most the next level up. An
// APPROVED record finalizes the result when issued at TECHNICIAN for a
// result not requiring pathologist review, or at PATHOLOGIST regardless.
func (s *Service) ValidateResult(ctx context.Context, resultID uuid.UUID, level string, validatorID uuid.UUID, status, comments string) (*ResultValidation, error) {
	rank, ok := LevelRank(level)
	if !ok {
		return nil, laberr.Precondition("unknown validation level %q", level)
	}
	switch status {
	case StatusApproved, StatusRejected, StatusNeedsReview, StatusNeedsRepeat:
	default:
		return nil, laberr.Precondition("unknown validation status %q", status)
	}

	r, err := s.results.GetResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	switch r.Status {
	case result.StatusCancelled, result.StatusEnteredInError:
		return nil, laberr.Precondition("result %s is %s and cannot be validated", r.ResultNumber, r.Status)
	case result.StatusAmended:
		return nil, laberr.Precondition("result %s was amended; validate its successor", r.ResultNumber)
	case result.StatusPending:
		return nil, laberr.Precondition("result %s has no entered values", r.ResultNumber)
	}

	existing, err := s.validations.ListByResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	currentLevel, currentRank := currentApproved(existing)
	if rank > currentRank+1 {
		return nil, laberr.InvalidTransition("result validation", orNone(currentLevel), level)
	}

	v := &ResultValidation{
		ResultID:    resultID,
		Level:       level,
		ValidatorID: validatorID,
		Status:      status,
		ValidatedAt: s.now(),
	}
	if comments != "" {
		v.Comments = &comments
	}

	err = s.run(ctx, func(ctx context.Context) error {
		if err := s.validations.Create(ctx, v); err != nil {
			return err
		}

		switch status {
		case StatusApproved:
			finalizes := (level == LevelTechnician && !r.RequiresPathologistReview) || level == LevelPathologist
			if finalizes && r.Status == result.StatusPreliminary {
				if _, err := s.results.Finalize(ctx, resultID, validatorID); err != nil {
					return err
				}
				return s.orders.CompleteItem(ctx, r.OrderItemID, validatorID.String())
			}

		case StatusRejected:
			note := fmt.Sprintf("rejected at %s by %s", level, validatorID)
			if comments != "" {
				note += ": " + comments
			}
			return s.results.AppendReviewNote(ctx, resultID, note)

		case StatusNeedsReview:
			return s.results.RequirePathologistReview(ctx, resultID)

		case StatusNeedsRepeat:
			if _, err := s.results.CancelResult(ctx, resultID); err != nil {
				return err
			}
			req := RepeatRequest{ResultID: resultID, OrderItemID: r.OrderItemID, RequestedBy: validatorID, Reason: comments}
			for _, l := range s.repeats {
				if err := l.RepeatTestRequested(ctx, req); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// IsFullyValidated reports whether the required approvals exist: an
// approved TECHNICIAN record always, plus an approved PATHOLOGIST record
// when the result requires pathologist review.
func (s *Service) IsFullyValidated(ctx context.Context, resultID uuid.UUID) (bool, error) {
	r, err := s.results.GetResult(ctx, resultID)
	if err != nil {
		return false, err
	}
	records, err := s.validations.ListByResult(ctx, resultID)
	if err != nil {
		return false, err
	}

	approved := map[string]bool{}
	for _, v := range records {
		if v.Status == StatusApproved {
			approved[v.Level] = true
		}
	}
	if !approved[LevelTechnician] {
		return false, nil
	}
	if r.RequiresPathologistReview && !approved[LevelPathologist] {
		return false, nil
	}
	return true, nil
}

func (s *Service) ListValidations(ctx context.Context, resultID uuid.UUID) ([]*ResultValidation, error) {
	return s.validations.ListByResult(ctx, resultID)
}

// currentApproved returns the level and rank of the most recent approved
// record, or ("", 0) when nothing is approved yet.
func currentApproved(records []*ResultValidation) (string, int) {
	level, rank := "", 0
	var at time.Time
	for _, v := range records {
		if v.Status != StatusApproved {
			continue
		}
		if level == "" || v.ValidatedAt.After(at) {
			level = v.Level
			rank, _ = LevelRank(v.Level)
			at = v.ValidatedAt
		}
	}
	return level, rank
}

func orNone(level string) string {
	if level == "" {
		return "NONE"
	}
	return level
}
