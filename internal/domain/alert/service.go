package alert

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labcore/labcore/internal/domain/order"
	"github.com/labcore/labcore/internal/domain/result"
	"github.com/labcore/labcore/internal/platform/db"
	"github.com/labcore/labcore/internal/platform/laberr"
	"github.com/labcore/labcore/internal/platform/notification"
)

// Results is the read access the alert engine needs for re-scanning a
// result's parameters.
type Results interface {
	GetResult(ctx context.Context, id uuid.UUID) (*result.LabResult, error)
	ListParameters(ctx context.Context, resultID uuid.UUID) ([]*result.LabResultParameter, error)
}

// Orders resolves the ordering physician, the default alert recipient.
type Orders interface {
	GetOrder(ctx context.Context, orderID uuid.UUID) (*order.LabOrder, error)
}

type Service struct {
	alerts     Repository
	results    Results
	orders     Orders
	dispatcher notification.Dispatcher
	run        db.Runner
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(alerts Repository, results Results, orders Orders,
	dispatcher notification.Dispatcher, run db.Runner, logger zerolog.Logger) *Service {
	return &Service{
		alerts:     alerts,
		results:    results,
		orders:     orders,
		dispatcher: dispatcher,
		run:        run,
		logger:     logger,
		now:        time.Now,
	}
}

// ParameterFlagged raises alerts for one flagged parameter. It runs inside
// the result entry transaction, so alert records commit atomically with
// the result flags.
func (s *Service) ParameterFlagged(ctx context.Context, ev result.FlagEvent) error {
	_, err := s.raiseForParameter(ctx, ev.Result, ev.Parameter, nil)
	return err
}

// CheckForCriticalValues re-scans every parameter of a result and raises
// any alert not yet on record. Alerts already raised for a parameter and
// type are not duplicated.
func (s *Service) CheckForCriticalValues(ctx context.Context, resultID uuid.UUID) ([]*CriticalValueAlert, error) {
	r, err := s.results.GetResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	params, err := s.results.ListParameters(ctx, resultID)
	if err != nil {
		return nil, err
	}
	existing, err := s.alerts.ListByResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, a := range existing {
		seen[a.ParameterCode+"/"+a.AlertType] = true
	}

	var raised []*CriticalValueAlert
	err = s.run(ctx, func(ctx context.Context) error {
		for _, p := range params {
			alerts, err := s.raiseForParameter(ctx, r, p, seen)
			if err != nil {
				return err
			}
			raised = append(raised, alerts...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raised, nil
}

// raiseForParameter creates one alert per triggered condition: a critical
// or panic classification, and independently a flagged delta check. The
// ordering physician is notified per alert; a dispatch failure is logged
// and never fails the operation.
func (s *Service) raiseForParameter(ctx context.Context, r *result.LabResult, p *result.LabResultParameter, seen map[string]bool) ([]*CriticalValueAlert, error) {
	type trigger struct {
		alertType string
		severity  string
	}
	var triggers []trigger

	switch p.Flag {
	case result.FlagPanic:
		triggers = append(triggers, trigger{TypePanicValue, SeverityCritical})
	case result.FlagCritical:
		triggers = append(triggers, trigger{TypeCriticalValue, SeverityHigh})
	}
	if p.DeltaFlagged {
		severity := SeverityMedium
		if p.DeltaPercentage != nil && math.Abs(*p.DeltaPercentage) > 100 {
			severity = SeverityHigh
		}
		triggers = append(triggers, trigger{TypeDeltaCheck, severity})
	}
	if len(triggers) == 0 {
		return nil, nil
	}

	o, err := s.orders.GetOrder(ctx, r.OrderID)
	if err != nil {
		return nil, err
	}

	var raised []*CriticalValueAlert
	for _, t := range triggers {
		if seen != nil && seen[p.ParameterCode+"/"+t.alertType] {
			continue
		}
		a := &CriticalValueAlert{
			ResultID:           r.ID,
			ParameterID:        p.ID,
			OrderID:            r.OrderID,
			PatientID:          r.PatientID,
			AlertType:          t.alertType,
			Severity:           t.severity,
			TestName:           r.TestName,
			ParameterCode:      p.ParameterCode,
			ParameterName:      p.ParameterName,
			Value:              parameterValue(p),
			Unit:               p.Unit,
			ReferenceRange:     p.ReferenceRange,
			NotifiedTo:         o.OrderingDoctorID,
			NotificationMethod: string(notification.MethodSystemAlert),
			NotifiedAt:         s.now(),
		}
		if t.alertType == TypeDeltaCheck {
			a.DeltaPercentage = p.DeltaPercentage
		}
		if err := s.alerts.Create(ctx, a); err != nil {
			return nil, err
		}
		raised = append(raised, a)
		s.dispatch(ctx, a, false)
	}
	return raised, nil
}

// AcknowledgeAlert records the acknowledgment. Acknowledging twice is a
// no-op returning the existing record, not an error.
func (s *Service) AcknowledgeAlert(ctx context.Context, alertID, acknowledgedBy uuid.UUID, at time.Time) (*CriticalValueAlert, error) {
	a, err := s.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a.Acknowledged() {
		return a, nil
	}
	if at.IsZero() {
		at = s.now()
	}
	a.AcknowledgedBy = &acknowledgedBy
	a.AcknowledgedAt = &at
	if err := s.alerts.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// RecordActionTaken records the clinical action taken in response.
func (s *Service) RecordActionTaken(ctx context.Context, alertID uuid.UUID, action string) (*CriticalValueAlert, error) {
	if action == "" {
		return nil, laberr.Precondition("action description is empty")
	}
	a, err := s.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	a.ActionTaken = &action
	if err := s.alerts.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ResolveAlert closes the alert. Resolving an unacknowledged alert is
// allowed (supervisor override) but logged as anomalous.
func (s *Service) ResolveAlert(ctx context.Context, alertID, resolvedBy uuid.UUID) (*CriticalValueAlert, error) {
	a, err := s.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if a.Resolved() {
		return nil, laberr.Precondition("alert %s is already resolved", a.ID)
	}
	if !a.Acknowledged() {
		s.logger.Warn().
			Str("alert_id", a.ID.String()).
			Str("severity", a.Severity).
			Str("resolved_by", resolvedBy.String()).
			Msg("alert resolved without acknowledgment")
	}
	now := s.now()
	a.ResolvedBy = &resolvedBy
	a.ResolvedAt = &now
	if err := s.alerts.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// EscalateUnacknowledgedAlerts sweeps open alerts and escalates each one
// whose notification is older than the threshold. Escalation appends to
// the acknowledgment notes, never discarding prior history, and marks the
// alert so it is escalated exactly once. Returns the number escalated.
func (s *Service) EscalateUnacknowledgedAlerts(ctx context.Context, threshold time.Duration) (int, error) {
	now := s.now()
	cutoff := now.Add(-threshold)

	open, err := s.alerts.ListUnacknowledged(ctx)
	if err != nil {
		return 0, err
	}

	escalated := 0
	for _, a := range open {
		if a.EscalatedAt != nil || !a.NotifiedAt.Before(cutoff) {
			continue
		}
		elapsed := int(now.Sub(a.NotifiedAt).Minutes())
		note := fmt.Sprintf("[%s] ESCALATED by SYSTEM: %s alert unacknowledged for %d minutes",
			now.UTC().Format(time.RFC3339), a.Severity, elapsed)
		if a.AcknowledgmentNotes != nil && *a.AcknowledgmentNotes != "" {
			note = *a.AcknowledgmentNotes + "\n" + note
		}
		a.AcknowledgmentNotes = &note
		a.EscalatedAt = &now

		err := s.run(ctx, func(ctx context.Context) error {
			return s.alerts.Update(ctx, a)
		})
		if errors.Is(err, laberr.ErrConflict) {
			// Acknowledged or resolved underneath the sweep; leave it.
			s.logger.Debug().Str("alert_id", a.ID.String()).Msg("escalation skipped on concurrent update")
			continue
		}
		if err != nil {
			return escalated, err
		}
		escalated++
		s.dispatch(ctx, a, true)
	}
	return escalated, nil
}

func (s *Service) GetAlert(ctx context.Context, id uuid.UUID) (*CriticalValueAlert, error) {
	return s.alerts.GetByID(ctx, id)
}

func (s *Service) ListByResult(ctx context.Context, resultID uuid.UUID) ([]*CriticalValueAlert, error) {
	return s.alerts.ListByResult(ctx, resultID)
}

// ListUnacknowledged returns every open alert, oldest notification first.
func (s *Service) ListUnacknowledged(ctx context.Context) ([]*CriticalValueAlert, error) {
	return s.alerts.ListUnacknowledged(ctx)
}

func (s *Service) dispatch(ctx context.Context, a *CriticalValueAlert, escalation bool) {
	summary := notification.AlertSummary{
		AlertID:       a.ID,
		ResultID:      a.ResultID,
		PatientID:     a.PatientID,
		Severity:      a.Severity,
		AlertType:     a.AlertType,
		TestName:      a.TestName,
		ParameterName: a.ParameterName,
		Value:         a.Value,
		Escalation:    escalation,
	}
	if a.Unit != nil {
		summary.Unit = *a.Unit
	}
	if err := s.dispatcher.Notify(ctx, a.NotifiedTo, summary); err != nil {
		s.logger.Error().Err(err).
			Str("alert_id", a.ID.String()).
			Str("recipient_id", a.NotifiedTo.String()).
			Msg("alert notification dispatch failed")
	}
}

func parameterValue(p *result.LabResultParameter) string {
	if p.ValueNumeric != nil {
		return strconv.FormatFloat(*p.ValueNumeric, 'f', -1, 64)
	}
	if p.ValueText != nil {
		return *p.ValueText
	}
	return ""
}
