// Package notification carries critical-value alert summaries to the
// external delivery collaborator. The engine decides that and to whom to
// notify; the concrete channel (email/SMS/push) is outside its boundary,
// so the Dispatcher here is fire-and-forget and a failure never rolls back
// the alert record.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Method is the notification channel recorded on an alert.
type Method string

const (
	MethodSystemAlert Method = "SYSTEM_ALERT"
	MethodEmail       Method = "EMAIL"
	MethodSMS         Method = "SMS"
	MethodPhone       Method = "PHONE"
)

// AlertSummary is the payload handed to the delivery collaborator for a new
// or escalated alert.
type AlertSummary struct {
	AlertID       uuid.UUID
	ResultID      uuid.UUID
	PatientID     uuid.UUID
	Severity      string
	AlertType     string
	TestName      string
	ParameterName string
	Value         string
	Unit          string
	Message       string
	Escalation    bool
}

// Dispatcher delivers one alert summary to one recipient.
type Dispatcher interface {
	Notify(ctx context.Context, recipientID uuid.UUID, summary AlertSummary) error
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

// Template is a reusable message template with {{key}} placeholders.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine renders alert summaries into human-readable messages.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates an engine with the built-in alert templates.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "critical-value-alert",
			Subject: "{{severity}} lab value: {{test}}",
			Body:    "{{test}} {{parameter}} is {{value}} {{unit}} ({{alert_type}}). Immediate review required.",
		},
		{
			ID:      "delta-check-alert",
			Subject: "Delta check flagged: {{test}}",
			Body:    "{{test}} {{parameter}} changed to {{value}} {{unit}} versus the prior result ({{alert_type}}).",
		},
		{
			ID:      "escalation-notice",
			Subject: "UNACKNOWLEDGED {{severity}} alert: {{test}}",
			Body:    "Alert for {{test}} {{parameter}} = {{value}} {{unit}} remains unacknowledged. Please respond.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render performs {{key}} replacement on the identified template. Keys in
// the template but absent from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// TemplateFor picks the built-in template matching a summary.
func TemplateFor(summary AlertSummary) string {
	switch {
	case summary.Escalation:
		return "escalation-notice"
	case summary.AlertType == "DELTA_CHECK":
		return "delta-check-alert"
	default:
		return "critical-value-alert"
	}
}

// Data flattens a summary into template placeholder data.
func Data(summary AlertSummary) map[string]string {
	return map[string]string{
		"severity":   summary.Severity,
		"alert_type": summary.AlertType,
		"test":       summary.TestName,
		"parameter":  summary.ParameterName,
		"value":      summary.Value,
		"unit":       summary.Unit,
	}
}

// ---------------------------------------------------------------------------
// Dispatchers
// ---------------------------------------------------------------------------

// LogDispatcher renders the summary and writes it to the log. It stands in
// for the external delivery system in deployments without one configured.
type LogDispatcher struct {
	engine *TemplateEngine
	logger zerolog.Logger
}

func NewLogDispatcher(logger zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{engine: NewTemplateEngine(), logger: logger}
}

func (d *LogDispatcher) Notify(_ context.Context, recipientID uuid.UUID, summary AlertSummary) error {
	subject, body, err := d.engine.Render(TemplateFor(summary), Data(summary))
	if err != nil {
		return err
	}
	d.logger.Info().
		Str("recipient_id", recipientID.String()).
		Str("alert_id", summary.AlertID.String()).
		Str("severity", summary.Severity).
		Str("subject", subject).
		Str("body", body).
		Msg("alert notification dispatched")
	return nil
}

// Call records one Notify invocation.
type Call struct {
	RecipientID uuid.UUID
	Summary     AlertSummary
}

// Recorder is a test double that records every dispatch.
type Recorder struct {
	mu         sync.Mutex
	calls      []Call
	ShouldFail bool
}

func (r *Recorder) Notify(_ context.Context, recipientID uuid.UUID, summary AlertSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{RecipientID: recipientID, Summary: summary})
	if r.ShouldFail {
		return fmt.Errorf("dispatch failed")
	}
	return nil
}

// Calls returns a copy of the recorded dispatches.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}
