package notification

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRenderReplacesPlaceholders(t *testing.T) {
	e := NewTemplateEngine()
	subject, body, err := e.Render("critical-value-alert", map[string]string{
		"severity":   "CRITICAL",
		"alert_type": "PANIC_VALUE",
		"test":       "Potassium",
		"parameter":  "K+",
		"value":      "7.2",
		"unit":       "mmol/L",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if subject != "CRITICAL lab value: Potassium" {
		t.Errorf("unexpected subject %q", subject)
	}
	if !strings.Contains(body, "7.2 mmol/L") || !strings.Contains(body, "PANIC_VALUE") {
		t.Errorf("unexpected body %q", body)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	e := NewTemplateEngine()
	if _, _, err := e.Render("no-such-template", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestRenderLeavesMissingKeys(t *testing.T) {
	e := NewTemplateEngine()
	subject, _, err := e.Render("escalation-notice", map[string]string{"test": "Glucose"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(subject, "{{severity}}") {
		t.Errorf("missing keys should remain as placeholders, got %q", subject)
	}
}

func TestTemplateForSelection(t *testing.T) {
	tests := []struct {
		summary AlertSummary
		want    string
	}{
		{AlertSummary{AlertType: "PANIC_VALUE"}, "critical-value-alert"},
		{AlertSummary{AlertType: "CRITICAL_VALUE"}, "critical-value-alert"},
		{AlertSummary{AlertType: "DELTA_CHECK"}, "delta-check-alert"},
		{AlertSummary{AlertType: "PANIC_VALUE", Escalation: true}, "escalation-notice"},
	}
	for _, tt := range tests {
		if got := TemplateFor(tt.summary); got != tt.want {
			t.Errorf("TemplateFor(%+v) = %s, want %s", tt.summary, got, tt.want)
		}
	}
}

func TestRecorderCapturesCalls(t *testing.T) {
	r := &Recorder{}
	recipient := uuid.New()
	err := r.Notify(context.Background(), recipient, AlertSummary{Severity: "HIGH"})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	calls := r.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].RecipientID != recipient {
		t.Errorf("wrong recipient recorded")
	}
}
