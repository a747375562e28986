package catalog

import "testing"

func f(v float64) *float64 { return &v }
func s(v string) *string   { return &v }

func TestReferenceRangeText(t *testing.T) {
	tests := []struct {
		name  string
		param LabTestParameter
		want  string
	}{
		{"both bounds", LabTestParameter{NormalLow: f(3.5), NormalHigh: f(5.1)}, "3.5 - 5.1"},
		{"low only", LabTestParameter{NormalLow: f(0.5)}, ">= 0.5"},
		{"high only", LabTestParameter{NormalHigh: f(200)}, "<= 200"},
		{"text range", LabTestParameter{NormalText: s("Negative")}, "Negative"},
		{"no range", LabTestParameter{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.param.ReferenceRangeText(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
