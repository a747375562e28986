package result

import (
	"math"

	"github.com/labcore/labcore/internal/domain/catalog"
)

// Classify grades a numeric value against the parameter's reference
// thresholds. Panic thresholds win over critical, critical over a plain
// normal-range violation. Boundary values belong to the less severe side:
// only a value strictly below a low threshold or strictly above a high one
// triggers that flag. Unset thresholds are skipped.
func Classify(value float64, p *catalog.LabTestParameter) string {
	if (p.PanicLow != nil && value < *p.PanicLow) || (p.PanicHigh != nil && value > *p.PanicHigh) {
		return FlagPanic
	}
	if (p.CriticalLow != nil && value < *p.CriticalLow) || (p.CriticalHigh != nil && value > *p.CriticalHigh) {
		return FlagCritical
	}
	if (p.NormalLow != nil && value < *p.NormalLow) || (p.NormalHigh != nil && value > *p.NormalHigh) {
		return FlagAbnormal
	}
	return FlagNormal
}

// DeltaCheck compares a new value against the patient's previous value for
// the same analyte. The percentage is undefined when there is no previous
// value or the previous value is zero; in that case nothing is flagged.
// Either threshold may be absent; the check flags when any configured
// threshold is met or exceeded.
func DeltaCheck(current float64, previous, percentThreshold, absoluteThreshold *float64) (deltaPercentage *float64, flagged bool) {
	if previous == nil || *previous == 0 {
		return nil, false
	}
	pct := (current - *previous) / *previous * 100
	diff := math.Abs(current - *previous)

	if percentThreshold != nil && math.Abs(pct) >= *percentThreshold {
		flagged = true
	}
	if absoluteThreshold != nil && diff >= *absoluteThreshold {
		flagged = true
	}
	return &pct, flagged
}
