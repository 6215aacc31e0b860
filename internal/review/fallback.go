package review

import (
	"fmt"

	"reviewgate/internal/precheck"
)

// Fallback triggers. api-class triggers map to the ai_fallback_api decision
// path, the other two to ai_fallback_quality.
const (
	TriggerCapacity         = "capacity"
	TriggerAPIError         = "api_error"
	TriggerValidationError  = "validation_error"
	TriggerQualityRejection = "quality_rejection"
)

// FallbackReason records what made the model reply unusable.
type FallbackReason struct {
	Trigger string `json:"trigger"`
	Details string `json:"details,omitempty"`
}

// Fallback verdict thresholds over high-confidence category counts.
const (
	fallbackHighRiskThreshold        = 3
	fallbackRequiresChangesThreshold = 1
)

// Fallback derives a deterministic review from the pre-check bundle. It is
// intentionally conservative: without a usable model judgment, the verdict
// comes from the detected risk surface alone and always asks for a human.
func Fallback(bundle precheck.Bundle) Output {
	verdict := VerdictSafeWithConditions
	switch {
	case bundle.HighCount >= fallbackHighRiskThreshold:
		verdict = VerdictHighRisk
	case bundle.HighCount >= fallbackRequiresChangesThreshold:
		verdict = VerdictRequiresChanges
	}

	var risks []string
	for _, cat := range bundle.CriticalCategories {
		sig := bundle.Signals[cat]
		if len(sig.Examples) > 0 {
			risks = append(risks, fmt.Sprintf("elevated risk in %s: %s", cat, sig.Examples[0]))
		} else {
			risks = append(risks, fmt.Sprintf("elevated risk in %s", cat))
		}
	}
	if verdict == VerdictHighRisk && len(risks) == 0 {
		risks = append(risks, fmt.Sprintf("%d high-confidence risk categories detected", bundle.HighCount))
	}

	return Output{
		Assessment: fmt.Sprintf(
			"Deterministic review from risk pre-checks: %d high, %d medium, %d low confidence risk categories detected. The model judgment was unavailable, so this assessment reflects pattern analysis only.",
			bundle.HighCount, bundle.MediumCount, bundle.LowCount),
		Risks:           risks,
		Assumptions:     []string{"pattern-based signals approximate the real risk surface"},
		Tradeoffs:       nil,
		FailureModes:    nil,
		Recommendations: []string{"manual review required"},
		Verdict:         verdict,
	}
}
