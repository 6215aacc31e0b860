package precheck

// Gate reasons. The reason string is stored verbatim on the decision record.
const (
	ReasonSafe         = "safe"
	ReasonManualReview = "manual review required"
	ReasonAllow        = "risk signals require model review"
)

// Threshold above which the change is too risky for an automated verdict.
const manualReviewHighThreshold = 5

// GateDecision is the deterministic verdict on whether the model runs.
type GateDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Gate applies the three-rule policy to a bundle:
// no high and no medium signals skips the model entirely; more than five
// high-confidence categories demands a human instead of a model; everything
// in between goes to the model.
func Gate(b Bundle) GateDecision {
	switch {
	case b.HighCount == 0 && b.MediumCount == 0:
		return GateDecision{Allowed: false, Reason: ReasonSafe}
	case b.HighCount > manualReviewHighThreshold:
		return GateDecision{Allowed: false, Reason: ReasonManualReview}
	default:
		return GateDecision{Allowed: true, Reason: ReasonAllow}
	}
}
