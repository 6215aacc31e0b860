// Package review invokes the external judgment model and guards its output:
// the reply must parse as the seven-field review JSON, pass type validation,
// and clear the quality gates before it is accepted. Anything less produces a
// deterministic fallback review derived from the risk pre-checks.
package review

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Verdict is the model's overall judgment.
type Verdict string

const (
	VerdictSafe               Verdict = "safe"
	VerdictSafeWithConditions Verdict = "safe_with_conditions"
	VerdictRequiresChanges    Verdict = "requires_changes"
	VerdictHighRisk           Verdict = "high_risk"
)

// ValidVerdict reports whether v is one of the four declared verdicts.
func ValidVerdict(v Verdict) bool {
	switch v {
	case VerdictSafe, VerdictSafeWithConditions, VerdictRequiresChanges, VerdictHighRisk:
		return true
	}
	return false
}

// Output is the seven-field review structure.
type Output struct {
	Assessment      string   `json:"assessment"`
	Risks           []string `json:"risks"`
	Assumptions     []string `json:"assumptions"`
	Tradeoffs       []string `json:"tradeoffs"`
	FailureModes    []string `json:"failure_modes"`
	Recommendations []string `json:"recommendations"`
	Verdict         Verdict  `json:"verdict"`
}

// TotalItems counts the entries across the five list fields.
func (o Output) TotalItems() int {
	return len(o.Risks) + len(o.Assumptions) + len(o.Tradeoffs) +
		len(o.FailureModes) + len(o.Recommendations)
}

// ValidationError reports why a model reply was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("review: invalid reply field %s: %s", e.Field, e.Reason)
}

// boilerplatePhrases disqualify an assessment outright: a model that answers
// with one of these has not reviewed anything.
var boilerplatePhrases = []string{
	"looks good",
	"lgtm",
	"no issues found",
	"code is fine",
	"seems okay",
	"appears correct",
	"looks fine to me",
}

const minAssessmentLength = 20

// ParseReply extracts and validates the review JSON from the raw model text.
// The reply may wrap the JSON in a code fence or surrounding prose; the first
// balanced object is taken.
func ParseReply(raw string) (Output, error) {
	jsonText, err := extractJSON(raw)
	if err != nil {
		return Output{}, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(jsonText), &fields); err != nil {
		return Output{}, &ValidationError{Field: "(root)", Reason: fmt.Sprintf("not a JSON object: %v", err)}
	}

	var out Output
	if err := requireString(fields, "assessment", &out.Assessment); err != nil {
		return Output{}, err
	}
	for _, f := range []struct {
		name string
		dst  *[]string
	}{
		{"risks", &out.Risks},
		{"assumptions", &out.Assumptions},
		{"tradeoffs", &out.Tradeoffs},
		{"failure_modes", &out.FailureModes},
		{"recommendations", &out.Recommendations},
	} {
		if err := requireStringList(fields, f.name, f.dst); err != nil {
			return Output{}, err
		}
	}
	var verdict string
	if err := requireString(fields, "verdict", &verdict); err != nil {
		return Output{}, err
	}
	out.Verdict = Verdict(verdict)
	if !ValidVerdict(out.Verdict) {
		return Output{}, &ValidationError{Field: "verdict", Reason: fmt.Sprintf("unknown value %q", verdict)}
	}
	return out, nil
}

// QualityCheck applies the gates that catch a syntactically valid but
// worthless reply. A nil return means the review is usable.
func QualityCheck(o Output) error {
	lowered := strings.ToLower(o.Assessment)
	for _, phrase := range boilerplatePhrases {
		if strings.Contains(lowered, phrase) {
			return &ValidationError{Field: "assessment", Reason: fmt.Sprintf("boilerplate phrase %q", phrase)}
		}
	}
	if len(o.Assessment) < minAssessmentLength {
		return &ValidationError{Field: "assessment", Reason: fmt.Sprintf("too short (%d chars)", len(o.Assessment))}
	}
	if o.TotalItems() == 0 {
		return &ValidationError{Field: "(lists)", Reason: "no items in any list field"}
	}
	if o.Verdict == VerdictSafe && len(o.Risks) > 0 {
		return &ValidationError{Field: "verdict", Reason: "safe verdict with non-empty risks"}
	}
	if o.Verdict == VerdictHighRisk && len(o.Risks) == 0 {
		return &ValidationError{Field: "verdict", Reason: "high_risk verdict with no risks"}
	}
	return nil
}

// extractJSON locates the review object in the raw reply: a ```json fence
// wins, otherwise the outermost braces are scanned.
func extractJSON(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if idx := strings.Index(trimmed, "```json"); idx >= 0 {
		rest := trimmed[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end]), nil
		}
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return "", &ValidationError{Field: "(root)", Reason: "no JSON object in reply"}
	}
	return trimmed[start : end+1], nil
}

func requireString(fields map[string]json.RawMessage, name string, dst *string) error {
	raw, ok := fields[name]
	if !ok {
		return &ValidationError{Field: name, Reason: "missing"}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &ValidationError{Field: name, Reason: "not a string"}
	}
	return nil
}

func requireStringList(fields map[string]json.RawMessage, name string, dst *[]string) error {
	raw, ok := fields[name]
	if !ok {
		return &ValidationError{Field: name, Reason: "missing"}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &ValidationError{Field: name, Reason: "not a string array"}
	}
	return nil
}
