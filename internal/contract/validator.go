package contract

import (
	"fmt"
	"strings"
)

// Issue severities mirror the invariant severities: only fatal issues abort
// startup, error issues are logged loudly.
const (
	SeverityError = "error"
	SeverityFatal = "fatal"
)

// Issue is one divergence between the committed and the live contract.
type Issue struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Expected string `json:"expected,omitempty"`
	Got      string `json:"got,omitempty"`
}

// MismatchError aborts startup. It carries the full issue list plus both
// hashes so the operator can see exactly what drifted.
type MismatchError struct {
	Issues       []Issue
	ExpectedHash string
	CurrentHash  string
}

func (e *MismatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "contract validation failed: expected hash %s, current hash %s\n",
		e.ExpectedHash, e.CurrentHash)
	for _, issue := range e.Issues {
		fmt.Fprintf(&b, "  [%s] %s: %s", issue.Severity, issue.Code, issue.Message)
		if issue.Expected != "" || issue.Got != "" {
			fmt.Fprintf(&b, " (expected %q, got %q)", issue.Expected, issue.Got)
		}
		b.WriteByte('\n')
	}
	b.WriteString("if this change is intentional, update the committed contract literals and bump the contract version")
	return b.String()
}

// Validate compares the committed contract against the one rebuilt from live
// code and returns every divergence.
func Validate(active, current Contract) []Issue {
	var issues []Issue

	if active.Version != current.Version {
		issues = append(issues, Issue{
			Code: "VERSION_MISMATCH", Severity: SeverityFatal,
			Message:  "contract version differs from the committed one",
			Expected: active.Version, Got: current.Version,
		})
	}

	issues = append(issues, diffStringSets("STATE", SeverityFatal,
		active.FSMSchema.States, current.FSMSchema.States)...)
	issues = append(issues, diffStringSets("TERMINAL_STATE", SeverityFatal,
		active.FSMSchema.TerminalStates, current.FSMSchema.TerminalStates)...)

	issues = append(issues, diffRegistry("INVARIANT",
		active.InvariantSchema, current.InvariantSchema)...)
	issues = append(issues, diffRegistry("POSTCONDITION",
		active.PostconditionSchema, current.PostconditionSchema)...)

	if active.DecisionSchemaHash != current.DecisionSchemaHash {
		issues = append(issues, Issue{
			Code: "DECISION_SCHEMA_HASH_MISMATCH", Severity: SeverityFatal,
			Message:  "decision record wire schema changed",
			Expected: active.DecisionSchemaHash, Got: current.DecisionSchemaHash,
		})
	}

	if active.ContractHash != current.ContractHash && len(issues) == 0 {
		// Hashes disagree but nothing structural was found: the hash
		// derivation itself changed, which is just as fatal.
		issues = append(issues, Issue{
			Code: "HASH_MISMATCH", Severity: SeverityFatal,
			Message:  "contract hash differs with no structural divergence",
			Expected: active.ContractHash, Got: current.ContractHash,
		})
	}

	return issues
}

// ValidateActive rebuilds the contract from live code and checks it against
// the committed one. A fatal issue returns a *MismatchError; the caller exits 1.
func ValidateActive() (Contract, error) {
	active := Active()
	current := Build(ActiveVersion)
	issues := Validate(active, current)
	for _, issue := range issues {
		if issue.Severity == SeverityFatal {
			return current, &MismatchError{
				Issues:       issues,
				ExpectedHash: active.ContractHash,
				CurrentHash:  current.ContractHash,
			}
		}
	}
	return current, nil
}

func diffStringSets(kind, severity string, expected, got []string) []Issue {
	var issues []Issue
	exp := toSet(expected)
	cur := toSet(got)
	for _, s := range expected {
		if !cur[s] {
			issues = append(issues, Issue{
				Code: kind + "_REMOVED", Severity: severity,
				Message:  fmt.Sprintf("%s %s present in the committed contract is missing from the code", strings.ToLower(kind), s),
				Expected: s,
			})
		}
	}
	for _, s := range got {
		if !exp[s] {
			issues = append(issues, Issue{
				Code: kind + "_ADDED", Severity: severity,
				Message: fmt.Sprintf("%s %s exists in the code but not in the committed contract", strings.ToLower(kind), s),
				Got:     s,
			})
		}
	}
	return issues
}

func diffRegistry(kind string, expected, got RegistrySchema) []Issue {
	var issues []Issue
	if expected.Count != got.Count {
		issues = append(issues, Issue{
			Code: kind + "_COUNT_MISMATCH", Severity: SeverityFatal,
			Message:  fmt.Sprintf("%s count changed", strings.ToLower(kind)),
			Expected: fmt.Sprintf("%d", expected.Count),
			Got:      fmt.Sprintf("%d", got.Count),
		})
	}
	issues = append(issues, diffStringSets(kind, SeverityFatal, expected.IDs, got.IDs)...)
	for id, sev := range expected.SeverityMap {
		if gotSev, ok := got.SeverityMap[id]; ok && gotSev != sev {
			issues = append(issues, Issue{
				Code: kind + "_SEVERITY_CHANGED", Severity: SeverityError,
				Message:  fmt.Sprintf("%s %s severity changed", strings.ToLower(kind), id),
				Expected: sev, Got: gotSev,
			})
		}
	}
	return issues
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[s] = true
	}
	return out
}
