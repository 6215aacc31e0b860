// Package precheck classifies a filtered diff into the ten risk categories
// and gates the model invocation deterministically. The rule table is the
// default classifier; the bundle shape is the contract, so an alternative
// classifier can replace the table without touching the gate.
package precheck

import "sort"

// Confidence levels.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// The ten risk categories.
const (
	CategoryPublicAPI          = "public-api"
	CategoryStateMutation      = "state-mutation"
	CategoryAuthentication     = "authentication"
	CategoryPersistence        = "persistence"
	CategoryConcurrency        = "concurrency"
	CategoryErrorHandling      = "error-handling"
	CategoryNetworking         = "networking"
	CategoryDependencies       = "dependencies"
	CategoryCriticalPath       = "critical-path"
	CategorySecurityBoundaries = "security-boundaries"
)

// Categories lists all ten in stable order.
var Categories = []string{
	CategoryPublicAPI,
	CategoryStateMutation,
	CategoryAuthentication,
	CategoryPersistence,
	CategoryConcurrency,
	CategoryErrorHandling,
	CategoryNetworking,
	CategoryDependencies,
	CategoryCriticalPath,
	CategorySecurityBoundaries,
}

// criticalCategories contribute seeded risks to a fallback review.
var criticalCategories = map[string]bool{
	CategoryAuthentication:     true,
	CategorySecurityBoundaries: true,
	CategoryPersistence:        true,
	CategoryCriticalPath:       true,
}

// Bounds on per-category evidence kept in the bundle.
const (
	maxLocations = 10
	maxExamples  = 3
)

// Signal is the per-category detection record.
type Signal struct {
	Detected   bool     `json:"detected"`
	Confidence string   `json:"confidence,omitempty"`
	Locations  []string `json:"locations,omitempty"`
	Examples   []string `json:"examples,omitempty"`
}

// Bundle is the full risk-signal bundle plus derived counters.
type Bundle struct {
	Signals            map[string]Signal `json:"signals"`
	HighCount          int               `json:"high_count"`
	MediumCount        int               `json:"medium_count"`
	LowCount           int               `json:"low_count"`
	CriticalCategories []string          `json:"critical_categories"`
}

// DetectedCategories returns the categories that fired, in stable order.
func (b Bundle) DetectedCategories() []string {
	var out []string
	for _, cat := range Categories {
		if b.Signals[cat].Detected {
			out = append(out, cat)
		}
	}
	return out
}

// finalize computes the derived counters from the signals.
func (b *Bundle) finalize() {
	b.HighCount, b.MediumCount, b.LowCount = 0, 0, 0
	b.CriticalCategories = b.CriticalCategories[:0]
	for _, cat := range Categories {
		sig, ok := b.Signals[cat]
		if !ok || !sig.Detected {
			continue
		}
		switch sig.Confidence {
		case ConfidenceHigh:
			b.HighCount++
		case ConfidenceMedium:
			b.MediumCount++
		case ConfidenceLow:
			b.LowCount++
		}
		if criticalCategories[cat] {
			b.CriticalCategories = append(b.CriticalCategories, cat)
		}
	}
	sort.Strings(b.CriticalCategories)
}
