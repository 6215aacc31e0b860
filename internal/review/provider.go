package review

import (
	"context"
	"fmt"
	"strings"

	"reviewgate/internal/hosting"
	"reviewgate/internal/precheck"
)

// Provider completes a system+user prompt pair into raw reply text. The two
// production providers wrap the Anthropic and Gemini SDKs; tests use fakes.
type Provider interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

// Prompt bounds. The diff excerpt is capped so a huge pull request cannot
// blow the model's input window; the pre-check bundle carries the signal the
// excerpt may lose.
const maxDiffExcerpt = 24000

const systemPrompt = `You are a senior code reviewer producing a risk-focused review of a pull request.
Respond with a single JSON object and nothing else, using exactly these fields:
{"assessment": string, "risks": [string], "assumptions": [string], "tradeoffs": [string], "failure_modes": [string], "recommendations": [string], "verdict": "safe"|"safe_with_conditions"|"requires_changes"|"high_risk"}
Ground every claim in the diff. Do not praise the code; identify what could break.`

// BuildUserPrompt renders the diff excerpt plus the pre-check bundle.
func BuildUserPrompt(files []hosting.DiffFile, bundle precheck.Bundle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Risk pre-check signals: %d high, %d medium, %d low confidence categories.\n",
		bundle.HighCount, bundle.MediumCount, bundle.LowCount)
	if detected := bundle.DetectedCategories(); len(detected) > 0 {
		fmt.Fprintf(&b, "Detected categories: %s.\n", strings.Join(detected, ", "))
	}
	b.WriteString("\nChanged files:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- %s (%s, +%d -%d)\n", f.Path, f.Status, f.Additions, f.Deletions)
	}
	b.WriteString("\nDiff:\n")
	remaining := maxDiffExcerpt
	for _, f := range files {
		if remaining <= 0 {
			b.WriteString("\n[diff truncated]\n")
			break
		}
		patch := f.Patch
		if len(patch) > remaining {
			patch = patch[:remaining]
		}
		fmt.Fprintf(&b, "\n--- %s\n%s\n", f.Path, patch)
		remaining -= len(patch)
	}
	return b.String()
}
