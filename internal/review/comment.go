package review

import (
	"fmt"
	"strings"
)

// RenderReviewComment formats a review as plain Markdown. The template is
// deliberately minimal; rich formatting is outside the pipeline's scope.
func RenderReviewComment(out Output, fallback bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Automated review — verdict: `%s`\n\n", out.Verdict)
	if fallback {
		b.WriteString("> The model reply was unusable; this review was derived deterministically from the risk pre-checks.\n\n")
	}
	b.WriteString(out.Assessment)
	b.WriteString("\n")
	writeSection(&b, "Risks", out.Risks)
	writeSection(&b, "Assumptions", out.Assumptions)
	writeSection(&b, "Tradeoffs", out.Tradeoffs)
	writeSection(&b, "Failure modes", out.FailureModes)
	writeSection(&b, "Recommendations", out.Recommendations)
	return b.String()
}

// RenderManualWarningComment is posted when the gate blocks the model because
// too many high-confidence risk categories fired.
func RenderManualWarningComment(highCount int, categories []string) string {
	var b strings.Builder
	b.WriteString("## Automated review — manual review required\n\n")
	fmt.Fprintf(&b, "This change touches %d high-confidence risk categories, which exceeds the automated review threshold.\n", highCount)
	if len(categories) > 0 {
		b.WriteString("\nCategories:\n")
		for _, c := range categories {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	b.WriteString("\nA human reviewer should assess this pull request before merge.\n")
	return b.String()
}

// RenderErrorComment explains a diff-extraction failure, best effort.
func RenderErrorComment(reason string) string {
	return fmt.Sprintf("## Automated review — unavailable\n\nThe review pipeline could not process this pull request: %s.\nThe next push will trigger a fresh attempt.\n", reason)
}

func writeSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n### %s\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}
