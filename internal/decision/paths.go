package decision

// Decision paths. Every execution terminates on exactly one of these; the
// path names the outcome class, not the route the machine took to reach it.
const (
	PathSilentExitFiltered  = "silent_exit_filtered"
	PathSilentExitSafe      = "silent_exit_safe"
	PathManualReviewWarning = "manual_review_warning"
	PathAIReview            = "ai_review"
	PathAIFallbackAPI       = "ai_fallback_api"
	PathAIFallbackQuality   = "ai_fallback_quality"
	PathAbortError          = "abort_error"
	PathAbortFatal          = "abort_fatal"
)

// Paths lists the decision paths in reporting order.
var Paths = []string{
	PathSilentExitFiltered,
	PathSilentExitSafe,
	PathManualReviewWarning,
	PathAIReview,
	PathAIFallbackAPI,
	PathAIFallbackQuality,
	PathAbortError,
	PathAbortFatal,
}
