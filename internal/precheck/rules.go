package precheck

import (
	"regexp"
	"strings"

	"reviewgate/internal/hosting"
)

// rule matches either file paths or added-line content for one category.
type rule struct {
	category   string
	confidence string
	path       *regexp.Regexp
	content    *regexp.Regexp
}

// The default rule table. Path rules classify by where a change lands;
// content rules inspect added lines only, so unchanged context never fires.
var rules = []rule{
	{CategoryAuthentication, ConfidenceHigh, regexp.MustCompile(`(?i)(^|/)(auth|login|session|oauth|sso|token)[^/]*\.\w+$`), nil},
	{CategoryAuthentication, ConfidenceHigh, nil, regexp.MustCompile(`(?i)(password|passwd|credential|api[_-]?key|bearer|jwt)`)},
	{CategorySecurityBoundaries, ConfidenceHigh, regexp.MustCompile(`(?i)(^|/)(security|crypto|sign|cert|acl|permission|policy)[^/]*\.\w+$`), nil},
	{CategorySecurityBoundaries, ConfidenceHigh, nil, regexp.MustCompile(`(?i)(hmac|sha256|aes|rsa|encrypt|decrypt|sanitize|escape)`)},
	{CategoryPersistence, ConfidenceHigh, regexp.MustCompile(`(?i)(^|/)(migrations?|schema|db)(/|[^/]*\.sql$)`), nil},
	{CategoryPersistence, ConfidenceMedium, nil, regexp.MustCompile(`(?i)\b(INSERT INTO|UPDATE |DELETE FROM|ALTER TABLE|CREATE TABLE|DROP TABLE)\b`)},
	{CategoryNetworking, ConfidenceHigh, regexp.MustCompile(`(?i)(^|/)(net|fetch|http|rpc|grpc|transport)[^/]*\.\w+$`), nil},
	{CategoryNetworking, ConfidenceMedium, nil, regexp.MustCompile(`(?i)(http\.(Get|Post|Client)|fetch\(|axios\.|net\.Dial|websocket)`)},
	{CategoryConcurrency, ConfidenceHigh, regexp.MustCompile(`(?i)(^|/)(workers?|queues?|schedulers?|jobs?)[^/]*\.\w+$`), nil},
	{CategoryConcurrency, ConfidenceMedium, nil, regexp.MustCompile(`(?i)(go func|sync\.(Mutex|RWMutex|WaitGroup)|chan |atomic\.|Promise\.all|setInterval|async |await )`)},
	{CategoryStateMutation, ConfidenceMedium, nil, regexp.MustCompile(`(?i)(global |window\.|process\.env|os\.Setenv|singleton)`)},
	{CategoryErrorHandling, ConfidenceLow, nil, regexp.MustCompile(`(?i)(try\s*\{|catch\s*\(|recover\(\)|panic\(|\.catch\(|rescue )`)},
	{CategoryPublicAPI, ConfidenceHigh, regexp.MustCompile(`(?i)(^|/)api/`), nil},
	{CategoryPublicAPI, ConfidenceMedium, regexp.MustCompile(`(?i)(^|/)(routes?|handlers?|controllers?|endpoints?)(/|[^/]*\.\w+$)`), nil},
	{CategoryPublicAPI, ConfidenceLow, nil, regexp.MustCompile(`(?i)(export (function|const|class)|router\.(get|post|put|delete)|@(Get|Post|Put|Delete)Mapping)`)},
	{CategoryDependencies, ConfidenceMedium, regexp.MustCompile(`(^|/)(package\.json|go\.mod|requirements\.txt|Cargo\.toml|pom\.xml|build\.gradle)$`), nil},
	{CategoryCriticalPath, ConfidenceHigh, regexp.MustCompile(`(?i)(^|/)(payment|billing|checkout|invoice|ledger)[^/]*\.\w+$`), nil},
	{CategoryCriticalPath, ConfidenceHigh, regexp.MustCompile(`(?i)(^|/)(migrations?/|deploy|infra|terraform|k8s|helm)`), nil},
}

// Analyze runs the rule table over the filtered files and assembles the
// bundle. Same input, same bundle: the classifier holds no state.
func Analyze(files []hosting.DiffFile) Bundle {
	bundle := Bundle{Signals: make(map[string]Signal, len(Categories))}
	for _, cat := range Categories {
		bundle.Signals[cat] = Signal{}
	}

	for _, f := range files {
		added := addedLines(f.Patch)
		for _, r := range rules {
			switch {
			case r.path != nil && r.path.MatchString(f.Path):
				record(&bundle, r, f.Path, f.Path)
			case r.content != nil:
				for _, line := range added {
					if r.content.MatchString(line) {
						record(&bundle, r, f.Path, strings.TrimSpace(line))
						break
					}
				}
			}
		}
	}

	bundle.finalize()
	return bundle
}

// record upgrades the category signal, keeping the strongest confidence seen.
func record(b *Bundle, r rule, location, example string) {
	sig := b.Signals[r.category]
	sig.Detected = true
	if rank(r.confidence) > rank(sig.Confidence) {
		sig.Confidence = r.confidence
	}
	if len(sig.Locations) < maxLocations && !contains(sig.Locations, location) {
		sig.Locations = append(sig.Locations, location)
	}
	if len(sig.Examples) < maxExamples && !contains(sig.Examples, example) {
		sig.Examples = append(sig.Examples, example)
	}
	b.Signals[r.category] = sig
}

func rank(confidence string) int {
	switch confidence {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}

func contains(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}

// addedLines extracts the + lines of a unified diff patch, without the
// leading marker. File headers (+++) are skipped.
func addedLines(patch string) []string {
	if patch == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(patch, "\n") {
		if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
			out = append(out, line[1:])
		}
	}
	return out
}
