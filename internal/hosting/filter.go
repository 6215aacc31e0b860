package hosting

import (
	"path"
	"strings"
)

// Diff limits. Both bounds are enforced: a pull request with more files or
// more total changed lines than this gets truncated, and the review proceeds
// on the truncated set with the flag recorded.
const (
	MaxFiles   = 50
	MaxChanges = 5000
)

// FilterResult is the reviewable subset of a diff.
type FilterResult struct {
	Files     []DiffFile
	Dropped   int
	Truncated bool
}

// lockfiles and vendored/generated artifacts carry no review signal.
var skippedExact = map[string]bool{
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	"go.sum":            true,
	"Cargo.lock":        true,
	"composer.lock":     true,
	"Gemfile.lock":      true,
	"poetry.lock":       true,
}

var skippedPrefixes = []string{
	"vendor/",
	"node_modules/",
	"dist/",
	"build/",
	".idea/",
	".vscode/",
}

var skippedSuffixes = []string{
	".min.js",
	".min.css",
	".map",
	".pb.go",
	"_generated.go",
	".generated.ts",
	".snap",
	".png", ".jpg", ".jpeg", ".gif", ".ico", ".pdf",
	".woff", ".woff2", ".ttf", ".eot",
}

// Filter drops non-reviewable files and enforces the default diff limits.
func Filter(files []DiffFile) FilterResult {
	return FilterBounded(files, MaxFiles, MaxChanges)
}

// FilterBounded is Filter with explicit limits.
func FilterBounded(files []DiffFile, maxFiles, maxChanges int) FilterResult {
	if maxFiles <= 0 {
		maxFiles = MaxFiles
	}
	if maxChanges <= 0 {
		maxChanges = MaxChanges
	}
	var res FilterResult
	totalChanges := 0
	for _, f := range files {
		if !reviewable(f) {
			res.Dropped++
			continue
		}
		if len(res.Files) >= maxFiles || totalChanges+f.Changes() > maxChanges {
			res.Truncated = true
			break
		}
		totalChanges += f.Changes()
		res.Files = append(res.Files, f)
	}
	return res
}

func reviewable(f DiffFile) bool {
	if f.Status == "removed" {
		return false
	}
	name := path.Base(f.Path)
	if skippedExact[name] {
		return false
	}
	for _, prefix := range skippedPrefixes {
		if strings.HasPrefix(f.Path, prefix) {
			return false
		}
	}
	for _, suffix := range skippedSuffixes {
		if strings.HasSuffix(f.Path, suffix) {
			return false
		}
	}
	// A file with no patch content (binary) cannot be reviewed as text.
	if f.Patch == "" && f.Changes() == 0 {
		return false
	}
	return true
}
