package precheck

import (
	"testing"

	"reviewgate/internal/hosting"
)

func docOnlyDiff() []hosting.DiffFile {
	return []hosting.DiffFile{
		{Path: "README.md", Status: "modified", Additions: 1, Patch: "@@ -1 +1 @@\n+minor doc"},
	}
}

func highRiskDiff() []hosting.DiffFile {
	return []hosting.DiffFile{
		{Path: "auth.ts", Status: "modified", Additions: 3, Patch: "@@\n+const token = password"},
		{Path: "payment.ts", Status: "modified", Additions: 2, Patch: "@@\n+charge()"},
		{Path: "db/migration.sql", Status: "added", Additions: 5, Patch: "@@\n+ALTER TABLE users ADD COLUMN x"},
		{Path: "net/fetch.ts", Status: "modified", Additions: 2, Patch: "@@\n+fetch(url)"},
		{Path: "crypto/sign.ts", Status: "modified", Additions: 2, Patch: "@@\n+hmac(data)"},
		{Path: "security/policy.ts", Status: "modified", Additions: 2, Patch: "@@\n+escape(input)"},
		{Path: "api/users.ts", Status: "modified", Additions: 2, Patch: "@@\n+router.post('/users')"},
		{Path: "worker.ts", Status: "modified", Additions: 2, Patch: "@@\n+queue.push(job)"},
	}
}

func TestAnalyzeDocOnlyDiffIsQuiet(t *testing.T) {
	b := Analyze(docOnlyDiff())
	if b.HighCount != 0 || b.MediumCount != 0 {
		t.Fatalf("doc-only diff: high=%d medium=%d, want 0/0", b.HighCount, b.MediumCount)
	}
	if got := len(b.DetectedCategories()); got != 0 {
		t.Fatalf("doc-only diff detected %d categories", got)
	}
}

func TestAnalyzeHighRiskDiff(t *testing.T) {
	b := Analyze(highRiskDiff())
	if b.HighCount <= manualReviewHighThreshold {
		t.Fatalf("high-risk diff: high=%d, want > %d", b.HighCount, manualReviewHighThreshold)
	}
	for _, cat := range []string{CategoryAuthentication, CategorySecurityBoundaries, CategoryPersistence, CategoryNetworking, CategoryCriticalPath} {
		if !b.Signals[cat].Detected {
			t.Errorf("category %s not detected", cat)
		}
	}
	if len(b.CriticalCategories) == 0 {
		t.Fatal("high-risk diff must populate critical categories")
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	a := Analyze(highRiskDiff())
	b := Analyze(highRiskDiff())
	if a.HighCount != b.HighCount || a.MediumCount != b.MediumCount || a.LowCount != b.LowCount {
		t.Fatal("two runs over the same diff disagree")
	}
}

func TestAnalyzeContentRulesIgnoreContextLines(t *testing.T) {
	// The password mention is a context line, not an addition.
	files := []hosting.DiffFile{
		{Path: "main.go", Status: "modified", Additions: 1, Patch: "@@\n password := old\n+x := 1"},
	}
	b := Analyze(files)
	if b.Signals[CategoryAuthentication].Detected {
		t.Fatal("context line must not fire a content rule")
	}
}

func TestSignalEvidenceBounds(t *testing.T) {
	var files []hosting.DiffFile
	for i := 0; i < 20; i++ {
		files = append(files, hosting.DiffFile{
			Path:      "auth" + string(rune('a'+i)) + ".ts",
			Status:    "modified",
			Additions: 1,
			Patch:     "@@\n+ok",
		})
	}
	b := Analyze(files)
	sig := b.Signals[CategoryAuthentication]
	if len(sig.Locations) > 10 {
		t.Fatalf("locations = %d, want <= 10", len(sig.Locations))
	}
	if len(sig.Examples) > 3 {
		t.Fatalf("examples = %d, want <= 3", len(sig.Examples))
	}
}

func TestGateRules(t *testing.T) {
	tests := []struct {
		name    string
		high    int
		medium  int
		allowed bool
		reason  string
	}{
		{"no signals", 0, 0, false, ReasonSafe},
		{"medium only", 0, 2, true, ReasonAllow},
		{"moderate high", 2, 1, true, ReasonAllow},
		{"boundary five high", 5, 0, true, ReasonAllow},
		{"six high", 6, 0, false, ReasonManualReview},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Gate(Bundle{HighCount: tt.high, MediumCount: tt.medium})
			if d.Allowed != tt.allowed || d.Reason != tt.reason {
				t.Fatalf("Gate(high=%d, medium=%d) = {%v %q}, want {%v %q}",
					tt.high, tt.medium, d.Allowed, d.Reason, tt.allowed, tt.reason)
			}
		})
	}
}

func TestGateEndToEnd(t *testing.T) {
	if d := Gate(Analyze(docOnlyDiff())); d.Allowed || d.Reason != ReasonSafe {
		t.Fatalf("doc-only gate = %+v, want skip safe", d)
	}
	if d := Gate(Analyze(highRiskDiff())); d.Allowed || d.Reason != ReasonManualReview {
		t.Fatalf("high-risk gate = %+v, want manual review", d)
	}
}
