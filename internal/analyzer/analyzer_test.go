package analyzer

import (
	"context"
	"strings"
	"testing"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/config"
)

const reviewDiff = `diff --git a/auth.py b/auth.py
--- a/auth.py
+++ b/auth.py
@@ -1,2 +1,4 @@
 import os
+password = "supersecret99"
+digest = hashlib.md5(data).hexdigest()
 connect()
diff --git a/loop.py b/loop.py
--- a/loop.py
+++ b/loop.py
@@ -1,1 +1,3 @@
 setup()
+for item in items:
+    report += item + ","
`

func TestAnalyzeEndToEnd(t *testing.T) {
	a := New(config.DefaultRules())

	result, err := a.Analyze(context.Background(), reviewDiff)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.FilesAnalyzed != 2 {
		t.Errorf("expected 2 files analyzed, got %d", result.FilesAnalyzed)
	}

	if findRule(result.Findings, "security/hardcoded-secret") == nil {
		t.Error("expected hardcoded-secret finding")
	}
	if findRule(result.Findings, "security/weak-hash") == nil {
		t.Error("expected weak-hash finding")
	}
	if findRule(result.Findings, "performance/string-concat-loop") == nil {
		t.Error("expected string-concat-loop finding")
	}

	// Findings sorted by file then line
	for i := 1; i < len(result.Findings); i++ {
		prev, cur := result.Findings[i-1], result.Findings[i]
		if prev.File > cur.File || (prev.File == cur.File && prev.Line > cur.Line) {
			t.Errorf("findings out of order: %+v before %+v", prev, cur)
		}
	}

	if DeriveVerdict(result.Findings) != VerdictRequestChanges {
		t.Error("expected request_changes for error findings")
	}
}

func TestAnalyzeRespectsCategoryToggle(t *testing.T) {
	rules := config.DefaultRules()
	rules.Security.Enabled = false
	a := New(rules)

	result, err := a.Analyze(context.Background(), reviewDiff)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	for _, f := range result.Findings {
		if f.Category == CategorySecurity {
			t.Errorf("security disabled but found %+v", f)
		}
	}
}

func TestAnalyzeRespectsExcludePaths(t *testing.T) {
	rules := config.DefaultRules()
	rules.ExcludePaths = []string{"*.py"}
	a := New(rules)

	result, err := a.Analyze(context.Background(), reviewDiff)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.FilesAnalyzed != 0 {
		t.Errorf("expected all files excluded, got %d analyzed", result.FilesAnalyzed)
	}
	if len(result.Findings) != 0 {
		t.Errorf("expected no findings, got %+v", result.Findings)
	}
}

func TestAnalyzeNilRulesDefaults(t *testing.T) {
	a := New(nil)
	if _, err := a.Analyze(context.Background(), reviewDiff); err != nil {
		t.Fatalf("Analyze with default rules: %v", err)
	}
}

func TestAnalyzeCollectsDependencies(t *testing.T) {
	diff := `diff --git a/app.py b/app.py
--- a/app.py
+++ b/app.py
@@ -0,0 +1,2 @@
+import requests
+from utils import helper
`
	a := New(config.DefaultRules())
	result, err := a.Analyze(context.Background(), diff)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(result.Dependencies) != 2 {
		t.Fatalf("expected 2 dependency edges, got %d", len(result.Dependencies))
	}
	var targets []string
	for _, e := range result.Dependencies {
		targets = append(targets, e.Target)
	}
	if joined := strings.Join(targets, ","); joined != "requests,utils" {
		t.Errorf("unexpected targets: %s", joined)
	}
}
