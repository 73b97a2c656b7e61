package analyzer

import (
	"strings"
	"testing"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/config"
)

func TestDeriveVerdict(t *testing.T) {
	tests := []struct {
		name     string
		findings []Finding
		want     string
	}{
		{"clean", nil, VerdictApprove},
		{"info only", []Finding{{Severity: config.SeverityInfo}}, VerdictApprove},
		{"warning", []Finding{{Severity: config.SeverityWarning}}, VerdictComment},
		{"error wins", []Finding{
			{Severity: config.SeverityWarning},
			{Severity: config.SeverityError},
		}, VerdictRequestChanges},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveVerdict(tt.findings); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	clean := &Result{FilesAnalyzed: 3}
	if s := Summarize(clean); !strings.Contains(s, "No issues") {
		t.Errorf("unexpected clean summary: %s", s)
	}

	dirty := &Result{
		FilesAnalyzed: 2,
		Findings: []Finding{
			{Severity: config.SeverityError},
			{Severity: config.SeverityWarning},
			{Severity: config.SeverityWarning},
			{Severity: config.SeverityInfo},
		},
	}
	s := Summarize(dirty)
	for _, want := range []string{"1 error(s)", "2 warning(s)", "1 note(s)", "2 analyzed file(s)"} {
		if !strings.Contains(s, want) {
			t.Errorf("summary %q missing %q", s, want)
		}
	}
}

func TestBuildComment(t *testing.T) {
	result := &Result{
		FilesAnalyzed: 2,
		Findings: []Finding{
			{RuleID: "security/hardcoded-secret", Severity: config.SeverityError, File: "auth.py", Line: 3, Message: "possible hardcoded credential", Suggestion: "load secrets from the environment"},
			{RuleID: "style/line-length", Severity: config.SeverityWarning, File: "main.py", Line: 10, Message: "line is 140 characters, limit is 120"},
		},
		Patterns: []Pattern{{Type: "error_handling", Frequency: 3}},
	}

	comment := BuildComment("acme/widgets", 42, result)

	if !strings.Contains(comment, "Changes requested") {
		t.Error("expected request_changes heading")
	}
	if !strings.Contains(comment, "acme/widgets#42") {
		t.Error("expected repo and PR number")
	}
	if !strings.Contains(comment, "### `auth.py`") || !strings.Contains(comment, "### `main.py`") {
		t.Error("expected per-file sections")
	}
	if !strings.Contains(comment, "L3") || !strings.Contains(comment, "security/hardcoded-secret") {
		t.Error("expected finding line and rule id")
	}
	if !strings.Contains(comment, "error_handling (seen 3 times)") {
		t.Error("expected pattern section")
	}
}

func TestBuildCommentClean(t *testing.T) {
	comment := BuildComment("acme/widgets", 7, &Result{FilesAnalyzed: 1})
	if !strings.Contains(comment, "Looks good") {
		t.Errorf("expected approve heading, got %s", comment)
	}
	if strings.Contains(comment, "###") {
		t.Error("clean review should have no file sections")
	}
}
