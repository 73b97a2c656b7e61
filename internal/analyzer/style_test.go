package analyzer

import (
	"strings"
	"testing"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/config"
)

func fileWithLines(path string, lines ...string) *FileChange {
	fc := &FileChange{Path: path}
	for i, text := range lines {
		fc.Added = append(fc.Added, Line{Number: i + 1, Text: text})
	}
	return fc
}

func findRule(findings []Finding, ruleID string) *Finding {
	for i := range findings {
		if findings[i].RuleID == ruleID {
			return &findings[i]
		}
	}
	return nil
}

func TestStyleLineLength(t *testing.T) {
	rules := config.DefaultRules()
	fc := fileWithLines("main.go",
		"short line",
		strings.Repeat("x", 150),
	)

	findings := checkStyle(fc, rules)
	f := findRule(findings, "style/line-length")
	if f == nil {
		t.Fatal("expected line-length finding")
	}
	if f.Line != 2 {
		t.Errorf("expected finding on line 2, got %d", f.Line)
	}
	if f.Severity != config.SeverityWarning {
		t.Errorf("expected warning, got %s", f.Severity)
	}

	// Limit 0 disables the check
	rules.MaxLineLength = 0
	if f := findRule(checkStyle(fc, rules), "style/line-length"); f != nil {
		t.Error("expected no finding with limit 0")
	}
}

func TestStyleTrailingWhitespace(t *testing.T) {
	fc := fileWithLines("a.py", "clean", "dirty   ", "\t")
	findings := checkStyle(fc, config.DefaultRules())

	var hits []int
	for _, f := range findings {
		if f.RuleID == "style/trailing-whitespace" {
			hits = append(hits, f.Line)
		}
	}
	// Whitespace-only lines are not flagged
	if len(hits) != 1 || hits[0] != 2 {
		t.Errorf("expected one hit on line 2, got %v", hits)
	}
}

func TestStyleMixedIndentation(t *testing.T) {
	fc := fileWithLines("a.py", "\t    mixed()", "    clean()")
	findings := checkStyle(fc, config.DefaultRules())
	f := findRule(findings, "style/mixed-indentation")
	if f == nil || f.Line != 1 {
		t.Errorf("expected mixed-indentation on line 1, got %+v", f)
	}
}

func TestStyleTodoReference(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"// TODO fix this later", true},
		{"# FIXME", true},
		{"// TODO(#123) tracked", false},
		{"# TODO: see #456", false},
		{"just a normal line", false},
	}
	for _, tt := range tests {
		fc := fileWithLines("a.go", tt.line)
		f := findRule(checkStyle(fc, config.DefaultRules()), "style/todo-no-reference")
		if got := f != nil; got != tt.want {
			t.Errorf("line %q: flagged=%v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestStylePrintDebug(t *testing.T) {
	fc := fileWithLines("a.js", `  console.log("debug")`, `  logger.info("fine")`)
	findings := checkStyle(fc, config.DefaultRules())
	f := findRule(findings, "style/print-debug")
	if f == nil || f.Line != 1 {
		t.Errorf("expected print-debug on line 1, got %+v", f)
	}
}

func TestStyleMissingNewlineEOF(t *testing.T) {
	fc := fileWithLines("a.txt", "last line")
	fc.MissingNewlineEOF = true
	findings := checkStyle(fc, config.DefaultRules())
	if findRule(findings, "style/no-newline-eof") == nil {
		t.Error("expected no-newline-eof finding")
	}
}

func TestStyleRespectsDisabledRules(t *testing.T) {
	rules := config.DefaultRules()
	rules.DisabledRules = []string{"style/trailing-whitespace"}
	fc := fileWithLines("a.go", "dirty   ")
	if f := findRule(checkStyle(fc, rules), "style/trailing-whitespace"); f != nil {
		t.Error("expected disabled rule to be skipped")
	}
}

func TestStyleSeverityOverride(t *testing.T) {
	rules := config.DefaultRules()
	rules.SeverityOverrides = map[string]string{"style/trailing-whitespace": config.SeverityError}
	fc := fileWithLines("a.go", "dirty   ")
	f := findRule(checkStyle(fc, rules), "style/trailing-whitespace")
	if f == nil || f.Severity != config.SeverityError {
		t.Errorf("expected overridden severity error, got %+v", f)
	}
}
