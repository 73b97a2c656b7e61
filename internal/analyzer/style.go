package analyzer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/config"
)

var (
	todoPattern    = regexp.MustCompile(`(?i)\b(TODO|FIXME|XXX)\b`)
	todoRefPattern = regexp.MustCompile(`(?i)\b(?:TODO|FIXME|XXX)\b.*(?:\(#?\w+\)|#\d+)`)
	printDebugRules = []*regexp.Regexp{
		regexp.MustCompile(`^\s*fmt\.Print(ln|f)?\(`),
		regexp.MustCompile(`^\s*console\.(log|debug)\(`),
		regexp.MustCompile(`^\s*print\(`),
		regexp.MustCompile(`^\s*System\.out\.print`),
	}
	mixedIndentPattern = regexp.MustCompile(`^( +\t|\t+ )`)
)

// checkStyle runs the style rules over the added lines of one file.
func checkStyle(fc *FileChange, rules *config.Rules) []Finding {
	var findings []Finding

	for _, line := range fc.Added {
		if rules.MaxLineLength > 0 && len(line.Text) > rules.MaxLineLength {
			findings = emit(findings, rules, Finding{
				RuleID:     "style/line-length",
				Category:   CategoryStyle,
				Severity:   config.SeverityWarning,
				File:       fc.Path,
				Line:       line.Number,
				Message:    fmt.Sprintf("line is %d characters, limit is %d", len(line.Text), rules.MaxLineLength),
				Suggestion: "break the line up or extract a variable",
			})
		}

		if trimmed := strings.TrimRight(line.Text, " \t"); trimmed != line.Text && trimmed != "" {
			findings = emit(findings, rules, Finding{
				RuleID:   "style/trailing-whitespace",
				Category: CategoryStyle,
				Severity: config.SeverityInfo,
				File:     fc.Path,
				Line:     line.Number,
				Message:  "trailing whitespace",
			})
		}

		if mixedIndentPattern.MatchString(line.Text) {
			findings = emit(findings, rules, Finding{
				RuleID:   "style/mixed-indentation",
				Category: CategoryStyle,
				Severity: config.SeverityWarning,
				File:     fc.Path,
				Line:     line.Number,
				Message:  "indentation mixes tabs and spaces",
			})
		}

		if hasUnreferencedTodo(line.Text) {
			findings = emit(findings, rules, Finding{
				RuleID:     "style/todo-no-reference",
				Category:   CategoryStyle,
				Severity:   config.SeverityInfo,
				File:       fc.Path,
				Line:       line.Number,
				Message:    "TODO/FIXME without an issue reference",
				Suggestion: "link the TODO to an issue, e.g. TODO(#123)",
			})
		}

		for _, re := range printDebugRules {
			if re.MatchString(line.Text) {
				findings = emit(findings, rules, Finding{
					RuleID:   "style/print-debug",
					Category: CategoryStyle,
					Severity: config.SeverityInfo,
					File:     fc.Path,
					Line:     line.Number,
					Message:  "possible leftover debug print",
				})
				break
			}
		}
	}

	if fc.MissingNewlineEOF && len(fc.Added) > 0 {
		findings = emit(findings, rules, Finding{
			RuleID:   "style/no-newline-eof",
			Category: CategoryStyle,
			Severity: config.SeverityInfo,
			File:     fc.Path,
			Line:     fc.Added[len(fc.Added)-1].Number,
			Message:  "file does not end with a newline",
		})
	}

	return findings
}

// hasUnreferencedTodo reports a TODO/FIXME marker without an issue link.
func hasUnreferencedTodo(text string) bool {
	if !todoPattern.MatchString(text) {
		return false
	}
	return !todoRefPattern.MatchString(text)
}
