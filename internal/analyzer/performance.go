package analyzer

import (
	"regexp"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/config"
)

var (
	loopOpenPattern    = regexp.MustCompile(`^\s*(for|while)\b`)
	leadingWhitespace  = regexp.MustCompile(`^\s+`)
	stringConcatInLoop = regexp.MustCompile(`\w+\s*\+=\s*.*["']|\w+\s*=\s*\w+\s*\+\s*["']`)
	queryInLoop        = regexp.MustCompile(`(?i)\.(query|execute|fetch)(row|one|all|context)?\s*\(|(?i)\b(find_by|fetch_from)\w*\s*\(`)
	regexCompileInLoop = regexp.MustCompile(`(re\.compile\(|regexp\.(MustCompile|Compile)\(|new RegExp\(|Pattern\.compile\()`)
)

// indentWidth counts leading whitespace, tabs as 4.
func indentWidth(s string) int {
	w := 0
	for _, r := range s {
		switch r {
		case ' ':
			w++
		case '\t':
			w += 4
		default:
			return w
		}
	}
	return w
}

// checkPerformance runs loop-sensitive performance rules. Loop bodies are
// approximated by indentation: lines indented deeper than a loop opener
// count as inside it. Good enough across Python, Go, JS and Java diffs,
// and only added lines are considered so false positives stay local.
func checkPerformance(fc *FileChange, rules *config.Rules) []Finding {
	var findings []Finding

	// Stack of loop-opener indents currently in scope
	var loops []int

	prevLineNo := -10
	for _, line := range fc.Added {
		// A gap between hunks resets loop context
		if line.Number != prevLineNo+1 {
			loops = loops[:0]
		}
		prevLineNo = line.Number

		indent := indentWidth(line.Text)
		trimmed := leadingWhitespace.ReplaceAllString(line.Text, "")
		if trimmed == "" || trimmed == "}" {
			continue
		}

		// Pop loops this line is no longer inside of
		for len(loops) > 0 && indent <= loops[len(loops)-1] {
			loops = loops[:len(loops)-1]
		}

		inLoop := len(loops) > 0
		if inLoop {
			if stringConcatInLoop.MatchString(line.Text) {
				findings = emit(findings, rules, Finding{
					RuleID:     "performance/string-concat-loop",
					Category:   CategoryPerformance,
					Severity:   config.SeverityWarning,
					File:       fc.Path,
					Line:       line.Number,
					Message:    "string concatenation inside a loop",
					Suggestion: "collect parts and join once, or use a builder",
				})
			}
			if queryInLoop.MatchString(line.Text) {
				findings = emit(findings, rules, Finding{
					RuleID:     "performance/query-in-loop",
					Category:   CategoryPerformance,
					Severity:   config.SeverityWarning,
					File:       fc.Path,
					Line:       line.Number,
					Message:    "possible N+1 query inside a loop",
					Suggestion: "batch the lookup outside the loop",
				})
			}
			if regexCompileInLoop.MatchString(line.Text) {
				findings = emit(findings, rules, Finding{
					RuleID:     "performance/regex-compile-loop",
					Category:   CategoryPerformance,
					Severity:   config.SeverityWarning,
					File:       fc.Path,
					Line:       line.Number,
					Message:    "regex compiled inside a loop",
					Suggestion: "compile the pattern once outside the loop",
				})
			}
		}

		if loopOpenPattern.MatchString(line.Text) {
			if inLoop {
				findings = emit(findings, rules, Finding{
					RuleID:   "performance/nested-loop",
					Category: CategoryPerformance,
					Severity: config.SeverityInfo,
					File:     fc.Path,
					Line:     line.Number,
					Message:  "nested loop; check the iteration cost",
				})
			}
			loops = append(loops, indent)
		}
	}

	return findings
}
