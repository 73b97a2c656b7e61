package analyzer

import (
	"fmt"
	"strings"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/config"
)

// Verdicts, ordered from best to worst.
const (
	VerdictApprove        = "approve"
	VerdictComment        = "comment"
	VerdictRequestChanges = "request_changes"
)

// DeriveVerdict maps the worst finding severity to a review verdict:
// any error requests changes, any warning comments, clean approves.
func DeriveVerdict(findings []Finding) string {
	verdict := VerdictApprove
	for _, f := range findings {
		switch f.Severity {
		case config.SeverityError:
			return VerdictRequestChanges
		case config.SeverityWarning:
			verdict = VerdictComment
		}
	}
	return verdict
}

// Summarize produces the one-line review summary.
func Summarize(result *Result) string {
	if len(result.Findings) == 0 {
		return fmt.Sprintf("No issues found in %d analyzed file(s).", result.FilesAnalyzed)
	}
	errors, warnings, infos := countBySeverity(result.Findings)
	parts := []string{}
	if errors > 0 {
		parts = append(parts, fmt.Sprintf("%d error(s)", errors))
	}
	if warnings > 0 {
		parts = append(parts, fmt.Sprintf("%d warning(s)", warnings))
	}
	if infos > 0 {
		parts = append(parts, fmt.Sprintf("%d note(s)", infos))
	}
	return fmt.Sprintf("%s across %d analyzed file(s).", strings.Join(parts, ", "), result.FilesAnalyzed)
}

func countBySeverity(findings []Finding) (errors, warnings, infos int) {
	for _, f := range findings {
		switch f.Severity {
		case config.SeverityError:
			errors++
		case config.SeverityWarning:
			warnings++
		default:
			infos++
		}
	}
	return
}

func severityMarker(severity string) string {
	switch severity {
	case config.SeverityError:
		return "🔴"
	case config.SeverityWarning:
		return "🟡"
	default:
		return "ℹ️"
	}
}

func verdictHeading(verdict string) string {
	switch verdict {
	case VerdictRequestChanges:
		return "❌ Changes requested"
	case VerdictComment:
		return "💬 Review comments"
	default:
		return "✅ Looks good"
	}
}

// BuildComment renders the Markdown comment posted to the pull request:
// verdict heading, summary line, then findings grouped by file.
func BuildComment(repo string, prNumber int, result *Result) string {
	verdict := DeriveVerdict(result.Findings)

	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n\n", verdictHeading(verdict))
	fmt.Fprintf(&sb, "Automated review of %s#%d: %s\n", repo, prNumber, Summarize(result))

	if len(result.Findings) > 0 {
		// Findings arrive sorted by file then line
		currentFile := ""
		for _, f := range result.Findings {
			if f.File != currentFile {
				currentFile = f.File
				fmt.Fprintf(&sb, "\n### `%s`\n\n", currentFile)
			}
			if f.Line > 0 {
				fmt.Fprintf(&sb, "- %s **L%d** [%s] %s", severityMarker(f.Severity), f.Line, f.RuleID, f.Message)
			} else {
				fmt.Fprintf(&sb, "- %s [%s] %s", severityMarker(f.Severity), f.RuleID, f.Message)
			}
			if f.Suggestion != "" {
				fmt.Fprintf(&sb, " (%s)", f.Suggestion)
			}
			sb.WriteString("\n")
		}
	}

	if len(result.Patterns) > 0 {
		sb.WriteString("\n<details><summary>Recurring patterns</summary>\n\n")
		for _, p := range result.Patterns {
			fmt.Fprintf(&sb, "- %s (seen %d times)\n", p.Type, p.Frequency)
		}
		sb.WriteString("\n</details>\n")
	}

	return sb.String()
}
