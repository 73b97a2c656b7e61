package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/daemon"
	"github.com/Roxonn-FutureTech/github-review-agent/internal/storage"
)

// daemonAPI is the subset of daemon.Client the status helpers need.
type daemonAPI interface {
	GetStatus(reviewID string) (*daemon.StatusResponse, error)
}

var verdictStyles = map[string]lipgloss.Style{
	storage.VerdictApprove:        lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "42"}),
	storage.VerdictComment:        lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "130", Dark: "214"}),
	storage.VerdictRequestChanges: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "124", Dark: "203"}),
}

func renderVerdict(verdict string) string {
	label := strings.ReplaceAll(verdict, "_", " ")
	if style, ok := verdictStyles[verdict]; ok {
		return style.Render(label)
	}
	return label
}

// reviewMarkdown builds the report body shown in the terminal. Same
// structure as the PR comment: summary first, findings grouped by file.
func reviewMarkdown(review *storage.Review) string {
	var b strings.Builder
	b.WriteString(review.Summary)
	b.WriteString("\n")

	if len(review.Findings) == 0 {
		return b.String()
	}

	byFile := map[string][]storage.Finding{}
	for _, f := range review.Findings {
		byFile[f.File] = append(byFile[f.File], f)
	}
	files := make([]string, 0, len(byFile))
	for file := range byFile {
		files = append(files, file)
	}
	sort.Strings(files)

	for _, file := range files {
		b.WriteString(fmt.Sprintf("\n### %s\n\n", file))
		for _, f := range byFile[file] {
			location := ""
			if f.Line > 0 {
				location = fmt.Sprintf(" (line %d)", f.Line)
			}
			b.WriteString(fmt.Sprintf("- **%s**%s `%s`: %s\n", f.Severity, location, f.RuleID, f.Message))
			if f.Suggestion != "" {
				b.WriteString(fmt.Sprintf("  - Suggestion: %s\n", f.Suggestion))
			}
		}
	}
	return b.String()
}

// printReview renders a finished review to the command's stdout,
// falling back to plain markdown when terminal rendering fails.
func printReview(cmd *cobra.Command, repo string, prNumber int, review *storage.Review) error {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Review for %s #%d: %s\n", repo, prNumber, renderVerdict(review.Verdict))
	fmt.Fprintf(out, "%d finding(s) across %d analyzed file(s)\n", len(review.Findings), review.FilesAnalyzed)
	fmt.Fprintln(out, strings.Repeat("-", 60))

	body := reviewMarkdown(review)
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Fprintln(out, body)
		return nil
	}
	rendered, err := r.Render(body)
	if err != nil {
		fmt.Fprintln(out, body)
		return nil
	}
	fmt.Fprint(out, rendered)
	return nil
}
