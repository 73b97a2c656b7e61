package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/config"
	"github.com/Roxonn-FutureTech/github-review-agent/internal/github"
)

func prCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "pr <owner/repo> <pr_number>",
		Short: "Show a pull request's summary and changed files",
		Long: `Show a pull request's title, state and changed files.

Talks to GitHub directly, not to the daemon. Uses the token from the
daemon config (github.token) or $GITHUB_TOKEN.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo := args[0]
			parts := strings.SplitN(repo, "/", 2)
			if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
				return fmt.Errorf("repository must be in owner/repo form, got %q", repo)
			}
			prNumber, err := strconv.Atoi(args[1])
			if err != nil || prNumber <= 0 {
				return fmt.Errorf("invalid PR number %q", args[1])
			}

			client, err := newGitHubClient()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pr, err := client.GetPullRequest(ctx, parts[0], parts[1], prNumber)
			if err != nil {
				return err
			}
			files, err := client.ListChangedFiles(ctx, parts[0], parts[1], prNumber)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					PullRequest *github.PullRequest  `json:"pull_request"`
					Files       []github.ChangedFile `json:"files"`
				}{pr, files})
			}

			fmt.Fprint(cmd.OutOrStdout(), prSummary(repo, pr, files))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

// newGitHubClient builds a direct GitHub client from the daemon config,
// falling back to $GITHUB_TOKEN.
func newGitHubClient() (*github.Client, error) {
	var token, baseURL string
	if cfg, err := config.LoadGlobal(); err == nil {
		token = cfg.GitHub.Token
		baseURL = cfg.GitHub.BaseURL
	}
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("no GitHub token: set github.token with 'reviewagent config local set' or export GITHUB_TOKEN")
	}
	return github.NewClient(token, baseURL)
}

func prSummary(repo string, pr *github.PullRequest, files []github.ChangedFile) string {
	var b strings.Builder

	state := pr.State
	if pr.Merged {
		state = "merged"
	}
	additions, deletions := 0, 0
	for _, f := range files {
		additions += f.Additions
		deletions += f.Deletions
	}

	fmt.Fprintf(&b, "%s#%d: %s\n", repo, pr.Number, pr.Title)
	fmt.Fprintf(&b, "Author:  %s\n", pr.Author)
	fmt.Fprintf(&b, "State:   %s\n", state)
	fmt.Fprintf(&b, "Head:    %s\n", shortID(pr.HeadSHA))
	fmt.Fprintf(&b, "Base:    %s\n", pr.BaseBranch)
	fmt.Fprintf(&b, "Files:   %d changed (+%d -%d)\n", len(files), additions, deletions)

	if len(files) > 0 {
		b.WriteString("\n")
		w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
		for _, f := range files {
			fmt.Fprintf(w, "  %s\t%s\t+%d\t-%d\n", statusLetter(f.Status), f.Path, f.Additions, f.Deletions)
		}
		w.Flush()
	}
	return b.String()
}

func statusLetter(status string) string {
	switch status {
	case "added":
		return "A"
	case "removed":
		return "D"
	case "renamed":
		return "R"
	case "modified":
		return "M"
	default:
		return "?"
	}
}
