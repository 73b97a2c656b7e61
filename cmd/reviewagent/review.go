package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func reviewCmd() *cobra.Command {
	var headSHA string
	var wait bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "review <owner/repo> <pr_number>",
		Short: "Request a review of a pull request",
		Long: `Request a review of a pull request.

The daemon fetches the PR diff, analyzes it, and posts the findings
back to the PR as a comment and commit status.

Examples:
  reviewagent review acme/widgets 42          # Enqueue and return
  reviewagent review acme/widgets 42 --wait   # Block until the review finishes`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo := args[0]
			if !strings.Contains(repo, "/") {
				return fmt.Errorf("repository must be in owner/repo form, got %q", repo)
			}
			prNumber, err := strconv.Atoi(args[1])
			if err != nil || prNumber <= 0 {
				return fmt.Errorf("invalid PR number %q", args[1])
			}

			client := newDaemonClient()
			job, err := client.EnqueueReview(repo, prNumber, headSHA)
			if err != nil {
				return err
			}

			if !wait {
				if jsonOutput {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(job)
				}
				fmt.Printf("Review queued: %s\n", job.UUID)
				fmt.Printf("Check progress with: reviewagent status %s\n", job.UUID)
				return nil
			}

			fmt.Printf("Review queued: %s (waiting...)\n", job.UUID)
			status, err := client.WaitForReview(job.UUID)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}
			if status.Review == nil {
				fmt.Println("Review finished with no report")
				return nil
			}
			return printReview(cmd, status.Repository, status.PRNumber, status.Review)
		},
	}

	cmd.Flags().StringVar(&headSHA, "sha", "", "head commit SHA to review (defaults to the PR's current head)")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the review to finish and print the report")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
