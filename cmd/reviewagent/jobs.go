package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func jobsCmd() *cobra.Command {
	var statusFilter, repoFilter string
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List review jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newDaemonClient()

			jobs, hasMore, err := client.ListJobs(statusFilter, repoFilter, limit)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("No jobs found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Review\tRepo\tPR\tTrigger\tStatus\tVerdict\tEnqueued\n")
			for _, j := range jobs {
				verdict := ""
				if j.Verdict != nil {
					verdict = *j.Verdict
				}
				fmt.Fprintf(w, "%s\t%s/%s\t#%d\t%s\t%s\t%s\t%s\n",
					shortID(j.UUID), j.RepoOwner, j.RepoName, j.PRNumber,
					j.Trigger, j.Status, verdict,
					j.EnqueuedAt.Format(time.RFC3339))
			}
			w.Flush()

			if hasMore {
				fmt.Println("\n(more jobs available; raise --limit to see them)")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "filter by status (queued, running, done, failed, canceled)")
	cmd.Flags().StringVar(&repoFilter, "repo", "", "filter by repository (owner/repo)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum jobs to list")
	return cmd
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <review_id>",
		Short: "Cancel a queued or running review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newDaemonClient()
			if err := client.CancelReview(args[0]); err != nil {
				return err
			}
			fmt.Printf("Canceled review %s\n", args[0])
			return nil
		},
	}
}
