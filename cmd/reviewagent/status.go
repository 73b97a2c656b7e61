package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [review_id]",
		Short: "Show daemon status, or the state of one review",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newDaemonClient()

			if len(args) == 1 {
				return printReviewStatus(client, args[0])
			}

			status, err := client.DaemonStatus()
			if err != nil {
				fmt.Println("Daemon: not running")
				fmt.Println()
				fmt.Println("Start with: reviewagentd")
				return nil
			}

			health, healthErr := client.Health()

			daemonLine := "Daemon: running"
			if healthErr == nil && health.Uptime != "" {
				daemonLine += fmt.Sprintf(" (uptime: %s)", health.Uptime)
			}
			if status.Version != "" {
				daemonLine += fmt.Sprintf(" [%s]", status.Version)
			}
			fmt.Println(daemonLine)
			fmt.Printf("Workers: %d/%d active\n", status.ActiveWorkers, status.MaxWorkers)
			fmt.Printf("Jobs:    %d queued, %d running, %d completed, %d failed, %d canceled\n",
				status.QueuedJobs, status.RunningJobs, status.CompletedJobs,
				status.FailedJobs, status.CanceledJobs)
			fmt.Println()

			if healthErr == nil {
				if health.Status == "ok" {
					fmt.Println("Health: OK")
				} else {
					fmt.Printf("Health: %s\n", health.Status)
				}
				for _, comp := range health.Components {
					checkmark := "+"
					if comp.Status != "ok" {
						checkmark = "!"
					}
					if comp.Detail != "" {
						fmt.Printf("  %s %s: %s\n", checkmark, comp.Name, comp.Detail)
					} else {
						fmt.Printf("  %s %s: healthy\n", checkmark, comp.Name)
					}
				}
				fmt.Println()
			}

			jobs, _, err := client.ListJobs("", "", 10)
			if err != nil || len(jobs) == 0 {
				return nil
			}

			fmt.Println("Recent Jobs:")
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "  Review\tRepo\tPR\tStatus\tTime\n")
			for _, j := range jobs {
				elapsed := ""
				if j.StartedAt != nil {
					if j.FinishedAt != nil {
						elapsed = j.FinishedAt.Sub(*j.StartedAt).Round(time.Second).String()
					} else {
						elapsed = time.Since(*j.StartedAt).Round(time.Second).String() + "..."
					}
				}
				fmt.Fprintf(w, "  %s\t%s/%s\t#%d\t%s\t%s\n",
					shortID(j.UUID), j.RepoOwner, j.RepoName, j.PRNumber, j.Status, elapsed)
			}
			w.Flush()
			return nil
		},
	}
}

func printReviewStatus(client daemonAPI, reviewID string) error {
	status, err := client.GetStatus(reviewID)
	if err != nil {
		return err
	}

	fmt.Printf("Review:     %s\n", status.ReviewID)
	fmt.Printf("Repository: %s (PR #%d)\n", status.Repository, status.PRNumber)
	fmt.Printf("Status:     %s\n", status.Status)
	if status.HeadSHA != "" {
		fmt.Printf("Head:       %s\n", status.HeadSHA)
	}
	fmt.Printf("Trigger:    %s\n", status.Trigger)
	fmt.Printf("Enqueued:   %s\n", status.EnqueuedAt.Format(time.RFC3339))
	if status.StartedAt != nil {
		fmt.Printf("Started:    %s\n", status.StartedAt.Format(time.RFC3339))
	}
	if status.FinishedAt != nil {
		fmt.Printf("Finished:   %s\n", status.FinishedAt.Format(time.RFC3339))
	}
	if status.RetryCount > 0 {
		fmt.Printf("Retries:    %d\n", status.RetryCount)
	}
	if status.Error != "" {
		fmt.Printf("Error:      %s\n", status.Error)
	}
	if status.Review != nil {
		fmt.Printf("Verdict:    %s\n", status.Review.Verdict)
		fmt.Printf("Summary:    %s\n", status.Review.Summary)
		fmt.Printf("\nFull report: reviewagent show %s\n", status.ReviewID)
	}
	return nil
}

// shortID abbreviates a review UUID for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
