package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/daemon"
)

var (
	serverAddr string
	apiToken   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "reviewagent",
		Short: "Automated code review for GitHub pull requests",
		Long:  "reviewagent reviews GitHub pull requests for style, security and performance issues and posts the results back to the PR.",
	}

	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://127.0.0.1:7474", "daemon server address")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "API token (defaults to $REVIEWAGENT_API_TOKEN)")

	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(prCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(streamCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(webhookCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newDaemonClient builds an API client from the persistent flags.
func newDaemonClient() *daemon.Client {
	token := apiToken
	if token == "" {
		token = os.Getenv("REVIEWAGENT_API_TOKEN")
	}
	return daemon.NewClient(serverAddr, token)
}
