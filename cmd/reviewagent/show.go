package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func showCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <review_id>",
		Short: "Show the report for a finished review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newDaemonClient()

			status, err := client.GetStatus(args[0])
			if err != nil {
				return err
			}
			if status.Review == nil {
				return fmt.Errorf("review %s has no report yet (status: %s)", args[0], status.Status)
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(status.Review)
			}
			return printReview(cmd, status.Repository, status.PRNumber, status.Review)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}
