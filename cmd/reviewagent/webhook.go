package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func webhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage outbound event webhooks",
		Long: `Manage outbound webhooks.

The daemon POSTs review lifecycle events (review.started,
review.completed, review.failed, review.canceled) to registered URLs,
signed with the webhook's secret when one is set.`,
	}

	cmd.AddCommand(webhookAddCmd())
	cmd.AddCommand(webhookListCmd())
	cmd.AddCommand(webhookRemoveCmd())

	return cmd
}

func webhookAddCmd() *cobra.Command {
	var secret string
	var events []string

	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Register an outbound webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newDaemonClient()
			hook, err := client.RegisterWebhook(args[0], secret, events)
			if err != nil {
				return err
			}
			fmt.Printf("Registered webhook %d for %s (events: %s)\n", hook.ID, hook.URL, hook.Events)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret for signing deliveries")
	cmd.Flags().StringArrayVar(&events, "event", nil, "event type to subscribe to (repeatable; default all)")
	return cmd
}

func webhookListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newDaemonClient()
			hooks, err := client.ListWebhooks()
			if err != nil {
				return err
			}
			if len(hooks) == 0 {
				fmt.Println("No webhooks registered")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID\tURL\tEvents\tCreated\n")
			for _, h := range hooks {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", h.ID, h.URL, h.Events, h.CreatedAt.Format(time.RFC3339))
			}
			w.Flush()
			return nil
		},
	}
}

func webhookRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a webhook registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid webhook ID %q", args[0])
			}

			client := newDaemonClient()
			if err := client.DeleteWebhook(id); err != nil {
				return err
			}
			fmt.Printf("Removed webhook %d\n", id)
			return nil
		},
	}
}
