package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show reviewagent version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("reviewagent %s\n", version.Version)
		},
	}
}
