// Package main is the entry point for the telebridge CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"telebridge/internal/logging"
)

// Set by release ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		logging.Error("command failed", logging.Fields{"event": "command_failed", "error": err})
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "telebridge",
		Short:         "Track Telegram groups managed by a bot and mint invite links",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		versionCmd(),
		serveCmd(),
		configCmd(),
		exportCmd(),
		importCmd(),
		groupsCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "telebridge %s (commit: %s)\n", version, commit)
		},
	}
}
