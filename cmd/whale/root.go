package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "whale",
	Short: "Autonomous coding agent runtime",
	Long: `Whale runs tool-calling agent conversations against Anthropic models.

A single run drives one conversation to completion: the model reads and
edits files, runs commands, and loops until the work is done. A team run
materializes a declarative blueprint into a task graph and lets several
workers drain it in parallel, coordinating over a shared mailbox.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(teamCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(versionCmd)
}
