// Coachd is the health coaching backend: it runs the onboarding, daily
// check, intervention and resolution review workflows, serves the chat API
// and sweeps for resolutions at risk of abandonment.
//
// Usage:
//
//	# Start the HTTP server (and the monitor when monitor.enabled is set)
//	coachd serve
//
//	# Run one workflow and print the result
//	coachd run onboarding --user u1 --resolution "run a 5k"
//
//	# Run one monitor sweep
//	coachd sweep
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag shared by every command.
var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "coachd",
		Short: "Multi-agent health coaching backend",
		Long: `coachd runs a team of coaching agents that debate and agree on plans for
each user, checks in with them every day and steps in when a resolution is
slipping.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/coachd/config.yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newSweepCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "coachd by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
