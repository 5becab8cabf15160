package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	verbose    bool
	jsonOutput bool
	version    string
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	g := &globalOptions{version: version}

	rootCmd := &cobra.Command{
		Use:   "tracklane",
		Short: "tracklane - profile-centric event orchestration",
		Long: `tracklane routes incoming events through the workflows bound to them by rules,
keeps visitor profiles segmented and merges duplicate profiles.

Features:
  - Rules matched by event type and source, cached with a TTL
  - Concurrent workflow execution with per-rule error isolation
  - Segment conditions in Starlark or Rego
  - Identity merging on configurable keys
  - Per-rule debug records`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file path (.cue, .yaml or .json)")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&g.jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newMigrateCommand(g))
	rootCmd.AddCommand(newLoadCommand(g))
	rootCmd.AddCommand(newDispatchCommand(g))
	rootCmd.AddCommand(newRaiseCommand(g))
	rootCmd.AddCommand(newWatchCommand(g))
	rootCmd.AddCommand(newProfileCommand(g))
	rootCmd.AddCommand(newDebugCommand(g))

	return rootCmd
}
