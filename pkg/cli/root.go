// Package cli provides the perturbd CLI commands.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// BuildInfo carries build-time version metadata set via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var buildInfo = BuildInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

var rootCmd = &cobra.Command{
	Use:   "perturbd",
	Short: "Configurable mock HTTP server with chaos injection and record/replay",
	Long: `perturbd serves configurable mock HTTP APIs for client resilience
testing: CRUD resources with seed data, static and templated endpoints,
artificial latency and failure injection, and NDJSON record/replay of
real traffic.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("perturbd %s (commit %s, built %s)\n",
			buildInfo.Version, buildInfo.Commit, buildInfo.BuildDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute(info BuildInfo) error {
	if info.Version != "" {
		buildInfo = info
	}
	return rootCmd.Execute()
}
