// Package cli implements the pulsectl command-line interface: one-shot
// operational commands against the same state store and upstream sources
// the worker uses.
package cli

import (
	"github.com/spf13/cobra"
)

// sourcesPath overrides the sources file from PULSE_SOURCES_FILE when set.
var sourcesPath string

// rootCmd is the base command for pulsectl.
var rootCmd = &cobra.Command{
	Use:   "pulsectl",
	Short: "Operate the pulseboard fetch pipeline",
	Long: `pulsectl runs one-shot operations against the pulseboard pipeline:
probing upstream sources, fetching on demand, and inspecting or resetting
the durable circuit and cache state shared with the worker.

State backend, credentials, and retry behavior come from the same
environment variables the worker reads.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sourcesPath, "sources", "", "Path to the sources file (default: PULSE_SOURCES_FILE)")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(circuitCmd)
	rootCmd.AddCommand(cacheCmd)

	circuitCmd.AddCommand(circuitListCmd)
	circuitCmd.AddCommand(circuitResetCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe every configured source",
	Long: `Probe the health endpoint of every configured source.

Probes are advisory GET requests with a short timeout. A source passes
when it answers with any status below 500. Exits non-zero if any probe
fails.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunHealth(cmd.Context())
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [source...]",
	Short: "Fetch sources once and write artifacts",
	Long: `Run the fetch pipeline once for the named sources (all configured
sources when none are given) and render the results as artifacts.

Each fetch goes through the full resilience chain: circuit breaker,
retries, response cache, and fallback. Exits non-zero if any source
ends up unavailable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunFetch(cmd.Context(), args)
	},
}

var circuitCmd = &cobra.Command{
	Use:   "circuit",
	Short: "Inspect and reset circuit breakers",
}

var circuitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded circuit states",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunCircuitList(cmd.Context())
	},
}

var circuitResetCmd = &cobra.Command{
	Use:   "reset <endpoint>",
	Short: "Force a circuit back to closed",
	Long: `Force the circuit for an endpoint back to closed, clearing its
failure count. Use after a known upstream outage has been resolved and
waiting out the recovery timeout is not acceptable.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunCircuitReset(cmd.Context(), args[0])
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage cached upstream responses",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge <endpoint>",
	Short: "Drop cached responses for an endpoint",
	Long: `Drop every cached response recorded for an endpoint.

The next fetch will go to the upstream regardless of remaining TTL.
Fallback copies are kept, so a purge never reduces what can be served
during an outage.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunCachePurge(cmd.Context(), args[0])
	},
}
