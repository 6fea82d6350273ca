// Package commands wires the authrelay CLI: the gateway and backend
// servers plus the operator-facing rotation subcommands.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// BuildInfo carries the link-time version stamps.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// NewRootCmd assembles the command tree.
func NewRootCmd(info BuildInfo) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "authrelay",
		Short: "Authentication-translation gateway for legacy vendor credentials",
		Long: `authrelay sits between vendors speaking the legacy client-id and
client-secret header contract and an internal fabric that only accepts
signed short-lived tokens. It authenticates against a secret store,
mints and caches tokens, and rotates client credentials without
downtime.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.Commit, info.Date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "authrelay.yaml", "Config file path")

	rootCmd.AddCommand(
		NewGatewayCmd(&configFile),
		NewBackendCmd(&configFile),
		NewRotationCmd(&configFile),
	)
	return rootCmd
}
