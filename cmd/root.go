// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/v2xtrx/internal/daemon"
)

// configFile is the global -c/--config flag. Empty means built-in defaults.
var configFile string

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "v2xtrx",
		Short: "v2xtrx - V2X message transmit/receive pipeline",
		Long: `v2xtrx periodically transmits a (optionally signed) V2X message over a
link-layer transport and receives, filters and verifies the messages of its peers.

Modes:
  trx       transmit and receive over the configured transport
  rx        receive only
  loopback  feed transmitted frames straight into the receive path`,
		Version:       daemon.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (default: built-in defaults)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newKeygenCmd())
	return rootCmd
}

// Execute runs the CLI. This is called by main.main().
func Execute() error {
	return newRootCmd().Execute()
}
