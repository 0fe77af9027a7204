// Package cli provides the fleetctl control utility's command tree,
// mirroring plantd client/cmd's root-command-plus-subcommands shape: a
// persistent --config flag, cobra subcommands, and viper-backed config
// loading.
package cli

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "Control utility for the fleet supervisor",
	Long:  "fleetctl starts the fleet supervisor and inspects its pending-message state.",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "fleet.yaml", "path to the fleet descriptor file")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(versionCmd)
}
