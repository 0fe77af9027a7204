// Command fleetctl is the operator-facing control utility for the fleet
// supervisor, mirroring the shape of plantd's client/cmd package: a cobra
// root command with start/status/tail/version subcommands, loading the
// descriptor file through viper.
package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	cmd "github.com/taskforge/fleet/internal/cli"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.WithError(err).Error("fleetctl: command failed")
		os.Exit(1)
	}
}
