package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the fleetctl build version, set by the release build's
// -ldflags the way plantd/core.VERSION is normally overridden.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the fleetctl version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(Version)
	},
}
