package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskforge/fleet/internal/config"
	"github.com/taskforge/fleet/internal/pending"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the pending-message backlog per worker type",
	Long:  "Read the durable pending-message store and print how many messages are in flight for each declared worker type.",
	RunE:  runStatus,
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if cfg.PersistencePath == "" {
		fmt.Println("persistence is disabled (persistence_path is unset); nothing to report")
		return nil
	}

	store, err := pending.OpenBoltStore(cfg.PersistencePath)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, w := range cfg.Workers {
		entries, err := store.List(w.Name)
		if err != nil {
			return fmt.Errorf("list pending entries for %s: %w", w.Name, err)
		}
		fmt.Printf("%-20s %d pending\n", w.Name, len(entries))
	}
	return nil
}
