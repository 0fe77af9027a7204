package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/taskforge/fleet/internal/config"
	"github.com/taskforge/fleet/internal/logging"
	"github.com/taskforge/fleet/internal/supervisor"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the fleet supervisor",
	Long:  "Load the worker-type descriptor table and run the supervisor until terminated.",
	RunE:  runStart,
}

func runStart(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logging.Initialize(cfg.Log)

	sup, err := supervisor.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	termChan := make(chan os.Signal, 1)
	signal.Notify(termChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-termChan
		log.Info("fleetctl: signal received, shutting down")
		cancel()
	}()

	return sup.Start(ctx)
}
