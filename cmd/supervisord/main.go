// Command supervisord is the fleet supervisor process: it loads the
// worker-type descriptor table, spawns the declared fleet, and runs until
// terminated, exactly as plantd's proxy/main.go runs its single service
// off a context cancelled by SIGINT/SIGTERM.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/taskforge/fleet/internal/config"
	"github.com/taskforge/fleet/internal/logging"
	"github.com/taskforge/fleet/internal/supervisor"
	"github.com/taskforge/fleet/internal/util"
)

func main() {
	cfg, err := config.Load(util.Getenv("FLEET_CONFIG_FILE", "fleet.yaml"))
	if err != nil {
		log.WithError(err).Fatal("supervisord: failed to load configuration")
	}

	logging.Initialize(cfg.Log)

	sup, err := supervisor.New(cfg)
	if err != nil {
		log.WithError(err).Fatal("supervisord: failed to build supervisor")
	}

	ctx, cancel := context.WithCancel(context.Background())

	termChan := make(chan os.Signal, 1)
	signal.Notify(termChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-termChan
		log.Info("supervisord: signal received, shutting down")
		cancel()
	}()

	log.Info("supervisord: starting")
	if err := sup.Start(ctx); err != nil {
		log.WithError(err).Fatal("supervisord: exited with error")
	}
	log.Info("supervisord: exiting")
}
