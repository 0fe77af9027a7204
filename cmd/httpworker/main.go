// Command httpworker is the HttpWorker reference process: a REST front end
// accepting project-creation requests over bearer-JWT auth and an
// idempotency-key guard, forwarding accepted requests into the envelope
// fabric and serving the result back out over HTTP.
package main

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/taskforge/fleet/internal/config"
	"github.com/taskforge/fleet/internal/idempotency"
	"github.com/taskforge/fleet/internal/logging"
	"github.com/taskforge/fleet/internal/util"
	"github.com/taskforge/fleet/internal/worker"
	httpworker "github.com/taskforge/fleet/internal/workers/http"
)

func main() {
	logging.Initialize(config.LogConfig{Level: util.Getenv("FLEET_LOG_LEVEL", "info"), Formatter: "text"})

	redisAddr := util.WorkerConfig("redis_addr", "localhost:6379")
	idem, err := idempotency.New(redisAddr, time.Hour)
	if err != nil {
		log.WithError(err).Warn("httpworker: idempotency cache unavailable, continuing without duplicate-request protection")
		idem = nil
	}

	w := httpworker.New(httpworker.Config{
		Port:      util.WorkerConfig("port", "4000"),
		JWTSecret: util.WorkerConfig("jwt_secret", ""),
	}, idem)

	channel := worker.ChildChannel()
	rt := worker.New("HttpWorker", channel)
	rt.Concurrent = true
	w.Register(rt)

	go func() {
		err := rt.Run()
		log.WithError(err).Info("httpworker: envelope channel closed, exiting")
		os.Exit(1)
	}()

	addr := ":" + util.WorkerConfig("port", "4000")
	log.WithFields(log.Fields{"addr": addr}).Info("httpworker: listening")
	if err := w.Engine().Run(addr); err != nil {
		log.WithError(err).Fatal("httpworker: server exited")
	}
}
