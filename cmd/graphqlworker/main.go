// Command graphqlworker is the GraphqlWorker reference process: it serves
// a federated-entity-style Project query over HTTP, resolving lookups
// through the envelope fabric rather than a local data store.
package main

import (
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/taskforge/fleet/internal/config"
	"github.com/taskforge/fleet/internal/logging"
	"github.com/taskforge/fleet/internal/util"
	"github.com/taskforge/fleet/internal/worker"
	graphqlworker "github.com/taskforge/fleet/internal/workers/graphql"
)

func main() {
	logging.Initialize(config.LogConfig{Level: util.Getenv("FLEET_LOG_LEVEL", "info"), Formatter: "text"})

	w := graphqlworker.New(graphqlworker.Config{
		Port:      util.WorkerConfig("graphql_port", "4001"),
		JWTSecret: util.WorkerConfig("jwt_secret", ""),
	})

	channel := worker.ChildChannel()
	rt := worker.New("GraphqlWorker", channel)
	rt.Concurrent = true
	w.Register(rt)

	go func() {
		err := rt.Run()
		log.WithError(err).Info("graphqlworker: envelope channel closed, exiting")
		os.Exit(1)
	}()

	handler, err := w.Handler()
	if err != nil {
		log.WithError(err).Fatal("graphqlworker: failed to build schema")
	}

	addr := ":" + util.WorkerConfig("graphql_port", "4001")
	log.WithFields(log.Fields{"addr": addr}).Info("graphqlworker: listening")
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.WithError(err).Fatal("graphqlworker: server exited")
	}
}
