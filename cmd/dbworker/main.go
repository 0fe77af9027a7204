// Command dbworker is the DatabaseWorker reference process: it persists
// project documents and answers lookups by ID, communicating with the
// supervisor over the fd 3/4 duplex pipe the spawn engine wires up.
package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/taskforge/fleet/internal/config"
	"github.com/taskforge/fleet/internal/logging"
	"github.com/taskforge/fleet/internal/util"
	"github.com/taskforge/fleet/internal/worker"
	dbworker "github.com/taskforge/fleet/internal/workers/db"
)

func main() {
	logging.Initialize(config.LogConfig{Level: util.Getenv("FLEET_LOG_LEVEL", "info"), Formatter: "text"})

	w, err := dbworker.Open(dbworker.Config{
		DBURL:          util.WorkerConfig("db_url", "postgres://localhost:5432/projects"),
		DBName:         util.WorkerConfig("db_name", "projects"),
		CollectionName: util.WorkerConfig("collection_name", "projects"),
	})
	if err != nil {
		log.WithError(err).Fatal("dbworker: failed to open database")
	}

	channel := worker.ChildChannel()
	rt := worker.New("DatabaseWorker", channel)
	w.Register(rt)

	if err := rt.Run(); err != nil {
		log.WithError(err).Info("dbworker: exiting")
	}
}
