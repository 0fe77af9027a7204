// Command queueworker is the QueueWorker reference process: it publishes
// project events onto the configured exchange and consumes both the
// primary task queue and its compensation queue.
package main

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/taskforge/fleet/internal/config"
	"github.com/taskforge/fleet/internal/logging"
	"github.com/taskforge/fleet/internal/util"
	"github.com/taskforge/fleet/internal/worker"
	queueworker "github.com/taskforge/fleet/internal/workers/queue"
)

func main() {
	logging.Initialize(config.LogConfig{Level: util.Getenv("FLEET_LOG_LEVEL", "info"), Formatter: "text"})

	w, err := queueworker.Open(queueworker.Config{
		URL:                      util.WorkerConfig("rabbitMqUrl", "amqp://localhost:5672"),
		ConsumeQueue:             util.WorkerConfig("consumeQueue", "project.tasks"),
		ConsumeCompensationQueue: util.WorkerConfig("consumeCompensationQueue", "project.tasks.compensation"),
		ProduceQueue:             util.WorkerConfig("produceQueue", "project.events"),
	})
	if err != nil {
		log.WithError(err).Fatal("queueworker: failed to open broker connection")
	}
	defer w.Close()

	channel := worker.ChildChannel()
	rt := worker.New("QueueWorker", channel)
	w.Register(rt)

	go func() {
		err := w.ConsumeTasks(func(body []byte) error {
			var raw json.RawMessage = body
			log.WithFields(log.Fields{"body": string(raw)}).Info("queueworker: task delivered")
			return nil
		})
		log.WithError(err).Warn("queueworker: task consumer stopped")
	}()

	go func() {
		err := w.ConsumeCompensation(func(body []byte) error {
			log.WithFields(log.Fields{"body": string(body)}).Info("queueworker: compensation delivered")
			return nil
		})
		log.WithError(err).Warn("queueworker: compensation consumer stopped")
	}()

	if err := rt.Run(); err != nil {
		log.WithError(err).Info("queueworker: exiting")
	}
}
