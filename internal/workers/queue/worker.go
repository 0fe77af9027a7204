// Package queue implements the QueueWorker reference worker: it consumes
// two durable queues (tasks and their compensation) and publishes project
// events, using github.com/streadway/amqp the way the pack's AMQP broker
// consumer/producer pair uses it.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
	log "github.com/sirupsen/logrus"

	"github.com/taskforge/fleet/internal/envelope"
	"github.com/taskforge/fleet/internal/worker"
)

// Config is the subset of QueueWorker's descriptor config this worker
// understands (§6).
type Config struct {
	URL                      string
	ConsumeQueue             string
	ConsumeCompensationQueue string
	ProduceQueue             string
}

// ProjectEvent is the event produceMessage publishes to the broker: the
// project's id under "projectId" plus the crawl fields, all taken from the
// DatabaseWorker reply's Data (a db.Project, whose id is tagged "id").
type ProjectEvent struct {
	ProjectID      string `json:"projectId"`
	Keyword        string `json:"keyword"`
	Language       string `json:"language"`
	StartDateCrawl string `json:"start_date_crawl"`
	EndDateCrawl   string `json:"end_date_crawl"`
	TweetToken     string `json:"tweetToken"`
}

// Worker holds one AMQP connection with a single channel shared by both
// the consumer and producer sides, mirroring the one-channel-per-broker
// shape the pack's AMQP examples use for a single declared exchange.
type Worker struct {
	cfg  Config
	conn *amqp.Connection
	ch   *amqp.Channel

	// publish is where produceMessage sends an encoded event. It defaults
	// to publishing on ch; tests substitute a capturing func instead of
	// wiring a real broker connection.
	publish func(queueName string, body []byte) error
}

// Open dials cfg.URL, opens a channel, and declares all three queues
// durable so messages survive a broker restart.
func Open(cfg Config) (*Worker, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("queue worker: dial %s: %w", cfg.URL, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue worker: open channel: %w", err)
	}

	for _, q := range []string{cfg.ConsumeQueue, cfg.ConsumeCompensationQueue, cfg.ProduceQueue} {
		if q == "" {
			continue
		}
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("queue worker: declare %s: %w", q, err)
		}
	}

	w := &Worker{cfg: cfg, conn: conn, ch: ch}
	w.publish = w.publishOnChannel
	return w, nil
}

func (w *Worker) publishOnChannel(queueName string, body []byte) error {
	return w.ch.Publish(
		"",
		queueName,
		false,
		false,
		amqp.Publishing{ContentType: "application/json", DeliveryMode: amqp.Persistent, Body: body},
	)
}

// Close tears down the channel and connection.
func (w *Worker) Close() error {
	var firstErr error
	if err := w.ch.Close(); err != nil {
		firstErr = err
	}
	if err := w.conn.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Register wires this worker's envelope-side operation onto rt:
// produceMessage, invoked by the database worker's reply fan-out on a
// successful project creation.
func (w *Worker) Register(rt *worker.Runtime) {
	rt.Handle("produceMessage", w.produceMessage)
}

func (w *Worker) produceMessage(arg string, env *envelope.Envelope) (*envelope.Envelope, error) {
	// The DatabaseWorker reply carries the id as "id"; a payload already in
	// ProjectEvent shape carries it as "projectId".
	var in struct {
		ProjectEvent
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &in); err != nil {
		return nil, fmt.Errorf("decode project event: %w", err)
	}
	evt := in.ProjectEvent
	if evt.ProjectID == "" {
		evt.ProjectID = in.ID
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode project event: %w", err)
	}

	if err := w.publish(w.cfg.ProduceQueue, body); err != nil {
		return nil, fmt.Errorf("publish to %s: %w", w.cfg.ProduceQueue, err)
	}

	return envelope.Ack(env.MessageID, nil), nil
}

// ConsumeTasks starts consuming the primary task queue, applying handle to
// each delivered message's body and acking or requeueing based on its
// result.
func (w *Worker) ConsumeTasks(handle func(body []byte) error) error {
	return w.consume(w.cfg.ConsumeQueue, handle)
}

// ConsumeCompensation starts consuming the compensation queue, handling
// deliveries the same way ConsumeTasks does. This worker publishes nothing
// to that queue itself.
func (w *Worker) ConsumeCompensation(handle func(body []byte) error) error {
	return w.consume(w.cfg.ConsumeCompensationQueue, handle)
}

func (w *Worker) consume(queueName string, handle func(body []byte) error) error {
	if queueName == "" {
		return fmt.Errorf("queue worker: no queue name configured")
	}
	if err := w.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("queue worker: qos: %w", err)
	}

	deliveries, err := w.ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue worker: consume %s: %w", queueName, err)
	}

	for d := range deliveries {
		if err := handle(d.Body); err != nil {
			log.WithError(err).WithFields(log.Fields{"queue": queueName}).Error("queue worker: handler failed, requeueing")
			_ = d.Nack(false, true)
			continue
		}
		_ = d.Ack(false)
	}
	return fmt.Errorf("queue worker: delivery channel for %s closed", queueName)
}
